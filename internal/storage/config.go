package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/rootline-io/rootline/internal/config"
)

const (
	defaultMaxOpenConns     = 25
	defaultMaxIdleConns     = 5
	defaultConnMaxLifetime  = 30 * time.Minute
	defaultConnMaxIdleTime  = 10 * time.Minute
	defaultCleanupInterval  = time.Hour
	defaultOutcomeRetention = 0 // keep outcomes forever
)

var (
	// ErrDatabaseURLEmpty is returned when the database url is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

	// ErrNegativeRetention is returned when the outcome retention is negative.
	ErrNegativeRetention = errors.New("outcome retention cannot be negative")
)

// Config holds PostgreSQL connection configuration with production-ready defaults.
//
// OutcomeRetention bounds how long incident outcomes are kept; zero keeps
// them forever (the historical factor improves with depth). CleanupInterval
// drives the retention cleanup goroutine when retention is enabled.
type Config struct {
	databaseURL      string
	MaxOpenConns     int           // Maximum number of open connections
	MaxIdleConns     int           // Maximum number of idle connections
	ConnMaxLifetime  time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime  time.Duration // Maximum idle time for connections
	OutcomeRetention time.Duration // How long incident outcomes are kept (0 = forever)
	CleanupInterval  time.Duration // Interval of the retention cleanup goroutine
}

// LoadConfig loads PostgreSQL configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:      config.GetEnvStr("ROOTLINE_DATABASE_URL", ""), // databaseURL is private for obvious reasons.
		MaxOpenConns:     config.GetEnvInt("ROOTLINE_DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:     config.GetEnvInt("ROOTLINE_DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime:  config.GetEnvDuration("ROOTLINE_DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime:  config.GetEnvDuration("ROOTLINE_DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		OutcomeRetention: config.GetEnvDuration("ROOTLINE_OUTCOME_RETENTION", defaultOutcomeRetention),
		CleanupInterval:  config.GetEnvDuration("ROOTLINE_STORAGE_CLEANUP_INTERVAL", defaultCleanupInterval),
	}
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if c.OutcomeRetention < 0 {
		return ErrNegativeRetention
	}

	return nil
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	afterScheme := c.databaseURL[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		// No @ found, no userinfo
		return c.databaseURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		// No password
		return c.databaseURL
	}

	username := userInfo[:colonIndex]
	password := userInfo[colonIndex+1:]

	if password == "" {
		// Empty password, don't mask
		return c.databaseURL
	}

	scheme := c.databaseURL[:schemeEnd]
	hostAndRest := afterScheme[lastAtIndex:]

	return scheme + "://" + username + ":***" + hostAndRest
}
