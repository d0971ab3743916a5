// Package middleware provides HTTP middleware components for the Rootline API.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int = 2
	maxSources                 int = 100
	defaultGlobalRPS           int = 100
	defaultSourceRPS           int = 50
	defaultUnAuthRPS           int = 10
	sourceWarnThresholdPercent int = 80
	rateLimiterCleanupInterval     = 5 * time.Minute
	rateLimiterIdleTimeout         = 1 * time.Hour
)

type (
	// RateLimiter decides whether an incoming request may proceed.
	//
	// The in-memory implementation covers single-node deployments; the
	// interface leaves room for a distributed backend without touching the
	// middleware.
	RateLimiter interface {
		// Allow reports whether a request should be admitted. For
		// authenticated requests sourceID identifies the alert source; for
		// unauthenticated requests it is empty.
		Allow(sourceID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter with golang.org/x/time/rate
	// token buckets in three tiers:
	//
	//  1. Global limit, applied to every request
	//  2. Per-source limit for authenticated requests
	//  3. Unauthenticated limit for everything without a source identity
	//
	// Burst capacity allows short spikes above the sustained rate. A
	// background sweep removes limiters for sources idle longer than the
	// configured timeout so alert-storm bursts do not pin memory forever.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perSource       map[string]*sourceLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		sourceRPS       int
		sourceBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxSources      int
	}

	// sourceLimiter tracks limiter state for one alert source, including
	// last access time for the cleanup sweep.
	sourceLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a three-tier in-memory rate limiter.
//
// Burst capacities default to 2 × rate unless overridden in the config.
// Callers own the limiter's lifecycle and should Close it on shutdown to
// stop the cleanup goroutine.
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{
//	    GlobalRPS: 100,
//	    SourceRPS: 50,
//	    UnAuthRPS: 10,
//	})
//	defer rl.Close()
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	sourceBurst := computeBurstCapacity(config.SourceRPS, config.SourceBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perSource:       make(map[string]*sourceLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		sourceRPS:       config.SourceRPS,
		sourceBurst:     sourceBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxSources:      config.MaxSources,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity returns the burst override when set, otherwise
// 2 × rate.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow implements the RateLimiter interface.
//
// The global tier is checked first so a storm is rejected before any
// per-source bookkeeping happens.
func (rl *InMemoryRateLimiter) Allow(sourceID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if sourceID == "" {
		return rl.unauthenticated.Allow()
	}

	rl.mu.RLock()
	sl, ok := rl.perSource[sourceID]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Re-check under the write lock: another request may have created
		// the limiter between the two lock acquisitions.
		if sl, ok = rl.perSource[sourceID]; !ok {
			sl = &sourceLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.sourceRPS), rl.sourceBurst),
				lastAccess: time.Now(),
			}

			rl.perSource[sourceID] = sl

			currentCount := len(rl.perSource)
			threshold := rl.maxSources * sourceWarnThresholdPercent / 100

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max sources limit",
					"current_sources", currentCount,
					"max_sources", rl.maxSources,
					"threshold_percent", sourceWarnThresholdPercent)
			}
		}

		rl.mu.Unlock()
	}

	sl.mu.Lock()
	sl.lastAccess = time.Now()
	sl.mu.Unlock()

	return sl.limiter.Allow()
}

// Close stops the cleanup goroutine. Implements io.Closer so the server's
// shutdown path can release the limiter without knowing its concrete type.
func (rl *InMemoryRateLimiter) Close() error {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)

	return nil
}

// startCleanup launches the background sweep that drops limiters for
// sources idle past the timeout.
func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes source limiters that have not been used recently.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for sourceID, sl := range rl.perSource {
		sl.mu.Lock()
		lastAccess := sl.lastAccess
		sl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perSource, sourceID)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming
// requests. Authenticated requests are limited per source, so the
// middleware must run after authentication in the chain to see the
// SourceContext. Rejected requests get a 429 RFC 7807 response.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sourceID := ""
			if sourceCtx, ok := GetSourceContext(r.Context()); ok {
				sourceID = sourceCtx.SourceID
			}

			if !limiter.Allow(sourceID) {
				correlationID := GetCorrelationID(r.Context())

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("Failed to write rate limit error response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
