package correlation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rootline-io/rootline/internal/config"
)

// Sentinel errors for configuration validation.
var (
	ErrInvalidWeights      = errors.New("score weights must be non-negative and sum to 1.0")
	ErrInvalidGracePeriod  = errors.New("grace period must be positive")
	ErrInvalidLookback     = errors.New("lookback must be at least the grace period")
	ErrInvalidMaxHops      = errors.New("max hops must be positive")
	ErrInvalidStorm        = errors.New("storm threshold must be at least 2")
	ErrInvalidConfidence   = errors.New("min confidence must be within [0,1]")
	ErrInvalidMaxSteps     = errors.New("max steps must be positive")
	ErrInvalidWorkers      = errors.New("worker count must be positive")
	ErrInvalidQueueSize    = errors.New("queue size must be positive")
	ErrInvalidEviction     = errors.New("eviction interval must be positive")
)

// weightSumTolerance absorbs float drift when validating that weights sum
// to 1.0.
const weightSumTolerance = 0.001

// Default engine tuning.
const (
	DefaultGracePeriod      = 5 * time.Minute
	DefaultLookback         = 30 * time.Minute
	DefaultMaxHops          = 2
	DefaultStormThreshold   = 3
	DefaultMinConfidence    = 0.5
	DefaultMaxSteps         = 5
	DefaultHistoryTimeout   = 2 * time.Second
	DefaultWorkers          = 8
	DefaultQueueSize        = 1024
	DefaultEvictionInterval = 30 * time.Second
)

// Default score weights. Policy, not law: tune per deployment through env.
const (
	DefaultWeightTime        = 0.30
	DefaultWeightDependency  = 0.25
	DefaultWeightHistorical  = 0.25
	DefaultWeightCriticality = 0.20
)

type (
	// ScoreWeights is the versioned weight policy for root-cause scoring.
	// Each weight multiplies its factor's normalized [0,1] value; the four
	// must sum to 1.0.
	ScoreWeights struct {
		Time        float64
		Dependency  float64
		Historical  float64
		Criticality float64
	}

	// Config tunes the correlation engine.
	//
	// Fields:
	//   - GracePeriod: temporal matching slack beyond window_end, and the
	//     span used for storm detection
	//   - Lookback: how far back (by alert time) open windows remain match
	//     candidates; windows idle beyond it are evicted
	//   - MaxHops: topology traversal budget for matching and causal graphs
	//   - StormThreshold: member alerts within one grace span that flag a
	//     window as a storm
	//   - MinConfidence: hypothesis confidence floor below which
	//     low_confidence is set
	//   - MaxSteps: investigation path length cap
	//   - HistoryTimeout: bound on one historical/diagnostic lookup
	//   - Workers: dispatcher shard count (per-component ordering is kept
	//     within a shard)
	//   - QueueSize: per-shard queue capacity
	//   - EvictionInterval: how often the eviction pass runs
	//   - CorrelatingLabels: label keys whose shared values correlate alerts
	//   - Weights: scoring weight policy
	Config struct {
		GracePeriod       time.Duration
		Lookback          time.Duration
		MaxHops           int
		StormThreshold    int
		MinConfidence     float64
		MaxSteps          int
		HistoryTimeout    time.Duration
		Workers           int
		QueueSize         int
		EvictionInterval  time.Duration
		CorrelatingLabels []string
		Weights           ScoreWeights
	}
)

// DefaultWeights returns the default scoring policy.
func DefaultWeights() ScoreWeights {
	return ScoreWeights{
		Time:        DefaultWeightTime,
		Dependency:  DefaultWeightDependency,
		Historical:  DefaultWeightHistorical,
		Criticality: DefaultWeightCriticality,
	}
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriod:       DefaultGracePeriod,
		Lookback:          DefaultLookback,
		MaxHops:           DefaultMaxHops,
		StormThreshold:    DefaultStormThreshold,
		MinConfidence:     DefaultMinConfidence,
		MaxSteps:          DefaultMaxSteps,
		HistoryTimeout:    DefaultHistoryTimeout,
		Workers:           DefaultWorkers,
		QueueSize:         DefaultQueueSize,
		EvictionInterval:  DefaultEvictionInterval,
		CorrelatingLabels: []string{},
		Weights:           DefaultWeights(),
	}
}

// LoadConfig reads engine configuration from environment variables, falling
// back to defaults for anything unset.
//
// Environment variables:
//   - ROOTLINE_GRACE_PERIOD: temporal matching slack (default "5m")
//   - ROOTLINE_LOOKBACK: candidate window horizon (default "30m")
//   - ROOTLINE_MAX_HOPS: topology traversal budget (default 2)
//   - ROOTLINE_STORM_THRESHOLD: alerts per grace span flagging a storm (default 3)
//   - ROOTLINE_MIN_CONFIDENCE: low-confidence floor (default 0.5)
//   - ROOTLINE_MAX_STEPS: investigation path cap (default 5)
//   - ROOTLINE_HISTORY_TIMEOUT: collaborator lookup bound (default "2s")
//   - ROOTLINE_WORKERS: dispatcher shard count (default 8)
//   - ROOTLINE_QUEUE_SIZE: per-shard queue capacity (default 1024)
//   - ROOTLINE_EVICTION_INTERVAL: eviction cadence (default "30s")
//   - ROOTLINE_CORRELATING_LABELS: comma-separated label keys (default empty)
//   - ROOTLINE_SCORE_WEIGHT_TIME / _DEPENDENCY / _HISTORICAL / _CRITICALITY:
//     scoring weights (defaults 0.30/0.25/0.25/0.20)
func LoadConfig() Config {
	return Config{
		GracePeriod:      config.GetEnvDuration("ROOTLINE_GRACE_PERIOD", DefaultGracePeriod),
		Lookback:         config.GetEnvDuration("ROOTLINE_LOOKBACK", DefaultLookback),
		MaxHops:          config.GetEnvInt("ROOTLINE_MAX_HOPS", DefaultMaxHops),
		StormThreshold:   config.GetEnvInt("ROOTLINE_STORM_THRESHOLD", DefaultStormThreshold),
		MinConfidence:    config.GetEnvFloat("ROOTLINE_MIN_CONFIDENCE", DefaultMinConfidence),
		MaxSteps:         config.GetEnvInt("ROOTLINE_MAX_STEPS", DefaultMaxSteps),
		HistoryTimeout:   config.GetEnvDuration("ROOTLINE_HISTORY_TIMEOUT", DefaultHistoryTimeout),
		Workers:          config.GetEnvInt("ROOTLINE_WORKERS", DefaultWorkers),
		QueueSize:        config.GetEnvInt("ROOTLINE_QUEUE_SIZE", DefaultQueueSize),
		EvictionInterval: config.GetEnvDuration("ROOTLINE_EVICTION_INTERVAL", DefaultEvictionInterval),
		CorrelatingLabels: config.ParseCommaSeparatedList(
			config.GetEnvStr("ROOTLINE_CORRELATING_LABELS", ""),
		),
		Weights: ScoreWeights{
			Time:        config.GetEnvFloat("ROOTLINE_SCORE_WEIGHT_TIME", DefaultWeightTime),
			Dependency:  config.GetEnvFloat("ROOTLINE_SCORE_WEIGHT_DEPENDENCY", DefaultWeightDependency),
			Historical:  config.GetEnvFloat("ROOTLINE_SCORE_WEIGHT_HISTORICAL", DefaultWeightHistorical),
			Criticality: config.GetEnvFloat("ROOTLINE_SCORE_WEIGHT_CRITICALITY", DefaultWeightCriticality),
		},
	}
}

// Validate checks the weight policy.
func (w ScoreWeights) Validate() error {
	if w.Time < 0 || w.Dependency < 0 || w.Historical < 0 || w.Criticality < 0 {
		return fmt.Errorf("%w: negative weight", ErrInvalidWeights)
	}

	sum := w.Time + w.Dependency + w.Historical + w.Criticality
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: sum is %.4f", ErrInvalidWeights, sum)
	}

	return nil
}

// Validate checks the full engine configuration.
func (c Config) Validate() error {
	if c.GracePeriod <= 0 {
		return ErrInvalidGracePeriod
	}

	if c.Lookback < c.GracePeriod {
		return fmt.Errorf("%w: lookback %s, grace %s", ErrInvalidLookback, c.Lookback, c.GracePeriod)
	}

	if c.MaxHops <= 0 {
		return ErrInvalidMaxHops
	}

	if c.StormThreshold < 2 {
		return ErrInvalidStorm
	}

	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return ErrInvalidConfidence
	}

	if c.MaxSteps <= 0 {
		return ErrInvalidMaxSteps
	}

	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}

	if c.QueueSize <= 0 {
		return ErrInvalidQueueSize
	}

	if c.EvictionInterval <= 0 {
		return ErrInvalidEviction
	}

	return c.Weights.Validate()
}
