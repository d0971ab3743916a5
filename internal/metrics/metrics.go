// Package metrics holds the Prometheus collectors shared across the
// service. Collectors are package-level and recorded through small helper
// functions, so callers never touch label plumbing directly.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// AlertAccepted labels alerts that entered correlation.
	AlertAccepted = "accepted"
	// AlertDuplicate labels redelivered alerts dropped by dedup.
	AlertDuplicate = "duplicate"
	// AlertInvalid labels alerts rejected during normalization.
	AlertInvalid = "invalid"

	// RecomputeCommitted labels hypothesis recomputes that were stored.
	RecomputeCommitted = "committed"
	// RecomputeSuperseded labels recomputes discarded because the window
	// changed while scoring ran.
	RecomputeSuperseded = "superseded"

	// PublishOK labels successful incident publications.
	PublishOK = "ok"
	// PublishError labels failed incident publications.
	PublishError = "error"

	// MessageDecoded labels stream messages that decoded into alert events.
	MessageDecoded = "decoded"
	// MessageMalformed labels stream messages dropped as undecodable.
	MessageMalformed = "malformed"
)

var (
	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rootline",
			Name:      "alerts_total",
			Help:      "Alerts received, partitioned by ingestion outcome.",
		},
		[]string{"outcome"},
	)

	correlationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rootline",
			Name:      "correlations_total",
			Help:      "Window placements, partitioned by matching strategy.",
		},
		[]string{"strategy"},
	)

	incidentsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rootline",
			Name:      "incidents_open",
			Help:      "Correlation windows currently open.",
		},
	)

	stormsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rootline",
			Name:      "storms_total",
			Help:      "Windows flagged as alert storms.",
		},
	)

	recomputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rootline",
			Name:      "recomputes_total",
			Help:      "Root-cause recomputations, partitioned by result.",
		},
		[]string{"result"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rootline",
			Name:      "evictions_total",
			Help:      "Windows evicted, partitioned by terminal state.",
		},
		[]string{"state"},
	)

	publishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rootline",
			Name:      "incident_publishes_total",
			Help:      "Incident publications, partitioned by result.",
		},
		[]string{"result"},
	)

	streamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rootline",
			Name:      "stream_messages_total",
			Help:      "Alert stream messages consumed, partitioned by decode outcome.",
		},
		[]string{"outcome"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rootline",
			Name:      "http_requests_total",
			Help:      "HTTP requests, partitioned by method, route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rootline",
			Name:      "http_request_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)
)

// Register attaches all rootline collectors to the supplied Prometheus
// registerer. Already registered collectors are tolerated, so Register is
// safe to call from multiple entrypoints.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		alertsTotal,
		correlationsTotal,
		incidentsOpen,
		stormsTotal,
		recomputesTotal,
		evictionsTotal,
		publishesTotal,
		streamMessagesTotal,
		httpRequestsTotal,
		httpRequestSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAlert records one ingested alert by outcome.
func ObserveAlert(outcome string) {
	alertsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCorrelation records a window placement by strategy. New windows
// record the "none" strategy.
func ObserveCorrelation(strategy string) {
	correlationsTotal.WithLabelValues(strategy).Inc()
}

// SetOpenIncidents tracks the number of open correlation windows.
func SetOpenIncidents(n int) {
	incidentsOpen.Set(float64(n))
}

// ObserveStorm records a window newly flagged as a storm.
func ObserveStorm() {
	stormsTotal.Inc()
}

// ObserveRecompute records a hypothesis recomputation result.
func ObserveRecompute(result string) {
	recomputesTotal.WithLabelValues(result).Inc()
}

// ObserveEviction records a window eviction with its terminal state.
func ObserveEviction(state string) {
	evictionsTotal.WithLabelValues(state).Inc()
}

// ObservePublish records an incident publication attempt.
func ObservePublish(result string) {
	publishesTotal.WithLabelValues(result).Inc()
}

// ObserveStreamMessage records a consumed alert stream message by decode
// outcome.
func ObserveStreamMessage(outcome string) {
	streamMessagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records a served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	if duration < 0 {
		duration = 0
	}
	httpRequestSeconds.Observe(duration.Seconds())
}
