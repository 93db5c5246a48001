package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	fallbackWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "youthcenter",
		Subsystem: "sync",
		Name:      "fallback_writes_total",
		Help:      "Mutations applied only to local state because the remote store call failed.",
	}, []string{"operation"})
	loadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "youthcenter",
		Subsystem: "sync",
		Name:      "load_failures_total",
		Help:      "Collection loads that fell back to the local cache or an empty set.",
	})
	pendingSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "youthcenter",
		Subsystem: "sync",
		Name:      "pending_activities",
		Help:      "Activities in local state whose last write never reached the remote store.",
	})
	lastLoadGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "youthcenter",
		Subsystem: "sync",
		Name:      "last_load_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful collection load.",
	})
)

func init() {
	prometheus.MustRegister(fallbackWrites, loadFailures, pendingSyncGauge, lastLoadGauge)
}

// RecordFallbackWrite counts a mutation that only landed locally.
func RecordFallbackWrite(operation string) {
	fallbackWrites.WithLabelValues(operation).Inc()
}

// RecordLoadFailure counts a degraded collection load.
func RecordLoadFailure() {
	loadFailures.Inc()
}

// SetPendingSync updates the pending-divergence gauge.
func SetPendingSync(n int) {
	pendingSyncGauge.Set(float64(n))
}

// RecordLoad updates the successful-load watermark gauge.
func RecordLoad(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastLoadGauge.Set(float64(ts.Unix()))
}
