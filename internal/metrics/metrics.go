package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for RecordsTotal.
const (
	OutcomeAccepted       = "accepted"
	OutcomeNonInteractive = "non_interactive"
	OutcomeMalformed      = "malformed"
	OutcomeStale          = "stale"
	OutcomeDuplicate      = "duplicate"
	OutcomeFailed         = "failed"
)

var (
	// Watcher
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logon_forwarder_records_total",
			Help: "Audit records handled by the watcher, by outcome",
		},
		[]string{"outcome"},
	)

	WatcherState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logon_forwarder_watcher_state",
			Help: "Watcher lifecycle state (0=stopped, 1=starting, 2=running, 3=stopping)",
		},
	)

	WatcherQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logon_forwarder_watcher_queue_depth",
			Help: "Records waiting for a watcher worker",
		},
	)

	// Dedup cache
	DedupCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logon_forwarder_dedup_cache_entries",
			Help: "Record ids currently held by the in-memory dedup cache",
		},
	)

	DedupSweepEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logon_forwarder_dedup_sweep_evictions_total",
			Help: "Expired record ids removed by the dedup sweeper",
		},
	)

	// Sinks
	SinkEmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logon_forwarder_sink_emits_total",
			Help: "Records written to sinks, by sink and result",
		},
		[]string{"sink", "result"}, // result: "ok", "error", "rejected"
	)

	SinkQueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logon_forwarder_sink_queue_dropped_total",
			Help: "Records dropped because a sink queue was full or closed",
		},
		[]string{"sink"},
	)

	SinkQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logon_forwarder_sink_queue_depth",
			Help: "Records waiting in a sink queue",
		},
		[]string{"sink"},
	)

	SinkBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logon_forwarder_sink_breaker_state",
			Help: "Circuit breaker state per sink (0=closed, 1=half-open, 2=open)",
		},
		[]string{"sink"},
	)

	// Heartbeat
	HeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logon_forwarder_heartbeats_total",
			Help: "Heartbeat records emitted",
		},
	)
)

// RecordOutcome increments the outcome counter.
func RecordOutcome(outcome string) {
	RecordsTotal.WithLabelValues(outcome).Inc()
}

// RecordSinkEmit counts one sink write.
func RecordSinkEmit(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	SinkEmitsTotal.WithLabelValues(sink, result).Inc()
}
