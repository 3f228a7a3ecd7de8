package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by operation type.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vantage_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// EnrichmentLatency records the wall time of a full page enrichment.
	EnrichmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vantage_enrichment_latency_seconds",
		Help:    "Latency of enriching a full feed page",
		Buckets: prometheus.DefBuckets,
	})

	// EnrichmentDegradedFields counts sub-operations that fell back to a default value.
	EnrichmentDegradedFields = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vantage_enrichment_degraded_fields_total",
		Help: "Total enrichment sub-operations that timed out or failed and used a default",
	}, []string{"field"})

	// RehydrationAttempts counts rehydration media retries by outcome.
	RehydrationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vantage_rehydration_attempts_total",
		Help: "Total rehydration media resolution attempts by outcome",
	}, []string{"outcome"})

	// FeedEvents counts live feed events by type and how the router handled them.
	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vantage_feed_events_total",
		Help: "Total live feed events by type and routing outcome",
	}, []string{"type", "outcome"})

	// DecodeFailures counts transport payloads that could not be decoded.
	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vantage_event_decode_failures_total",
		Help: "Total live event payloads dropped because they could not be decoded",
	})

	// ActiveSessions is the gauge of live feed sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vantage_active_feed_sessions",
		Help: "Number of active feed sessions",
	})

	// WebSocketConnections is the gauge of active signal websocket connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vantage_websocket_connections",
		Help: "Number of active WebSocket signal connections",
	})

	// WebSocketBackpressureDrops counts signals dropped because a client's
	// send buffer was full or its channel closed.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vantage_websocket_backpressure_drops_total",
		Help: "Total WebSocket signals dropped due to backpressure by reason",
	}, []string{"hub", "reason"})
)
