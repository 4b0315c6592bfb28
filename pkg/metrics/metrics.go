package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event store metrics
	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_ingested_total",
			Help: "Total number of events ingested by topic",
		},
		[]string{"topic"},
	)

	EventsEvictedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_evicted_total",
			Help: "Events removed from the store by topic and reason (capacity, ttl)",
		},
		[]string{"topic", "reason"},
	)

	EventsStored = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_events_stored",
			Help: "Events currently held in the store by topic",
		},
		[]string{"topic"},
	)

	// Connection metrics
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_connections_active",
			Help: "Number of open WebSocket connections",
		},
	)

	ConnectionsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_connections_rejected_total",
			Help: "Handshakes rejected by reason",
		},
		[]string{"reason"},
	)

	SubscriptionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_subscriptions_active",
			Help: "Current subscribers by topic",
		},
		[]string{"topic"},
	)

	// Delivery metrics
	QueueDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_queue_dropped_total",
			Help: "Queued events dropped without delivery by reason (overflow, expired, discarded)",
		},
		[]string{"reason"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_queue_depth",
			Help: "Total pending events across all delivery queues",
		},
	)

	EventsDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_events_delivered_total",
			Help: "Total number of events written to clients",
		},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_batch_size",
			Help:    "Events per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// Poller metrics
	PollRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_poll_requests_total",
			Help: "Backend polls by result (success, not_modified, network, status, decode, schema)",
		},
		[]string{"result"},
	)

	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_poll_duration_seconds",
			Help:    "Backend poll duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cleanup metrics
	CleanupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_cleanup_duration_seconds",
			Help:    "Time taken by one cleanup sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CleanupRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_cleanup_removed_total",
			Help: "Entries removed by the cleanup scheduler by kind",
		},
		[]string{"kind"},
	)

	CleanupCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_cleanup_cycles_total",
			Help: "Total number of cleanup sweeps",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsIngestedTotal)
	prometheus.MustRegister(EventsEvictedTotal)
	prometheus.MustRegister(EventsStored)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ConnectionsRejectedTotal)
	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(QueueDroppedTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(EventsDeliveredTotal)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(PollRequestsTotal)
	prometheus.MustRegister(PollDuration)
	prometheus.MustRegister(CleanupDuration)
	prometheus.MustRegister(CleanupRemovedTotal)
	prometheus.MustRegister(CleanupCyclesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
