package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks sessions served by this process.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bayon_realtime",
		Name:      "active_connections",
		Help:      "Number of websocket connections served by this instance.",
	})

	// BroadcastOutcomes counts per-target fan-out results.
	BroadcastOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bayon_realtime",
		Name:      "broadcast_outcomes_total",
		Help:      "Broadcast fan-out outcomes by result.",
	}, []string{"outcome"})

	// DeliveryAttempts counts notification delivery attempts per channel.
	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bayon_realtime",
		Name:      "delivery_attempts_total",
		Help:      "Notification delivery attempts by channel and result.",
	}, []string{"channel", "result"})

	// JobRuns counts scheduled job executions.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bayon_realtime",
		Name:      "job_runs_total",
		Help:      "Scheduled job runs by job and result.",
	}, []string{"job", "result"})
)
