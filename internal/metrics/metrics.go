// Package metrics exposes the operational counters the coordination layer
// reports instead of surfacing internal store failures to callers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DegradedMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staffroom_store_degraded",
		Help: "1 while the shared store is unreachable and calls are served from the local fallback.",
	})

	OfflineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staffroom_offline_queue_pending",
		Help: "Pending entries counted by the last cleanup sweep.",
	})

	OfflineQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staffroom_offline_queued_total",
		Help: "Messages written to the offline queue.",
	})

	OfflineDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staffroom_offline_delivered_total",
		Help: "Offline entries flushed to reconnecting clients.",
	})

	OfflineExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staffroom_offline_expired_total",
		Help: "Pending entries flipped to expired by the cleanup sweep.",
	})

	PushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staffroom_push_failures_total",
		Help: "Push notification attempts that returned an error.",
	})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staffroom_events_dispatched_total",
		Help: "Domain events routed by the notification dispatcher.",
	}, []string{"event"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staffroom_rate_limited_total",
		Help: "Requests denied by the fixed-window rate limiter.",
	})

	WorkerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staffroom_worker_failures_total",
		Help: "Background tasks that exhausted their retries.",
	})
)
