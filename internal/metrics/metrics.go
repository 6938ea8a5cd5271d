// Package metrics holds the Prometheus collectors for the notification
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Send attempt outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
)

var (
	PushAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alumnihub",
		Subsystem: "push",
		Name:      "send_attempts_total",
		Help:      "Individual push send attempts by outcome.",
	}, []string{"outcome"})

	PushDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alumnihub",
		Subsystem: "push",
		Name:      "deliveries_total",
		Help:      "Per-subscription delivery results after retries.",
	}, []string{"result"})

	SubscriptionsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alumnihub",
		Subsystem: "push",
		Name:      "subscriptions_removed_total",
		Help:      "Subscriptions deleted after a gone/not-found response.",
	})

	ReminderWindows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alumnihub",
		Subsystem: "reminders",
		Name:      "windows_total",
		Help:      "Event reminder windows handled by trigger runs.",
	}, []string{"window", "status"})

	ReminderRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "alumnihub",
		Subsystem: "reminders",
		Name:      "run_duration_seconds",
		Help:      "Wall time of one reminder trigger run.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	SendLogsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alumnihub",
		Subsystem: "push",
		Name:      "send_logs_pruned_total",
		Help:      "Audit rows removed by retention pruning.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
