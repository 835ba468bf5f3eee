package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the approval engine.
type Metrics struct {
	Transitions          *prometheus.CounterVec
	Rejections           *prometheus.CounterVec
	CASConflicts         prometheus.Counter
	CASExhausted         prometheus.Counter
	NotificationFailures prometheus.Counter
	DecisionDuration     prometheus.Histogram
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_exceptions_transitions_total",
			Help: "Applied request mutations by audit action and resulting status",
		}, []string{"action", "status"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_exceptions_rejected_operations_total",
			Help: "Engine operations refused, by operation and error code",
		}, []string{"operation", "code"}),
		CASConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "risk_exceptions_cas_conflicts_total",
			Help: "Version mismatches that triggered a read-modify-write retry",
		}),
		CASExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "risk_exceptions_cas_exhausted_total",
			Help: "Operations that surfaced CONFLICT after exhausting retries",
		}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "risk_exceptions_notification_failures_total",
			Help: "Notification dispatches that failed and were dropped",
		}),
		DecisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_exceptions_decision_duration_seconds",
			Help:    "Latency of Decide calls including retries",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
