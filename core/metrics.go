package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for task metrics; failures use FailureKind.String().
const OutcomeSucceeded = "succeeded"

// TaskOutcomes counts finished auth tasks.
// Use RegisterMetrics to register this with a Prometheus registry.
var TaskOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "accountd_auth_task_outcomes_total",
		Help: "Total number of finished auth tasks",
	},
	[]string{"account_type", "action", "outcome"},
)

// TaskDuration observes how long auth tasks take from start to outcome.
var TaskDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "accountd_auth_task_duration_seconds",
		Help:    "Auth task duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"account_type", "action"},
)

var activeTasks = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "accountd_auth_tasks_active",
		Help: "Number of auth tasks created and not yet finished",
	},
)

// RegisterMetrics registers core metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(TaskOutcomes)
	reg.MustRegister(TaskDuration)
	reg.MustRegister(activeTasks)
}

func recordTaskOutcome(t *Task) {
	outcome := OutcomeSucceeded
	if t.State() == TaskFailed {
		outcome = t.Failure().String()
	}
	TaskOutcomes.WithLabelValues(string(t.AccountType()), string(t.Action()), outcome).Inc()
	TaskDuration.WithLabelValues(string(t.AccountType()), string(t.Action())).Observe(t.Duration().Seconds())
}
