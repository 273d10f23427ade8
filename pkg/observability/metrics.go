package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder registers and updates the runtime's Prometheus collectors. A nil
// Recorder is safe to call.
type Recorder struct {
	tasksTotal        *prometheus.CounterVec
	toolInvocations   *prometheus.CounterVec
	routingDecisions  *prometheus.CounterVec
	budgetExhaustions prometheus.Counter
	taskDuration      prometheus.Histogram
}

// NewRecorder builds and registers the collectors on the given registerer.
func NewRecorder(reg prometheus.Registerer, namespace string) *Recorder {
	if namespace == "" {
		namespace = "ampere"
	}

	r := &Recorder{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Terminal task results by status.",
		}, []string{"status"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		routingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by tier and provider.",
		}, []string{"tier", "provider"}),
		budgetExhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_exhaustions_total",
			Help:      "Tasks terminated by budget exhaustion.",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock duration of task executions.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	reg.MustRegister(r.tasksTotal, r.toolInvocations, r.routingDecisions, r.budgetExhaustions, r.taskDuration)
	return r
}

// TaskFinished records a terminal task result.
func (r *Recorder) TaskFinished(status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.tasksTotal.WithLabelValues(status).Inc()
	r.taskDuration.Observe(duration.Seconds())
	if status == "budget_exhausted" {
		r.budgetExhaustions.Inc()
	}
}

// ToolInvoked records one tool invocation outcome.
func (r *Recorder) ToolInvoked(tool string, success bool) {
	if r == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.toolInvocations.WithLabelValues(tool, outcome).Inc()
}

// Routed records one routing decision.
func (r *Recorder) Routed(tier, provider string) {
	if r == nil {
		return
	}
	r.routingDecisions.WithLabelValues(tier, provider).Inc()
}
