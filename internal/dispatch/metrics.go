package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nounsdev/nouners-farcaster/pkg/monitoring"
)

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	Enqueued *prometheus.CounterVec
	Handled  *prometheus.CounterVec
}

func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		Enqueued: mc.NewCounter("tasks_enqueued_total", "Tasks submitted to the queue", []string{"type", "status"}),
		Handled:  mc.NewCounter("tasks_handled_total", "Task deliveries by outcome", []string{"type", "outcome"}),
	}
}

func (m *Metrics) enqueued(tasks []Task, status string) {
	if m == nil {
		return
	}
	for _, t := range tasks {
		m.Enqueued.WithLabelValues(string(t.Type), status).Inc()
	}
}

func (m *Metrics) handled(t TaskType, o Outcome) {
	if m == nil {
		return
	}
	if t == "" {
		t = "invalid"
	}
	m.Handled.WithLabelValues(string(t), o.String()).Inc()
}
