package identity

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nounsdev/nouners-farcaster/pkg/monitoring"
)

const (
	outcomeHit    = "hit"
	outcomeStored = "stored"
	outcomeEmpty  = "empty"
	outcomeError  = "error"
)

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	Populations *prometheus.CounterVec
	SetSize     *prometheus.GaugeVec
}

func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		Populations: mc.NewCounter("identity_cache_total", "Identity cache lookups by outcome", []string{"key", "outcome"}),
		SetSize:     mc.NewGauge("identity_set_size", "Size of the last stored identity set", []string{"key"}),
	}
}

func (m *Metrics) observe(key, outcome string) {
	if m == nil {
		return
	}
	m.Populations.WithLabelValues(key, outcome).Inc()
}

func (m *Metrics) size(key string, n int) {
	if m == nil {
		return
	}
	m.SetSize.WithLabelValues(key).Set(float64(n))
}
