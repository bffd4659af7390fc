package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics tracks lifecycle activity across all escrow instances.
type EscrowMetrics struct {
	creates     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	settlements *prometheus.CounterVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Escrow returns the lazily-initialised escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			creates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custodia",
				Subsystem: "escrow",
				Name:      "creates_total",
				Help:      "Total escrow instances created, segmented by token.",
			}, []string{"token"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custodia",
				Subsystem: "escrow",
				Name:      "transitions_total",
				Help:      "Total lifecycle transitions segmented by source and target status.",
			}, []string{"from", "to"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custodia",
				Subsystem: "escrow",
				Name:      "settlements_total",
				Help:      "Total settlements segmented by terminal status.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			escrowRegistry.creates,
			escrowRegistry.transitions,
			escrowRegistry.settlements,
		)
	})
	return escrowRegistry
}

// RecordCreate counts a successful instance creation.
func (m *EscrowMetrics) RecordCreate(token string) {
	if m == nil {
		return
	}
	m.creates.WithLabelValues(token).Inc()
}

// RecordTransition counts a successful lifecycle transition.
func (m *EscrowMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordSettlement counts a completed settlement.
func (m *EscrowMetrics) RecordSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}
