package policy

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports policy engine signals. All methods are nil-safe so the
// engine runs unchanged without a registry.
type Metrics struct {
	networkRetries  prometheus.Counter
	pendingEnqueued prometheus.Counter
	pendingReplayed prometheus.Counter
	conflictsTotal  *prometheus.CounterVec
	pendingGauge    prometheus.Gauge
}

// NewMetrics registers the engine's metrics in a Prometheus registry.
func NewMetrics(registry *prometheus.Registry, namespace string) (*Metrics, error) {
	if registry == nil {
		return nil, errors.New("registry is nil")
	}
	if namespace == "" {
		namespace = "nexlayer"
	}

	networkRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "policy",
		Name:      "network_retries_total",
		Help:      "Total retried network attempts across reads and writes.",
	})
	pendingEnqueued := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "policy",
		Name:      "pending_enqueued_total",
		Help:      "Total writes parked in the pending queue.",
	})
	pendingReplayed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "policy",
		Name:      "pending_replayed_total",
		Help:      "Total pending changes confirmed by the network.",
	})
	conflictsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "policy",
		Name:      "conflicts_total",
		Help:      "Total detected write conflicts grouped by resolution outcome.",
	}, []string{"outcome"})
	pendingGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "policy",
		Name:      "pending_changes",
		Help:      "Current pending queue depth.",
	})

	for _, c := range []prometheus.Collector{networkRetries, pendingEnqueued, pendingReplayed, conflictsTotal, pendingGauge} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register policy metrics failed: %w", err)
		}
	}

	return &Metrics{
		networkRetries:  networkRetries,
		pendingEnqueued: pendingEnqueued,
		pendingReplayed: pendingReplayed,
		conflictsTotal:  conflictsTotal,
		pendingGauge:    pendingGauge,
	}, nil
}

func (m *Metrics) incRetry() {
	if m == nil {
		return
	}
	m.networkRetries.Inc()
}

func (m *Metrics) incPendingEnqueued() {
	if m == nil {
		return
	}
	m.pendingEnqueued.Inc()
}

func (m *Metrics) incPendingReplayed() {
	if m == nil {
		return
	}
	m.pendingReplayed.Inc()
}

func (m *Metrics) incConflict(outcome string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setPendingDepth(depth int) {
	if m == nil {
		return
	}
	m.pendingGauge.Set(float64(depth))
}
