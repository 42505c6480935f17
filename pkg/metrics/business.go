package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Business bundles the engine-level collectors. Methods are nil-safe so
// tests can pass a nil *Business.
type Business struct {
	actions  *prometheus.CounterVec
	sweeps   *prometheus.CounterVec
	adapters *prometheus.HistogramVec
}

func NewBusiness() *Business {
	b := &Business{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "paying",
			Name:      "actions_total",
			Help:      "Ledger actions applied, partitioned by provider, action type and outcome.",
		}, []string{"provider", "action", "outcome"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "paying",
			Name:      "sweep_item_failures_total",
			Help:      "Per-item failures during reconciliation sweeps.",
		}, []string{"sweep"}),
		adapters: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "paying",
			Name:      "adapter_call_dur_ms",
			Help:      "Provider adapter call latency in milliseconds.",
			Buckets:   HistogramBuckets,
		}, []string{"provider", "op"}),
	}
	prometheus.MustRegister(b.actions, b.sweeps, b.adapters)
	return b
}

func (b *Business) CountAction(provider, action string, err error) {
	if b == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	b.actions.WithLabelValues(provider, action, outcome).Inc()
}

func (b *Business) CountSweepFailure(sweep string) {
	if b == nil {
		return
	}
	b.sweeps.WithLabelValues(sweep).Inc()
}

func (b *Business) ObserveAdapterCall(provider, op string, d time.Duration) {
	if b == nil {
		return
	}
	b.adapters.WithLabelValues(provider, op).Observe(float64(d.Milliseconds()))
}
