package observability

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RouterMetrics records router operation activity. Metrics are observed at
// the RPC boundary so the engine itself stays free of instrumentation.
type RouterMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	shortfall  prometheus.Gauge
	totalValue prometheus.Gauge
	vaultValue *prometheus.GaugeVec
}

var (
	routerMetricsOnce sync.Once
	routerRegistry    *RouterMetrics
)

// Router returns the lazily-initialised router metrics registry.
func Router() *RouterMetrics {
	routerMetricsOnce.Do(func() {
		routerRegistry = &RouterMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dstake",
				Subsystem: "router",
				Name:      "operations_total",
				Help:      "Total router operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dstake",
				Subsystem: "router",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for router operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			shortfall: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dstake",
				Subsystem: "router",
				Name:      "shortfall_base_units",
				Help:      "Cumulative value written off through forced vault removals.",
			}),
			totalValue: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dstake",
				Subsystem: "router",
				Name:      "total_value_base_units",
				Help:      "Total accounting-asset value across counted vaults.",
			}),
			vaultValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "dstake",
				Subsystem: "router",
				Name:      "vault_value_base_units",
				Help:      "Accounting-asset value per strategy vault.",
			}, []string{"vault"}),
		}
		prometheus.MustRegister(
			routerRegistry.operations,
			routerRegistry.latency,
			routerRegistry.shortfall,
			routerRegistry.totalValue,
			routerRegistry.vaultValue,
		)
	})
	return routerRegistry
}

// ObserveOperation records one operation's outcome and duration.
func (m *RouterMetrics) ObserveOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

func gaugeValue(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// SetShortfall updates the shortfall gauge.
func (m *RouterMetrics) SetShortfall(total *big.Int) {
	if m == nil {
		return
	}
	m.shortfall.Set(gaugeValue(total))
}

// SetTotalValue updates the system-wide value gauge.
func (m *RouterMetrics) SetTotalValue(total *big.Int) {
	if m == nil {
		return
	}
	m.totalValue.Set(gaugeValue(total))
}

// SetVaultValue updates one vault's value gauge.
func (m *RouterMetrics) SetVaultValue(vault string, value *big.Int) {
	if m == nil {
		return
	}
	m.vaultValue.WithLabelValues(vault).Set(gaugeValue(value))
}
