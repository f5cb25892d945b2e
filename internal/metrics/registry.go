package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/PayRpc/rpc-relay/internal/registry"
)

// PrometheusRegistry is a thin wrapper around a dedicated Prometheus
// registry, kept separate from the global default registry so relay
// metrics can be gathered independently of whatever else links into the
// process.
type PrometheusRegistry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a new Prometheus registry pre-populated with the
// relay's collectors.
func NewRegistry() *PrometheusRegistry {
	r := &PrometheusRegistry{registry: prometheus.NewRegistry()}
	r.MustRegister(
		TotalCalls, CacheHits,
		ProviderCallCount, ProviderErrors, ProviderHealthy,
		ProviderLatencyMs, ProviderBehindBlocks,
	)
	return r
}

// Register registers a collector with the registry.
func (r *PrometheusRegistry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// MustRegister registers a collector with the registry and panics on error.
func (r *PrometheusRegistry) MustRegister(collectors ...prometheus.Collector) {
	r.registry.MustRegister(collectors...)
}

// Unregister unregisters a collector from the registry.
func (r *PrometheusRegistry) Unregister(collector prometheus.Collector) bool {
	return r.registry.Unregister(collector)
}

// GetRegistry returns the underlying Prometheus registry, for wiring into
// an HTTP handler.
func (r *PrometheusRegistry) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RefreshProviderGauges syncs the per-provider gauges from the live
// registry. Called just before each /metrics scrape rather than inline on
// every request, keeping the hot request path free of label-set
// bookkeeping.
func RefreshProviderGauges(reg *registry.Registry) {
	for _, p := range reg.All() {
		ProviderCallCount.WithLabelValues(p.URL).Set(float64(p.CallCount()))
		ProviderErrors.WithLabelValues(p.URL).Set(float64(p.Errors()))
		ProviderLatencyMs.WithLabelValues(p.URL).Set(float64(p.LatencyMs()))
		ProviderBehindBlocks.WithLabelValues(p.URL).Set(float64(p.Behind()))
		healthy := 0.0
		if p.IsHealthy() {
			healthy = 1.0
		}
		ProviderHealthy.WithLabelValues(p.URL).Set(healthy)
	}
}
