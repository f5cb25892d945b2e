// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalCalls tracks every JSON-RPC request the relay has received.
	TotalCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_total_calls",
			Help: "Total JSON-RPC requests received",
		},
	)

	// CacheHits tracks requests served from the response cache.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_cache_hits_total",
			Help: "Requests served from the response cache",
		},
	)

	// ProviderCallCount tracks attempts issued per upstream provider.
	ProviderCallCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_provider_call_count",
			Help: "Attempts issued per provider",
		},
		[]string{"url"},
	)

	// ProviderErrors tracks failed attempts per upstream provider.
	ProviderErrors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_provider_errors",
			Help: "Failed attempts per provider, any class",
		},
		[]string{"url"},
	)

	// ProviderHealthy is 1 if the provider is currently a selection
	// candidate's health bit, 0 otherwise.
	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_provider_healthy",
			Help: "1 if the provider is currently healthy",
		},
		[]string{"url"},
	)

	// ProviderLatencyMs tracks the last observed health-probe latency.
	ProviderLatencyMs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_provider_latency_ms",
			Help: "Last observed health-probe latency in milliseconds",
		},
		[]string{"url"},
	)

	// ProviderBehindBlocks tracks chain-tip lag as of the last health sweep.
	ProviderBehindBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_provider_behind_blocks",
			Help: "Blocks behind the fastest provider as of the last health sweep",
		},
		[]string{"url"},
	)
)
