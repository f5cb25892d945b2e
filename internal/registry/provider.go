// Package registry holds the provider registry and the per-provider state
// it manages: health, chain-tip lag, latency, attempt counters, rate
// limiter, and circuit breaker. The last-error classification is kept
// separately, in internal/lasterror.
package registry

import (
	"math"
	"sync/atomic"

	"github.com/PayRpc/rpc-relay/internal/breaker"
	"github.com/PayRpc/rpc-relay/internal/ratelimit"
)

// Endpoint is the configuration record a Provider is built from. Identity
// is the URL.
type Endpoint struct {
	URL    string
	MaxTPS uint32 // 0 = unlimited
	Weight uint32
}

// Provider is one live upstream endpoint: immutable identity, mutable
// tunables, observed health/lag/latency, attempt counters, and its
// admission/trip state. All mutable fields are single-word atomics or
// individually-locked (bucket, breaker) so readers never need the
// registry's lock.
type Provider struct {
	URL string

	weight atomic.Uint32
	maxTPS atomic.Uint32

	healthy     atomic.Bool
	latestBlock atomic.Uint64
	behind      atomic.Uint64
	latencyMs   atomic.Uint64

	callCount atomic.Uint64
	errors    atomic.Uint64

	bucket  atomic.Pointer[ratelimit.TokenBucket]
	Breaker breaker.Breaker
}

// LatencyUnknown is the sentinel latency value meaning "never probed
// successfully".
const LatencyUnknown = math.MaxUint64

// NewProvider builds a fresh Provider from an endpoint: weight coerced to
// at least 1, latency starts at the unknown sentinel, healthy starts true
// (the health prober will correct this on its first sweep).
func NewProvider(ep Endpoint) *Provider {
	w := ep.Weight
	if w == 0 {
		w = 1
	}
	p := &Provider{URL: ep.URL}
	p.weight.Store(w)
	p.maxTPS.Store(ep.MaxTPS)
	p.healthy.Store(true)
	p.latencyMs.Store(LatencyUnknown)
	p.bucket.Store(ratelimit.New(ep.MaxTPS))
	return p
}

func (p *Provider) Weight() uint32 {
	w := p.weight.Load()
	if w == 0 {
		return 1
	}
	return w
}

func (p *Provider) MaxTPS() uint32 { return p.maxTPS.Load() }

func (p *Provider) IsHealthy() bool      { return p.healthy.Load() }
func (p *Provider) SetHealthy(ok bool)   { p.healthy.Store(ok) }
func (p *Provider) LatestBlock() uint64  { return p.latestBlock.Load() }
func (p *Provider) SetLatestBlock(b uint64) { p.latestBlock.Store(b) }
func (p *Provider) Behind() uint64       { return p.behind.Load() }
func (p *Provider) SetBehind(d uint64)   { p.behind.Store(d) }
func (p *Provider) LatencyMs() uint64    { return p.latencyMs.Load() }
func (p *Provider) SetLatencyMs(ms uint64) { p.latencyMs.Store(ms) }

func (p *Provider) CallCount() uint64 { return p.callCount.Load() }
func (p *Provider) Errors() uint64    { return p.errors.Load() }

// RecordAttempt increments the attempt counter. Called once per dispatch,
// regardless of outcome.
func (p *Provider) RecordAttempt() { p.callCount.Add(1) }

// RecordError increments the error counter. Called once per failed
// attempt, any class.
func (p *Provider) RecordError() { p.errors.Add(1) }

// IsCandidate reports whether the provider is currently selectable: healthy
// and not banned.
func (p *Provider) IsCandidate() bool {
	return p.IsHealthy() && !p.Breaker.IsBanned()
}

// TryAdmit attempts to debit one token from the provider's bucket.
func (p *Provider) TryAdmit() bool {
	return p.bucket.Load().TryTake(1)
}

// applyTunables updates weight and, if max_tps changed, replaces the token
// bucket with a freshly-full one sized to the new rate. Used only by
// reconciliation.
func (p *Provider) applyTunables(ep Endpoint) {
	w := ep.Weight
	if w == 0 {
		w = 1
	}
	p.weight.Store(w)

	if p.maxTPS.Load() != ep.MaxTPS {
		p.maxTPS.Store(ep.MaxTPS)
		p.bucket.Store(ratelimit.New(ep.MaxTPS))
	}
}
