package registry

import "sync"

// Endpoints is the configuration record for both tiers, as delivered by a
// config snapshot.
type Endpoints struct {
	Primary   []Endpoint
	Secondary []Endpoint
}

// Registry holds the two ordered provider tiers. Order mirrors
// configuration order and is observable via the status surface.
// Reconciliation is the only writer; everything else takes RLock.
type Registry struct {
	mu         sync.RWMutex
	Primaries  []*Provider
	Secondaries []*Provider
}

// New builds a registry from an initial endpoint list.
func New(eps Endpoints) *Registry {
	r := &Registry{}
	r.Primaries = buildTier(eps.Primary)
	r.Secondaries = buildTier(eps.Secondary)
	return r
}

func buildTier(eps []Endpoint) []*Provider {
	out := make([]*Provider, 0, len(eps))
	for _, ep := range eps {
		out = append(out, NewProvider(ep))
	}
	return out
}

// Snapshot returns copies of the current tier slices, safe to range over
// without holding the lock.
func (r *Registry) Snapshot() (primaries, secondaries []*Provider) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	primaries = append([]*Provider(nil), r.Primaries...)
	secondaries = append([]*Provider(nil), r.Secondaries...)
	return
}

// All returns every provider, primaries first, matching the order the
// status surface presents.
func (r *Registry) All() []*Provider {
	p, s := r.Snapshot()
	out := make([]*Provider, 0, len(p)+len(s))
	out = append(out, p...)
	out = append(out, s...)
	return out
}

// OnRemoved is invoked once per URL dropped during Reconcile, after the
// provider has been removed from both tiers. The relay wires this to the
// last-error registry's Delete so sticky state doesn't leak across
// reloads.
type OnRemoved func(url string)

// Reconcile merges a new endpoint list into the live registry: URLs that
// persist reuse their existing Provider (preserving counters and breaker
// state), new URLs get a fresh Provider, and URLs absent from the new
// config are dropped. A provider may move between tiers across a reload;
// its state object is preserved either way.
func (r *Registry) Reconcile(eps Endpoints, onRemoved OnRemoved) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := make(map[string]*Provider, len(r.Primaries)+len(r.Secondaries))
	for _, p := range r.Primaries {
		existing[p.URL] = p
	}
	for _, p := range r.Secondaries {
		existing[p.URL] = p
	}

	reconcileTier := func(want []Endpoint) []*Provider {
		out := make([]*Provider, 0, len(want))
		for _, ep := range want {
			if p, ok := existing[ep.URL]; ok {
				p.applyTunables(ep)
				delete(existing, ep.URL)
				out = append(out, p)
			} else {
				out = append(out, NewProvider(ep))
			}
		}
		return out
	}

	r.Primaries = reconcileTier(eps.Primary)
	r.Secondaries = reconcileTier(eps.Secondary)

	// Anything left in existing had its URL dropped from config entirely.
	if onRemoved != nil {
		for url := range existing {
			onRemoved(url)
		}
	}
}
