// Package selector produces an ordered candidate list for a single
// incoming request from the registry's live tiers and the active config.
package selector

import "github.com/PayRpc/rpc-relay/internal/registry"

// Select implements tier preference, weight expansion, and the latency
// gate. The returned slice may contain duplicate *Provider entries (from
// weight expansion); that is intentional, it realizes weighted
// round-robin when combined with the caller's rotating index.
func Select(reg *registry.Registry, latencyThresholdMs *uint64) []*registry.Provider {
	primaries, secondaries := reg.Snapshot()

	tier := filterCandidates(primaries)
	if len(tier) == 0 {
		tier = filterCandidates(secondaries)
	}
	if len(tier) == 0 {
		return nil
	}

	expanded := expandByWeight(tier)
	return applyLatencyGate(expanded, latencyThresholdMs)
}

func filterCandidates(tier []*registry.Provider) []*registry.Provider {
	out := make([]*registry.Provider, 0, len(tier))
	for _, p := range tier {
		if p.IsCandidate() {
			out = append(out, p)
		}
	}
	return out
}

func expandByWeight(tier []*registry.Provider) []*registry.Provider {
	out := make([]*registry.Provider, 0, len(tier))
	for _, p := range tier {
		for i := uint32(0); i < p.Weight(); i++ {
			out = append(out, p)
		}
	}
	return out
}

// applyLatencyGate retains candidates below the configured threshold. If
// that would empty the list, it falls back to the subset tied for the
// minimum latency across the pre-filter list, so a threshold stricter
// than every provider's latency still yields something to try.
func applyLatencyGate(candidates []*registry.Provider, thresholdMs *uint64) []*registry.Provider {
	if thresholdMs == nil {
		return candidates
	}

	filtered := make([]*registry.Provider, 0, len(candidates))
	for _, p := range candidates {
		if p.LatencyMs() < *thresholdMs {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) > 0 {
		return filtered
	}

	min := registry.LatencyUnknown
	for _, p := range candidates {
		if p.LatencyMs() < min {
			min = p.LatencyMs()
		}
	}
	out := make([]*registry.Provider, 0, len(candidates))
	for _, p := range candidates {
		if p.LatencyMs() == min {
			out = append(out, p)
		}
	}
	return out
}
