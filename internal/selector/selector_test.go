package selector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PayRpc/rpc-relay/internal/breaker"
	"github.com/PayRpc/rpc-relay/internal/registry"
)

func u64(n uint64) *uint64 { return &n }

func TestSelect_PrefersHealthyPrimaries(t *testing.T) {
	reg := registry.New(registry.Endpoints{
		Primary:   []registry.Endpoint{{URL: "http://p1", Weight: 1}},
		Secondary: []registry.Endpoint{{URL: "http://s1", Weight: 1}},
	})

	out := Select(reg, nil)
	require.Len(t, out, 1)
	require.Equal(t, "http://p1", out[0].URL)
}

func TestSelect_FallsBackToSecondaryWhenNoHealthyPrimary(t *testing.T) {
	reg := registry.New(registry.Endpoints{
		Primary:   []registry.Endpoint{{URL: "http://p1", Weight: 1}},
		Secondary: []registry.Endpoint{{URL: "http://s1", Weight: 1}},
	})
	reg.Primaries[0].SetHealthy(false)

	out := Select(reg, nil)
	require.Len(t, out, 1)
	require.Equal(t, "http://s1", out[0].URL)
}

func TestSelect_ExpandsByWeight(t *testing.T) {
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{{URL: "http://a", Weight: 3}}})
	out := Select(reg, nil)
	require.Len(t, out, 3)
}

func TestSelect_ExcludesBanned(t *testing.T) {
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{
		{URL: "http://a", Weight: 1}, {URL: "http://b", Weight: 1},
	}})
	reg.Primaries[0].Breaker.OnFailure(bannedCfg())
	reg.Primaries[0].Breaker.OnFailure(bannedCfg())
	reg.Primaries[0].Breaker.OnFailure(bannedCfg())

	out := Select(reg, nil)
	require.Len(t, out, 1)
	require.Equal(t, "http://b", out[0].URL)
}

func TestSelect_NoneHealthyReturnsEmpty(t *testing.T) {
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{{URL: "http://a"}}})
	reg.Primaries[0].SetHealthy(false)

	require.Empty(t, Select(reg, nil))
}

func TestApplyLatencyGate_FallsBackToMinimumWhenFilterEmpties(t *testing.T) {
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{
		{URL: "http://a"}, {URL: "http://b"},
	}})
	reg.Primaries[0].SetLatencyMs(100)
	reg.Primaries[1].SetLatencyMs(200)

	out := Select(reg, u64(50))
	require.Len(t, out, 1)
	require.Equal(t, "http://a", out[0].URL)
}

func TestApplyLatencyGate_NilThresholdDisablesGate(t *testing.T) {
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{{URL: "http://a"}}})
	reg.Primaries[0].SetLatencyMs(100000)
	out := Select(reg, nil)
	require.Len(t, out, 1)
}

func bannedCfg() breaker.Config { return breaker.Config{BanErrorThreshold: 3, BanSeconds: 30} }
