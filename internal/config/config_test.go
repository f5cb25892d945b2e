package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
network: ethereum
server:
  bind_addr: 0.0.0.0
  port: 8080
health_monitor:
  max_blocks_behind: 10
cache_ttl:
  eth_chainId: 60000
relay:
  max_provider_tries: 5
rpc_endpoints:
  primary:
    - url: http://a.example
      weight: 2
    - url: http://b.example
      max_tps: 20
  secondary:
    - url: http://c.example
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromPath_AppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	require.Equal(t, "ethereum", cfg.Network)
	require.EqualValues(t, 5, cfg.Relay.MaxProviderTries)
	require.EqualValues(t, defaultUpstreamTimeoutMs, cfg.Relay.UpstreamTimeoutMs)
	require.EqualValues(t, defaultBroadcastRedundancy, cfg.Relay.BroadcastRedundancy)
	require.Equal(t, []string{"eth_sendRawTransaction"}, cfg.Relay.BroadcastMethods)
	require.Equal(t, "info", cfg.LogLevel)
	require.Len(t, cfg.RPCEndpoints.Primary, 2)
	require.Len(t, cfg.RPCEndpoints.Secondary, 1)
}

func TestLoadFromPath_EnvOverridesWin(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	t.Setenv("RLY_NETWORK", "bitcoin")
	t.Setenv("RLY_HTTP_PORT", "9999")
	t.Setenv("RLY_MAX_PROVIDER_TRIES", "0")
	t.Setenv("RLY_UPSTREAM_TIMEOUT_MS", "500")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	require.Equal(t, "bitcoin", cfg.Network)
	require.EqualValues(t, 9999, cfg.Server.Port)
	require.EqualValues(t, 1, cfg.Relay.MaxProviderTries, "0 is coerced up to the floor of 1")
	require.EqualValues(t, 1000, cfg.Relay.UpstreamTimeoutMs, "below the 1000ms floor is clamped up")
}

func TestLoadFromPath_LatencyThresholdEnvClearsToNil(t *testing.T) {
	path := writeTempConfig(t, strings.Replace(sampleYAML, "relay:\n", "relay:\n  latency_threshold_ms: 250\n", 1))
	t.Setenv("RLY_LATENCY_THRESHOLD_MS", "")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Nil(t, cfg.Relay.LatencyThresholdMs)
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestToRegistryEndpoints_WeightAndMaxTPS(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	eps := cfg.RPCEndpoints.ToRegistryEndpoints()
	require.Len(t, eps.Primary, 2)
	require.EqualValues(t, 2, eps.Primary[0].Weight)
	require.EqualValues(t, 1, eps.Primary[1].Weight, "unset weight coerced to 1")
	require.EqualValues(t, 20, eps.Primary[1].MaxTPS)
}
