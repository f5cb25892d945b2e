// Package config loads and hot-reloads the relay's configuration snapshot:
// a YAML file on disk, a .env preload for local development, and a small
// set of RLY_* environment overrides applied after both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/PayRpc/rpc-relay/internal/breaker"
	"github.com/PayRpc/rpc-relay/internal/registry"
)

// Config is the full configuration snapshot. Treated as immutable once
// built: a reload swaps the whole value rather than mutating fields, so
// readers holding an old *Config never see a half-applied update.
type Config struct {
	Network       string              `yaml:"network"`
	Server        ServerConfig        `yaml:"server"`
	HealthMonitor HealthMonitorConfig `yaml:"health_monitor"`
	CacheTTL      map[string]uint64   `yaml:"cache_ttl"`
	Relay         RelayConfig         `yaml:"relay"`
	RPCEndpoints  RPCEndpoints        `yaml:"rpc_endpoints"`
	LogLevel      string              `yaml:"log_level"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

type ServerConfig struct {
	BindAddr         string `yaml:"bind_addr"`
	Port             uint16 `yaml:"port"`
	RequestTimeoutMs uint64 `yaml:"request_timeout_ms"`
}

type HealthMonitorConfig struct {
	MaxBlocksBehind  uint64 `yaml:"max_blocks_behind"`
	MonitorIntervalS uint64 `yaml:"monitor_interval_s"`
}

type RelayConfig struct {
	LatencyThresholdMs  *uint64  `yaml:"latency_threshold_ms"`
	MaxProviderTries    uint32   `yaml:"max_provider_tries"`
	UpstreamTimeoutMs   uint64   `yaml:"upstream_timeout_ms"`
	BroadcastMethods    []string `yaml:"broadcast_methods"`
	BroadcastRedundancy uint32   `yaml:"broadcast_redundancy"`
	BanErrorThreshold   uint32   `yaml:"ban_error_threshold"`
	BanSeconds          uint64   `yaml:"ban_seconds"`
}

// BreakerConfig converts the relay section's ban tunables into the shape
// the breaker package consumes.
func (r RelayConfig) BreakerConfig() breaker.Config {
	return breaker.Config{BanErrorThreshold: r.BanErrorThreshold, BanSeconds: r.BanSeconds}
}

type RPCEndpoints struct {
	Primary   []Endpoint `yaml:"primary"`
	Secondary []Endpoint `yaml:"secondary"`
}

type Endpoint struct {
	URL    string  `yaml:"url"`
	MaxTPS *uint32 `yaml:"max_tps"`
	Weight uint32  `yaml:"weight"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ToRegistryEndpoints converts the config's endpoint lists into the plain
// registry.Endpoints shape the provider registry consumes.
func (e RPCEndpoints) ToRegistryEndpoints() registry.Endpoints {
	conv := func(in []Endpoint) []registry.Endpoint {
		out := make([]registry.Endpoint, 0, len(in))
		for _, ep := range in {
			var tps uint32
			if ep.MaxTPS != nil {
				tps = *ep.MaxTPS
			}
			w := ep.Weight
			if w == 0 {
				w = 1
			}
			out = append(out, registry.Endpoint{URL: ep.URL, MaxTPS: tps, Weight: w})
		}
		return out
	}
	return registry.Endpoints{Primary: conv(e.Primary), Secondary: conv(e.Secondary)}
}

// Defaults match the values the relay has always shipped with.
const (
	defaultRequestTimeoutMs    = 30_000
	defaultMaxBlocksBehind     = 6
	defaultMonitorIntervalS    = 5
	defaultMaxProviderTries    = 3
	defaultUpstreamTimeoutMs   = 30_000
	defaultBroadcastRedundancy = 2
	defaultBanErrorThreshold   = 3
	defaultBanSeconds          = 30
)

func defaultBroadcastMethods() []string { return []string{"eth_sendRawTransaction"} }

// applyDefaults fills in zero-valued fields the YAML schema treats as
// optional.
func applyDefaults(c *Config) {
	if c.Server.RequestTimeoutMs == 0 {
		c.Server.RequestTimeoutMs = defaultRequestTimeoutMs
	}
	if c.HealthMonitor.MaxBlocksBehind == 0 {
		c.HealthMonitor.MaxBlocksBehind = defaultMaxBlocksBehind
	}
	if c.HealthMonitor.MonitorIntervalS == 0 {
		c.HealthMonitor.MonitorIntervalS = defaultMonitorIntervalS
	}
	if c.Relay.MaxProviderTries == 0 {
		c.Relay.MaxProviderTries = defaultMaxProviderTries
	}
	if c.Relay.UpstreamTimeoutMs == 0 {
		c.Relay.UpstreamTimeoutMs = defaultUpstreamTimeoutMs
	}
	if c.Relay.UpstreamTimeoutMs < 1000 {
		c.Relay.UpstreamTimeoutMs = 1000
	}
	if len(c.Relay.BroadcastMethods) == 0 {
		c.Relay.BroadcastMethods = defaultBroadcastMethods()
	}
	if c.Relay.BroadcastRedundancy == 0 {
		c.Relay.BroadcastRedundancy = defaultBroadcastRedundancy
	}
	if c.Relay.BanErrorThreshold == 0 {
		c.Relay.BanErrorThreshold = defaultBanErrorThreshold
	}
	if c.Relay.BanSeconds == 0 {
		c.Relay.BanSeconds = defaultBanSeconds
	}
	if c.CacheTTL == nil {
		c.CacheTTL = map[string]uint64{}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.BindAddr == "" {
		c.Server.BindAddr = "0.0.0.0"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = fmt.Sprintf("%s:%d", c.Server.BindAddr, int(c.Server.Port)+1)
	}
}

// LoadFromPath reads and parses a YAML config file, applies schema
// defaults, then applies RLY_* environment overrides. A .env file in the
// working directory, if present, is preloaded first so overrides can be
// supplied that way in local development.
func LoadFromPath(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Absence of a .env file is the common case; only log-worthy at
		// the caller, which has a logger. Nothing to do here.
		_ = err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Config{Metrics: MetricsConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides applies the RLY_* environment overrides, evaluated
// after the YAML file and its schema defaults.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RLY_NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := os.Getenv("RLY_HTTP_ADDR"); v != "" {
		cfg.Server.BindAddr = v
	}
	if v := os.Getenv("RLY_HTTP_PORT"); v != "" {
		if p, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Server.Port = uint16(p)
		}
	}
	if v := os.Getenv("RLY_BROADCAST_REDUNDANCY"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Relay.BroadcastRedundancy = atLeast1(uint32(n))
		}
	}
	if v, ok := os.LookupEnv("RLY_LATENCY_THRESHOLD_MS"); ok {
		if v == "" {
			cfg.Relay.LatencyThresholdMs = nil
		} else if ms, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Relay.LatencyThresholdMs = &ms
		}
	}
	if v := os.Getenv("RLY_MAX_PROVIDER_TRIES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Relay.MaxProviderTries = atLeast1(uint32(n))
		}
	}
	if v := os.Getenv("RLY_UPSTREAM_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.ParseUint(v, 10, 64); err == nil {
			if ms < 1000 {
				ms = 1000
			}
			cfg.Relay.UpstreamTimeoutMs = ms
		}
	}
	if v := os.Getenv("RLY_BAN_SECONDS"); v != "" {
		if s, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Relay.BanSeconds = s
		}
	}
}

func atLeast1(n uint32) uint32 {
	if n < 1 {
		return 1
	}
	return n
}

// RequestTimeout is the server-side request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutMs) * time.Millisecond
}

// UpstreamTimeout is the per-upstream-call deadline.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Relay.UpstreamTimeoutMs) * time.Millisecond
}

// IsBroadcastMethod reports whether method is configured to fan out to
// every admitted candidate rather than failing over serially.
func (c *Config) IsBroadcastMethod(method string) bool {
	for _, m := range c.Relay.BroadcastMethods {
		if m == method {
			return true
		}
	}
	return false
}

// CacheTTLFor returns the configured TTL for method, or 0 (non-cacheable)
// if the method is absent from the map.
func (c *Config) CacheTTLFor(method string) time.Duration {
	ms, ok := c.CacheTTL[method]
	if !ok {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Addr is the server's bind address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddr, c.Server.Port)
}
