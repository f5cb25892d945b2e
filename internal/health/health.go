// Package health runs the background liveness prober: periodic concurrent
// block-number probes that assign each provider's healthy/lag/latency
// fields.
package health

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PayRpc/rpc-relay/internal/jsonrpc"
	"github.com/PayRpc/rpc-relay/internal/registry"
	"github.com/PayRpc/rpc-relay/internal/upstream"
)

const probeTimeout = 3 * time.Second

// ConfigSource supplies the monitor interval and lag threshold the prober
// re-reads on every tick, so a config reload takes effect on the next
// sweep without restarting the prober.
type ConfigSource func() (interval time.Duration, maxBlocksBehind uint64)

// Prober periodically probes every provider in a registry with
// eth_blockNumber and updates their health, lag, and latency fields.
type Prober struct {
	reg        *registry.Registry
	dispatcher upstream.Dispatcher
	cfg        ConfigSource
	log        *zap.Logger
}

// New builds a Prober. cfg is consulted at the start of every tick.
func New(reg *registry.Registry, dispatcher upstream.Dispatcher, cfg ConfigSource, log *zap.Logger) *Prober {
	return &Prober{reg: reg, dispatcher: dispatcher, cfg: cfg, log: log}
}

// Run loops until ctx is cancelled, sweeping all providers once per tick.
func (p *Prober) Run(ctx context.Context) {
	for {
		interval, maxBehind := p.cfg()
		if interval < time.Second {
			interval = time.Second
		}

		p.sweep(ctx, maxBehind)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (p *Prober) sweep(ctx context.Context, maxBehind uint64) {
	providers := p.reg.All()
	if len(providers) == 0 {
		return
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxBlock := uint64(0)
	sawSuccess := false
	succeeded := make(map[*registry.Provider]bool, len(providers))

	for _, prov := range providers {
		prov := prov
		wg.Add(1)
		go func() {
			defer wg.Done()
			block, latencyMs, ok := p.probeOne(ctx, prov)
			if !ok {
				prov.SetHealthy(false)
				return
			}
			prov.SetLatestBlock(block)
			prov.SetLatencyMs(latencyMs)
			prov.SetHealthy(true)

			mu.Lock()
			if !sawSuccess || block > maxBlock {
				maxBlock = block
			}
			sawSuccess = true
			succeeded[prov] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if !sawSuccess {
		return
	}
	for _, prov := range providers {
		if !succeeded[prov] {
			continue
		}
		behind := uint64(0)
		if maxBlock > prov.LatestBlock() {
			behind = maxBlock - prov.LatestBlock()
		}
		prov.SetBehind(behind)
		if behind > maxBehind {
			prov.SetHealthy(false)
		}
	}
}

func (p *Prober) probeOne(ctx context.Context, prov *registry.Provider) (block uint64, latencyMs uint64, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req := &jsonrpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "eth_blockNumber", Params: json.RawMessage(`[]`)}

	start := time.Now()
	resp, err := p.dispatcher.Dispatch(ctx, prov.URL, req)
	elapsed := time.Since(start)
	if err != nil || resp == nil || resp.IsError() {
		if p.log != nil {
			p.log.Debug("health probe failed", zap.String("url", prov.URL), zap.Error(err))
		}
		return 0, 0, false
	}

	var hexResult string
	if err := json.Unmarshal(resp.Result, &hexResult); err != nil {
		return 0, 0, false
	}
	n, ok := parseHexUint(hexResult)
	if !ok {
		return 0, 0, false
	}
	return n, uint64(elapsed.Milliseconds()), true
}

func parseHexUint(s string) (uint64, bool) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
