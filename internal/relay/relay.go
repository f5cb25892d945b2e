// Package relay implements the request-routing engine: method
// normalization, cache lookup, candidate selection, and the broadcast and
// failover dispatch strategies.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/PayRpc/rpc-relay/internal/config"
	"github.com/PayRpc/rpc-relay/internal/jsonrpc"
	"github.com/PayRpc/rpc-relay/internal/lasterror"
	"github.com/PayRpc/rpc-relay/internal/metrics"
	"github.com/PayRpc/rpc-relay/internal/registry"
	"github.com/PayRpc/rpc-relay/internal/selector"
	"github.com/PayRpc/rpc-relay/internal/ttlcache"
	"github.com/PayRpc/rpc-relay/internal/upstream"
)

// Engine ties the registry, cache, selector, and upstream dispatcher
// together behind the single public Relay operation.
type Engine struct {
	reg        *registry.Registry
	cache      *ttlcache.Cache
	lastErrors *lasterror.Registry
	dispatcher upstream.Dispatcher
	log        *zap.Logger

	cfg atomic.Pointer[config.Config]

	rrMain    atomic.Uint64
	totalCalls atomic.Uint64
	cacheHits  atomic.Uint64
}

// New builds an Engine. SetConfig must be called at least once before Relay
// is used.
func New(reg *registry.Registry, cache *ttlcache.Cache, lastErrors *lasterror.Registry, dispatcher upstream.Dispatcher, log *zap.Logger) *Engine {
	return &Engine{reg: reg, cache: cache, lastErrors: lastErrors, dispatcher: dispatcher, log: log}
}

// SetConfig installs a new configuration snapshot, effective for requests
// that start after this call returns.
func (e *Engine) SetConfig(cfg *config.Config) { e.cfg.Store(cfg) }

func (e *Engine) config() *config.Config { return e.cfg.Load() }

// Config returns the engine's current configuration snapshot, for
// collaborators (like the health prober) that need to re-read tunables on
// their own schedule.
func (e *Engine) Config() *config.Config { return e.cfg.Load() }

// TotalCalls and CacheHits back the status surface's counters.
func (e *Engine) TotalCalls() uint64 { return e.totalCalls.Load() }
func (e *Engine) CacheHits() uint64  { return e.cacheHits.Load() }

// Relay executes the full request lifecycle for a single JSON-RPC request.
// The returned response's id always equals req.ID; the returned int is the
// HTTP status code the transport should use.
func (e *Engine) Relay(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, int) {
	e.totalCalls.Add(1)
	metrics.TotalCalls.Inc()
	cfg := e.config()

	normalizeEthGetTransactionCount(req)

	if ttl := cfg.CacheTTLFor(req.Method); ttl > 0 {
		key := ttlcache.Key(req.Method, req.Params)
		if cached, ok := e.cache.Get(key); ok {
			e.cacheHits.Add(1)
			metrics.CacheHits.Inc()
			var resp jsonrpc.Response
			if err := json.Unmarshal(cached, &resp); err == nil {
				resp.ID = req.ID
				return &resp, 200
			}
		}
	}

	candidates := selector.Select(e.reg, cfg.Relay.LatencyThresholdMs)
	if len(candidates) == 0 {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeNoHealthyRPCs, "No healthy RPCs available"), 500
	}

	if cfg.IsBroadcastMethod(req.Method) {
		return e.broadcast(ctx, cfg, req, candidates)
	}
	return e.failover(ctx, cfg, req, candidates)
}

// normalizeEthGetTransactionCount truncates params to length 2 and forces
// the second element to "pending", matching the upstream's mempool-aware
// nonce convention. Idempotent: normalizing twice yields the same params.
func normalizeEthGetTransactionCount(req *jsonrpc.Request) {
	if req.Method != "eth_getTransactionCount" {
		return
	}
	var params []json.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) == 0 {
		return
	}
	if len(params) > 2 {
		params = params[:2]
	}
	pending, _ := json.Marshal("pending")
	if len(params) == 1 {
		params = append(params, pending)
	} else {
		params[1] = pending
	}
	out, err := json.Marshal(params)
	if err != nil {
		return
	}
	req.Params = out
}

func (e *Engine) broadcast(ctx context.Context, cfg *config.Config, req *jsonrpc.Request, candidates []*registry.Provider) (*jsonrpc.Response, int) {
	dedup := dedupeByURL(candidates)
	sort.SliceStable(dedup, func(i, j int) bool { return dedup[i].LatencyMs() < dedup[j].LatencyMs() })

	redundancy := int(cfg.Relay.BroadcastRedundancy)
	if redundancy < 1 {
		redundancy = 1
	}

	admitted := make([]*registry.Provider, 0, redundancy)
	for _, p := range dedup {
		if len(admitted) >= redundancy {
			break
		}
		if p.TryAdmit() {
			admitted = append(admitted, p)
		}
	}
	if len(admitted) == 0 {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeRateLimited, "Rate limited; try later"), 429
	}

	type attemptResult struct {
		resp *jsonrpc.Response
		err  error
		prov *registry.Provider
	}

	results := make(chan attemptResult, len(admitted))
	var wg sync.WaitGroup
	for _, p := range admitted {
		p.RecordAttempt()
		wg.Add(1)
		go func(p *registry.Provider) {
			defer wg.Done()
			attemptCtx, cancel := context.WithTimeout(ctx, cfg.UpstreamTimeout())
			defer cancel()
			resp, err := e.dispatcher.Dispatch(attemptCtx, p.URL, req)
			results <- attemptResult{resp: resp, err: err, prov: p}
		}(p)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var winner *jsonrpc.Response
	var firstErr error
	for r := range results {
		if r.err == nil && r.resp != nil && !r.resp.IsError() {
			r.prov.Breaker.OnSuccess()
			if winner == nil {
				winner = r.resp
				if ttl := cfg.CacheTTLFor(req.Method); ttl > 0 {
					if body, err := json.Marshal(r.resp); err == nil {
						e.cache.Put(ttlcache.Key(req.Method, req.Params), body, ttl)
					}
				}
			}
			continue
		}
		r.prov.RecordError()
		r.prov.Breaker.OnFailure(cfg.Relay.BreakerConfig())
		e.lastErrors.Set(r.prov.URL, classify(r.err))
		if firstErr == nil {
			firstErr = errForAttempt(r.err, r.resp)
		}
	}

	if winner != nil {
		winner.ID = req.ID
		return winner, 200
	}
	msg := fmt.Sprintf("All broadcast attempts failed: %v", firstErr)
	return jsonrpc.NewError(req.ID, jsonrpc.CodeUpstreamFailure, msg), 502
}

func (e *Engine) failover(ctx context.Context, cfg *config.Config, req *jsonrpc.Request, candidates []*registry.Provider) (*jsonrpc.Response, int) {
	start := int((e.rrMain.Add(1) - 1) % uint64(len(candidates)))
	rotated := rotate(candidates, start)

	maxTries := int(cfg.Relay.MaxProviderTries)
	if maxTries < 1 {
		maxTries = 1
	}

	var lastErr error
	pos := 0
	for try := 0; try < maxTries; try++ {
		var admittedProv *registry.Provider
		for pos < len(rotated) {
			p := rotated[pos]
			pos++
			if p.TryAdmit() {
				admittedProv = p
				break
			}
		}
		if admittedProv == nil {
			return jsonrpc.NewError(req.ID, jsonrpc.CodeRateLimited, "Rate limited; try later"), 429
		}

		admittedProv.RecordAttempt()
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.UpstreamTimeout())
		resp, err := e.dispatcher.Dispatch(attemptCtx, admittedProv.URL, req)
		cancel()

		if err == nil && resp != nil && !resp.IsError() {
			admittedProv.Breaker.OnSuccess()
			resp.ID = req.ID
			if ttl := cfg.CacheTTLFor(req.Method); ttl > 0 {
				if body, mErr := json.Marshal(resp); mErr == nil {
					e.cache.Put(ttlcache.Key(req.Method, req.Params), body, ttl)
				}
			}
			return resp, 200
		}

		admittedProv.RecordError()
		admittedProv.Breaker.OnFailure(cfg.Relay.BreakerConfig())
		e.lastErrors.Set(admittedProv.URL, classify(err))
		lastErr = errForAttempt(err, resp)
	}

	msg := fmt.Sprintf("Upstream provider error after failover: %v", lastErr)
	return jsonrpc.NewError(req.ID, jsonrpc.CodeUpstreamFailure, msg), 502
}

func dedupeByURL(candidates []*registry.Provider) []*registry.Provider {
	seen := make(map[string]bool, len(candidates))
	out := make([]*registry.Provider, 0, len(candidates))
	for _, p := range candidates {
		if seen[p.URL] {
			continue
		}
		seen[p.URL] = true
		out = append(out, p)
	}
	return out
}

func rotate(in []*registry.Provider, start int) []*registry.Provider {
	n := len(in)
	out := make([]*registry.Provider, n)
	for i := 0; i < n; i++ {
		out[i] = in[(start+i)%n]
	}
	return out
}

func classify(err error) lasterror.Reason {
	if err == nil {
		return lasterror.None
	}
	if ue, ok := err.(*upstream.Error); ok {
		switch ue.Class {
		case upstream.FailureTimeout:
			return lasterror.Timeout
		case upstream.FailureBadJSON:
			return lasterror.BadJSON
		case upstream.FailureRPCError:
			return lasterror.RPCError
		default:
			return lasterror.HTTPError
		}
	}
	return lasterror.HTTPError
}

func errForAttempt(err error, resp *jsonrpc.Response) error {
	if err != nil {
		return err
	}
	if resp != nil && resp.IsError() {
		return fmt.Errorf("%s", resp.Error.Message)
	}
	return fmt.Errorf("unknown upstream failure")
}
