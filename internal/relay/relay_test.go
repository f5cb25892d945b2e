package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PayRpc/rpc-relay/internal/config"
	"github.com/PayRpc/rpc-relay/internal/jsonrpc"
	"github.com/PayRpc/rpc-relay/internal/lasterror"
	"github.com/PayRpc/rpc-relay/internal/registry"
	"github.com/PayRpc/rpc-relay/internal/ttlcache"
	"github.com/PayRpc/rpc-relay/internal/upstream"
)

type scriptedCall struct {
	result string
	err    *upstream.Error
	delay  bool
}

type scriptedDispatcher struct {
	byURL map[string]scriptedCall
	calls map[string]int
}

func newScriptedDispatcher() *scriptedDispatcher {
	return &scriptedDispatcher{byURL: map[string]scriptedCall{}, calls: map[string]int{}}
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, url string, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	d.calls[url]++
	sc, ok := d.byURL[url]
	if !ok {
		return nil, &upstream.Error{Class: upstream.FailureHTTPError, Err: errNotConfigured}
	}
	if sc.err != nil {
		return nil, sc.err
	}
	result, _ := json.Marshal(sc.result)
	return &jsonrpc.Response{JSONRPC: "2.0", ID: req.ID, Result: result}, nil
}

var errNotConfigured = fmtErr("no script configured for url")

type fmtErr string

func (e fmtErr) Error() string { return string(e) }

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Relay.MaxProviderTries = 3
	cfg.Relay.UpstreamTimeoutMs = 5000
	cfg.Relay.BroadcastRedundancy = 2
	cfg.Relay.BanErrorThreshold = 3
	cfg.Relay.BanSeconds = 30
	cfg.Relay.BroadcastMethods = []string{"eth_sendRawTransaction"}
	cfg.CacheTTL = map[string]uint64{}
	return cfg
}

func newEngine(reg *registry.Registry, disp upstream.Dispatcher, cfg *config.Config) *Engine {
	e := New(reg, ttlcache.New(), lasterror.NewRegistry(), disp, zap.NewNop())
	e.SetConfig(cfg)
	return e
}

func req(id, method, params string) *jsonrpc.Request {
	return &jsonrpc.Request{JSONRPC: "2.0", ID: json.RawMessage(id), Method: method, Params: json.RawMessage(params)}
}

func TestRelay_CacheHitAfterFirstUpstreamCall(t *testing.T) {
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{{URL: "http://a", Weight: 1}}})
	disp := newScriptedDispatcher()
	disp.byURL["http://a"] = scriptedCall{result: "0x1"}

	cfg := baseConfig()
	cfg.CacheTTL["eth_chainId"] = 60000
	e := newEngine(reg, disp, cfg)

	resp1, status1 := e.Relay(context.Background(), req("1", "eth_chainId", "[]"))
	require.Equal(t, 200, status1)
	require.JSONEq(t, `1`, string(resp1.ID))

	resp2, status2 := e.Relay(context.Background(), req("2", "eth_chainId", "[]"))
	require.Equal(t, 200, status2)
	require.JSONEq(t, `2`, string(resp2.ID))

	require.Equal(t, 1, disp.calls["http://a"])
	require.EqualValues(t, 1, e.CacheHits())
}

func TestRelay_FailoverToSecondProvider(t *testing.T) {
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{
		{URL: "http://a", Weight: 1}, {URL: "http://b", Weight: 1},
	}})
	disp := newScriptedDispatcher()
	disp.byURL["http://a"] = scriptedCall{err: &upstream.Error{Class: upstream.FailureTimeout, Err: fmtErr("timeout")}}
	disp.byURL["http://b"] = scriptedCall{result: "0x10"}

	cfg := baseConfig()
	cfg.Relay.MaxProviderTries = 2
	e := newEngine(reg, disp, cfg)

	resp, status := e.Relay(context.Background(), req("7", "eth_call", "[]"))
	require.Equal(t, 200, status)
	var result string
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, "0x10", result)
}

func TestRelay_NoHealthyRPCsReturns500(t *testing.T) {
	reg := registry.New(registry.Endpoints{})
	e := newEngine(reg, newScriptedDispatcher(), baseConfig())

	resp, status := e.Relay(context.Background(), req("1", "eth_call", "[]"))
	require.Equal(t, 500, status)
	require.Equal(t, jsonrpc.CodeNoHealthyRPCs, resp.Error.Code)
}

func TestRelay_MaxProviderTriesOfOneDisablesFailover(t *testing.T) {
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{
		{URL: "http://a", Weight: 1}, {URL: "http://b", Weight: 1},
	}})
	disp := newScriptedDispatcher()
	disp.byURL["http://a"] = scriptedCall{err: &upstream.Error{Class: upstream.FailureTimeout, Err: fmtErr("timeout")}}
	disp.byURL["http://b"] = scriptedCall{result: "0x10"}

	cfg := baseConfig()
	cfg.Relay.MaxProviderTries = 1
	e := newEngine(reg, disp, cfg)

	_, status := e.Relay(context.Background(), req("1", "eth_call", "[]"))
	require.Equal(t, 502, status)
}

func TestRelay_BroadcastReturnsFirstSuccess(t *testing.T) {
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{
		{URL: "http://a", Weight: 1}, {URL: "http://b", Weight: 1}, {URL: "http://c", Weight: 1},
	}})
	disp := newScriptedDispatcher()
	disp.byURL["http://a"] = scriptedCall{result: "0xa"}
	disp.byURL["http://b"] = scriptedCall{result: "0xb"}
	disp.byURL["http://c"] = scriptedCall{result: "0xc"}

	cfg := baseConfig()
	e := newEngine(reg, disp, cfg)

	resp, status := e.Relay(context.Background(), req("7", "eth_sendRawTransaction", `["0xdead"]`))
	require.Equal(t, 200, status)
	require.JSONEq(t, `7`, string(resp.ID))
}

func TestRelay_BroadcastAllFailReturns502(t *testing.T) {
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{
		{URL: "http://a", Weight: 1}, {URL: "http://b", Weight: 1},
	}})
	disp := newScriptedDispatcher()
	disp.byURL["http://a"] = scriptedCall{err: &upstream.Error{Class: upstream.FailureHTTPError, Err: fmtErr("boom")}}
	disp.byURL["http://b"] = scriptedCall{err: &upstream.Error{Class: upstream.FailureHTTPError, Err: fmtErr("boom")}}

	cfg := baseConfig()
	e := newEngine(reg, disp, cfg)

	resp, status := e.Relay(context.Background(), req("1", "eth_sendRawTransaction", `["0xdead"]`))
	require.Equal(t, 502, status)
	require.Equal(t, jsonrpc.CodeUpstreamFailure, resp.Error.Code)
}

func TestNormalizeEthGetTransactionCount_TruncatesAndForcesPending(t *testing.T) {
	r := req("1", "eth_getTransactionCount", `["0xabc","latest","extra"]`)
	normalizeEthGetTransactionCount(r)

	var params []json.RawMessage
	require.NoError(t, json.Unmarshal(r.Params, &params))
	require.Len(t, params, 2)
	require.JSONEq(t, `"pending"`, string(params[1]))

	// idempotent
	again := r.Params
	normalizeEthGetTransactionCount(r)
	require.JSONEq(t, string(again), string(r.Params))
}

func TestRelay_RateLimitedWhenNoProviderAdmits(t *testing.T) {
	maxTPS := uint32(0)
	_ = maxTPS
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{{URL: "http://a", Weight: 1, MaxTPS: 1}}})
	reg.Primaries[0].TryAdmit() // drain the single token

	disp := newScriptedDispatcher()
	disp.byURL["http://a"] = scriptedCall{result: "0x1"}
	cfg := baseConfig()
	e := newEngine(reg, disp, cfg)

	_, status := e.Relay(context.Background(), req("1", "eth_call", "[]"))
	require.Equal(t, 429, status)
}
