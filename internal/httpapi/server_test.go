package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PayRpc/rpc-relay/internal/config"
	"github.com/PayRpc/rpc-relay/internal/jsonrpc"
	"github.com/PayRpc/rpc-relay/internal/lasterror"
	"github.com/PayRpc/rpc-relay/internal/metrics"
	"github.com/PayRpc/rpc-relay/internal/registry"
)

type stubRelay struct {
	resp   *jsonrpc.Response
	status int
}

func (s *stubRelay) Relay(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, int) {
	cp := *s.resp
	cp.ID = req.ID
	return &cp, s.status
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New(registry.Endpoints{Primary: []registry.Endpoint{{URL: "http://a", Weight: 1}}})
	stub := &stubRelay{resp: &jsonrpc.Response{JSONRPC: "2.0", Result: json.RawMessage(`"0x1"`)}, status: 200}
	s := New(stub, reg, lasterror.NewRegistry(), metrics.NewRegistry(), zap.NewNop())

	cfg := &config.Config{}
	cfg.Server.BindAddr = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.RequestTimeoutMs = 5000
	s.SetConfig(cfg)
	return s
}

func TestHandleLiveness(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleRelay_ReturnsUpstreamResponse(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	body := `{"jsonrpc":"2.0","id":9,"method":"eth_chainId","params":[]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.JSONEq(t, `9`, string(resp.ID))
}

func TestHandleStatus_ListsProviders(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body struct {
		RPCs []ProviderStatus `json:"rpcs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.RPCs, 1)
	require.Equal(t, "http://a", body.RPCs[0].URL)
}

func TestHandleMetrics_ServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "relay_provider_healthy")
}
