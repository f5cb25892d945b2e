// Package httpapi is the gin-based HTTP transport: liveness, the JSON-RPC
// POST endpoint, the status snapshot, and the Prometheus /metrics surface.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/PayRpc/rpc-relay/internal/config"
	"github.com/PayRpc/rpc-relay/internal/jsonrpc"
	"github.com/PayRpc/rpc-relay/internal/lasterror"
	"github.com/PayRpc/rpc-relay/internal/metrics"
	"github.com/PayRpc/rpc-relay/internal/registry"
)

// RelayEngine is the subset of relay.Engine the HTTP layer needs. Declared
// here, implemented there, to keep httpapi free of a dependency on the
// relay package's dispatch internals.
type RelayEngine interface {
	Relay(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, int)
}

// Server wires the gin engine, an ambient per-IP rate limiter, and the
// relay/registry/metrics collaborators into one *http.Server.
type Server struct {
	engine   *gin.Engine
	httpSrv  *http.Server
	relay    RelayEngine
	reg      *registry.Registry
	lastErrs *lasterror.Registry
	metrics  *metrics.PrometheusRegistry
	log      *zap.Logger

	cfgMu sync.RWMutex
	cfg   *config.Config

	limiters   sync.Map // clientIP -> *rate.Limiter
	limitRPS   float64
}

// New builds a Server. Call SetConfig before ListenAndServe.
func New(relay RelayEngine, reg *registry.Registry, lastErrs *lasterror.Registry, promReg *metrics.PrometheusRegistry, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:   gin.New(),
		relay:    relay,
		reg:      reg,
		lastErrs: lastErrs,
		metrics:  promReg,
		log:      log,
		limitRPS: 50,
	}
	s.engine.Use(s.zapLogger(), gin.Recovery(), s.inboundRateLimit())
	s.registerRoutes()
	return s
}

// SetConfig installs the live configuration snapshot, used for the bind
// address and request timeout.
func (s *Server) SetConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg = cfg
}

func (s *Server) config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

func (s *Server) registerRoutes() {
	s.engine.GET("/", s.handleLiveness)
	s.engine.POST("/", s.handleRelay)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/metrics", s.handleMetrics)
}

func (s *Server) zapLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// inboundRateLimit is an ambient, per-client-IP admission control kept
// strictly separate from the per-provider token bucket: this one exists to
// shield the relay process from abusive clients, not to throttle
// upstreams, so the stock golang.org/x/time/rate limiter is the right fit
// here even though the upstream admission path needs its own bespoke
// fractional-token bucket.
func (s *Server) inboundRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiterAny, _ := s.limiters.LoadOrStore(ip, rate.NewLimiter(rate.Limit(s.limitRPS), int(s.limitRPS*2)))
		limiter := limiterAny.(*rate.Limiter)
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRelay(c *gin.Context) {
	var req jsonrpc.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewError(req.ID, jsonrpc.CodeUpstreamFailure, "invalid JSON-RPC request"))
		return
	}

	cfg := s.config()
	ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout())
	defer cancel()

	resp, status := s.relay.Relay(ctx, &req)
	c.JSON(status, resp)
}

// ProviderStatus is one row of the GET /status response.
type ProviderStatus struct {
	URL          string `json:"url"`
	Healthy      bool   `json:"healthy"`
	LatestBlock  uint64 `json:"latest_block"`
	Behind       uint64 `json:"behind"`
	LatencyMs    uint64 `json:"latency_ms"`
	CallCount    uint64 `json:"call_count"`
	Errors       uint64 `json:"errors"`
	BannedUntil  uint64 `json:"banned_until"`
	LastError    string `json:"last_error"`
}

func (s *Server) handleStatus(c *gin.Context) {
	providers := s.reg.All()
	rows := make([]ProviderStatus, 0, len(providers))
	for _, p := range providers {
		rows = append(rows, ProviderStatus{
			URL:         p.URL,
			Healthy:     p.IsHealthy(),
			LatestBlock: p.LatestBlock(),
			Behind:      p.Behind(),
			LatencyMs:   p.LatencyMs(),
			CallCount:   p.CallCount(),
			Errors:      p.Errors(),
			BannedUntil: p.Breaker.BannedUntil(),
			LastError:   s.lastErrs.Get(p.URL).String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rpcs": rows})
}

func (s *Server) handleMetrics(c *gin.Context) {
	metrics.RefreshProviderGauges(s.reg)
	h := promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})
	h.ServeHTTP(c.Writer, c.Request)
}

// ListenAndServe starts the HTTP server, blocking until it exits.
func (s *Server) ListenAndServe() error {
	cfg := s.config()
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout(),
		WriteTimeout:      cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
