// Command relay runs the JSON-RPC reverse proxy.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/PayRpc/rpc-relay/internal/config"
	"github.com/PayRpc/rpc-relay/internal/health"
	"github.com/PayRpc/rpc-relay/internal/httpapi"
	"github.com/PayRpc/rpc-relay/internal/lasterror"
	"github.com/PayRpc/rpc-relay/internal/logging"
	"github.com/PayRpc/rpc-relay/internal/metrics"
	"github.com/PayRpc/rpc-relay/internal/registry"
	"github.com/PayRpc/rpc-relay/internal/relay"
	"github.com/PayRpc/rpc-relay/internal/ttlcache"
	"github.com/PayRpc/rpc-relay/internal/upstream"
)

func main() {
	configPath := os.Getenv("RLY_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	reg := registry.New(cfg.RPCEndpoints.ToRegistryEndpoints())
	lastErrors := lasterror.NewRegistry()
	cache := ttlcache.New()
	dispatcher := upstream.NewRouter()

	engine := relay.New(reg, cache, lastErrors, dispatcher, logger)
	engine.SetConfig(cfg)

	prober := health.New(reg, dispatcher, func() (time.Duration, uint64) {
		live := engine.Config()
		return time.Duration(live.HealthMonitor.MonitorIntervalS) * time.Second, live.HealthMonitor.MaxBlocksBehind
	}, logger)

	promReg := metrics.NewRegistry()
	server := httpapi.New(engine, reg, lastErrors, promReg, logger)
	server.SetConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go prober.Run(ctx)

	watcher := config.NewWatcher(configPath, logger, func(newCfg *config.Config) {
		reg.Reconcile(newCfg.RPCEndpoints.ToRegistryEndpoints(), lastErrors.Delete)
		engine.SetConfig(newCfg)
		server.SetConfig(newCfg)
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("config watcher failed to start; hot reload disabled", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", zap.String("addr", cfg.Addr()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("http listener failed", zap.Error(err))
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}
