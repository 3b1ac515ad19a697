package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/memophor/scedge/cache"
	"github.com/memophor/scedge/config"
	"github.com/memophor/scedge/events"
	"github.com/memophor/scedge/hydration"
	"github.com/memophor/scedge/logger"
	"github.com/memophor/scedge/metrics"
	"github.com/memophor/scedge/policy"
	"github.com/memophor/scedge/server"
	"github.com/memophor/scedge/types"
)

const configPathEnv = "SCEDGE_CONFIG"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scedge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv(configPathEnv)
	if configPath == "" {
		configPath = "config.yml"
	}

	loader := config.NewLoader()
	serviceConfig, err := loader.LoadFromFile(configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewDefaultLogger(serviceConfig.Logger)
	if err != nil {
		return err
	}

	log.Info("Starting scedge",
		zap.String("version", serviceConfig.Version),
		zap.String("config", configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var recorder types.MetricsRecorder
	var collector *metrics.Collector
	if serviceConfig.Metrics == nil || serviceConfig.Metrics.Enabled {
		collector = metrics.NewCollector()
		recorder = collector
	} else {
		recorder = metrics.NewNoop()
	}

	backend, err := buildBackend(ctx, log, serviceConfig.Cache)
	if err != nil {
		return err
	}

	cacheManager := cache.NewManager(backend, recorder, log, serviceConfig.Cache.DefaultTTL())
	defer func() {
		if err := cacheManager.Close(); err != nil {
			log.Error("Failed to close cache", zap.Error(err))
		}
	}()

	janitorInterval, err := time.ParseDuration(serviceConfig.Cache.JanitorInterval)
	if err != nil {
		return types.WrapError(err, "invalid janitor interval")
	}

	janitor := cache.NewJanitor(cacheManager, log, janitorInterval)
	if err := janitor.Start(); err != nil {
		return err
	}
	defer func() {
		if err := janitor.Stop(); err != nil && !types.IsError(err, types.ErrJanitorNotRunning) {
			log.Error("Failed to stop janitor", zap.Error(err))
		}
	}()

	var tenantsPath string
	if serviceConfig.Policy != nil {
		tenantsPath = serviceConfig.Policy.TenantsPath
	}
	tenants, err := loader.LoadTenants(tenantsPath)
	if err != nil {
		return err
	}
	policyEngine := policy.NewEngine(tenants)
	if policyEngine.OpenMode() {
		log.Warn("No tenant records loaded, running in open mode")
	} else {
		log.Info("Tenant records loaded", zap.Int("count", len(tenants)))
	}

	var hydrator *hydration.Coordinator
	if serviceConfig.Upstream != nil && serviceConfig.Upstream.BaseURL != "" {
		upstream := hydration.NewUpstreamClient(serviceConfig.Upstream, recorder, log)
		hydrator = hydration.NewCoordinator(upstream, cacheManager, log)
		log.Info("Upstream hydration enabled",
			zap.String("base_url", serviceConfig.Upstream.BaseURL))
	}

	if serviceConfig.Bus != nil && serviceConfig.Bus.Enabled {
		source, err := events.NewSource(ctx, log, serviceConfig.Bus)
		if err != nil {
			return err
		}
		listener := events.NewListener(source, cacheManager, log)
		if err := listener.Start(); err != nil {
			return err
		}
		defer func() {
			if err := listener.Stop(); err != nil {
				log.Error("Failed to stop invalidation listener", zap.Error(err))
			}
		}()
	}

	handlers := server.NewHandlers(cacheManager, policyEngine, hydrator, recorder, log, server.HandlersConfig{
		ServiceName: serviceConfig.Name,
		Version:     serviceConfig.Version,
	})

	metricsPath := "/metrics"
	if serviceConfig.Metrics != nil && serviceConfig.Metrics.Path != "" {
		metricsPath = serviceConfig.Metrics.Path
	}
	if collector != nil {
		handlers.WithMetricsHandler(fasthttpadaptor.NewFastHTTPHandler(collector.Handler()))
	}

	httpServer := server.NewHTTPServer(ctx, log, serviceConfig.Server, handlers, metricsPath)
	if err := httpServer.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info("Shutdown signal received", zap.String("signal", sig.String()))

	if err := httpServer.Stop(); err != nil {
		log.Error("Failed to stop HTTP server", zap.Error(err))
	}

	log.Info("Scedge shut down cleanly")
	return nil
}

func buildBackend(ctx context.Context, log types.Logger, cacheConfig *types.CacheConfig) (types.ArtifactBackend, error) {
	switch cacheConfig.Backend {
	case "memory":
		return cache.NewMemoryStore(log), nil
	case "redis":
		return cache.NewRedisStore(ctx, log, cacheConfig.Redis)
	default:
		return nil, types.Errorf(types.ErrCacheBackendUnknown, "%q", cacheConfig.Backend)
	}
}
