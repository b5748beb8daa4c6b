package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/humboldt-lab/humboldt/internal/activities"
	authpkg "github.com/humboldt-lab/humboldt/internal/auth"
	"github.com/humboldt-lab/humboldt/internal/circuitbreaker"
	"github.com/humboldt-lab/humboldt/internal/config"
	"github.com/humboldt-lab/humboldt/internal/db"
	"github.com/humboldt-lab/humboldt/internal/health"
	"github.com/humboldt-lab/humboldt/internal/httpapi"
	"github.com/humboldt-lab/humboldt/internal/llm"
	_ "github.com/humboldt-lab/humboldt/internal/metrics" // Import for side effects
	"github.com/humboldt-lab/humboldt/internal/providers"
	"github.com/humboldt-lab/humboldt/internal/streaming"
	"github.com/humboldt-lab/humboldt/internal/temporal"
	"github.com/humboldt-lab/humboldt/internal/tracing"
	"github.com/humboldt-lab/humboldt/internal/workflows"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Root context for background services
	ctx := context.Background()

	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Start circuit breaker metrics collection
	circuitbreaker.StartMetricsCollection()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// ------------------------------------------------------------------
	// Bring up the health manager and admin HTTP endpoints early so probes
	// respond even if later components (Temporal worker, etc.) are still
	// starting.
	// ------------------------------------------------------------------
	hm := health.NewManager(logger)
	adminPort := cfg.AdminPort
	// Shared HTTP mux for admin endpoints. Probes stay unauthenticated on
	// httpMux; everything else registers on apiMux, which is attached behind
	// the auth middleware once that is initialized below.
	httpMux := http.NewServeMux()
	apiMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(httpMux)

	// Configure streaming ring capacity before the first publish; the value
	// in humboldt.yaml can resize it again once config loads.
	if capStr := os.Getenv("STREAMING_RING_CAPACITY"); capStr != "" {
		if n, err := strconv.Atoi(capStr); err == nil && n > 0 {
			streaming.Configure(n)
		}
	}
	httpapi.NewStreamingHandler(streaming.Get(), logger).RegisterRoutes(apiMux)

	// SSE and WebSocket connections stay open for the life of a research
	// run, so the admin server carries no write deadline.
	adminServer := &http.Server{
		Addr:              ":" + strconv.Itoa(adminPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start background checks and the shared HTTP server
	go func() {
		_ = hm.Start(ctx)
		logger.Info("Admin HTTP server listening", zap.Int("port", adminPort))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	// Report persistence is opt-in: no DATABASE_URL, no store. The nil
	// *db.Store flows through the activities and the report endpoint as a
	// no-op.
	var store *db.Store
	if cfg.DatabaseURL != "" {
		store, err = db.NewStore(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("Failed to initialize report store", zap.Error(err))
		}
		defer store.Close()
		_ = hm.RegisterChecker(health.NewPostgresHealthChecker(store.DB(), logger))
	} else {
		logger.Info("Report persistence disabled; DATABASE_URL not set")
	}

	// Redis mirrors the event stream for replay across worker restarts.
	// Best-effort: an unreachable Redis downgrades to in-memory rings only.
	var redisClient *redis.Client
	var mirror *streaming.RedisMirror
	{
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		pingErr := rdb.Ping(pingCtx).Err()
		cancel()
		if pingErr != nil {
			logger.Warn("Redis unavailable; event mirror disabled",
				zap.String("addr", cfg.Redis.Addr()), zap.Error(pingErr))
			_ = rdb.Close()
		} else {
			redisClient = rdb
			mirror = streaming.NewRedisMirror(rdb, logger)
			streaming.Get().SetMirror(mirror)
			_ = hm.RegisterChecker(health.NewRedisHealthChecker(rdb, logger))
			logger.Info("Event mirror enabled", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	// LLM service checker
	_ = hm.RegisterChecker(health.NewLLMServiceHealthChecker(cfg.LLM.BaseURL, logger))

	// Start configuration manager (hot-reload) - ASYNC to prevent deadlock
	var humboldtCfgMgr *config.HumboldtConfigManager
	cfgReady := make(chan struct{})
	go func() {
		configMgr, err := config.NewConfigManager(cfg.ConfigDir, logger)
		if err != nil {
			logger.Warn("Config manager init failed", zap.Error(err))
			return
		}

		// Use context with timeout to prevent deadlock
		configCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		if err := configMgr.Start(configCtx); err != nil {
			logger.Warn("Config manager start failed", zap.Error(err))
			return
		}

		mgr := config.NewHumboldtConfigManager(configMgr, logger)
		if err := mgr.Initialize(); err != nil {
			logger.Warn("Humboldt config init failed", zap.Error(err))
			return
		}
		humboldtCfgMgr = mgr
		logger.Info("Humboldt configuration loaded successfully")
		// Signal that config is available for dependent components
		close(cfgReady)

		if hcfg := mgr.GetConfig(); hcfg != nil {
			if hcfg.Streaming.RingCapacity > 0 {
				streaming.Configure(hcfg.Streaming.RingCapacity)
			}
			if hc := healthConfigFrom(hcfg); hc != nil {
				if err := hm.UpdateConfiguration(hc); err != nil {
					logger.Error("Failed to update health configuration", zap.Error(err))
				}
			}
		}
	}()

	// Initialize authentication middleware (prefer waiting briefly for config)
	authCfg := config.DefaultHumboldtConfig().Auth
	var cfgMgrReady *config.HumboldtConfigManager
	select {
	case <-cfgReady:
		cfgMgrReady = humboldtCfgMgr
		if hcfg := cfgMgrReady.GetConfig(); hcfg != nil {
			authCfg = hcfg.Auth
			logger.Info("Auth init using loaded config")
		}
	case <-time.After(5 * time.Second):
		logger.Warn("Auth init timeout waiting for config; using defaults")
	}

	jwtManager := authpkg.NewJWTManager(authCfg.JWTSecret, authCfg.TokenExpiry)
	authService := authpkg.NewService(authCfg.APIKeys, logger)
	authMiddleware := authpkg.NewMiddleware(authService, jwtManager, authCfg.SkipAuth || !authCfg.Enabled)
	logger.Info("Auth middleware initialized",
		zap.Bool("skip_auth", authCfg.SkipAuth),
		zap.Bool("enabled", authCfg.Enabled))

	// Everything that is not a probe goes through authentication.
	httpMux.Handle("/", authMiddleware.HTTPMiddleware(apiMux))

	// Register configuration change callbacks
	if cfgMgrReady != nil {
		cfgMgrReady.RegisterCallback(func(oldConfig, newConfig *config.HumboldtConfig) error {
			authMiddleware.SetSkipAuth(newConfig.Auth.SkipAuth || !newConfig.Auth.Enabled)
			authService.UpdateKeys(newConfig.Auth.APIKeys)

			if hc := healthConfigFrom(newConfig); hc != nil {
				if err := hm.UpdateConfiguration(hc); err != nil {
					logger.Error("Failed to update health configuration", zap.Error(err))
				}
			}

			if newConfig.Streaming.RingCapacity > 0 &&
				newConfig.Streaming.RingCapacity != oldConfig.Streaming.RingCapacity {
				streaming.Configure(newConfig.Streaming.RingCapacity)
			}
			return nil
		})
	}

	// Start Prometheus metrics endpoint on configured port
	if cfg.Metrics.Enabled {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("Metrics server listening", zap.String("address", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	// Retrieval providers from providers.yaml; a missing file falls back to
	// the built-in catalog.
	catalog, err := config.LoadProviderCatalog()
	if err != nil {
		logger.Fatal("Failed to load provider catalog", zap.Error(err))
	}
	registry := buildProviderRegistry(catalog, logger)

	// Model service client shared by every activity.
	llmClient := llm.NewClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}, logger)

	// Initialize Temporal client and worker in background
	var temporalClient client.Client
	var w worker.Worker
	go func() {
		host := cfg.Temporal.Host
		// TCP pre-check
		for i := 1; i <= 60; i++ {
			c, err := net.DialTimeout("tcp", host, 2*time.Second)
			if err == nil {
				_ = c.Close()
				break
			}
			logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", host), zap.Int("attempt", i))
			time.Sleep(1 * time.Second)
		}
		// Dial SDK with retry
		var tClient client.Client
		var err error
		for attempt := 1; ; attempt++ {
			tClient, err = client.Dial(client.Options{
				HostPort:  host,
				Namespace: cfg.Temporal.Namespace,
				Logger:    temporal.NewZapAdapter(logger),
			})
			if err == nil {
				break
			}
			delay := time.Duration(attempt)
			if delay > 15 {
				delay = 15
			}
			logger.Warn("Temporal not ready, retrying",
				zap.Int("attempt", attempt),
				zap.String("host", host),
				zap.Duration("sleep", delay*time.Second),
				zap.Error(err))
			time.Sleep(delay * time.Second)
		}
		temporalClient = tClient
		_ = hm.RegisterChecker(health.NewTemporalHealthChecker(tClient, cfg.Temporal.Namespace, logger))

		// Register the research REST surface now that workflows can be
		// started and signalled.
		httpapi.NewResearchHandler(tClient, store, logger).RegisterRoutes(apiMux)
		httpapi.NewTimelineHandler(tClient, logger).RegisterRoutes(apiMux)
		logger.Info("Research API registered on admin HTTP server",
			zap.Int("port", adminPort), zap.String("path", "/api/v1/research"))

		// Live behavioral config if it loaded in time; defaults otherwise.
		var cfgMgr *config.HumboldtConfigManager
		select {
		case <-cfgReady:
			cfgMgr = humboldtCfgMgr
		default:
			logger.Warn("Behavioral config not ready; activities start with built-in defaults")
		}

		acts := activities.NewActivities(llmClient, registry, store, cfgMgr, logger)

		wk := worker.New(tClient, cfg.Temporal.TaskQueue, worker.Options{
			MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACT", 10),
			MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WF", 10),
		})
		wk.RegisterWorkflow(workflows.ResearchWorkflow)
		wk.RegisterWorkflow(workflows.DeepResearchWorkflow)
		wk.RegisterActivity(acts)
		wk.RegisterActivity(activities.EmitResearchEvent)
		w = wk

		logger.Info("Temporal worker started", zap.String("queue", cfg.Temporal.TaskQueue))
		if err := wk.Run(worker.InterruptCh()); err != nil {
			logger.Error("Temporal worker exited with error",
				zap.String("queue", cfg.Temporal.TaskQueue), zap.Error(err))
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down research orchestrator")

	if w != nil {
		w.Stop()
	}
	if temporalClient != nil {
		temporalClient.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin HTTP server shutdown failed", zap.Error(err))
	}
	cancel()

	if mirror != nil {
		mirror.Flush(2 * time.Second)
		mirror.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = hm.Stop()
}

// newLogger builds the process logger. Development builds get console
// encoding; LOG_LEVEL overrides the default level either way.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Environment == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}

// healthConfigFrom converts humboldt.yaml health settings into the health
// manager's runtime configuration.
func healthConfigFrom(hcfg *config.HumboldtConfig) *health.HealthConfiguration {
	if hcfg == nil {
		return nil
	}
	out := &health.HealthConfiguration{
		Enabled:       hcfg.Health.Enabled,
		CheckInterval: hcfg.Health.CheckInterval,
		GlobalTimeout: hcfg.Health.Timeout,
		Checks:        make(map[string]health.CheckConfig, len(hcfg.Health.Checks)),
	}
	for name, check := range hcfg.Health.Checks {
		out.Checks[name] = health.CheckConfig{
			Enabled:  check.Enabled,
			Critical: check.Critical,
			Timeout:  check.Timeout,
			Interval: check.Interval,
		}
	}
	return out
}

// buildProviderRegistry registers one adapter per enabled catalog entry.
// Unknown names are skipped so an experimental entry in providers.yaml
// cannot keep the worker from starting.
func buildProviderRegistry(catalog *config.ProviderCatalog, logger *zap.Logger) *providers.Registry {
	registry := providers.NewRegistry(logger)
	for name, pc := range catalog.Providers {
		if !pc.IsEnabled() {
			logger.Info("Provider disabled by catalog", zap.String("provider", name))
			continue
		}
		opts := providers.RegisterOptions{RatePerSecond: pc.RatePerSecond, Burst: pc.Burst}
		switch name {
		case "web":
			registry.Register(providers.NewWebSearchAdapter(pc.APIKey()), opts)
		case "literature":
			registry.Register(providers.NewLiteratureAdapter(pc.Mailto), opts)
		case "preprint":
			registry.Register(providers.NewPreprintAdapter(pc.Mailto), opts)
		case "trials":
			registry.Register(providers.NewTrialsAdapter(), opts)
		default:
			logger.Warn("Unknown provider in catalog", zap.String("provider", name))
		}
	}
	return registry
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
