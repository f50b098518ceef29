package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	integrationapp "github.com/crmhub/backend/internal/application/integration"
	"github.com/crmhub/backend/internal/infrastructure/cache"
	"github.com/crmhub/backend/internal/infrastructure/config"
	"github.com/crmhub/backend/internal/infrastructure/connector"
	"github.com/crmhub/backend/internal/infrastructure/logger"
	"github.com/crmhub/backend/internal/infrastructure/persistence"
	"github.com/crmhub/backend/internal/infrastructure/persistence/tenant"
	"github.com/crmhub/backend/internal/infrastructure/retry"
	"github.com/crmhub/backend/internal/infrastructure/scheduler"
	"github.com/crmhub/backend/internal/infrastructure/telemetry"
	"github.com/crmhub/backend/internal/infrastructure/transform"
	"github.com/crmhub/backend/internal/infrastructure/webhook"
	"github.com/crmhub/backend/internal/interfaces/http/handler"
	"github.com/crmhub/backend/internal/interfaces/http/middleware"
	"github.com/crmhub/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Bootstrap logger; replaced by the OTEL-bridged logger below once
	// the telemetry providers are up
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	// Telemetry providers. All three degrade to no-ops when disabled.
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	logsProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}

	if cfg.Telemetry.Enabled {
		bridged, err := telemetry.CreateBridgedLoggerFromConfig(&telemetry.BaseLoggerConfig{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			Output:     cfg.Log.Output,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		}, logsProvider, cfg.Telemetry.ServiceName)
		if err != nil {
			log.Fatal("Failed to create bridged logger", zap.Error(err))
		}
		log = bridged
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting CRM Integration Hub",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Continuous profiling (Pyroscope); no-op when disabled
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Profiling.Enabled,
		ServerAddress:     cfg.Profiling.ServerAddress,
		ApplicationName:   cfg.App.Name,
		BasicAuthUser:     cfg.Profiling.BasicAuthUser,
		BasicAuthPassword: cfg.Profiling.BasicAuthPassword,
		ProfileCPU:        true,
		ProfileAllocSpace: true,
		ProfileInuseSpace: true,
		ProfileGoroutines: true,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() && tracerProvider.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	// Database, logging through the zap GORM adapter
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:          true,
			SlowQueryThresh:  cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:         "postgresql",
			WithoutVariables: true,
		}, log)
		if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
	}

	// Tenant isolation safety net. Repositories scope every query
	// explicitly; the callback catches queries that forgot to.
	tenant.EnableAutoTenantFilter(db.DB, false)

	// Repositories
	connectionRepo := persistence.NewGormConnectionRepository(db.DB)
	syncLogRepo := persistence.NewGormSyncLogRepository(db.DB)
	syncCursorRepo := persistence.NewGormSyncCursorRepository(db.DB)
	webhookConfigRepo := persistence.NewGormWebhookConfigRepository(db.DB)
	webhookDeliveryRepo := persistence.NewGormWebhookDeliveryRepository(db.DB)
	recordStore := persistence.NewGormCRMRecordStore(db.DB)

	// Connector infrastructure
	transformer := transform.NewTransformer()
	httpClient := &http.Client{Timeout: 30 * time.Second}
	helpers := connector.NewHelpers(connectionRepo, syncLogRepo, syncCursorRepo, recordStore, transformer, log)
	registry := connector.NewDefaultRegistry(connector.Dependencies{
		Helpers:    helpers,
		HTTPClient: httpClient,
		Retry: retry.Policy{
			MaxAttempts: cfg.Sync.RetryAttempts,
			BaseDelay:   cfg.Sync.RetryDelay,
		},
		Logger: log,
	})
	connectorManager := connector.NewManager(registry, connectionRepo, helpers, log)

	// Inbound event deduplication: Redis in production, in-memory
	// fallback elsewhere
	idempotencyFactory := cache.NewIdempotencyStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	)
	idempotencyStore, err := idempotencyFactory.CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	defer func() {
		if err := idempotencyStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	// Webhook delivery
	dispatcher := webhook.NewDispatcher(webhookDeliveryRepo, httpClient, cfg.Webhook.AttemptTimeout, log)
	webhookManager := webhook.NewManager(
		webhookConfigRepo,
		webhookDeliveryRepo,
		connectionRepo,
		connectorManager,
		dispatcher,
		idempotencyStore,
		cfg.Webhook,
		log,
	)

	// Background sync jobs
	syncScheduler, err := scheduler.NewSyncScheduler(
		scheduler.SchedulerConfigFrom(cfg.Sync),
		scheduler.NewConnectorExecutor(connectorManager),
		log,
	)
	if err != nil {
		log.Fatal("Failed to create sync scheduler", zap.Error(err))
	}
	if err := syncScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start sync scheduler", zap.Error(err))
	}
	defer func() {
		if err := syncScheduler.Stop(context.Background()); err != nil {
			log.Error("Error stopping sync scheduler", zap.Error(err))
		}
	}()
	log.Info("Sync scheduler started",
		zap.Int("max_concurrent", cfg.Sync.MaxConcurrent),
		zap.Duration("job_timeout", cfg.Sync.JobTimeout),
	)

	// Periodic sweeps: due-connection syncs and webhook retry passes
	sweepTrigger := scheduler.NewSweepTrigger(connectorManager, webhookManager, cfg.Sync, cfg.Webhook, log)
	if err := sweepTrigger.Start(ctx); err != nil {
		log.Fatal("Failed to start sweep trigger", zap.Error(err))
	}
	defer func() {
		if err := sweepTrigger.Stop(context.Background()); err != nil {
			log.Error("Error stopping sweep trigger", zap.Error(err))
		}
	}()

	// Domain metrics
	if meterProvider.IsEnabled() {
		integrationMetrics, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
			Meter:           meterProvider.Meter("crmhub/integration"),
			Logger:          log,
			CacheStats:      connectorManager,
			ConnectionStats: connectionRepo,
		})
		if err != nil {
			log.Warn("Failed to create integration metrics", zap.Error(err))
		} else {
			integrationMetrics.StartPeriodicCollection(ctx, time.Minute)
			defer integrationMetrics.Stop()
		}
	}

	// Application services
	connectionService := integrationapp.NewConnectionService(connectionRepo, syncLogRepo, connectorManager, log)
	syncService := integrationapp.NewSyncService(connectionRepo, connectorManager, syncScheduler, log)
	webhookService := integrationapp.NewWebhookService(webhookManager, log)

	// HTTP handlers
	integrationHandler := handler.NewIntegrationHandler(connectionService, syncService, log)
	syncHandler := handler.NewSyncHandler(syncService, log)
	webhookHandler := handler.NewWebhookHandler(webhookService, log)
	inboundHandler := handler.NewInboundWebhookHandler(webhookService, log)
	systemHandler := handler.NewSystemHandler(buildVersion())

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack, outermost first
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		Enabled:       meterProvider.IsEnabled(),
	}))
	engine.Use(middleware.ProfilingWithConfig(middleware.ProfilingConfig{
		Enabled:   profiler.IsEnabled(),
		SkipPaths: []string{"/health"},
	}))

	// Tenant resolution. Inbound webhooks authenticate via signature
	// instead; system and health endpoints are tenant-free.
	engine.Use(middleware.TenantMiddlewareWithConfig(middleware.TenantConfig{
		SkipPaths: []string{
			"/health",
			"/api/v1/ping",
			"/api/v1/system/",
			"/api/v1/webhooks/inbound/",
		},
	}))

	engine.GET("/health", healthHandler(db, log))

	router.NewRouter(engine).
		Register(integrationHandler).
		Register(syncHandler).
		Register(webhookHandler).
		Register(inboundHandler).
		Register(systemHandler).
		Setup()

	// Simple ping at root API level for basic liveness checks
	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Flush telemetry before the process exits
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := logsProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// buildVersion reads the module version stamped by the Go toolchain,
// falling back to "dev" for local builds
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}

// healthHandler reports process and database health
func healthHandler(db *persistence.Database, _ *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
