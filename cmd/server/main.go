package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	allocationapp "github.com/erp/paymentalloc/internal/application/allocation"
	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/infrastructure/auth"
	"github.com/erp/paymentalloc/internal/infrastructure/cache"
	"github.com/erp/paymentalloc/internal/infrastructure/config"
	"github.com/erp/paymentalloc/internal/infrastructure/logger"
	"github.com/erp/paymentalloc/internal/infrastructure/persistence"
	"github.com/erp/paymentalloc/internal/infrastructure/telemetry"
	"github.com/erp/paymentalloc/internal/interfaces/http/handler"
	"github.com/erp/paymentalloc/internal/interfaces/http/middleware"
	"github.com/erp/paymentalloc/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logsProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	})
	if err != nil {
		panic("Failed to initialize log exporter: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}, telemetry.NewZapOTELCore(logsProvider, logger.ParseLevel(cfg.Log.Level)))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync(log)
	zap.ReplaceGlobals(log)

	log.Info("Starting payment allocation service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

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
	if cfg.Telemetry.SpanProfilesEnabled {
		tracerProvider.EnableSpanProfiles()
	}
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.ProfilingEnabled,
		ServerAddress:     cfg.Telemetry.ProfilingServerAddress,
		ApplicationName:   cfg.Telemetry.ServiceName,
		BasicAuthUser:     cfg.Telemetry.ProfilingBasicAuthUser,
		BasicAuthPassword: cfg.Telemetry.ProfilingBasicAuthPass,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Warn("Profiler shutdown failed", zap.Error(err))
		}
	}()
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBName:          cfg.Database.DBName,
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully")

	backends, err := cache.NewBackends(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to initialize coordination backends", zap.Error(err))
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.Error("Error closing coordination backends", zap.Error(err))
		}
	}()

	metrics, err := telemetry.NewAllocationMetrics(meterProvider.Meter("paymentalloc/allocation"))
	if err != nil {
		log.Warn("Allocation metrics disabled", zap.Error(err))
	}

	tx := persistence.NewTxRunner(db.DB, cfg.Allocation.LockTimeout)
	service := allocationapp.NewService(allocationapp.Deps{
		Payments:    persistence.NewGormPaymentRepository(db.DB, tx),
		Obligations: persistence.NewGormObligationSource(db.DB),
		Allocator:   persistence.NewGormAllocator(tx),
		Compensator: persistence.NewGormCompensator(tx),
		Ledger:      persistence.NewGormLedger(db.DB, tx),
		Holds:       persistence.NewGormHoldRepository(db.DB, tx),
		Idempotency: backends.Idempotency,
		JobLock:     backends.JobLock,
		Metrics:     metrics,
	}, allocationapp.Config{
		DefaultStrategy:   allocation.Strategy(cfg.Allocation.DefaultStrategy),
		RequestTimeout:    cfg.Allocation.RequestTimeout,
		IdempotencyTTL:    cfg.Allocation.IdempotencyTTL,
		ReconcileLockTTL:  cfg.Allocation.ReconcileLockTTL,
		HoldOnDiscrepancy: cfg.Allocation.HoldOnDiscrepancy,
	})

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}
	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		}),
		middleware.SpanEnricher(),
		logger.GinMiddleware(log),
		middleware.HTTPMetrics(meterProvider.Meter("paymentalloc/http")),
		middleware.ProfilingLabels(profiler.IsEnabled()),
		middleware.Secure(),
		middleware.CORSWithConfig(middleware.DefaultCORSConfig()),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	var (
		routerOpts []router.RouterOption
		guard      router.PermissionGuard
	)
	if cfg.Auth.Enabled {
		tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		routerOpts = append(routerOpts, router.WithMiddleware(middleware.JWTAuth(tokens)))
		guard = middleware.RequirePermission
	} else {
		log.Warn("Operator authentication is disabled; API routes are open")
	}

	router.NewRouter(engine, routerOpts...).
		Register(router.AllocationRoutes(handler.NewAllocationHandler(service), guard)...).
		Setup()
	router.RegisterHealth(engine, handler.NewHealthHandler(version, map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error { return db.Ping() },
		"redis":    backends.Ping,
	}))

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
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	for name, shutdown := range map[string]func(context.Context) error{
		"tracer": tracerProvider.Shutdown,
		"meter":  meterProvider.Shutdown,
		"logs":   logsProvider.Shutdown,
	} {
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown failed", zap.String("provider", name), zap.Error(err))
		}
	}

	log.Info("Server exited gracefully")
}
