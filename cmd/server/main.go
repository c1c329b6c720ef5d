package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	apptransfer "github.com/marshalcore/backend/internal/application/transfer"
	"github.com/marshalcore/backend/internal/infrastructure/cache"
	"github.com/marshalcore/backend/internal/infrastructure/config"
	"github.com/marshalcore/backend/internal/infrastructure/gateway"
	"github.com/marshalcore/backend/internal/infrastructure/logger"
	"github.com/marshalcore/backend/internal/infrastructure/persistence"
	"github.com/marshalcore/backend/internal/infrastructure/telemetry"
	"github.com/marshalcore/backend/internal/interfaces/http/handler"
	"github.com/marshalcore/backend/internal/interfaces/http/middleware"
	"github.com/marshalcore/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx := context.Background()

	// Telemetry comes first so the bridged logger is used everywhere below
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = lp.Bridge(log, logger.ParseLevel(cfg.Log.Level))

	log.Info("Starting split service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("gateway_mode", cfg.Gateway.Mode),
	)

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Database.LogLevel), cfg.Telemetry.DBSlowQueryThresh)
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Database.Driver == config.DriverSQLite {
		// postgres schemas are owned by cmd/migrate
		if err := persistence.AutoMigrate(db.DB); err != nil {
			log.Fatal("Failed to migrate sqlite schema", zap.Error(err))
		}
	}
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBSystem:        cfg.Database.Driver,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err := dbTracing.Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	factory := cache.NewFactory(cfg.Redis, cache.WithLogger(log.Named("cache")))
	defer func() {
		if err := factory.Close(); err != nil {
			log.Error("Error closing redis client", zap.Error(err))
		}
	}()
	locker, err := factory.Locker(cfg.Lock)
	if err != nil {
		log.Fatal("Failed to create payment locker", zap.Error(err))
	}
	handles := factory.HandleCache(cfg.Gateway.HandleCache, cfg.Gateway.HandleCacheTTL)

	directory, err := cfg.RecipientDirectory()
	if err != nil {
		log.Fatal("Invalid recipient configuration", zap.Error(err))
	}
	gw, err := gateway.New(cfg.Gateway, directory, handles, log)
	if err != nil {
		log.Fatal("Failed to create payment gateway", zap.Error(err))
	}

	ledger := persistence.NewGormTransferLedger(db.DB)
	payments := persistence.NewGormPaymentRepository(db.DB)

	meter := mp.Meter("split-service")
	metrics, err := telemetry.NewTransferMetrics(telemetry.TransferMetricsConfig{
		Meter:  meter,
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to create transfer metrics", zap.Error(err))
	}

	svcCfg := apptransfer.Config{
		Directory: directory,
		Payments:  payments,
		Ledger:    ledger,
		Gateway:   gw,
		Locker:    locker,
		Policy:    cfg.Retry.Policy(),
		Metrics:   metrics,
		Logger:    log.Named("split"),
	}
	orchestrator := apptransfer.NewSplitOrchestrator(svcCfg)
	retrier := apptransfer.NewRetryCoordinator(svcCfg)
	history := apptransfer.NewHistoryService(payments, ledger)

	dispatchCfg := apptransfer.DispatcherConfig{
		Timeout:        cfg.Dispatch.Timeout,
		SweepAge:       cfg.Retry.SweepAge,
		SweepBatchSize: cfg.Retry.SweepBatchSize,
		MaxRetries:     cfg.Retry.MaxRetries,
	}
	if cfg.Retry.SweepEnabled {
		dispatchCfg.SweepInterval = cfg.Retry.SweepInterval
	}
	dispatcher := apptransfer.NewDispatcher(orchestrator, retrier, ledger, dispatchCfg, log.Named("dispatcher"))
	dispatcher.Start(ctx)

	engine := router.NewEngine(router.EngineConfig{
		Logger:      log,
		MaxBodySize: cfg.HTTP.MaxBodySize,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
		Meter:      meter,
		Production: cfg.IsProduction(),
	}, router.Handlers{
		Split:  handler.NewSplitHandler(orchestrator, retrier, history, dispatcher, log, handler.WithRunTimeout(cfg.Dispatch.Timeout)),
		Health: handler.NewHealthHandler(db, log),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	// In-flight background runs finish before the ledger goes away
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Error("Background split runs did not drain", zap.Error(err))
	}
	shutdownTelemetry(shutdownCtx, log, tp, mp, lp)

	log.Info("Server exited gracefully")
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func shutdownTelemetry(ctx context.Context, log *zap.Logger, providers ...shutdowner) {
	for _, p := range providers {
		if err := p.Shutdown(ctx); err != nil {
			log.Warn("Telemetry provider shutdown failed", zap.Error(err))
		}
	}
}

var (
	_ handler.BackgroundDispatcher = (*apptransfer.Dispatcher)(nil)
	_ handler.HistoryReader        = (*apptransfer.HistoryService)(nil)
)
