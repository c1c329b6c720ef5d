package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const queryStartKey = "telemetry:query_start"

// DBTracingConfig configures query tracing.
type DBTracingConfig struct {
	Enabled         bool
	DBSystem        string
	LogFullSQL      bool
	SlowQueryThresh time.Duration
}

// DBTracingPlugin registers otelgorm spans on a gorm.DB and tags queries that
// exceed the slow-query threshold.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin returns a plugin; a zero threshold defaults to 200ms.
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	return &DBTracingPlugin{config: cfg, logger: logger}
}

// Register installs otelgorm and the slow-query callbacks.
func (p *DBTracingPlugin) Register(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBSystem)}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return fmt.Errorf("failed to register otelgorm plugin: %w", err)
	}

	cb := db.Callback()
	if err := errors.Join(
		cb.Create().Before("gorm:create").Register("telemetry:before_create", p.markStart),
		cb.Query().Before("gorm:query").Register("telemetry:before_query", p.markStart),
		cb.Update().Before("gorm:update").Register("telemetry:before_update", p.markStart),
		cb.Row().Before("gorm:row").Register("telemetry:before_row", p.markStart),
		cb.Raw().Before("gorm:raw").Register("telemetry:before_raw", p.markStart),
		cb.Create().After("gorm:create").Register("telemetry:slow_create", p.checkSlow),
		cb.Query().After("gorm:query").Register("telemetry:slow_query", p.checkSlow),
		cb.Update().After("gorm:update").Register("telemetry:slow_update", p.checkSlow),
		cb.Row().After("gorm:row").Register("telemetry:slow_row", p.checkSlow),
		cb.Raw().After("gorm:raw").Register("telemetry:slow_raw", p.checkSlow),
	); err != nil {
		return fmt.Errorf("failed to register slow query callbacks: %w", err)
	}

	p.logger.Info("Database tracing enabled",
		zap.String("db_system", p.config.DBSystem),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
	)
	return nil
}

func (p *DBTracingPlugin) markStart(db *gorm.DB) {
	db.InstanceSet(queryStartKey, time.Now())
}

func (p *DBTracingPlugin) checkSlow(db *gorm.DB) {
	v, ok := db.InstanceGet(queryStartKey)
	if !ok {
		return
	}
	start, ok := v.(time.Time)
	if !ok {
		return
	}
	elapsed := time.Since(start)
	if elapsed < p.config.SlowQueryThresh {
		return
	}

	if span := trace.SpanFromContext(db.Statement.Context); span.IsRecording() {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.duration_ms", elapsed.Milliseconds()),
		)
	}
	p.logger.Warn("Slow database query",
		zap.String("table", db.Statement.Table),
		zap.Duration("duration", elapsed),
		zap.Duration("threshold", p.config.SlowQueryThresh),
	)
}
