package telemetry

import (
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool // include query variables in spans (dev only)
	SlowQueryThresh time.Duration
	DBName          string
}

const slowQueryCallback = "paymentalloc:slow_query"

// RegisterDBTracing installs otelgorm on db plus a callback that tags
// queries slower than the threshold. Row-lock waits show up here first.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	start := func(tx *gorm.DB) {
		tx.InstanceSet(slowQueryCallback, time.Now())
	}
	finish := func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(slowQueryCallback)
		if !ok {
			return
		}
		begin, ok := v.(time.Time)
		if !ok || cfg.SlowQueryThresh == 0 {
			return
		}
		if elapsed := time.Since(begin); elapsed > cfg.SlowQueryThresh {
			span := trace.SpanFromContext(tx.Statement.Context)
			SetAttributes(span, "db.slow_query", true, "db.elapsed_ms", elapsed.Milliseconds())
		}
	}

	cb := db.Callback()
	for _, reg := range []struct {
		before func(string) error
		after  func(string) error
	}{
		{
			before: func(n string) error { return cb.Query().Before("gorm:query").Register(n+":before", start) },
			after:  func(n string) error { return cb.Query().After("gorm:query").Register(n+":after", finish) },
		},
		{
			before: func(n string) error { return cb.Update().Before("gorm:update").Register(n+":before", start) },
			after:  func(n string) error { return cb.Update().After("gorm:update").Register(n+":after", finish) },
		},
		{
			before: func(n string) error { return cb.Raw().Before("gorm:raw").Register(n+":before", start) },
			after:  func(n string) error { return cb.Raw().After("gorm:raw").Register(n+":after", finish) },
		},
	} {
		if err := reg.before(slowQueryCallback); err != nil {
			return err
		}
		if err := reg.after(slowQueryCallback); err != nil {
			return err
		}
	}

	logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh),
	)
	return nil
}
