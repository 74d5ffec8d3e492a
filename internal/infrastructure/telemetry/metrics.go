package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter is nil")

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ExportInterval    time.Duration
	ServiceName       string
	Insecure          bool
}

// MeterProvider wraps the OpenTelemetry MeterProvider with lifecycle management.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
}

// NewMeterProvider creates a MeterProvider exporting over OTLP gRPC.
// When disabled, Meter falls back to the global no-op meter.
func NewMeterProvider(ctx context.Context, cfg MetricsConfig, logger *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{logger: logger}
	if !cfg.Enabled {
		logger.Info("Metrics disabled, using no-op meter provider")
		return mp, nil
	}

	interval := cfg.ExportInterval
	if interval == 0 {
		interval = 60 * time.Second
	}

	exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	mp.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp.provider)

	logger.Info("OpenTelemetry MeterProvider initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Duration("export_interval", interval),
	)
	return mp, nil
}

// Shutdown flushes pending metrics and stops the provider
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := mp.provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}

// Meter returns a named meter from the provider.
func (mp *MeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if mp.provider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return mp.provider.Meter(name, opts...)
}

// Metric attribute keys
var (
	AttrOperation = attribute.Key("operation")
	AttrErrorKind = attribute.Key("error_kind")
	AttrStrategy  = attribute.Key("strategy")
)

// AllocationMetrics records allocation engine activity. Amounts are
// counted in paise so the counters stay integral.
type AllocationMetrics struct {
	commits        metric.Int64Counter
	rollbacks      metric.Int64Counter
	failures       metric.Int64Counter
	allocatedPaise metric.Int64Counter
	reversedPaise  metric.Int64Counter
	proposals      metric.Int64Counter
	discrepancies  metric.Int64Counter
	txDuration     metric.Float64Histogram
}

// NewAllocationMetrics registers the allocation instruments on meter
func NewAllocationMetrics(meter metric.Meter) (*AllocationMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &AllocationMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.commits, "payalloc_commit_total", "Committed allocation batches", "{batches}"},
		{&m.rollbacks, "payalloc_rollback_total", "Completed rollbacks", "{rollbacks}"},
		{&m.failures, "payalloc_failure_total", "Rejected allocate or rollback calls by error kind", "{failures}"},
		{&m.allocatedPaise, "payalloc_allocated_amount_total", "Amount allocated in paise", "{paise}"},
		{&m.reversedPaise, "payalloc_reversed_amount_total", "Amount reversed in paise", "{paise}"},
		{&m.proposals, "payalloc_proposal_total", "Generated proposals by strategy", "{proposals}"},
		{&m.discrepancies, "payalloc_reconcile_discrepancy_total", "Reconciliation discrepancies found", "{discrepancies}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}

	m.txDuration, err = meter.Float64Histogram("payalloc_tx_duration_seconds",
		metric.WithDescription("Duration of allocate and rollback transactions including lock waits"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create histogram payalloc_tx_duration_seconds: %w", err)
	}
	return m, nil
}

// RecordCommit counts a committed batch of amount
func (m *AllocationMetrics) RecordCommit(ctx context.Context, amount decimal.Decimal, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commits.Add(ctx, 1)
	m.allocatedPaise.Add(ctx, toPaise(amount))
	m.txDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(AttrOperation.String("allocate")))
}

// RecordRollback counts a rollback that reversed amount
func (m *AllocationMetrics) RecordRollback(ctx context.Context, amount decimal.Decimal, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rollbacks.Add(ctx, 1)
	m.reversedPaise.Add(ctx, toPaise(amount))
	m.txDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(AttrOperation.String("rollback")))
}

// RecordFailure counts a rejected operation
func (m *AllocationMetrics) RecordFailure(ctx context.Context, operation, kind string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(operation), AttrErrorKind.String(kind)))
}

// RecordProposal counts a generated proposal
func (m *AllocationMetrics) RecordProposal(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	m.proposals.Add(ctx, 1, metric.WithAttributes(AttrStrategy.String(strategy)))
}

// RecordDiscrepancies counts reconciliation findings
func (m *AllocationMetrics) RecordDiscrepancies(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.discrepancies.Add(ctx, int64(n))
}

func toPaise(amount decimal.Decimal) int64 {
	return amount.Shift(2).IntPart()
}
