package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Metric names
const (
	MetricTransferAttempts    = "split_transfer_attempts_total"
	MetricPaymentsProcessed   = "split_payments_processed_total"
	MetricGatewayCallDuration = "split_gateway_call_duration_seconds"
)

// TransferMetricsConfig configures NewTransferMetrics.
type TransferMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// TransferMetrics records split transfer activity.
type TransferMetrics struct {
	attempts  *Counter
	processed *Counter
	gateway   *Histogram
	logger    *zap.Logger
}

// NewTransferMetrics creates the transfer instruments on the given meter.
func NewTransferMetrics(cfg TransferMetricsConfig) (*TransferMetrics, error) {
	if cfg.Meter == nil {
		return nil, errors.New("NewTransferMetrics: meter cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	attempts, err := NewCounter(cfg.Meter, MetricTransferAttempts,
		"Transfer attempts by recipient and resulting status", "{attempt}")
	if err != nil {
		return nil, err
	}
	processed, err := NewCounter(cfg.Meter, MetricPaymentsProcessed,
		"Split runs by aggregate status", "{run}")
	if err != nil {
		return nil, err
	}
	gateway, err := NewHistogram(cfg.Meter, HistogramOpts{
		Name:        MetricGatewayCallDuration,
		Description: "Latency of payment gateway calls",
		Unit:        "s",
		Boundaries:  GatewayDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Transfer metrics registered")
	return &TransferMetrics{
		attempts:  attempts,
		processed: processed,
		gateway:   gateway,
		logger:    logger,
	}, nil
}

// RecordAttempt counts one gateway attempt for a recipient.
func (m *TransferMetrics) RecordAttempt(ctx context.Context, recipient, outcome string) {
	m.attempts.Inc(ctx, AttrRecipient.String(recipient), AttrOutcome.String(outcome))
}

// RecordPaymentProcessed counts one orchestration run.
func (m *TransferMetrics) RecordPaymentProcessed(ctx context.Context, status string) {
	m.processed.Inc(ctx, AttrStatus.String(status))
}

// RecordGatewayCall records the latency of a gateway operation.
func (m *TransferMetrics) RecordGatewayCall(ctx context.Context, operation string, d time.Duration) {
	m.gateway.RecordDuration(ctx, d, AttrOperation.String(operation))
}
