package transfer

import (
	"context"
	"time"
)

// Gateway operation names used for latency metrics
const (
	opEnsureRecipient = "ensure_recipient"
	opInitiate        = "initiate"
	opQuery           = "query"
)

// Metrics receives split transfer measurements.
// telemetry.TransferMetrics implements it.
type Metrics interface {
	RecordAttempt(ctx context.Context, recipient, outcome string)
	RecordPaymentProcessed(ctx context.Context, status string)
	RecordGatewayCall(ctx context.Context, operation string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordAttempt(context.Context, string, string) {}
func (nopMetrics) RecordPaymentProcessed(context.Context, string) {}
func (nopMetrics) RecordGatewayCall(context.Context, string, time.Duration) {}
