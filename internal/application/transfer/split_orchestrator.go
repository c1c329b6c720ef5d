package transfer

import (
	"context"

	"github.com/marshalcore/backend/internal/domain/transfer"
)

// SplitOrchestrator fans a confirmed payment out into one transfer per recipient.
//
// Repeated calls for the same payment are safe: recipients that already
// succeeded are never attempted again, in-flight attempts are reconciled with
// the gateway before anything else, and the payment is only marked processed
// once every payable recipient has a SUCCESS row.
type SplitOrchestrator struct {
	*runner
}

// NewSplitOrchestrator creates a SplitOrchestrator
func NewSplitOrchestrator(cfg Config) *SplitOrchestrator {
	return &SplitOrchestrator{runner: newRunner(cfg)}
}

// Process runs the immediate split for a payment whose confirmed amount is amount.
// FAILED rows left by an earlier run are retried unless the gateway rejected them.
func (o *SplitOrchestrator) Process(ctx context.Context, ref string, amount int64) (*SplitResult, error) {
	validate := func(p *transfer.PaymentRecord) error {
		return p.ValidateForSplit(amount, o.directory)
	}
	return o.run(ctx, "process", ref, validate, passOptions{createMissing: true})
}
