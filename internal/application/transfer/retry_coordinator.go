package transfer

import (
	"context"

	"github.com/marshalcore/backend/internal/domain/transfer"
)

// RetryCoordinator re-drives the non-terminal ledger rows of a payment.
// It never creates rows: a recipient without one is left to SplitOrchestrator.
type RetryCoordinator struct {
	*runner
}

// NewRetryCoordinator creates a RetryCoordinator
func NewRetryCoordinator(cfg Config) *RetryCoordinator {
	return &RetryCoordinator{runner: newRunner(cfg)}
}

// RetryFailed reconciles in-flight rows and retries FAILED rows allowed by the retry policy
func (c *RetryCoordinator) RetryFailed(ctx context.Context, ref string, opts transfer.RetryOptions) (*SplitResult, error) {
	validate := func(p *transfer.PaymentRecord) error {
		return p.ValidateForSplit(p.Amount, c.directory)
	}
	return c.run(ctx, "retry", ref, validate, passOptions{retry: opts})
}
