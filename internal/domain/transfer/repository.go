package transfer

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransferLedger is the durable record of every transfer attempt.
// Implementations must enforce at most one non-terminal record per payment and recipient,
// and must never modify a SUCCESS record.
type TransferLedger interface {
	// CreatePending inserts a PENDING record, or returns ErrDuplicateAttempt
	CreatePending(ctx context.Context, record *TransferRecord) error

	// MarkResult applies a gateway result to a record and appends the status change to history
	MarkResult(ctx context.Context, id uuid.UUID, result TransferResult) (*TransferRecord, error)

	// MarkRetried moves a FAILED record to RETRIED with a new attempt key
	MarkRetried(ctx context.Context, id uuid.UUID) (*TransferRecord, error)

	// GetByPayment returns every record for a payment ordered by recipient type
	GetByPayment(ctx context.Context, paymentRef string) ([]TransferRecord, error)

	// GetNonTerminal returns every non-SUCCESS record for a payment
	GetNonTerminal(ctx context.Context, paymentRef string) ([]TransferRecord, error)

	// FindByID returns a record or ErrTransferNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*TransferRecord, error)

	// History returns the status changes of a payment in the order they happened
	History(ctx context.Context, paymentRef string) ([]StatusChange, error)

	// PaymentsNeedingAttention returns payment references with records the sweep can act on,
	// least recently updated first
	PaymentsNeedingAttention(ctx context.Context, q AttentionQuery) ([]string, error)
}

// AttentionQuery selects payments for the recovery sweep.
// FAILED rows that are rejected or out of retries are left for an operator.
type AttentionQuery struct {
	UpdatedBefore time.Time
	MaxRetries    int
	Limit         int
}

// PaymentRepository reads payments and flips their processed flag
type PaymentRepository interface {
	// FindByReference returns the payment or ErrPaymentNotFound
	FindByReference(ctx context.Context, reference string) (*PaymentRecord, error)

	// MarkProcessed sets processed=true and merges metadata; it never clears the flag
	MarkProcessed(ctx context.Context, reference string, metadata map[string]any) error
}

// UnlockFunc releases a lock obtained from PaymentLocker
type UnlockFunc func()

// PaymentLocker serializes split runs for the same payment
type PaymentLocker interface {
	// Lock blocks until the lock is acquired, ctx is done, or the wait times out with ErrLockNotAcquired
	Lock(ctx context.Context, paymentRef string) (UnlockFunc, error)
}
