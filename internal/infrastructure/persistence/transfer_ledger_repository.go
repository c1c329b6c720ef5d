package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/marshalcore/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTransferLedger implements transfer.TransferLedger using GORM
type GormTransferLedger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormTransferLedger creates a new GORM-based transfer ledger
func NewGormTransferLedger(db *gorm.DB) *GormTransferLedger {
	return &GormTransferLedger{db: db, now: time.Now}
}

// WithClock returns a ledger that stamps changes with the given clock
func (l *GormTransferLedger) WithClock(now func() time.Time) *GormTransferLedger {
	return &GormTransferLedger{db: l.db, now: now}
}

// CreatePending inserts a new PENDING record.
// Any existing record for the same payment and recipient yields ErrDuplicateAttempt.
func (l *GormTransferLedger) CreatePending(ctx context.Context, record *transfer.TransferRecord) error {
	if record.Status != transfer.StatusPending {
		return fmt.Errorf("%w: new record must be %s, got %s", transfer.ErrIllegalTransition, transfer.StatusPending, record.Status)
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.TransferRecordModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payment_reference = ? AND recipient_type = ?", record.PaymentReference, string(record.RecipientType)).
			Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: %s/%s is %s", transfer.ErrDuplicateAttempt,
				record.PaymentReference, record.RecipientType, existing[0].Status)
		}

		m := models.TransferRecordModelFromDomain(record)
		if err := tx.Create(m).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s/%s", transfer.ErrDuplicateAttempt, record.PaymentReference, record.RecipientType)
			}
			return err
		}

		change := &transfer.StatusChange{
			TransferID:       record.ID,
			PaymentReference: record.PaymentReference,
			RecipientType:    record.RecipientType,
			ToStatus:         transfer.StatusPending,
			Attempt:          record.Attempt,
			IdempotencyKey:   record.IdempotencyKey,
			ChangedAt:        record.CreatedAt,
		}
		return tx.Create(models.StatusChangeModelFromDomain(change)).Error
	})
}

// MarkResult applies a gateway result inside a row-locked transaction
func (l *GormTransferLedger) MarkResult(ctx context.Context, id uuid.UUID, result transfer.TransferResult) (*transfer.TransferRecord, error) {
	return l.mutate(ctx, id, func(r *transfer.TransferRecord, now time.Time) (*transfer.StatusChange, error) {
		return r.ApplyResult(result, now)
	})
}

// MarkRetried starts a new attempt for a FAILED record
func (l *GormTransferLedger) MarkRetried(ctx context.Context, id uuid.UUID) (*transfer.TransferRecord, error) {
	return l.mutate(ctx, id, func(r *transfer.TransferRecord, now time.Time) (*transfer.StatusChange, error) {
		return r.MarkRetried(now)
	})
}

func (l *GormTransferLedger) mutate(
	ctx context.Context,
	id uuid.UUID,
	apply func(r *transfer.TransferRecord, now time.Time) (*transfer.StatusChange, error),
) (*transfer.TransferRecord, error) {
	var updated *transfer.TransferRecord

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.TransferRecordModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", transfer.ErrTransferNotFound, id)
			}
			return err
		}

		record := m.ToDomain()
		change, err := apply(record, l.now())
		if err != nil {
			return err
		}

		m.FromDomain(record)
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		if err := tx.Create(models.StatusChangeModelFromDomain(change)).Error; err != nil {
			return err
		}

		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetByPayment returns every record for a payment
func (l *GormTransferLedger) GetByPayment(ctx context.Context, paymentRef string) ([]transfer.TransferRecord, error) {
	return l.find(ctx, l.db.WithContext(ctx).Where("payment_reference = ?", paymentRef))
}

// GetNonTerminal returns every non-SUCCESS record for a payment
func (l *GormTransferLedger) GetNonTerminal(ctx context.Context, paymentRef string) ([]transfer.TransferRecord, error) {
	return l.find(ctx, l.db.WithContext(ctx).
		Where("payment_reference = ? AND status IN ?", paymentRef, statusStrings(transfer.NonTerminalStatuses())))
}

func (l *GormTransferLedger) find(_ context.Context, q *gorm.DB) ([]transfer.TransferRecord, error) {
	var rows []models.TransferRecordModel
	if err := q.Order("recipient_type ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]transfer.TransferRecord, len(rows))
	for i := range rows {
		records[i] = *rows[i].ToDomain()
	}
	return records, nil
}

// FindByID returns a record by ID
func (l *GormTransferLedger) FindByID(ctx context.Context, id uuid.UUID) (*transfer.TransferRecord, error) {
	var m models.TransferRecordModel
	if err := l.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", transfer.ErrTransferNotFound, id)
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// History returns the status changes of a payment in insertion order
func (l *GormTransferLedger) History(ctx context.Context, paymentRef string) ([]transfer.StatusChange, error) {
	var rows []models.TransferStatusChangeModel
	if err := l.db.WithContext(ctx).
		Where("payment_reference = ?", paymentRef).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	changes := make([]transfer.StatusChange, len(rows))
	for i := range rows {
		changes[i] = rows[i].ToDomain()
	}
	return changes, nil
}

// PaymentsNeedingAttention returns payments with stale rows that need reconciling
// or still have automatic retries left. Rejected and exhausted FAILED rows are
// skipped so they cannot crowd the batch.
func (l *GormTransferLedger) PaymentsNeedingAttention(ctx context.Context, q transfer.AttentionQuery) ([]string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	maxRetries := q.MaxRetries
	if maxRetries <= 0 {
		maxRetries = transfer.DefaultMaxRetries
	}
	var refs []string
	err := l.db.WithContext(ctx).
		Model(&models.TransferRecordModel{}).
		Where("updated_at < ?", q.UpdatedBefore).
		Where(l.db.Where("status IN ?", statusStrings(reconcilableStatuses())).
			Or("status = ? AND retry_count < ? AND (failure_reason IS NULL OR failure_reason NOT IN ?)",
				string(transfer.StatusFailed), maxRetries, rejectionReasons())).
		Group("payment_reference").
		Order("MIN(updated_at) ASC, payment_reference ASC").
		Limit(limit).
		Pluck("payment_reference", &refs).Error
	return refs, err
}

func reconcilableStatuses() []transfer.TransferStatus {
	var out []transfer.TransferStatus
	for _, s := range transfer.NonTerminalStatuses() {
		if s.NeedsReconciliation() {
			out = append(out, s)
		}
	}
	return out
}

func rejectionReasons() []string {
	return []string{string(transfer.FailureRecipientRejected), string(transfer.FailureTransferRejected)}
}

func statusStrings(statuses []transfer.TransferStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

var _ transfer.TransferLedger = (*GormTransferLedger)(nil)
