package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/marshalcore/backend/internal/infrastructure/persistence/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPaymentRepository implements transfer.PaymentRepository using GORM
type GormPaymentRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormPaymentRepository creates a new GORM-based payment repository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db, now: time.Now}
}

// FindByReference returns a payment by its reference
func (r *GormPaymentRepository) FindByReference(ctx context.Context, reference string) (*transfer.PaymentRecord, error) {
	var m models.PaymentModel
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", transfer.ErrPaymentNotFound, reference)
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// Create inserts a payment record
func (r *GormPaymentRepository) Create(ctx context.Context, payment *transfer.PaymentRecord) error {
	m := models.PaymentModelFromDomain(payment)
	now := r.now()
	m.CreatedAt = now
	m.UpdatedAt = now
	return r.db.WithContext(ctx).Create(m).Error
}

// MarkProcessed sets processed=true and merges metadata.
// An already processed payment is left untouched.
func (r *GormPaymentRepository) MarkProcessed(ctx context.Context, reference string, metadata map[string]any) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.PaymentModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reference = ?", reference).
			First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", transfer.ErrPaymentNotFound, reference)
			}
			return err
		}
		if m.Processed {
			return nil
		}

		merged := datatypes.JSONMap{}
		for k, v := range m.Metadata {
			merged[k] = v
		}
		for k, v := range metadata {
			merged[k] = v
		}

		return tx.Model(&models.PaymentModel{}).
			Where("reference = ?", reference).
			Updates(map[string]any{
				"metadata":   merged,
				"processed":  true,
				"updated_at": r.now(),
			}).Error
	})
}

var _ transfer.PaymentRepository = (*GormPaymentRepository)(nil)
