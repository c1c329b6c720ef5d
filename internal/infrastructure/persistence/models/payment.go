package models

import (
	"time"

	"github.com/marshalcore/backend/internal/domain/transfer"
	"gorm.io/datatypes"
)

// PaymentModel is the persistence model for confirmed payments.
// Shares are stored in minor units per fixed recipient.
type PaymentModel struct {
	Reference            string            `gorm:"type:varchar(100);primaryKey"`
	Amount               int64             `gorm:"not null"`
	DirectorGeneralShare int64             `gorm:"not null;default:0"`
	TechServicesShare    int64             `gorm:"not null;default:0"`
	Processed            bool              `gorm:"not null;default:false;index"`
	Metadata             datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt            time.Time         `gorm:"not null"`
	UpdatedAt            time.Time         `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain PaymentRecord
func (m *PaymentModel) ToDomain() *transfer.PaymentRecord {
	metadata := make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		metadata[k] = v
	}
	return &transfer.PaymentRecord{
		Reference: m.Reference,
		Amount:    m.Amount,
		Shares: map[transfer.RecipientType]int64{
			transfer.RecipientDirectorGeneral: m.DirectorGeneralShare,
			transfer.RecipientTechServices:    m.TechServicesShare,
		},
		Processed: m.Processed,
		Metadata:  metadata,
	}
}

// FromDomain populates the persistence model from a domain PaymentRecord
func (m *PaymentModel) FromDomain(p *transfer.PaymentRecord) {
	m.Reference = p.Reference
	m.Amount = p.Amount
	m.DirectorGeneralShare = p.ShareFor(transfer.RecipientDirectorGeneral)
	m.TechServicesShare = p.ShareFor(transfer.RecipientTechServices)
	m.Processed = p.Processed
	if p.Metadata != nil {
		m.Metadata = datatypes.JSONMap(p.Metadata)
	}
}

// PaymentModelFromDomain creates a new persistence model from a domain PaymentRecord
func PaymentModelFromDomain(p *transfer.PaymentRecord) *PaymentModel {
	m := &PaymentModel{}
	m.FromDomain(p)
	return m
}
