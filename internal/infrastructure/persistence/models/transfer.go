package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/marshalcore/backend/internal/domain/transfer"
	"gorm.io/datatypes"
)

// TransferRecordModel is the persistence model for split transfer ledger rows.
// The unique index on (payment_reference, recipient_type) keeps one row per payee;
// retries mutate that row and are traced in TransferStatusChangeModel.
type TransferRecordModel struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey"`
	PaymentReference string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_split_transfers_payment_recipient,priority:1"`
	RecipientType    string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_split_transfers_payment_recipient,priority:2"`
	Amount           int64          `gorm:"not null"`
	AccountName      string         `gorm:"type:varchar(200);not null"`
	AccountNumber    string         `gorm:"type:varchar(20);not null"`
	BankCode         string         `gorm:"type:varchar(20);not null"`
	Currency         string         `gorm:"type:varchar(3);not null"`
	RecipientCode    string         `gorm:"type:varchar(100)"`
	Attempt          int            `gorm:"not null;default:1"`
	IdempotencyKey   string         `gorm:"type:varchar(64);not null;uniqueIndex"`
	GatewayReference string         `gorm:"type:varchar(100)"`
	GatewayCode      string         `gorm:"type:varchar(100)"`
	Status           string         `gorm:"type:varchar(20);not null;index:idx_split_transfers_status_updated,priority:1"`
	FailureReason    string         `gorm:"type:varchar(50)"`
	FailureMessage   string         `gorm:"type:text"`
	RetryCount       int            `gorm:"not null;default:0"`
	RawResponse      datatypes.JSON `gorm:"type:jsonb"`
	TransferredAt    *time.Time
	LastFailedAt     *time.Time
	LastRetryAt      *time.Time
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null;autoUpdateTime:false;index:idx_split_transfers_status_updated,priority:2"`
}

// TableName returns the table name for GORM
func (TransferRecordModel) TableName() string {
	return "split_transfers"
}

// ToDomain converts the persistence model to a domain TransferRecord
func (m *TransferRecordModel) ToDomain() *transfer.TransferRecord {
	return &transfer.TransferRecord{
		ID:               m.ID,
		PaymentReference: m.PaymentReference,
		RecipientType:    transfer.RecipientType(m.RecipientType),
		Amount:           m.Amount,
		Recipient: transfer.RecipientDescriptor{
			AccountName:   m.AccountName,
			AccountNumber: m.AccountNumber,
			BankCode:      m.BankCode,
			Currency:      m.Currency,
		},
		RecipientCode:    m.RecipientCode,
		Attempt:          m.Attempt,
		IdempotencyKey:   m.IdempotencyKey,
		GatewayReference: m.GatewayReference,
		GatewayCode:      m.GatewayCode,
		Status:           transfer.TransferStatus(m.Status),
		FailureReason:    transfer.FailureReason(m.FailureReason),
		FailureMessage:   m.FailureMessage,
		RetryCount:       m.RetryCount,
		RawResponse:      jsonBytes(m.RawResponse),
		TransferredAt:    m.TransferredAt,
		LastFailedAt:     m.LastFailedAt,
		LastRetryAt:      m.LastRetryAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain TransferRecord
func (m *TransferRecordModel) FromDomain(r *transfer.TransferRecord) {
	m.ID = r.ID
	m.PaymentReference = r.PaymentReference
	m.RecipientType = string(r.RecipientType)
	m.Amount = r.Amount
	m.AccountName = r.Recipient.AccountName
	m.AccountNumber = r.Recipient.AccountNumber
	m.BankCode = r.Recipient.BankCode
	m.Currency = r.Recipient.Currency
	m.RecipientCode = r.RecipientCode
	m.Attempt = r.Attempt
	m.IdempotencyKey = r.IdempotencyKey
	m.GatewayReference = r.GatewayReference
	m.GatewayCode = r.GatewayCode
	m.Status = string(r.Status)
	m.FailureReason = string(r.FailureReason)
	m.FailureMessage = r.FailureMessage
	m.RetryCount = r.RetryCount
	m.RawResponse = JSONColumn(r.RawResponse)
	m.TransferredAt = r.TransferredAt
	m.LastFailedAt = r.LastFailedAt
	m.LastRetryAt = r.LastRetryAt
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
}

// TransferRecordModelFromDomain creates a new persistence model from a domain TransferRecord
func TransferRecordModelFromDomain(r *transfer.TransferRecord) *TransferRecordModel {
	m := &TransferRecordModel{}
	m.FromDomain(r)
	return m
}

// TransferStatusChangeModel is one row of the append-only transfer audit trail
type TransferStatusChangeModel struct {
	ID               uint64         `gorm:"primaryKey;autoIncrement"`
	TransferID       uuid.UUID      `gorm:"type:uuid;not null;index"`
	PaymentReference string         `gorm:"type:varchar(100);not null;index"`
	RecipientType    string         `gorm:"type:varchar(32);not null"`
	FromStatus       string         `gorm:"type:varchar(20)"`
	ToStatus         string         `gorm:"type:varchar(20);not null"`
	Attempt          int            `gorm:"not null"`
	IdempotencyKey   string         `gorm:"type:varchar(64);not null"`
	Reason           string         `gorm:"type:varchar(100)"`
	Request          datatypes.JSON `gorm:"type:jsonb"`
	Response         datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (TransferStatusChangeModel) TableName() string {
	return "split_transfer_status_history"
}

// ToDomain converts the persistence model to a domain StatusChange
func (m *TransferStatusChangeModel) ToDomain() transfer.StatusChange {
	return transfer.StatusChange{
		TransferID:       m.TransferID,
		PaymentReference: m.PaymentReference,
		RecipientType:    transfer.RecipientType(m.RecipientType),
		FromStatus:       transfer.TransferStatus(m.FromStatus),
		ToStatus:         transfer.TransferStatus(m.ToStatus),
		Attempt:          m.Attempt,
		IdempotencyKey:   m.IdempotencyKey,
		Reason:           m.Reason,
		Request:          jsonBytes(m.Request),
		Response:         jsonBytes(m.Response),
		ChangedAt:        m.CreatedAt,
	}
}

// StatusChangeModelFromDomain creates a history row from a domain StatusChange
func StatusChangeModelFromDomain(c *transfer.StatusChange) *TransferStatusChangeModel {
	return &TransferStatusChangeModel{
		TransferID:       c.TransferID,
		PaymentReference: c.PaymentReference,
		RecipientType:    string(c.RecipientType),
		FromStatus:       string(c.FromStatus),
		ToStatus:         string(c.ToStatus),
		Attempt:          c.Attempt,
		IdempotencyKey:   c.IdempotencyKey,
		Reason:           c.Reason,
		Request:          JSONColumn(c.Request),
		Response:         JSONColumn(c.Response),
		CreatedAt:        c.ChangedAt,
	}
}

// JSONColumn prepares gateway bytes for a jsonb column. Bodies that are not
// valid JSON, such as an HTML error page from a proxy, are kept as {"raw": "..."}.
func JSONColumn(b []byte) datatypes.JSON {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return datatypes.JSON(b)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(b)})
	if err != nil {
		return nil
	}
	return datatypes.JSON(wrapped)
}

// jsonBytes maps a NULL or empty JSON column to nil
func jsonBytes(j datatypes.JSON) []byte {
	if len(j) == 0 || string(j) == "null" {
		return nil
	}
	return []byte(j)
}
