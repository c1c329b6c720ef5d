package transfer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TransferRecord is one ledger row: a single recipient's transfer for a single payment.
// IdempotencyKey identifies the current gateway attempt and changes only on an explicit retry.
type TransferRecord struct {
	ID               uuid.UUID
	PaymentReference string
	RecipientType    RecipientType
	Amount           int64
	Recipient        RecipientDescriptor
	RecipientCode    string
	Attempt          int
	IdempotencyKey   string
	GatewayReference string
	GatewayCode      string
	Status           TransferStatus
	FailureReason    FailureReason
	FailureMessage   string
	RetryCount       int
	RawResponse      []byte
	TransferredAt    *time.Time
	LastFailedAt     *time.Time
	LastRetryAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TransferResult describes the gateway outcome to record on a transfer
type TransferResult struct {
	Status           TransferStatus
	RecipientCode    string
	GatewayReference string
	GatewayCode      string
	FailureReason    FailureReason
	FailureMessage   string
	RawRequest       []byte
	RawResponse      []byte
}

// StatusChange is one audit entry in a transfer's status history
type StatusChange struct {
	TransferID       uuid.UUID       `json:"transfer_id"`
	PaymentReference string          `json:"payment_reference"`
	RecipientType    RecipientType   `json:"recipient_type"`
	FromStatus       TransferStatus  `json:"from_status"`
	ToStatus         TransferStatus  `json:"to_status"`
	Attempt          int             `json:"attempt"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Reason           string          `json:"reason,omitempty"`
	Request          json.RawMessage `json:"request,omitempty"`
	Response         json.RawMessage `json:"response,omitempty"`
	ChangedAt        time.Time       `json:"changed_at"`
}

// NewTransferRecord creates a PENDING record for the first attempt
func NewTransferRecord(paymentRef string, recipientType RecipientType, amount int64, recipient RecipientDescriptor, now time.Time) (*TransferRecord, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !recipientType.IsValid() {
		return nil, ErrUnknownRecipient
	}
	return &TransferRecord{
		ID:               uuid.New(),
		PaymentReference: paymentRef,
		RecipientType:    recipientType,
		Amount:           amount,
		Recipient:        recipient,
		Attempt:          1,
		IdempotencyKey:   IdempotencyKey(paymentRef, recipientType, 1),
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// ApplyResult moves the record to result.Status and records the gateway details.
// It returns the status change to append to the audit history.
func (r *TransferRecord) ApplyResult(result TransferResult, now time.Time) (*StatusChange, error) {
	from := r.Status
	if err := r.checkTransition(result.Status); err != nil {
		return nil, err
	}

	r.Status = result.Status
	r.UpdatedAt = now
	if result.RecipientCode != "" {
		r.RecipientCode = result.RecipientCode
	}
	if result.GatewayReference != "" {
		r.GatewayReference = result.GatewayReference
	}
	if result.GatewayCode != "" {
		r.GatewayCode = result.GatewayCode
	}
	if len(result.RawResponse) > 0 {
		r.RawResponse = result.RawResponse
	}

	switch result.Status {
	case StatusSuccess:
		t := now
		r.TransferredAt = &t
		r.FailureReason = FailureNone
		r.FailureMessage = ""
	case StatusFailed:
		t := now
		r.LastFailedAt = &t
		r.FailureReason = result.FailureReason
		r.FailureMessage = result.FailureMessage
	default:
		r.FailureReason = result.FailureReason
		r.FailureMessage = result.FailureMessage
	}

	change := r.change(from, string(result.FailureReason), now)
	change.Request = result.RawRequest
	change.Response = result.RawResponse
	return change, nil
}

// MarkRetried starts a new attempt for a FAILED record with a fresh idempotency key
func (r *TransferRecord) MarkRetried(now time.Time) (*StatusChange, error) {
	from := r.Status
	if from == StatusUnknown {
		return nil, ErrReconciliationRequired
	}
	if err := r.checkTransition(StatusRetried); err != nil {
		return nil, err
	}

	reason := string(r.FailureReason)
	r.Status = StatusRetried
	r.RetryCount++
	r.Attempt++
	r.IdempotencyKey = IdempotencyKey(r.PaymentReference, r.RecipientType, r.Attempt)
	t := now
	r.LastRetryAt = &t
	r.UpdatedAt = now
	r.FailureReason = FailureNone
	r.FailureMessage = ""
	r.GatewayReference = ""
	r.GatewayCode = ""

	return r.change(from, reason, now), nil
}

// IsSuccessful returns true if the transfer completed
func (r *TransferRecord) IsSuccessful() bool {
	return r.Status == StatusSuccess
}

func (r *TransferRecord) checkTransition(next TransferStatus) error {
	if r.Status == StatusSuccess {
		return invariantError(ErrTransferImmutable, "transfer %s is already successful", r.ID)
	}
	if !r.Status.CanTransitionTo(next) {
		return invariantError(ErrIllegalTransition, "%s -> %s for transfer %s", r.Status, next, r.ID)
	}
	return nil
}

func (r *TransferRecord) change(from TransferStatus, reason string, now time.Time) *StatusChange {
	return &StatusChange{
		TransferID:       r.ID,
		PaymentReference: r.PaymentReference,
		RecipientType:    r.RecipientType,
		FromStatus:       from,
		ToStatus:         r.Status,
		Attempt:          r.Attempt,
		IdempotencyKey:   r.IdempotencyKey,
		Reason:           reason,
		ChangedAt:        now,
	}
}
