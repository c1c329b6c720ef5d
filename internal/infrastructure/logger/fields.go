package logger

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Field keys shared by every split transfer log entry
const (
	FieldPaymentReference = "payment_reference"
	FieldRecipientType    = "recipient_type"
	FieldTransferID       = "transfer_id"
	FieldStatus           = "status"
	FieldIdempotencyKey   = "idempotency_key"
	FieldAttempt          = "attempt"
)

// PaymentReference returns the payment reference field
func PaymentReference(ref string) zap.Field {
	return zap.String(FieldPaymentReference, ref)
}

// RecipientType returns the recipient type field
func RecipientType[T ~string](t T) zap.Field {
	return zap.String(FieldRecipientType, string(t))
}

// TransferID returns the transfer record id field
func TransferID(id uuid.UUID) zap.Field {
	return zap.String(FieldTransferID, id.String())
}

// Status returns the transfer status field
func Status[T ~string](s T) zap.Field {
	return zap.String(FieldStatus, string(s))
}

// IdempotencyKey returns the gateway idempotency key field
func IdempotencyKey(key string) zap.Field {
	return zap.String(FieldIdempotencyKey, key)
}

// Attempt returns the attempt number field
func Attempt(n int) zap.Field {
	return zap.Int(FieldAttempt, n)
}
