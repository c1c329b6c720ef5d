package transfer

import (
	"context"
)

// GatewayOutcome is the transfer state reported by the payment gateway
type GatewayOutcome string

const (
	// OutcomeSuccess means money moved
	OutcomeSuccess GatewayOutcome = "SUCCESS"
	// OutcomeFailed means the gateway definitively failed the transfer
	OutcomeFailed GatewayOutcome = "FAILED"
	// OutcomePending means the gateway accepted the transfer and has not settled it yet
	OutcomePending GatewayOutcome = "PENDING"
	// OutcomeUnknown means the gateway could not tell
	OutcomeUnknown GatewayOutcome = "UNKNOWN"
	// OutcomeNotFound means the gateway has no transfer for the reference
	OutcomeNotFound GatewayOutcome = "NOT_FOUND"
)

// RecipientHandle is the gateway-side identifier for a registered recipient
type RecipientHandle struct {
	RecipientType RecipientType
	Code          string
}

// TransferRequest is a request to move money to a registered recipient
type TransferRequest struct {
	Handle         RecipientHandle
	Amount         int64
	Currency       string
	IdempotencyKey string
	Reason         string
}

// TransferHandle is the gateway acknowledgement of a transfer request
type TransferHandle struct {
	Reference    string
	TransferCode string
	Outcome      GatewayOutcome
	Message      string
	RawResponse  []byte
}

// TransferQuery is the gateway view of an existing transfer
type TransferQuery struct {
	Reference    string
	TransferCode string
	Outcome      GatewayOutcome
	Reason       string
	RawResponse  []byte
}

// GatewayClient abstracts the payment gateway used to move money.
// All failures are returned as *GatewayError.
type GatewayClient interface {
	// EnsureRecipientHandle returns an existing handle or registers the recipient
	EnsureRecipientHandle(ctx context.Context, recipientType RecipientType) (RecipientHandle, error)

	// InvalidateRecipientHandle drops any cached handle so the next call re-registers
	InvalidateRecipientHandle(ctx context.Context, recipientType RecipientType) error

	// InitiateTransfer requests a transfer; idempotent on req.IdempotencyKey
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferHandle, error)

	// QueryTransfer looks up a transfer by the reference it was initiated with
	QueryTransfer(ctx context.Context, reference string) (*TransferQuery, error)
}

// RecipientHandleCache stores gateway recipient handles between calls
type RecipientHandleCache interface {
	Get(ctx context.Context, recipientType RecipientType) (string, bool, error)
	Set(ctx context.Context, recipientType RecipientType, code string) error
	Delete(ctx context.Context, recipientType RecipientType) error
}
