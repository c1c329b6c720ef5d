package transfer

import (
	"errors"
	"fmt"
)

// Validation and lookup errors
var (
	ErrPaymentNotFound    = errors.New("transfer: payment not found")
	ErrInvalidAmount      = errors.New("transfer: amount must be positive")
	ErrAmountMismatch     = errors.New("transfer: amount does not match payment")
	ErrNegativeShare      = errors.New("transfer: share must not be negative")
	ErrSharesExceedAmount = errors.New("transfer: shares exceed payment amount")
	ErrTransferNotFound   = errors.New("transfer: transfer record not found")
)

// Ledger and concurrency errors
var (
	// ErrInvariantViolation wraps every error that indicates corrupted or illegal ledger state.
	// Callers must abort the current run when they see it.
	ErrInvariantViolation = errors.New("transfer: invariant violation")
	// ErrIllegalTransition is returned for a status change outside the state machine
	ErrIllegalTransition = errors.New("transfer: illegal status transition")
	// ErrTransferImmutable is returned when a SUCCESS record would be modified
	ErrTransferImmutable = errors.New("transfer: successful transfer is immutable")
	// ErrReconciliationRequired is returned when a blind retry is attempted on an UNKNOWN record
	ErrReconciliationRequired = errors.New("transfer: outcome unknown, reconciliation required")
	// ErrDuplicateAttempt is returned when a non-terminal record already exists for a payment and recipient
	ErrDuplicateAttempt = errors.New("transfer: non-terminal transfer already exists")
	// ErrLockNotAcquired is returned when another run holds the payment lock
	ErrLockNotAcquired = errors.New("transfer: payment is locked by another run")
)

// Gateway errors
var (
	ErrGatewayUnavailable = errors.New("transfer: gateway unavailable")
	ErrGatewayTimeout     = errors.New("transfer: gateway timeout")
	ErrRecipientRejected  = errors.New("transfer: recipient rejected by gateway")
	ErrTransferRejected   = errors.New("transfer: transfer rejected by gateway")
)

// IsInvariantViolation reports whether err must abort the current run
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrTransferImmutable)
}

func invariantError(base error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrInvariantViolation, base, fmt.Sprintf(format, args...))
}

// GatewayErrorKind classifies a gateway failure
type GatewayErrorKind string

const (
	// GatewayErrorNetwork means the request never reached the gateway
	GatewayErrorNetwork GatewayErrorKind = "NETWORK"
	// GatewayErrorTimeout means the request may have been received but no answer arrived
	GatewayErrorTimeout GatewayErrorKind = "TIMEOUT"
	// GatewayErrorRecipientRejected means the gateway refused the recipient details
	GatewayErrorRecipientRejected GatewayErrorKind = "RECIPIENT_REJECTED"
	// GatewayErrorTransferRejected means the gateway refused the transfer
	GatewayErrorTransferRejected GatewayErrorKind = "TRANSFER_REJECTED"
)

// GatewayError is the typed error returned by every GatewayClient implementation
type GatewayError struct {
	Kind    GatewayErrorKind
	Code    string
	Message string
	Raw     []byte
	Err     error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s", e.Kind)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the sentinel matching the error kind and the underlying cause
func (e *GatewayError) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *GatewayError) sentinel() error {
	switch e.Kind {
	case GatewayErrorNetwork:
		return ErrGatewayUnavailable
	case GatewayErrorTimeout:
		return ErrGatewayTimeout
	case GatewayErrorRecipientRejected:
		return ErrRecipientRejected
	default:
		return ErrTransferRejected
	}
}

// OutcomeUnknown reports whether the gateway may have executed the request
func (e *GatewayError) OutcomeUnknown() bool {
	return e.Kind == GatewayErrorTimeout
}

// Retryable reports whether a later attempt could succeed without operator action
func (e *GatewayError) Retryable() bool {
	return e.Kind == GatewayErrorNetwork || e.Kind == GatewayErrorTimeout
}

// NewGatewayError creates a GatewayError
func NewGatewayError(kind GatewayErrorKind, code, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Code: code, Message: message, Err: cause}
}

// AsGatewayError extracts a GatewayError from err
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}
