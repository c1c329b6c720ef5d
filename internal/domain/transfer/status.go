package transfer

// TransferStatus is the lifecycle state of one transfer record
type TransferStatus string

const (
	// StatusPending is recorded before the gateway is called
	StatusPending TransferStatus = "PENDING"
	// StatusInitiated means the gateway accepted the transfer and it is in flight
	StatusInitiated TransferStatus = "INITIATED"
	// StatusUnknown means the gateway may or may not have executed the transfer
	StatusUnknown TransferStatus = "UNKNOWN"
	// StatusSuccess is terminal and immutable
	StatusSuccess TransferStatus = "SUCCESS"
	// StatusFailed means the attempt definitively did not move money
	StatusFailed TransferStatus = "FAILED"
	// StatusRetried means a new attempt is being made for a failed record
	StatusRetried TransferStatus = "RETRIED"
)

var validTransitions = map[TransferStatus][]TransferStatus{
	StatusPending:   {StatusInitiated, StatusFailed, StatusUnknown},
	StatusInitiated: {StatusSuccess, StatusFailed, StatusUnknown},
	StatusUnknown:   {StatusInitiated, StatusSuccess, StatusFailed},
	StatusFailed:    {StatusRetried},
	StatusRetried:   {StatusInitiated, StatusSuccess, StatusFailed, StatusUnknown},
	StatusSuccess:   {},
}

// AllStatuses returns every transfer status
func AllStatuses() []TransferStatus {
	return []TransferStatus{
		StatusPending, StatusInitiated, StatusUnknown,
		StatusSuccess, StatusFailed, StatusRetried,
	}
}

// NonTerminalStatuses returns every status other than SUCCESS
func NonTerminalStatuses() []TransferStatus {
	return []TransferStatus{
		StatusPending, StatusInitiated, StatusUnknown, StatusFailed, StatusRetried,
	}
}

// IsValid returns true if the status is known
func (s TransferStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// String returns the string representation of TransferStatus
func (s TransferStatus) String() string {
	return string(s)
}

// IsTerminal returns true for SUCCESS
func (s TransferStatus) IsTerminal() bool {
	return s == StatusSuccess
}

// NeedsReconciliation returns true when the gateway must be asked before any new attempt.
// RETRIED is included because a crash mid-retry leaves the attempt outcome unknown.
func (s TransferStatus) NeedsReconciliation() bool {
	switch s {
	case StatusPending, StatusInitiated, StatusUnknown, StatusRetried:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether moving to next is allowed
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FailureReason is the machine-readable code for why an attempt failed
type FailureReason string

const (
	FailureNone              FailureReason = ""
	FailureNetworkError      FailureReason = "NETWORK_ERROR"
	FailureRecipientRejected FailureReason = "RECIPIENT_REJECTED"
	FailureTransferRejected  FailureReason = "TRANSFER_REJECTED"
	FailureGatewayReported   FailureReason = "GATEWAY_REPORTED_FAILURE"
)

// IsRejection returns true for reasons that need operator action before a retry can succeed
func (r FailureReason) IsRejection() bool {
	return r == FailureRecipientRejected || r == FailureTransferRejected
}

// FailureReasonFor maps a gateway error kind to a failure reason
func FailureReasonFor(kind GatewayErrorKind) FailureReason {
	switch kind {
	case GatewayErrorNetwork:
		return FailureNetworkError
	case GatewayErrorRecipientRejected:
		return FailureRecipientRejected
	case GatewayErrorTransferRejected:
		return FailureTransferRejected
	default:
		return FailureNone
	}
}
