package transfer

import (
	"time"

	"github.com/google/uuid"
	"github.com/marshalcore/backend/internal/domain/transfer"
)

// RunStatus is the aggregate outcome of a split or retry run
type RunStatus string

const (
	// RunSuccess means every payable recipient has a successful transfer
	RunSuccess RunStatus = "success"
	// RunPartial means some but not all recipients were paid
	RunPartial RunStatus = "partial"
	// RunError means no recipient was paid
	RunError RunStatus = "error"
)

// TransferOutcome is the per-recipient view returned to callers
type TransferOutcome struct {
	TransferID     uuid.UUID                `json:"transfer_id,omitempty"`
	RecipientType  transfer.RecipientType   `json:"recipient_type"`
	Amount         int64                    `json:"amount"`
	Status         transfer.TransferStatus  `json:"status,omitempty"`
	Attempt        int                      `json:"attempt,omitempty"`
	RetryCount     int                      `json:"retry_count"`
	IdempotencyKey string                   `json:"idempotency_key,omitempty"`
	GatewayCode    string                   `json:"gateway_code,omitempty"`
	FailureReason  transfer.FailureReason   `json:"failure_reason,omitempty"`
	FailureMessage string                   `json:"failure_message,omitempty"`
	SkipReason     transfer.RetrySkipReason `json:"skip_reason,omitempty"`
	Attempted      bool                     `json:"attempted"`
	Reconciled     bool                     `json:"reconciled"`
	TransferredAt  *time.Time               `json:"transferred_at,omitempty"`
}

// SplitResult is the outcome of SplitOrchestrator.Process and RetryCoordinator.RetryFailed
type SplitResult struct {
	PaymentReference       string                   `json:"payment_reference"`
	Status                 RunStatus                `json:"status"`
	AllSuccessful          bool                     `json:"all_successful"`
	Processed              bool                     `json:"processed"`
	AlreadyProcessed       bool                     `json:"already_processed"`
	Transfers              []TransferOutcome        `json:"transfers"`
	Failed                 []transfer.RecipientType `json:"failed,omitempty"`
	AwaitingReconciliation []transfer.RecipientType `json:"awaiting_reconciliation,omitempty"`
}

// TransferHistory is one ledger row with its status changes
type TransferHistory struct {
	TransferOutcome
	History []transfer.StatusChange `json:"history"`
}

func outcomeFromRecord(r *transfer.TransferRecord) TransferOutcome {
	return TransferOutcome{
		TransferID:     r.ID,
		RecipientType:  r.RecipientType,
		Amount:         r.Amount,
		Status:         r.Status,
		Attempt:        r.Attempt,
		RetryCount:     r.RetryCount,
		IdempotencyKey: r.IdempotencyKey,
		GatewayCode:    r.GatewayCode,
		FailureReason:  r.FailureReason,
		FailureMessage: r.FailureMessage,
		TransferredAt:  r.TransferredAt,
	}
}

// aggregate derives the run status from the outcome of every payable recipient
func aggregate(ref string, outcomes []TransferOutcome) *SplitResult {
	res := &SplitResult{PaymentReference: ref, Transfers: outcomes}
	succeeded := 0
	for _, o := range outcomes {
		switch {
		case o.Status == transfer.StatusSuccess:
			succeeded++
		case o.Status.NeedsReconciliation():
			res.AwaitingReconciliation = append(res.AwaitingReconciliation, o.RecipientType)
		default:
			res.Failed = append(res.Failed, o.RecipientType)
		}
	}
	res.AllSuccessful = succeeded == len(outcomes)
	switch {
	case res.AllSuccessful:
		res.Status = RunSuccess
	case succeeded > 0:
		res.Status = RunPartial
	default:
		res.Status = RunError
	}
	return res
}
