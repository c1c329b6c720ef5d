package dto

import (
	apptransfer "github.com/marshalcore/backend/internal/application/transfer"
)

// ProcessSplitRequest is the body of POST /payments/:reference/splits
type ProcessSplitRequest struct {
	// Amount is the confirmed payment amount in minor currency units
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// SplitQuery holds the query flags shared by the split endpoints
type SplitQuery struct {
	Async           bool `form:"async"`
	IncludeRejected bool `form:"include_rejected"`
}

// SplitAccepted is returned when a run was handed to the background dispatcher
type SplitAccepted struct {
	PaymentReference string `json:"payment_reference"`
	Run              string `json:"run"`
	Accepted         bool   `json:"accepted"`
}

// TransferHistoryResponse lists a payment's transfers with their status history
type TransferHistoryResponse struct {
	PaymentReference string                        `json:"payment_reference"`
	Transfers        []apptransfer.TransferHistory `json:"transfers"`
}
