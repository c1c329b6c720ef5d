package gateway

import (
	"encoding/json"
	"strings"

	"github.com/marshalcore/backend/internal/domain/transfer"
)

const (
	paystackRecipientPath = "/transferrecipient"
	paystackTransferPath  = "/transfer"
	paystackVerifyPath    = "/transfer/verify/"
)

// paystackEnvelope is the common response wrapper
type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Type    string          `json:"type,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// paystackRecipientRequest registers a bank account as a transfer recipient
type paystackRecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

// paystackRecipientData is the data of a create-recipient response
type paystackRecipientData struct {
	RecipientCode string `json:"recipient_code"`
	Active        bool   `json:"active"`
}

// paystackTransferRequest initiates a transfer; Reference is the idempotency key
type paystackTransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
	Currency  string `json:"currency"`
}

// paystackTransferData is the data of initiate and verify responses
type paystackTransferData struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// mapPaystackTransferStatus maps a Paystack transfer status to a gateway outcome
func mapPaystackTransferStatus(status string) transfer.GatewayOutcome {
	switch strings.ToLower(status) {
	case "success":
		return transfer.OutcomeSuccess
	case "failed", "reversed", "abandoned", "blocked", "rejected":
		return transfer.OutcomeFailed
	case "pending", "otp", "processing", "queued", "received":
		return transfer.OutcomePending
	default:
		return transfer.OutcomeUnknown
	}
}

// recipientErrorCodes are rejection codes that blame the recipient details
var recipientErrorCodes = map[string]bool{
	"invalid_recipient":      true,
	"recipient_not_found":    true,
	"invalid_account_number": true,
	"invalid_bank_code":      true,
}
