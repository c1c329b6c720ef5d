package transfer

import (
	"time"

	"github.com/shopspring/decimal"
)

// SplitSummaryKey is the payment metadata key under which the split summary is stored
const SplitSummaryKey = "immediate_splits"

// minorUnitExponent converts minor currency units to major units
const minorUnitExponent = -2

// SplitSummary is written into payment metadata when every share has been transferred
type SplitSummary struct {
	CompletedAt time.Time      `json:"completed_at"`
	Total       string         `json:"total"`
	Transfers   []SummaryEntry `json:"transfers"`
}

// SummaryEntry describes one successful transfer
type SummaryEntry struct {
	RecipientType    RecipientType `json:"recipient_type"`
	Amount           int64         `json:"amount"`
	AmountMajor      string        `json:"amount_major"`
	GatewayReference string        `json:"gateway_reference"`
	TransferCode     string        `json:"transfer_code,omitempty"`
	RetryCount       int           `json:"retry_count"`
}

// FormatMinorUnits renders an amount in minor units as a fixed two-decimal major amount
func FormatMinorUnits(amount int64) string {
	return decimal.New(amount, minorUnitExponent).StringFixed(2)
}

// BuildSplitSummary summarizes the successful records of a payment
func BuildSplitSummary(records []TransferRecord, now time.Time) SplitSummary {
	total := decimal.Zero
	entries := make([]SummaryEntry, 0, len(records))
	for _, r := range records {
		if r.Status != StatusSuccess {
			continue
		}
		total = total.Add(decimal.New(r.Amount, minorUnitExponent))
		entries = append(entries, SummaryEntry{
			RecipientType:    r.RecipientType,
			Amount:           r.Amount,
			AmountMajor:      FormatMinorUnits(r.Amount),
			GatewayReference: r.IdempotencyKey,
			TransferCode:     r.GatewayCode,
			RetryCount:       r.RetryCount,
		})
	}
	return SplitSummary{
		CompletedAt: now.UTC(),
		Total:       total.StringFixed(2),
		Transfers:   entries,
	}
}

// Metadata returns the summary as a payment metadata fragment
func (s SplitSummary) Metadata() map[string]any {
	transfers := make([]map[string]any, 0, len(s.Transfers))
	for _, e := range s.Transfers {
		entry := map[string]any{
			"recipient_type":    string(e.RecipientType),
			"amount":            e.Amount,
			"amount_major":      e.AmountMajor,
			"gateway_reference": e.GatewayReference,
			"retry_count":       e.RetryCount,
		}
		if e.TransferCode != "" {
			entry["transfer_code"] = e.TransferCode
		}
		transfers = append(transfers, entry)
	}
	return map[string]any{
		SplitSummaryKey: map[string]any{
			"completed_at": s.CompletedAt.Format(time.RFC3339),
			"total":        s.Total,
			"transfers":    transfers,
		},
	}
}
