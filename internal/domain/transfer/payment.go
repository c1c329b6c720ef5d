package transfer

import (
	"fmt"
)

// PaymentRecord is a confirmed end-user payment already reduced to fixed recipient shares.
// It is owned by the payment component; the split subsystem only reads it and flips Processed.
type PaymentRecord struct {
	Reference string
	// Amount is the total payment amount in minor currency units
	Amount int64
	// Shares holds the precomputed share per recipient in minor currency units
	Shares map[RecipientType]int64
	// Processed is monotonic: once true it is never reset by this subsystem
	Processed bool
	Metadata  map[string]any
}

// ShareFor returns the share amount for a recipient, zero when absent
func (p *PaymentRecord) ShareFor(t RecipientType) int64 {
	if p.Shares == nil {
		return 0
	}
	return p.Shares[t]
}

// PayableRecipients returns the directory recipients with a positive share, in processing order
func (p *PaymentRecord) PayableRecipients(dir RecipientDirectory) []RecipientType {
	var out []RecipientType
	for _, t := range dir.Types() {
		if p.ShareFor(t) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// ValidateForSplit checks that the payment can be split for the given confirmed amount
func (p *PaymentRecord) ValidateForSplit(amount int64, dir RecipientDirectory) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if p.Amount != amount {
		return fmt.Errorf("%w: payment %s has amount %d, got %d", ErrAmountMismatch, p.Reference, p.Amount, amount)
	}
	var total int64
	for t, share := range p.Shares {
		if _, err := dir.Descriptor(t); err != nil {
			return err
		}
		if share < 0 {
			return fmt.Errorf("%w: %s share is %d", ErrNegativeShare, t, share)
		}
		total += share
	}
	if total > amount {
		return fmt.Errorf("%w: shares total %d exceeds payment amount %d", ErrSharesExceedAmount, total, amount)
	}
	return nil
}
