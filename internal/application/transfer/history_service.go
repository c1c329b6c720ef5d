package transfer

import (
	"context"

	"github.com/google/uuid"
	"github.com/marshalcore/backend/internal/domain/transfer"
)

// HistoryService reads the ledger of a payment for reporting
type HistoryService struct {
	payments transfer.PaymentRepository
	ledger   transfer.TransferLedger
}

// NewHistoryService creates a HistoryService
func NewHistoryService(payments transfer.PaymentRepository, ledger transfer.TransferLedger) *HistoryService {
	return &HistoryService{payments: payments, ledger: ledger}
}

// TransferHistory returns every transfer of a payment with its status changes in order
func (s *HistoryService) TransferHistory(ctx context.Context, ref string) ([]TransferHistory, error) {
	if _, err := s.payments.FindByReference(ctx, ref); err != nil {
		return nil, err
	}
	rows, err := s.ledger.GetByPayment(ctx, ref)
	if err != nil {
		return nil, err
	}
	changes, err := s.ledger.History(ctx, ref)
	if err != nil {
		return nil, err
	}

	byTransfer := make(map[uuid.UUID][]transfer.StatusChange, len(rows))
	for _, c := range changes {
		byTransfer[c.TransferID] = append(byTransfer[c.TransferID], c)
	}

	out := make([]TransferHistory, 0, len(rows))
	for i := range rows {
		history := byTransfer[rows[i].ID]
		if history == nil {
			history = []transfer.StatusChange{}
		}
		out = append(out, TransferHistory{
			TransferOutcome: outcomeFromRecord(&rows[i]),
			History:         history,
		})
	}
	return out, nil
}
