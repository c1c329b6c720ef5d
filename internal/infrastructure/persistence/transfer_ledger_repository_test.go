package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRecipient = transfer.RecipientDescriptor{
	AccountName:   "Director General",
	AccountNumber: "0123456789",
	BankCode:      "058",
	Currency:      "NGN",
}

func newPendingRecord(t *testing.T, ref string, rt transfer.RecipientType, amount int64, now time.Time) *transfer.TransferRecord {
	t.Helper()
	rec, err := transfer.NewTransferRecord(ref, rt, amount, testRecipient, now)
	require.NoError(t, err)
	return rec
}

func TestGormTransferLedger_CreatePending(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("inserts record and history", func(t *testing.T) {
		ledger := NewGormTransferLedger(newSQLiteDB(t)).WithClock(func() time.Time { return now })
		rec := newPendingRecord(t, "PSK_001", transfer.RecipientDirectorGeneral, 600, now)

		require.NoError(t, ledger.CreatePending(ctx, rec))

		records, err := ledger.GetByPayment(ctx, "PSK_001")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, rec.ID, records[0].ID)
		assert.Equal(t, transfer.StatusPending, records[0].Status)
		assert.Equal(t, 1, records[0].Attempt)
		assert.Equal(t, rec.IdempotencyKey, records[0].IdempotencyKey)
		assert.Equal(t, testRecipient, records[0].Recipient)

		history, err := ledger.History(ctx, "PSK_001")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, transfer.TransferStatus(""), history[0].FromStatus)
		assert.Equal(t, transfer.StatusPending, history[0].ToStatus)
	})

	t.Run("rejects a second record for the same recipient", func(t *testing.T) {
		ledger := NewGormTransferLedger(newSQLiteDB(t))
		require.NoError(t, ledger.CreatePending(ctx, newPendingRecord(t, "PSK_001", transfer.RecipientTechServices, 400, now)))

		err := ledger.CreatePending(ctx, newPendingRecord(t, "PSK_001", transfer.RecipientTechServices, 400, now))
		assert.ErrorIs(t, err, transfer.ErrDuplicateAttempt)

		records, err := ledger.GetByPayment(ctx, "PSK_001")
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("rejects a record that is not pending", func(t *testing.T) {
		ledger := NewGormTransferLedger(newSQLiteDB(t))
		rec := newPendingRecord(t, "PSK_002", transfer.RecipientTechServices, 400, now)
		rec.Status = transfer.StatusSuccess

		err := ledger.CreatePending(ctx, rec)
		assert.ErrorIs(t, err, transfer.ErrIllegalTransition)
	})

	t.Run("concurrent creators produce one row", func(t *testing.T) {
		ledger := NewGormTransferLedger(newSQLiteDB(t))

		const workers = 8
		records := make([]*transfer.TransferRecord, workers)
		for i := range records {
			records[i] = newPendingRecord(t, "PSK_003", transfer.RecipientDirectorGeneral, 600, now)
		}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for _, rec := range records {
			wg.Add(1)
			go func(rec *transfer.TransferRecord) {
				defer wg.Done()
				err := ledger.CreatePending(ctx, rec)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}(rec)
		}
		wg.Wait()

		created := 0
		for _, err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.ErrorIs(t, err, transfer.ErrDuplicateAttempt)
		}
		assert.Equal(t, 1, created)
	})
}

func TestGormTransferLedger_MarkResult(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := start
	ledger := NewGormTransferLedger(newSQLiteDB(t)).WithClock(func() time.Time { return clock })

	rec := newPendingRecord(t, "PSK_001", transfer.RecipientDirectorGeneral, 600, start)
	require.NoError(t, ledger.CreatePending(ctx, rec))

	clock = start.Add(time.Second)
	initiated, err := ledger.MarkResult(ctx, rec.ID, transfer.TransferResult{
		Status:        transfer.StatusInitiated,
		RecipientCode: "RCP_dg",
		GatewayCode:   "TRF_1",
		RawRequest:    []byte(`{"operation":"initiate","amount":600}`),
		RawResponse:   []byte(`{"status":"pending"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusInitiated, initiated.Status)
	assert.Equal(t, "RCP_dg", initiated.RecipientCode)

	clock = start.Add(2 * time.Second)
	done, err := ledger.MarkResult(ctx, rec.ID, transfer.TransferResult{
		Status:      transfer.StatusSuccess,
		RawResponse: []byte(`{"status":"success"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusSuccess, done.Status)
	require.NotNil(t, done.TransferredAt)

	stored, err := ledger.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusSuccess, stored.Status)
	assert.Equal(t, "TRF_1", stored.GatewayCode)
	assert.Equal(t, "RCP_dg", stored.RecipientCode)
	assert.JSONEq(t, `{"status":"success"}`, string(stored.RawResponse))
	assert.True(t, stored.UpdatedAt.Equal(clock))

	t.Run("successful record is immutable", func(t *testing.T) {
		_, err := ledger.MarkResult(ctx, rec.ID, transfer.TransferResult{
			Status:        transfer.StatusFailed,
			FailureReason: transfer.FailureTransferRejected,
		})
		assert.ErrorIs(t, err, transfer.ErrTransferImmutable)
		assert.True(t, transfer.IsInvariantViolation(err))

		stored, err := ledger.FindByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, transfer.StatusSuccess, stored.Status)
	})

	t.Run("history records every change in order", func(t *testing.T) {
		history, err := ledger.History(ctx, "PSK_001")
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, transfer.StatusPending, history[0].ToStatus)
		assert.Equal(t, transfer.StatusPending, history[1].FromStatus)
		assert.Equal(t, transfer.StatusInitiated, history[1].ToStatus)
		assert.Equal(t, transfer.StatusInitiated, history[2].FromStatus)
		assert.Equal(t, transfer.StatusSuccess, history[2].ToStatus)

		assert.Empty(t, history[0].Request)
		assert.JSONEq(t, `{"operation":"initiate","amount":600}`, string(history[1].Request))
		assert.JSONEq(t, `{"status":"pending"}`, string(history[1].Response))
	})

	t.Run("non-JSON gateway body is wrapped", func(t *testing.T) {
		other := newPendingRecord(t, "PSK_HTML", transfer.RecipientTechServices, 400, start)
		require.NoError(t, ledger.CreatePending(ctx, other))

		_, err := ledger.MarkResult(ctx, other.ID, transfer.TransferResult{
			Status:      transfer.StatusUnknown,
			RawResponse: []byte("<html>502 Bad Gateway</html>"),
		})
		require.NoError(t, err)

		stored, err := ledger.FindByID(ctx, other.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"raw":"<html>502 Bad Gateway</html>"}`, string(stored.RawResponse))
	})

	t.Run("unknown transfer", func(t *testing.T) {
		_, err := ledger.MarkResult(ctx, uuid.New(), transfer.TransferResult{Status: transfer.StatusInitiated})
		assert.ErrorIs(t, err, transfer.ErrTransferNotFound)

		_, err = ledger.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, transfer.ErrTransferNotFound)
	})
}

func TestGormTransferLedger_MarkRetried(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := NewGormTransferLedger(newSQLiteDB(t)).WithClock(func() time.Time { return now })

	rec := newPendingRecord(t, "PSK_001", transfer.RecipientTechServices, 400, now)
	require.NoError(t, ledger.CreatePending(ctx, rec))

	_, err := ledger.MarkResult(ctx, rec.ID, transfer.TransferResult{
		Status:         transfer.StatusFailed,
		FailureReason:  transfer.FailureNetworkError,
		FailureMessage: "connection refused",
	})
	require.NoError(t, err)

	retried, err := ledger.MarkRetried(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusRetried, retried.Status)
	assert.Equal(t, 2, retried.Attempt)
	assert.Equal(t, 1, retried.RetryCount)
	assert.NotEqual(t, rec.IdempotencyKey, retried.IdempotencyKey)
	assert.Equal(t, transfer.IdempotencyKey("PSK_001", transfer.RecipientTechServices, 2), retried.IdempotencyKey)

	stored, err := ledger.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, retried.IdempotencyKey, stored.IdempotencyKey)
	assert.Empty(t, stored.FailureReason)
	require.NotNil(t, stored.LastRetryAt)

	history, err := ledger.History(ctx, "PSK_001")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, transfer.StatusRetried, history[2].ToStatus)
	assert.Equal(t, string(transfer.FailureNetworkError), history[2].Reason)
	assert.Equal(t, 2, history[2].Attempt)

	t.Run("retried record cannot be retried again", func(t *testing.T) {
		_, err := ledger.MarkRetried(ctx, rec.ID)
		assert.ErrorIs(t, err, transfer.ErrIllegalTransition)
	})
}

func TestGormTransferLedger_MarkRetried_UnknownNeedsReconciliation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := NewGormTransferLedger(newSQLiteDB(t))

	rec := newPendingRecord(t, "PSK_001", transfer.RecipientTechServices, 400, now)
	require.NoError(t, ledger.CreatePending(ctx, rec))
	_, err := ledger.MarkResult(ctx, rec.ID, transfer.TransferResult{Status: transfer.StatusUnknown})
	require.NoError(t, err)

	_, err = ledger.MarkRetried(ctx, rec.ID)
	assert.ErrorIs(t, err, transfer.ErrReconciliationRequired)

	stored, err := ledger.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusUnknown, stored.Status)
	assert.Equal(t, 1, stored.Attempt)
}

func TestGormTransferLedger_GetNonTerminal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := NewGormTransferLedger(newSQLiteDB(t))

	dg := newPendingRecord(t, "PSK_001", transfer.RecipientDirectorGeneral, 600, now)
	ts := newPendingRecord(t, "PSK_001", transfer.RecipientTechServices, 400, now)
	require.NoError(t, ledger.CreatePending(ctx, dg))
	require.NoError(t, ledger.CreatePending(ctx, ts))

	_, err := ledger.MarkResult(ctx, dg.ID, transfer.TransferResult{Status: transfer.StatusInitiated})
	require.NoError(t, err)
	_, err = ledger.MarkResult(ctx, dg.ID, transfer.TransferResult{Status: transfer.StatusSuccess})
	require.NoError(t, err)

	open, err := ledger.GetNonTerminal(ctx, "PSK_001")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, transfer.RecipientTechServices, open[0].RecipientType)

	all, err := ledger.GetByPayment(ctx, "PSK_001")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, transfer.RecipientDirectorGeneral, all[0].RecipientType)

	none, err := ledger.GetByPayment(ctx, "PSK_404")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormTransferLedger_PaymentsNeedingAttention(t *testing.T) {
	ctx := context.Background()
	old := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	recent := old.Add(time.Hour)
	ledger := NewGormTransferLedger(newSQLiteDB(t)).WithClock(func() time.Time { return recent })

	stale := newPendingRecord(t, "PSK_STALE", transfer.RecipientDirectorGeneral, 600, old)
	fresh := newPendingRecord(t, "PSK_FRESH", transfer.RecipientDirectorGeneral, 600, recent)
	done := newPendingRecord(t, "PSK_DONE", transfer.RecipientDirectorGeneral, 600, old)
	for _, rec := range []*transfer.TransferRecord{stale, fresh, done} {
		require.NoError(t, ledger.CreatePending(ctx, rec))
	}

	// settle PSK_DONE with a clock that keeps it old
	oldLedger := ledger.WithClock(func() time.Time { return old })
	_, err := oldLedger.MarkResult(ctx, done.ID, transfer.TransferResult{Status: transfer.StatusInitiated})
	require.NoError(t, err)
	_, err = oldLedger.MarkResult(ctx, done.ID, transfer.TransferResult{Status: transfer.StatusSuccess})
	require.NoError(t, err)

	refs, err := ledger.PaymentsNeedingAttention(ctx, transfer.AttentionQuery{UpdatedBefore: old.Add(30 * time.Minute), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"PSK_STALE"}, refs)

	refs, err = ledger.PaymentsNeedingAttention(ctx, transfer.AttentionQuery{UpdatedBefore: recent.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"PSK_STALE", "PSK_FRESH"}, refs, "least recently updated first")
}

func TestGormTransferLedger_PaymentsNeedingAttentionSkipsOperatorRows(t *testing.T) {
	ctx := context.Background()
	old := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := NewGormTransferLedger(newSQLiteDB(t)).WithClock(func() time.Time { return old })
	networkFailure := transfer.TransferResult{Status: transfer.StatusFailed, FailureReason: transfer.FailureNetworkError}

	rejected := newPendingRecord(t, "PSK_A_REJECTED", transfer.RecipientTechServices, 400, old)
	exhausted := newPendingRecord(t, "PSK_B_EXHAUSTED", transfer.RecipientTechServices, 400, old)
	retryable := newPendingRecord(t, "PSK_C_RETRYABLE", transfer.RecipientTechServices, 400, old)
	unknown := newPendingRecord(t, "PSK_D_UNKNOWN", transfer.RecipientTechServices, 400, old)
	for _, rec := range []*transfer.TransferRecord{rejected, exhausted, retryable, unknown} {
		require.NoError(t, ledger.CreatePending(ctx, rec))
	}

	_, err := ledger.MarkResult(ctx, rejected.ID, transfer.TransferResult{
		Status:        transfer.StatusFailed,
		FailureReason: transfer.FailureRecipientRejected,
	})
	require.NoError(t, err)
	_, err = ledger.MarkResult(ctx, exhausted.ID, networkFailure)
	require.NoError(t, err)
	_, err = ledger.MarkRetried(ctx, exhausted.ID)
	require.NoError(t, err)
	_, err = ledger.MarkResult(ctx, exhausted.ID, networkFailure)
	require.NoError(t, err)
	_, err = ledger.MarkResult(ctx, retryable.ID, networkFailure)
	require.NoError(t, err)
	_, err = ledger.MarkResult(ctx, unknown.ID, transfer.TransferResult{Status: transfer.StatusUnknown})
	require.NoError(t, err)

	refs, err := ledger.PaymentsNeedingAttention(ctx, transfer.AttentionQuery{
		UpdatedBefore: old.Add(time.Minute),
		MaxRetries:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"PSK_C_RETRYABLE", "PSK_D_UNKNOWN"}, refs)

	// a rejected row ahead in order does not take the only slot
	refs, err = ledger.PaymentsNeedingAttention(ctx, transfer.AttentionQuery{
		UpdatedBefore: old.Add(time.Minute),
		MaxRetries:    1,
		Limit:         1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"PSK_C_RETRYABLE"}, refs)
}
