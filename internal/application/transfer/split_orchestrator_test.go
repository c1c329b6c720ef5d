package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/marshalcore/backend/internal/infrastructure/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	dg = transfer.RecipientDirectorGeneral
	ts = transfer.RecipientTechServices
)

func TestSplitOrchestrator_Process_AllRecipientsSucceed(t *testing.T) {
	ctx := context.Background()
	f := newSplitFixture(t)
	f.seedPayment(t, "PSK_001", 350000, 150000)

	res, err := f.orchestrator.Process(ctx, "PSK_001", 500000)
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, res.Status)
	assert.True(t, res.AllSuccessful)
	assert.True(t, res.Processed)
	assert.False(t, res.AlreadyProcessed)
	assert.Empty(t, res.Failed)
	require.Len(t, res.Transfers, 2)
	assert.Equal(t, dg, res.Transfers[0].RecipientType)
	assert.Equal(t, int64(350000), res.Transfers[0].Amount)
	assert.True(t, res.Transfers[0].Attempted)
	assert.Equal(t, ts, res.Transfers[1].RecipientType)
	assert.Equal(t, int64(150000), res.Transfers[1].Amount)

	rows := f.rows(t, "PSK_001")
	require.Len(t, rows, 2)
	for _, rt := range []transfer.RecipientType{dg, ts} {
		assert.Equal(t, transfer.StatusSuccess, rows[rt].Status, rt)
		assert.Equal(t, transfer.IdempotencyKey("PSK_001", rt, 1), rows[rt].IdempotencyKey)
		assert.Equal(t, "RCP_sim_"+string(rt), rows[rt].RecipientCode)
		assert.NotEmpty(t, rows[rt].GatewayCode)
		assert.NotNil(t, rows[rt].TransferredAt)
		assert.NotEmpty(t, rows[rt].RawResponse)
		assert.Equal(t, 1, f.gw.Executed(rt))
	}

	p := f.payment(t, "PSK_001")
	assert.True(t, p.Processed)
	assert.Equal(t, "card", p.Metadata["channel"])
	summary, ok := p.Metadata[transfer.SplitSummaryKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "5000.00", summary["total"])

	t.Run("retry afterwards is a no-op", func(t *testing.T) {
		again, err := f.retrier.RetryFailed(ctx, "PSK_001", transfer.RetryOptions{IncludeRejected: true})
		require.NoError(t, err)
		assert.True(t, again.AlreadyProcessed)
		assert.Equal(t, RunSuccess, again.Status)
		assert.Equal(t, 1, f.gw.Calls(gateway.OpInitiate, dg))
		assert.Equal(t, 1, f.gw.Calls(gateway.OpInitiate, ts))
	})

	t.Run("duplicate webhook is a no-op", func(t *testing.T) {
		again, err := f.orchestrator.Process(ctx, "PSK_001", 500000)
		require.NoError(t, err)
		assert.True(t, again.AlreadyProcessed)
		assert.Equal(t, 1, f.gw.Calls(gateway.OpInitiate, dg))
		assert.Equal(t, 1, f.gw.Calls(gateway.OpInitiate, ts))
	})
}

func TestSplitOrchestrator_Process_PartialFailureThenRetry(t *testing.T) {
	ctx := context.Background()
	f := newSplitFixture(t)
	f.seedPayment(t, "PSK_001", 350000, 150000)
	f.gw.FailNext(gateway.OpInitiate, ts, gateway.Fault{Kind: transfer.GatewayErrorNetwork})

	res, err := f.orchestrator.Process(ctx, "PSK_001", 500000)
	require.NoError(t, err)
	assert.Equal(t, RunPartial, res.Status)
	assert.False(t, res.AllSuccessful)
	assert.False(t, res.Processed)
	assert.Equal(t, []transfer.RecipientType{ts}, res.Failed)

	rows := f.rows(t, "PSK_001")
	assert.Equal(t, transfer.StatusSuccess, rows[dg].Status)
	assert.Equal(t, transfer.StatusFailed, rows[ts].Status)
	assert.Equal(t, transfer.FailureNetworkError, rows[ts].FailureReason)
	assert.NotNil(t, rows[ts].LastFailedAt)
	assert.False(t, f.payment(t, "PSK_001").Processed)

	res, err = f.retrier.RetryFailed(ctx, "PSK_001", transfer.RetryOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, res.Status)
	assert.True(t, res.Processed)

	rows = f.rows(t, "PSK_001")
	assert.Equal(t, transfer.StatusSuccess, rows[ts].Status)
	assert.Equal(t, 1, rows[ts].RetryCount)
	assert.Equal(t, 2, rows[ts].Attempt)
	assert.Equal(t, transfer.IdempotencyKey("PSK_001", ts, 2), rows[ts].IdempotencyKey)
	assert.NotNil(t, rows[ts].LastRetryAt)
	assert.True(t, f.payment(t, "PSK_001").Processed)

	// the director general transfer is never re-invoked
	assert.Equal(t, 1, f.gw.Calls(gateway.OpInitiate, dg))
	assert.Equal(t, 1, f.gw.Executed(dg))
	assert.Equal(t, 1, f.gw.Executed(ts))

	history, err := f.history.TransferHistory(ctx, "PSK_001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ts, history[1].RecipientType)
	assert.Equal(t, []transfer.TransferStatus{
		transfer.StatusPending,
		transfer.StatusFailed,
		transfer.StatusRetried,
		transfer.StatusSuccess,
	}, toStatuses(history[1].History))
}

func TestSplitOrchestrator_Process_RerunRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	f := newSplitFixture(t)
	f.seedPayment(t, "PSK_002", 700, 300)
	f.gw.FailNext(gateway.OpEnsureRecipient, dg, gateway.Fault{Kind: transfer.GatewayErrorTimeout})

	res, err := f.orchestrator.Process(ctx, "PSK_002", 1000)
	require.NoError(t, err)
	assert.Equal(t, RunPartial, res.Status)
	// no transfer was requested, so a registration timeout is a definite failure
	assert.Equal(t, transfer.StatusFailed, f.rows(t, "PSK_002")[dg].Status)
	assert.Equal(t, 0, f.gw.Calls(gateway.OpInitiate, dg))

	res, err = f.orchestrator.Process(ctx, "PSK_002", 1000)
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, res.Status)
	assert.Equal(t, 1, f.gw.Calls(gateway.OpInitiate, ts))
	assert.Equal(t, 1, f.gw.Executed(dg))
}

func TestSplitOrchestrator_Process_ZeroShareCreatesNoRow(t *testing.T) {
	ctx := context.Background()
	f := newSplitFixture(t)
	f.seedPayment(t, "PSK_003", 500000, 0)

	res, err := f.orchestrator.Process(ctx, "PSK_003", 500000)
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, res.Status)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, dg, res.Transfers[0].RecipientType)

	rows := f.rows(t, "PSK_003")
	assert.Len(t, rows, 1)
	_, ok := rows[ts]
	assert.False(t, ok)
	assert.Equal(t, 0, f.gw.Calls(gateway.OpInitiate, ts))
	assert.True(t, f.payment(t, "PSK_003").Processed)
}

func TestSplitOrchestrator_Process_ValidationErrors(t *testing.T) {
	ctx := context.Background()
	f := newSplitFixture(t)
	f.seedPayment(t, "PSK_004", 700, 300)

	tests := []struct {
		name    string
		ref     string
		amount  int64
		wantErr error
	}{
		{"unknown payment", "PSK_MISSING", 1000, transfer.ErrPaymentNotFound},
		{"amount mismatch", "PSK_004", 999, transfer.ErrAmountMismatch},
		{"non-positive amount", "PSK_004", 0, transfer.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.orchestrator.Process(ctx, tt.ref, tt.amount)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, f.rows(t, "PSK_004"))
}

func TestSplitOrchestrator_Process_ConcurrentCallersPayOnce(t *testing.T) {
	ctx := context.Background()
	f := newSplitFixture(t)
	f.seedPayment(t, "PSK_005", 350000, 150000)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    []error
		results []*SplitResult
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.orchestrator.Process(ctx, "PSK_005", 500000)
			mu.Lock()
			defer mu.Unlock()
			errs = append(errs, err)
			results = append(results, res)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	fresh := 0
	for _, res := range results {
		if res != nil && !res.AlreadyProcessed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, f.gw.Calls(gateway.OpInitiate, dg))
	assert.Equal(t, 1, f.gw.Calls(gateway.OpInitiate, ts))
	assert.Equal(t, 1, f.gw.Executed(dg))
	assert.Equal(t, 1, f.gw.Executed(ts))
}

func TestSplitOrchestrator_Process_TimeoutNeedsReconciliation(t *testing.T) {
	ctx := context.Background()

	t.Run("executed transfer is confirmed without a second call", func(t *testing.T) {
		f := newSplitFixture(t)
		f.seedPayment(t, "PSK_006", 350000, 150000)
		f.gw.FailNext(gateway.OpInitiate, ts, gateway.Fault{Kind: transfer.GatewayErrorTimeout, Executed: true})

		res, err := f.orchestrator.Process(ctx, "PSK_006", 500000)
		require.NoError(t, err)
		assert.Equal(t, RunPartial, res.Status)
		assert.Equal(t, []transfer.RecipientType{ts}, res.AwaitingReconciliation)
		assert.Empty(t, res.Failed)
		assert.Equal(t, transfer.StatusUnknown, f.rows(t, "PSK_006")[ts].Status)

		res, err = f.retrier.RetryFailed(ctx, "PSK_006", transfer.RetryOptions{})
		require.NoError(t, err)
		assert.Equal(t, RunSuccess, res.Status)
		assert.True(t, res.Transfers[1].Reconciled)
		assert.False(t, res.Transfers[1].Attempted)

		row := f.rows(t, "PSK_006")[ts]
		assert.Equal(t, transfer.StatusSuccess, row.Status)
		assert.Equal(t, 1, row.Attempt)
		assert.Equal(t, 0, row.RetryCount)
		assert.Equal(t, 1, f.gw.Calls(gateway.OpInitiate, ts))
		assert.Equal(t, 1, f.gw.Executed(ts))
	})

	t.Run("unseen transfer is re-issued with the same key", func(t *testing.T) {
		f := newSplitFixture(t)
		f.seedPayment(t, "PSK_007", 350000, 150000)
		f.gw.FailNext(gateway.OpInitiate, ts, gateway.Fault{Kind: transfer.GatewayErrorTimeout})

		_, err := f.orchestrator.Process(ctx, "PSK_007", 500000)
		require.NoError(t, err)
		key := f.rows(t, "PSK_007")[ts].IdempotencyKey

		res, err := f.retrier.RetryFailed(ctx, "PSK_007", transfer.RetryOptions{})
		require.NoError(t, err)
		assert.Equal(t, RunSuccess, res.Status)

		row := f.rows(t, "PSK_007")[ts]
		assert.Equal(t, key, row.IdempotencyKey)
		assert.Equal(t, 1, row.Attempt)
		assert.Equal(t, 2, f.gw.Calls(gateway.OpInitiate, ts))
		assert.Equal(t, 1, f.gw.Executed(ts))
	})

	t.Run("query failure leaves the row awaiting", func(t *testing.T) {
		f := newSplitFixture(t)
		f.seedPayment(t, "PSK_008", 350000, 150000)
		f.gw.FailNext(gateway.OpInitiate, ts, gateway.Fault{Kind: transfer.GatewayErrorTimeout, Executed: true})
		f.gw.FailNext(gateway.OpQuery, ts, gateway.Fault{Kind: transfer.GatewayErrorNetwork})

		_, err := f.orchestrator.Process(ctx, "PSK_008", 500000)
		require.NoError(t, err)

		res, err := f.retrier.RetryFailed(ctx, "PSK_008", transfer.RetryOptions{})
		require.NoError(t, err)
		assert.Equal(t, RunPartial, res.Status)
		assert.Equal(t, []transfer.RecipientType{ts}, res.AwaitingReconciliation)
		assert.Equal(t, transfer.StatusUnknown, f.rows(t, "PSK_008")[ts].Status)
		assert.Equal(t, 1, f.gw.Calls(gateway.OpInitiate, ts))
	})
}

func TestSplitOrchestrator_Process_PendingSettlement(t *testing.T) {
	ctx := context.Background()
	f := newSplitFixture(t)
	f.seedPayment(t, "PSK_009", 350000, 150000)
	f.gw.SetInitiateOutcome(ts, transfer.OutcomePending)

	res, err := f.orchestrator.Process(ctx, "PSK_009", 500000)
	require.NoError(t, err)
	assert.Equal(t, RunPartial, res.Status)
	assert.Equal(t, []transfer.RecipientType{ts}, res.AwaitingReconciliation)
	row := f.rows(t, "PSK_009")[ts]
	assert.Equal(t, transfer.StatusInitiated, row.Status)

	require.NoError(t, f.gw.Settle(row.IdempotencyKey, transfer.OutcomeSuccess))
	res, err = f.retrier.RetryFailed(ctx, "PSK_009", transfer.RetryOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, res.Status)
	assert.True(t, f.payment(t, "PSK_009").Processed)
	assert.Equal(t, 1, f.gw.Executed(ts))
}

var errSimulatedCrash = errors.New("simulated crash before commit")

// crashAfterGateway fails the first MarkResult for one recipient, as if the
// process died after the gateway call returned but before the commit
type crashAfterGateway struct {
	transfer.TransferLedger
	target transfer.RecipientType

	mu      sync.Mutex
	crashed bool
}

func (l *crashAfterGateway) MarkResult(ctx context.Context, id uuid.UUID, result transfer.TransferResult) (*transfer.TransferRecord, error) {
	rec, err := l.TransferLedger.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	crash := rec.RecipientType == l.target && !l.crashed
	l.crashed = l.crashed || crash
	l.mu.Unlock()
	if crash {
		return nil, errSimulatedCrash
	}
	return l.TransferLedger.MarkResult(ctx, id, result)
}

func TestSplitOrchestrator_Process_CrashBeforeCommitIsReconciled(t *testing.T) {
	ctx := context.Background()
	f := newSplitFixture(t)
	f.seedPayment(t, "PSK_010", 350000, 150000)

	crashing := &crashAfterGateway{TransferLedger: f.ledger, target: ts}
	cfg := f.config
	cfg.Ledger = crashing
	orchestrator := NewSplitOrchestrator(cfg)

	_, err := orchestrator.Process(ctx, "PSK_010", 500000)
	require.Error(t, err)
	assert.ErrorIs(t, err, errSimulatedCrash)

	rows := f.rows(t, "PSK_010")
	assert.Equal(t, transfer.StatusSuccess, rows[dg].Status)
	assert.Equal(t, transfer.StatusPending, rows[ts].Status)
	assert.True(t, rows[ts].Status.NeedsReconciliation())
	assert.Equal(t, 1, f.gw.Executed(ts))
	assert.False(t, f.payment(t, "PSK_010").Processed)

	res, err := f.retrier.RetryFailed(ctx, "PSK_010", transfer.RetryOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, res.Status)
	assert.True(t, res.Processed)

	row := f.rows(t, "PSK_010")[ts]
	assert.Equal(t, transfer.StatusSuccess, row.Status)
	assert.Equal(t, 1, row.Attempt)
	assert.Equal(t, 1, f.gw.Calls(gateway.OpInitiate, ts))
	assert.Equal(t, 1, f.gw.Executed(ts))

	history, err := f.history.TransferHistory(ctx, "PSK_010")
	require.NoError(t, err)
	assert.Equal(t, []transfer.TransferStatus{
		transfer.StatusPending,
		transfer.StatusInitiated,
		transfer.StatusSuccess,
	}, toStatuses(history[1].History))
}
