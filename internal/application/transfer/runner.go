package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marshalcore/backend/internal/domain/transfer"
	applogger "github.com/marshalcore/backend/internal/infrastructure/logger"
	"github.com/marshalcore/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultTransferMemo is sent as the transfer reason when none is configured
const DefaultTransferMemo = "Immediate payment split"

// Config holds the collaborators shared by SplitOrchestrator and RetryCoordinator
type Config struct {
	Directory transfer.RecipientDirectory
	Payments  transfer.PaymentRepository
	Ledger    transfer.TransferLedger
	Gateway   transfer.GatewayClient
	Locker    transfer.PaymentLocker
	Policy    transfer.RetryPolicy
	Metrics   Metrics
	Logger    *zap.Logger
	// Memo is the transfer reason sent to the gateway
	Memo string
	// Now overrides the clock, for tests
	Now func() time.Time
}

// passOptions tunes one run over a payment's recipients
type passOptions struct {
	// createMissing starts a first attempt for recipients without a ledger row
	createMissing bool
	retry         transfer.RetryOptions
}

// runner holds the run loop shared by the orchestrator and the retry coordinator
type runner struct {
	directory transfer.RecipientDirectory
	payments  transfer.PaymentRepository
	ledger    transfer.TransferLedger
	locker    transfer.PaymentLocker
	exec      *executor
	metrics   Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func newRunner(cfg Config) *runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	memo := cfg.Memo
	if memo == "" {
		memo = DefaultTransferMemo
	}
	return &runner{
		directory: cfg.Directory,
		payments:  cfg.Payments,
		ledger:    cfg.Ledger,
		locker:    cfg.Locker,
		metrics:   metrics,
		logger:    logger,
		now:       now,
		exec: &executor{
			ledger:  cfg.Ledger,
			gateway: cfg.Gateway,
			policy:  cfg.Policy,
			metrics: metrics,
			logger:  logger,
			now:     now,
			memo:    memo,
		},
	}
}

// run serializes on the payment lock, drives every payable recipient once and
// flips the processed flag when all of them are SUCCESS
func (r *runner) run(
	ctx context.Context,
	method, ref string,
	validate func(*transfer.PaymentRecord) error,
	opts passOptions,
) (*SplitResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "split", method,
		telemetry.WithAttributes(attribute.String("payment_reference", ref)))
	defer span.End()
	log := applogger.FromContext(ctx, r.logger).With(applogger.PaymentReference(ref), zap.String("run", method))

	unlock, err := r.locker.Lock(ctx, ref)
	if err != nil {
		log.Warn("Payment lock not acquired", zap.Error(err))
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer unlock()

	payment, err := r.payments.FindByReference(ctx, ref)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if payment.Processed {
		log.Info("Payment already processed, nothing to do")
		res, _, err := r.collect(ctx, payment, nil)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		res.AlreadyProcessed = true
		res.Processed = true
		r.metrics.RecordPaymentProcessed(ctx, "already_processed")
		return res, nil
	}

	if err := validate(payment); err != nil {
		log.Warn("Payment rejected for split", zap.Error(err))
		telemetry.RecordError(span, err)
		return nil, err
	}

	notes, err := r.pass(ctx, payment, opts)
	if err != nil {
		r.abort(ctx, log, err)
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("split %s aborted: %w", ref, err)
	}

	res, records, err := r.collect(ctx, payment, notes)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if res.AllSuccessful {
		summary := transfer.BuildSplitSummary(records, r.now())
		if err := r.payments.MarkProcessed(ctx, ref, summary.Metadata()); err != nil {
			log.Error("Failed to mark payment processed", zap.Error(err))
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("mark payment %s processed: %w", ref, err)
		}
		res.Processed = true
	}

	span.SetAttributes(attribute.String("split.status", string(res.Status)))
	telemetry.SetOK(span)
	r.metrics.RecordPaymentProcessed(ctx, string(res.Status))
	log.Info("Split run finished",
		zap.String("status", string(res.Status)),
		zap.Bool("processed", res.Processed),
		zap.Int("failed", len(res.Failed)),
		zap.Int("awaiting_reconciliation", len(res.AwaitingReconciliation)))
	return res, nil
}

// pass drives each payable recipient in processing order. A gateway failure
// for one recipient never stops the others; a ledger error stops the pass.
func (r *runner) pass(ctx context.Context, payment *transfer.PaymentRecord, opts passOptions) (map[transfer.RecipientType]passNote, error) {
	var (
		rows []transfer.TransferRecord
		err  error
	)
	if opts.createMissing {
		rows, err = r.ledger.GetByPayment(ctx, payment.Reference)
	} else {
		rows, err = r.ledger.GetNonTerminal(ctx, payment.Reference)
	}
	if err != nil {
		return nil, err
	}
	byType := indexByRecipient(rows)

	notes := make(map[transfer.RecipientType]passNote)
	for _, rt := range payment.PayableRecipients(r.directory) {
		var note passNote
		rec, ok := byType[rt]
		switch {
		case ok:
			note, err = r.exec.drive(ctx, rec, opts.retry)
		case opts.createMissing:
			desc, descErr := r.directory.Descriptor(rt)
			if descErr != nil {
				return nil, descErr
			}
			note, err = r.exec.start(ctx, payment, rt, desc)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		notes[rt] = note
	}
	return notes, nil
}

// collect reloads the ledger and builds the result for every payable recipient
func (r *runner) collect(ctx context.Context, payment *transfer.PaymentRecord, notes map[transfer.RecipientType]passNote) (*SplitResult, []transfer.TransferRecord, error) {
	rows, err := r.ledger.GetByPayment(ctx, payment.Reference)
	if err != nil {
		return nil, nil, err
	}
	byType := indexByRecipient(rows)

	payable := payment.PayableRecipients(r.directory)
	outcomes := make([]TransferOutcome, 0, len(payable))
	for _, rt := range payable {
		var o TransferOutcome
		if rec, ok := byType[rt]; ok {
			o = outcomeFromRecord(rec)
		} else {
			o = TransferOutcome{RecipientType: rt, Amount: payment.ShareFor(rt)}
		}
		if note, ok := notes[rt]; ok {
			o.Attempted = note.attempted
			o.Reconciled = note.reconciled
			o.SkipReason = note.skip
		}
		outcomes = append(outcomes, o)
	}
	return aggregate(payment.Reference, outcomes), rows, nil
}

func (r *runner) abort(ctx context.Context, log *zap.Logger, err error) {
	r.metrics.RecordPaymentProcessed(ctx, "aborted")
	switch {
	case transfer.IsInvariantViolation(err):
		log.Error("Ledger invariant violated, aborting split run", zap.Error(err))
	case errors.Is(err, transfer.ErrDuplicateAttempt):
		log.Error("Concurrent split run detected, aborting", zap.Error(err))
	default:
		log.Error("Split run aborted", zap.Error(err))
	}
}

func indexByRecipient(rows []transfer.TransferRecord) map[transfer.RecipientType]*transfer.TransferRecord {
	byType := make(map[transfer.RecipientType]*transfer.TransferRecord, len(rows))
	for i := range rows {
		byType[rows[i].RecipientType] = &rows[i]
	}
	return byType
}
