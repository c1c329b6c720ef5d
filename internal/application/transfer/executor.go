package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marshalcore/backend/internal/domain/transfer"
	applogger "github.com/marshalcore/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// passNote records what a run did to one recipient
type passNote struct {
	attempted  bool
	reconciled bool
	skip       transfer.RetrySkipReason
}

// executor moves a single recipient's ledger row forward through the gateway.
// Callers must hold the payment lock. Every gateway outcome is committed to the
// ledger before the next recipient is touched.
type executor struct {
	ledger  transfer.TransferLedger
	gateway transfer.GatewayClient
	policy  transfer.RetryPolicy
	metrics Metrics
	logger  *zap.Logger
	now     func() time.Time
	memo    string
}

// start creates the PENDING row for a recipient and makes the first attempt
func (e *executor) start(ctx context.Context, payment *transfer.PaymentRecord, rt transfer.RecipientType, desc transfer.RecipientDescriptor) (passNote, error) {
	rec, err := transfer.NewTransferRecord(payment.Reference, rt, payment.ShareFor(rt), desc, e.now())
	if err != nil {
		return passNote{}, err
	}
	if err := e.ledger.CreatePending(ctx, rec); err != nil {
		return passNote{}, fmt.Errorf("create pending transfer for %s: %w", rt, err)
	}
	e.log(ctx, rec).Info("Transfer recorded as pending", applogger.IdempotencyKey(rec.IdempotencyKey))
	return e.initiate(ctx, rec)
}

// drive advances an existing row according to its status
func (e *executor) drive(ctx context.Context, rec *transfer.TransferRecord, opts transfer.RetryOptions) (passNote, error) {
	switch {
	case rec.Status == transfer.StatusSuccess:
		return passNote{}, nil
	case rec.Status.NeedsReconciliation():
		return e.reconcile(ctx, rec)
	case rec.Status == transfer.StatusFailed:
		return e.retry(ctx, rec, opts)
	default:
		return passNote{}, fmt.Errorf("%w: unexpected status %q for transfer %s", transfer.ErrInvariantViolation, rec.Status, rec.ID)
	}
}

// reconcile asks the gateway what happened to the current attempt key.
// A key the gateway never saw is re-issued unchanged.
func (e *executor) reconcile(ctx context.Context, rec *transfer.TransferRecord) (passNote, error) {
	log := e.log(ctx, rec)
	started := time.Now()
	q, err := e.gateway.QueryTransfer(ctx, rec.IdempotencyKey)
	e.metrics.RecordGatewayCall(ctx, opQuery, time.Since(started))
	if err != nil {
		log.Warn("Reconciliation query failed, transfer left awaiting reconciliation", zap.Error(err))
		return passNote{reconciled: true}, nil
	}

	var result transfer.TransferResult
	switch q.Outcome {
	case transfer.OutcomeNotFound:
		log.Info("Gateway has no transfer for attempt key, re-issuing it",
			applogger.IdempotencyKey(rec.IdempotencyKey))
		return e.initiate(ctx, rec)
	case transfer.OutcomeSuccess:
		result = transfer.TransferResult{Status: transfer.StatusSuccess}
	case transfer.OutcomeFailed:
		result = transfer.TransferResult{
			Status:         transfer.StatusFailed,
			FailureReason:  transfer.FailureGatewayReported,
			FailureMessage: q.Reason,
		}
	case transfer.OutcomePending:
		result = transfer.TransferResult{Status: transfer.StatusInitiated}
	default:
		result = transfer.TransferResult{Status: transfer.StatusUnknown, FailureMessage: q.Reason}
	}
	result.GatewayReference = q.Reference
	result.GatewayCode = q.TransferCode
	result.RawRequest = queryRequest(rec.IdempotencyKey)
	result.RawResponse = q.RawResponse

	if _, err := e.apply(ctx, rec, result); err != nil {
		return passNote{}, err
	}
	return passNote{reconciled: true}, nil
}

// retry starts a new attempt for a FAILED row when the policy allows it
func (e *executor) retry(ctx context.Context, rec *transfer.TransferRecord, opts transfer.RetryOptions) (passNote, error) {
	log := e.log(ctx, rec)
	if skip := e.policy.Evaluate(rec, e.now(), opts); skip != transfer.RetrySkipNone {
		log.Info("Retry skipped",
			zap.String("skip_reason", string(skip)),
			zap.Int("retry_count", rec.RetryCount),
			zap.String("failure_reason", string(rec.FailureReason)))
		return passNote{skip: skip}, nil
	}

	if rec.FailureReason == transfer.FailureRecipientRejected {
		if err := e.gateway.InvalidateRecipientHandle(ctx, rec.RecipientType); err != nil {
			log.Warn("Failed to invalidate recipient handle", zap.Error(err))
		}
	}

	retried, err := e.ledger.MarkRetried(ctx, rec.ID)
	if err != nil {
		return passNote{}, fmt.Errorf("mark transfer %s retried: %w", rec.ID, err)
	}
	log.Info("Transfer retry started",
		applogger.Attempt(retried.Attempt),
		applogger.IdempotencyKey(retried.IdempotencyKey))
	return e.initiate(ctx, retried)
}

// initiate calls the gateway with the row's current attempt key and commits the outcome
func (e *executor) initiate(ctx context.Context, rec *transfer.TransferRecord) (passNote, error) {
	note := passNote{attempted: true}

	handle, err := e.ensureHandle(ctx, rec.RecipientType)
	if err != nil {
		failed := handleFailure(err)
		failed.RawRequest = recipientRequest(rec)
		updated, applyErr := e.apply(ctx, rec, failed)
		if applyErr != nil {
			return note, applyErr
		}
		e.metrics.RecordAttempt(ctx, string(rec.RecipientType), string(updated.Status))
		return note, nil
	}

	req := transfer.TransferRequest{
		Handle:         handle,
		Amount:         rec.Amount,
		Currency:       rec.Recipient.Currency,
		IdempotencyKey: rec.IdempotencyKey,
		Reason:         e.memo,
	}
	started := time.Now()
	th, err := e.gateway.InitiateTransfer(ctx, req)
	e.metrics.RecordGatewayCall(ctx, opInitiate, time.Since(started))

	result := initiateResult(th, err)
	result.RecipientCode = handle.Code
	result.RawRequest = transferRequest(req)
	updated, err := e.apply(ctx, rec, result)
	if err != nil {
		return note, err
	}
	e.metrics.RecordAttempt(ctx, string(rec.RecipientType), string(updated.Status))
	return note, nil
}

func (e *executor) ensureHandle(ctx context.Context, rt transfer.RecipientType) (transfer.RecipientHandle, error) {
	started := time.Now()
	defer func() { e.metrics.RecordGatewayCall(ctx, opEnsureRecipient, time.Since(started)) }()
	return e.gateway.EnsureRecipientHandle(ctx, rt)
}

// apply commits a result. The ledger only accepts SUCCESS from an in-flight
// state, so a PENDING row is moved to INITIATED first.
func (e *executor) apply(ctx context.Context, rec *transfer.TransferRecord, result transfer.TransferResult) (*transfer.TransferRecord, error) {
	if rec.Status == result.Status {
		return rec, nil
	}

	current := rec
	if rec.Status == transfer.StatusPending && result.Status == transfer.StatusSuccess {
		step := result
		step.Status = transfer.StatusInitiated
		updated, err := e.mark(ctx, current, step)
		if err != nil {
			return nil, err
		}
		current = updated
	}
	return e.mark(ctx, current, result)
}

func (e *executor) mark(ctx context.Context, rec *transfer.TransferRecord, result transfer.TransferResult) (*transfer.TransferRecord, error) {
	log := e.log(ctx, rec)
	updated, err := e.ledger.MarkResult(ctx, rec.ID, result)
	if err != nil {
		if transfer.IsInvariantViolation(err) {
			log.Error("Ledger refused status change",
				zap.String("from", string(rec.Status)),
				zap.String("to", string(result.Status)),
				zap.Error(err))
		}
		return nil, fmt.Errorf("record %s for transfer %s: %w", result.Status, rec.ID, err)
	}

	fields := []zap.Field{
		zap.String("from", string(rec.Status)),
		applogger.Status(updated.Status),
	}
	if updated.FailureReason != transfer.FailureNone {
		fields = append(fields, zap.String("failure_reason", string(updated.FailureReason)))
	}
	if updated.FailureMessage != "" {
		fields = append(fields, zap.String("failure_message", updated.FailureMessage))
	}
	log.Info("Transfer status changed", fields...)
	return updated, nil
}

func (e *executor) log(ctx context.Context, rec *transfer.TransferRecord) *zap.Logger {
	return applogger.FromContext(ctx, e.logger).With(
		applogger.PaymentReference(rec.PaymentReference),
		applogger.RecipientType(rec.RecipientType),
		applogger.TransferID(rec.ID),
	)
}

// handleFailure maps a recipient registration error to a FAILED result.
// No transfer was requested, so even a timeout is a definite failure.
func handleFailure(err error) transfer.TransferResult {
	result := transfer.TransferResult{
		Status:         transfer.StatusFailed,
		FailureReason:  transfer.FailureNetworkError,
		FailureMessage: err.Error(),
	}
	if gwErr, ok := transfer.AsGatewayError(err); ok {
		if reason := transfer.FailureReasonFor(gwErr.Kind); reason != transfer.FailureNone {
			result.FailureReason = reason
		}
		result.RawResponse = gwErr.Raw
	}
	return result
}

// initiateResult maps a gateway answer to the ledger status it implies
func initiateResult(th *transfer.TransferHandle, err error) transfer.TransferResult {
	if err != nil {
		gwErr, ok := transfer.AsGatewayError(err)
		if !ok || gwErr.OutcomeUnknown() {
			result := transfer.TransferResult{Status: transfer.StatusUnknown, FailureMessage: err.Error()}
			if ok {
				result.RawResponse = gwErr.Raw
			}
			return result
		}
		return transfer.TransferResult{
			Status:         transfer.StatusFailed,
			FailureReason:  transfer.FailureReasonFor(gwErr.Kind),
			FailureMessage: err.Error(),
			RawResponse:    gwErr.Raw,
		}
	}

	result := transfer.TransferResult{
		GatewayReference: th.Reference,
		GatewayCode:      th.TransferCode,
		RawResponse:      th.RawResponse,
	}
	switch th.Outcome {
	case transfer.OutcomeSuccess:
		result.Status = transfer.StatusSuccess
	case transfer.OutcomePending:
		result.Status = transfer.StatusInitiated
	case transfer.OutcomeFailed:
		result.Status = transfer.StatusFailed
		result.FailureReason = transfer.FailureGatewayReported
		result.FailureMessage = th.Message
	default:
		result.Status = transfer.StatusUnknown
		result.FailureMessage = th.Message
	}
	return result
}

// gatewayRequest is what the ledger keeps of the call behind a status change
type gatewayRequest struct {
	Operation     string `json:"operation"`
	RecipientType string `json:"recipient_type,omitempty"`
	RecipientCode string `json:"recipient_code,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Reference     string `json:"reference,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func transferRequest(req transfer.TransferRequest) []byte {
	return marshalRequest(gatewayRequest{
		Operation:     opInitiate,
		RecipientType: string(req.Handle.RecipientType),
		RecipientCode: req.Handle.Code,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Reference:     req.IdempotencyKey,
		Reason:        req.Reason,
	})
}

func recipientRequest(rec *transfer.TransferRecord) []byte {
	return marshalRequest(gatewayRequest{
		Operation:     opEnsureRecipient,
		RecipientType: string(rec.RecipientType),
		AccountName:   rec.Recipient.AccountName,
		AccountNumber: rec.Recipient.AccountNumber,
		BankCode:      rec.Recipient.BankCode,
		Currency:      rec.Recipient.Currency,
	})
}

func queryRequest(reference string) []byte {
	return marshalRequest(gatewayRequest{Operation: opQuery, Reference: reference})
}

func marshalRequest(r gatewayRequest) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}
