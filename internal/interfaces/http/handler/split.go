package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	apptransfer "github.com/marshalcore/backend/internal/application/transfer"
	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/marshalcore/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// HistoryReader returns the transfers of a payment with their status history
type HistoryReader interface {
	TransferHistory(ctx context.Context, ref string) ([]apptransfer.TransferHistory, error)
}

// BackgroundDispatcher hands split runs to a background worker
type BackgroundDispatcher interface {
	DispatchProcess(ctx context.Context, ref string, amount int64) error
	DispatchRetry(ctx context.Context, ref string, opts transfer.RetryOptions) error
}

// SplitHandler serves the payment split endpoints
type SplitHandler struct {
	BaseHandler
	processor  apptransfer.SplitProcessor
	retrier    apptransfer.FailedTransferRetrier
	history    HistoryReader
	dispatcher BackgroundDispatcher
	runTimeout time.Duration
}

// SplitHandlerOption configures a SplitHandler
type SplitHandlerOption func(*SplitHandler)

// WithRunTimeout bounds synchronous split and retry runs
func WithRunTimeout(d time.Duration) SplitHandlerOption {
	return func(h *SplitHandler) {
		if d > 0 {
			h.runTimeout = d
		}
	}
}

// NewSplitHandler creates a SplitHandler. dispatcher may be nil, in which case
// async requests run inline.
func NewSplitHandler(
	processor apptransfer.SplitProcessor,
	retrier apptransfer.FailedTransferRetrier,
	history HistoryReader,
	dispatcher BackgroundDispatcher,
	logger *zap.Logger,
	opts ...SplitHandlerOption,
) *SplitHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &SplitHandler{
		BaseHandler: BaseHandler{logger: logger},
		processor:   processor,
		retrier:     retrier,
		history:     history,
		dispatcher:  dispatcher,
		runTimeout:  apptransfer.DefaultDispatcherConfig().Timeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// runContext keeps request values but not request cancellation, so a client
// hanging up cannot stop a run between the gateway call and the ledger write.
func (h *SplitHandler) runContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.runTimeout)
}

// Process splits a confirmed payment across its recipients.
// POST /payments/:reference/splits
func (h *SplitHandler) Process(c *gin.Context) {
	ref := c.Param("reference")

	var req dto.ProcessSplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	var q dto.SplitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}

	if q.Async && h.dispatcher != nil {
		if err := h.dispatcher.DispatchProcess(c.Request.Context(), ref, req.Amount); err != nil {
			h.HandleError(c, err)
			return
		}
		h.Accepted(c, dto.SplitAccepted{PaymentReference: ref, Run: "process", Accepted: true})
		return
	}

	ctx, cancel := h.runContext(c)
	defer cancel()
	res, err := h.processor.Process(ctx, ref, req.Amount)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, res)
}

// Retry re-drives failed and unresolved transfers of a payment.
// POST /payments/:reference/splits/retry
func (h *SplitHandler) Retry(c *gin.Context) {
	ref := c.Param("reference")

	var q dto.SplitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}
	opts := transfer.RetryOptions{IncludeRejected: q.IncludeRejected}

	if q.Async && h.dispatcher != nil {
		if err := h.dispatcher.DispatchRetry(c.Request.Context(), ref, opts); err != nil {
			h.HandleError(c, err)
			return
		}
		h.Accepted(c, dto.SplitAccepted{PaymentReference: ref, Run: "retry", Accepted: true})
		return
	}

	ctx, cancel := h.runContext(c)
	defer cancel()
	res, err := h.retrier.RetryFailed(ctx, ref, opts)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, res)
}

// Transfers lists a payment's transfers with their status history.
// GET /payments/:reference/transfers
func (h *SplitHandler) Transfers(c *gin.Context) {
	ref := c.Param("reference")
	transfers, err := h.history.TransferHistory(c.Request.Context(), ref)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.TransferHistoryResponse{PaymentReference: ref, Transfers: transfers})
}
