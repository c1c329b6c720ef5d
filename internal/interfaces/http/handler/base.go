package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apptransfer "github.com/marshalcore/backend/internal/application/transfer"
	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/marshalcore/backend/internal/infrastructure/logger"
	"github.com/marshalcore/backend/internal/interfaces/http/dto"
	"github.com/marshalcore/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct {
	logger *zap.Logger
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for work handed to the background
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the status code derived from code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// ValidationError sends a 400 response listing invalid fields
func (h *BaseHandler) ValidationError(c *gin.Context, err error) {
	details := middleware.ValidationDetails(err)
	if details == nil {
		h.Error(c, dto.ErrCodeInvalidJSON, "Request body is not valid JSON")
		return
	}
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		middleware.GetRequestID(c),
		details,
	))
}

// HandleError converts split errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	code, message := errorCode(err)
	if dto.GetHTTPStatus(code) >= http.StatusInternalServerError {
		logger.GetGinLogger(c, h.logger).Error("Split request failed", zap.Error(err))
	}
	h.Error(c, code, message)
}

// errorCode maps an error chain onto an API error code and a client-safe message
func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, transfer.ErrPaymentNotFound):
		return dto.ErrCodeNotFound, "Payment not found"
	case errors.Is(err, transfer.ErrInvalidAmount):
		return dto.ErrCodeInvalidAmount, err.Error()
	case errors.Is(err, transfer.ErrAmountMismatch):
		return dto.ErrCodeAmountMismatch, err.Error()
	case errors.Is(err, transfer.ErrNegativeShare),
		errors.Is(err, transfer.ErrSharesExceedAmount),
		errors.Is(err, transfer.ErrUnknownRecipient),
		errors.Is(err, transfer.ErrRecipientNotConfigured):
		return dto.ErrCodeInvalidShares, err.Error()
	case errors.Is(err, transfer.ErrLockNotAcquired):
		return dto.ErrCodeConcurrencyConflict, "Payment is being processed by another run"
	case errors.Is(err, transfer.ErrDuplicateAttempt):
		return dto.ErrCodeConflict, "Transfer already in progress for this payment"
	case transfer.IsInvariantViolation(err):
		return dto.ErrCodeInvariantViolation, "Transfer ledger refused the change; operator review required"
	case errors.Is(err, apptransfer.ErrDispatcherClosed):
		return dto.ErrCodeServiceUnavailable, "Server is shutting down"
	default:
		return dto.ErrCodeInternal, "An unexpected error occurred"
	}
}
