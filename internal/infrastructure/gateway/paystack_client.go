package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/marshalcore/backend/internal/infrastructure/cache"
	"github.com/marshalcore/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PaystackClient implements transfer.GatewayClient against the Paystack transfers API
type PaystackClient struct {
	config     *PaystackConfig
	httpClient *http.Client
	directory  transfer.RecipientDirectory
	handles    transfer.RecipientHandleCache
	group      singleflight.Group
	logger     *zap.Logger
}

// ClientOption configures a PaystackClient
type ClientOption func(*PaystackClient)

// WithHTTPClient replaces the HTTP client; its Timeout is left as given
func WithHTTPClient(c *http.Client) ClientOption {
	return func(p *PaystackClient) {
		p.httpClient = c
	}
}

// WithHandleCache sets where recipient codes are cached between calls
func WithHandleCache(c transfer.RecipientHandleCache) ClientOption {
	return func(p *PaystackClient) {
		p.handles = c
	}
}

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) ClientOption {
	return func(p *PaystackClient) {
		p.logger = l
	}
}

// NewPaystackClient creates a live gateway client
func NewPaystackClient(cfg *PaystackConfig, directory transfer.RecipientDirectory, opts ...ClientOption) (*PaystackClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if directory.IsEmpty() {
		return nil, transfer.ErrRecipientNotConfigured
	}

	full := cfg.withDefaults()
	c := &PaystackClient{
		config:     full,
		httpClient: &http.Client{Timeout: full.Timeout},
		directory:  directory,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.handles == nil {
		c.handles = cache.NewMemoryHandleCache(0)
	}
	return c, nil
}

// EnsureRecipientHandle returns the cached recipient code or registers the recipient.
// Concurrent calls for the same type share one registration request.
func (c *PaystackClient) EnsureRecipientHandle(ctx context.Context, recipientType transfer.RecipientType) (transfer.RecipientHandle, error) {
	code, ok, err := c.handles.Get(ctx, recipientType)
	if err != nil {
		c.logger.Warn("Recipient handle cache read failed", logger.RecipientType(recipientType), zap.Error(err))
	}
	if ok {
		return transfer.RecipientHandle{RecipientType: recipientType, Code: code}, nil
	}

	v, err, _ := c.group.Do(string(recipientType), func() (any, error) {
		// a registration that finished while we waited has already filled the cache
		if code, ok, _ := c.handles.Get(ctx, recipientType); ok {
			return code, nil
		}
		return c.registerRecipient(ctx, recipientType)
	})
	if err != nil {
		return transfer.RecipientHandle{}, err
	}
	return transfer.RecipientHandle{RecipientType: recipientType, Code: v.(string)}, nil
}

func (c *PaystackClient) registerRecipient(ctx context.Context, recipientType transfer.RecipientType) (string, error) {
	desc, err := c.directory.Descriptor(recipientType)
	if err != nil {
		return "", transfer.NewGatewayError(transfer.GatewayErrorRecipientRejected, "unknown_recipient", string(recipientType), err)
	}

	currency := desc.Currency
	if currency == "" {
		currency = c.config.Currency
	}
	status, body, err := c.do(ctx, http.MethodPost, paystackRecipientPath, paystackRecipientRequest{
		Type:          "nuban",
		Name:          desc.AccountName,
		AccountNumber: desc.AccountNumber,
		BankCode:      desc.BankCode,
		Currency:      currency,
	})
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", rejection(transfer.GatewayErrorRecipientRejected, status, body)
	}

	var data paystackRecipientData
	if err := decodeEnvelope(body, &data); err != nil {
		return "", err
	}
	if data.RecipientCode == "" {
		return "", &transfer.GatewayError{
			Kind:    transfer.GatewayErrorRecipientRejected,
			Code:    "missing_recipient_code",
			Message: "gateway returned no recipient code",
			Raw:     body,
		}
	}

	if err := c.handles.Set(ctx, recipientType, data.RecipientCode); err != nil {
		c.logger.Warn("Recipient handle cache write failed", logger.RecipientType(recipientType), zap.Error(err))
	}
	c.logger.Info("Registered transfer recipient", logger.RecipientType(recipientType))
	return data.RecipientCode, nil
}

// InvalidateRecipientHandle drops the cached code for a recipient type
func (c *PaystackClient) InvalidateRecipientHandle(ctx context.Context, recipientType transfer.RecipientType) error {
	return c.handles.Delete(ctx, recipientType)
}

// InitiateTransfer requests a transfer, using the idempotency key as the Paystack reference
func (c *PaystackClient) InitiateTransfer(ctx context.Context, req transfer.TransferRequest) (*transfer.TransferHandle, error) {
	if req.Amount <= 0 {
		return nil, transfer.NewGatewayError(transfer.GatewayErrorTransferRejected, "invalid_amount",
			fmt.Sprintf("amount %d must be positive", req.Amount), transfer.ErrInvalidAmount)
	}
	currency := req.Currency
	if currency == "" {
		currency = c.config.Currency
	}

	status, body, err := c.do(ctx, http.MethodPost, paystackTransferPath, paystackTransferRequest{
		Source:    c.config.Source,
		Amount:    req.Amount,
		Recipient: req.Handle.Code,
		Reason:    req.Reason,
		Reference: req.IdempotencyKey,
		Currency:  currency,
	})
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, rejection(transfer.GatewayErrorTransferRejected, status, body)
	}

	var env paystackEnvelope
	var data paystackTransferData
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &data)
	}
	if !env.Status {
		return nil, rejection(transfer.GatewayErrorTransferRejected, status, body)
	}

	reference := data.Reference
	if reference == "" {
		reference = req.IdempotencyKey
	}
	return &transfer.TransferHandle{
		Reference:    reference,
		TransferCode: data.TransferCode,
		Outcome:      mapPaystackTransferStatus(data.Status),
		Message:      env.Message,
		RawResponse:  body,
	}, nil
}

// QueryTransfer verifies a transfer by reference; a 404 means the gateway never saw it
func (c *PaystackClient) QueryTransfer(ctx context.Context, reference string) (*transfer.TransferQuery, error) {
	status, body, err := c.do(ctx, http.MethodGet, paystackVerifyPath+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &transfer.TransferQuery{
			Reference:   reference,
			Outcome:     transfer.OutcomeNotFound,
			RawResponse: body,
		}, nil
	}
	if status >= 400 {
		return nil, rejection(transfer.GatewayErrorTransferRejected, status, body)
	}

	var data paystackTransferData
	if err := decodeEnvelope(body, &data); err != nil {
		return nil, err
	}
	return &transfer.TransferQuery{
		Reference:    reference,
		TransferCode: data.TransferCode,
		Outcome:      mapPaystackTransferStatus(data.Status),
		Reason:       data.Reason,
		RawResponse:  body,
	}, nil
}

// do sends one request. Timeouts and 5xx responses come back as TIMEOUT, transport
// failures as NETWORK only when nothing was written; 4xx responses are returned with
// their body for the caller to classify.
func (c *PaystackClient) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, transfer.NewGatewayError(transfer.GatewayErrorNetwork, "encode", "failed to encode request", err)
		}
		reqBody = bytes.NewReader(b)
	}

	// once any part of the request is on the wire the gateway may act on it
	var wrote atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteHeaders: func() { wrote.Store(true) },
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), method, strings.TrimRight(c.config.BaseURL, "/")+path, reqBody)
	if err != nil {
		return 0, nil, transfer.NewGatewayError(transfer.GatewayErrorNetwork, "request", "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		switch {
		case isTimeout(err):
			return 0, nil, transfer.NewGatewayError(transfer.GatewayErrorTimeout, "timeout", method+" "+path, err)
		case wrote.Load():
			// reset, EOF or cancellation after delivery: the outcome is unknown
			return 0, nil, transfer.NewGatewayError(transfer.GatewayErrorTimeout, "connection_lost", method+" "+path, err)
		default:
			return 0, nil, transfer.NewGatewayError(transfer.GatewayErrorNetwork, "transport", method+" "+path, err)
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// the request was delivered; its effect is unknown
		return 0, nil, transfer.NewGatewayError(transfer.GatewayErrorTimeout, "read_response", method+" "+path, err)
	}

	if resp.StatusCode >= 500 {
		return 0, nil, &transfer.GatewayError{
			Kind:    transfer.GatewayErrorTimeout,
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: envelopeMessage(body),
			Raw:     body,
		}
	}
	return resp.StatusCode, body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// rejection builds the error for a 4xx or status=false response
func rejection(kind transfer.GatewayErrorKind, status int, body []byte) *transfer.GatewayError {
	var env paystackEnvelope
	_ = json.Unmarshal(body, &env)

	code := env.Code
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}
	if recipientErrorCodes[env.Code] {
		kind = transfer.GatewayErrorRecipientRejected
	}
	return &transfer.GatewayError{Kind: kind, Code: code, Message: env.Message, Raw: body}
}

func decodeEnvelope(body []byte, out any) error {
	var env paystackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &transfer.GatewayError{
			Kind:    transfer.GatewayErrorTimeout,
			Code:    "invalid_response",
			Message: "response is not valid JSON",
			Raw:     body,
			Err:     err,
		}
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &transfer.GatewayError{
			Kind:    transfer.GatewayErrorTimeout,
			Code:    "invalid_response",
			Message: "unexpected data shape",
			Raw:     body,
			Err:     err,
		}
	}
	return nil
}

func envelopeMessage(body []byte) string {
	var env paystackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Message
}

var _ transfer.GatewayClient = (*PaystackClient)(nil)
