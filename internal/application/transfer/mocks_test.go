package transfer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/stretchr/testify/mock"
)

// MockGatewayClient is a mock implementation of transfer.GatewayClient
type MockGatewayClient struct {
	mock.Mock
}

func (m *MockGatewayClient) EnsureRecipientHandle(ctx context.Context, recipientType transfer.RecipientType) (transfer.RecipientHandle, error) {
	args := m.Called(ctx, recipientType)
	return args.Get(0).(transfer.RecipientHandle), args.Error(1)
}

func (m *MockGatewayClient) InvalidateRecipientHandle(ctx context.Context, recipientType transfer.RecipientType) error {
	args := m.Called(ctx, recipientType)
	return args.Error(0)
}

func (m *MockGatewayClient) InitiateTransfer(ctx context.Context, req transfer.TransferRequest) (*transfer.TransferHandle, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transfer.TransferHandle), args.Error(1)
}

func (m *MockGatewayClient) QueryTransfer(ctx context.Context, reference string) (*transfer.TransferQuery, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transfer.TransferQuery), args.Error(1)
}

// MockTransferLedger is a mock implementation of transfer.TransferLedger
type MockTransferLedger struct {
	mock.Mock
}

func (m *MockTransferLedger) CreatePending(ctx context.Context, record *transfer.TransferRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockTransferLedger) MarkResult(ctx context.Context, id uuid.UUID, result transfer.TransferResult) (*transfer.TransferRecord, error) {
	args := m.Called(ctx, id, result)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transfer.TransferRecord), args.Error(1)
}

func (m *MockTransferLedger) MarkRetried(ctx context.Context, id uuid.UUID) (*transfer.TransferRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transfer.TransferRecord), args.Error(1)
}

func (m *MockTransferLedger) GetByPayment(ctx context.Context, paymentRef string) ([]transfer.TransferRecord, error) {
	args := m.Called(ctx, paymentRef)
	return args.Get(0).([]transfer.TransferRecord), args.Error(1)
}

func (m *MockTransferLedger) GetNonTerminal(ctx context.Context, paymentRef string) ([]transfer.TransferRecord, error) {
	args := m.Called(ctx, paymentRef)
	return args.Get(0).([]transfer.TransferRecord), args.Error(1)
}

func (m *MockTransferLedger) FindByID(ctx context.Context, id uuid.UUID) (*transfer.TransferRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transfer.TransferRecord), args.Error(1)
}

func (m *MockTransferLedger) History(ctx context.Context, paymentRef string) ([]transfer.StatusChange, error) {
	args := m.Called(ctx, paymentRef)
	return args.Get(0).([]transfer.StatusChange), args.Error(1)
}

func (m *MockTransferLedger) PaymentsNeedingAttention(ctx context.Context, q transfer.AttentionQuery) ([]string, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]string), args.Error(1)
}

// MockPaymentRepository is a mock implementation of transfer.PaymentRepository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) FindByReference(ctx context.Context, reference string) (*transfer.PaymentRecord, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transfer.PaymentRecord), args.Error(1)
}

func (m *MockPaymentRepository) MarkProcessed(ctx context.Context, reference string, metadata map[string]any) error {
	args := m.Called(ctx, reference, metadata)
	return args.Error(0)
}

// MockMetrics is a mock implementation of Metrics
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordAttempt(ctx context.Context, recipient, outcome string) {
	m.Called(ctx, recipient, outcome)
}

func (m *MockMetrics) RecordPaymentProcessed(ctx context.Context, status string) {
	m.Called(ctx, status)
}

func (m *MockMetrics) RecordGatewayCall(ctx context.Context, op string, d time.Duration) {
	m.Called(ctx, op, d)
}
