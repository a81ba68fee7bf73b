package service

import (
	"context"
	"net/http"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/gateway"

	"github.com/stretchr/testify/mock"
)

// fakeTx runs fn directly; the in-memory and mocked repositories have no
// transaction of their own.
type fakeTx struct {
	calls int
}

func (f *fakeTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

// MockNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, customerID int64, eventType domain.EventType, payload map[string]string) {
	m.Called(ctx, customerID, eventType, payload)
}

func (m *MockNotifier) count(eventType domain.EventType) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == "Notify" && c.Arguments.Get(2) == eventType {
			n++
		}
	}
	return n
}

func newMockNotifier() *MockNotifier {
	n := new(MockNotifier)
	n.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	return n
}

// MockRefundDispatcher
type MockRefundDispatcher struct {
	mock.Mock
}

func (m *MockRefundDispatcher) Dispatch(ctx context.Context, task domain.RefundTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

// MockGateway
type MockGateway struct {
	mock.Mock
	method    domain.PaymentMethod
	automatic bool
}

func (m *MockGateway) Method() domain.PaymentMethod { return m.method }

func (m *MockGateway) SupportsAutomaticRefund() bool { return m.automatic }

func (m *MockGateway) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, req gateway.RefundRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) ParseWebhook(r *http.Request) (*gateway.WebhookEvent, error) {
	args := m.Called(r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.WebhookEvent), args.Error(1)
}

// MockEvidenceStore
type MockEvidenceStore struct {
	mock.Mock
}

func (m *MockEvidenceStore) FileExists(ctx context.Context, key string) (bool, int64, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Get(1).(int64), args.Error(2)
}

// MockTrustScoreRepo
type MockTrustScoreRepo struct {
	mock.Mock
}

func (m *MockTrustScoreRepo) Get(ctx context.Context, customerID int64) (*domain.TrustScore, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TrustScore), args.Error(1)
}

func (m *MockTrustScoreRepo) GetForUpdate(ctx context.Context, customerID int64) (*domain.TrustScore, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TrustScore), args.Error(1)
}

func (m *MockTrustScoreRepo) Insert(ctx context.Context, ts *domain.TrustScore) (bool, error) {
	args := m.Called(ctx, ts)
	return args.Bool(0), args.Error(1)
}

func (m *MockTrustScoreRepo) Update(ctx context.Context, ts *domain.TrustScore) error {
	args := m.Called(ctx, ts)
	return args.Error(0)
}

func (m *MockTrustScoreRepo) AppendHistory(ctx context.Context, h *domain.TrustScoreHistory) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *MockTrustScoreRepo) ListHistory(ctx context.Context, customerID int64) ([]domain.TrustScoreHistory, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).([]domain.TrustScoreHistory), args.Error(1)
}

// MockPaymentRepo
type MockPaymentRepo struct {
	mock.Mock
}

func (m *MockPaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPaymentRepo) GetByBookingID(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepo) GetByBookingIDForUpdate(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepo) Update(ctx context.Context, p *domain.Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}
