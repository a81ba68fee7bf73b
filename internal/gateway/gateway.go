package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"carrental-backend/internal/domain"
)

var (
	ErrInvalidSignature  = errors.New("gateway: invalid webhook signature")
	ErrUnsupportedMethod = errors.New("gateway: unsupported payment method")
	ErrRefundUnsupported = errors.New("gateway: automatic refund not supported")
	ErrMalformedWebhook  = errors.New("gateway: malformed webhook")
)

type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
)

type CheckoutRequest struct {
	BookingID  int64
	Amount     int64
	Currency   string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type RefundRequest struct {
	BookingID     int64
	TransactionID string
	Amount        int64
	Currency      string
	Reason        string
	// IdempotencyKey lets the provider collapse retried refund calls.
	IdempotencyKey string
}

// WebhookEvent is a verified gateway callback.
type WebhookEvent struct {
	Kind          EventKind
	BookingID     int64
	TransactionID string
	Amount        int64
	Payload       json.RawMessage
}

// Gateway is one payment provider. ParseWebhook must verify the request
// signature and return ErrInvalidSignature before anything else is read
// from the payload.
type Gateway interface {
	Method() domain.PaymentMethod
	CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error)
	Refund(ctx context.Context, req RefundRequest) (string, error)
	ParseWebhook(r *http.Request) (*WebhookEvent, error)
	SupportsAutomaticRefund() bool
}

// Registry resolves a gateway by payment method.
type Registry struct {
	gateways map[domain.PaymentMethod]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[domain.PaymentMethod]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Method()] = g
	}
	return r
}

func (r *Registry) Get(method domain.PaymentMethod) (Gateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	return g, nil
}

// Supports reports whether a gateway is registered for method.
func (r *Registry) Supports(method domain.PaymentMethod) bool {
	_, ok := r.gateways[method]
	return ok
}
