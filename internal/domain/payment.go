package domain

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// COMPLETED is reachable only from PENDING. A failed payment goes back to
// PENDING with a new checkout session before it can complete.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:    {PaymentStatusPending},
	PaymentStatusCompleted: {PaymentStatusRefunded},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentMethod names the gateway that collects the payment.
type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodQR   PaymentMethod = "qr"
)

type Payment struct {
	ID             int64           `json:"id"`
	BookingID      int64           `json:"booking_id"`
	Amount         int64           `json:"amount"`
	Currency       string          `json:"currency"`
	Method         PaymentMethod   `json:"method"`
	Status         PaymentStatus   `json:"status"`
	TransactionID  *string         `json:"transaction_id,omitempty"`
	GatewayPayload json.RawMessage `json:"gateway_payload,omitempty"`
	CheckoutURL    string          `json:"checkout_url"`
	RefundID       *string         `json:"refund_id,omitempty"`
	RefundReason   string          `json:"refund_reason"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (p *Payment) TransitionTo(next PaymentStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return InvalidTransition("payment", string(p.Status), string(next))
	}
	p.Status = next
	return nil
}

// PaymentOutcome tells a webhook caller whether a completion mutated state.
type PaymentOutcome int

const (
	OutcomeApplied PaymentOutcome = iota
	OutcomeAlreadyApplied
)

func (o PaymentOutcome) String() string {
	if o == OutcomeAlreadyApplied {
		return "already_applied"
	}
	return "applied"
}
