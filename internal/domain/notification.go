package domain

import "time"

type EventType string

const (
	EventBookingCreated   EventType = "booking.created"
	EventBookingExpired   EventType = "booking.expired"
	EventBookingCancelled EventType = "booking.cancelled"
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
	EventRentalStarted    EventType = "rental.started"
	EventRentalCompleted  EventType = "rental.completed"
	EventSettlementReady  EventType = "settlement.finalized"
	EventRefundProcessed  EventType = "refund.processed"
	EventRefundFailed     EventType = "refund.failed"
)

type Notification struct {
	ID         int64             `json:"id"`
	CustomerID int64             `json:"customer_id"`
	EventType  EventType         `json:"event_type"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	IsRead     bool              `json:"is_read"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
}
