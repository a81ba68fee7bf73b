package domain

import "time"

type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "PENDING"
	BookingStatusConfirmed  BookingStatus = "CONFIRMED"
	BookingStatusInProgress BookingStatus = "IN_PROGRESS"
	BookingStatusCompleted  BookingStatus = "COMPLETED"
	BookingStatusCancelled  BookingStatus = "CANCELLED"
	BookingStatusExpired    BookingStatus = "EXPIRED"
)

// bookingTransitions lists every legal move out of a status. Statuses with no
// entry are terminal.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:    {BookingStatusConfirmed, BookingStatusExpired, BookingStatusCancelled},
	BookingStatusConfirmed:  {BookingStatusInProgress, BookingStatusCancelled},
	BookingStatusInProgress: {BookingStatusCompleted, BookingStatusCancelled},
}

// ActiveBookingStatuses are the statuses that hold a vehicle for their window.
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusConfirmed,
	BookingStatusInProgress,
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusInProgress,
		BookingStatusCompleted, BookingStatusCancelled, BookingStatusExpired:
		return true
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return s.Valid() && len(bookingTransitions[s]) == 0
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Booking struct {
	ID                 int64         `json:"id"`
	CustomerID         int64         `json:"customer_id"`
	VehicleID          int64         `json:"vehicle_id"`
	ScheduledStart     time.Time     `json:"scheduled_start"`
	ScheduledEnd       time.Time     `json:"scheduled_end"`
	HourlyRate         int64         `json:"hourly_rate"`
	RentalCost         int64         `json:"rental_cost"`
	DepositAmount      int64         `json:"deposit_amount"`
	ServiceFee         int64         `json:"service_fee"`
	TotalAmount        int64         `json:"total_amount"`
	TrustScoreSnapshot int           `json:"trust_score_snapshot"`
	Status             BookingStatus `json:"status"`
	PaymentMethod      PaymentMethod `json:"payment_method"`
	HoldExpiresAt      time.Time     `json:"hold_expires_at"`
	ActualPickupAt     *time.Time    `json:"actual_pickup_at,omitempty"`
	ActualReturnAt     *time.Time    `json:"actual_return_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// TransitionTo moves the booking to next, or returns ErrInvalidTransition.
func (b *Booking) TransitionTo(next BookingStatus) error {
	if !b.Status.CanTransitionTo(next) {
		return InvalidTransition("booking", string(b.Status), string(next))
	}
	b.Status = next
	return nil
}

// HoldExpired reports whether an unpaid booking's hold has lapsed at now.
func (b *Booking) HoldExpired(now time.Time) bool {
	return b.Status == BookingStatusPending && b.HoldExpiresAt.Before(now)
}
