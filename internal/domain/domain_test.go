package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBookingStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from     BookingStatus
		to       BookingStatus
		expected bool
	}{
		{BookingStatusPending, BookingStatusConfirmed, true},
		{BookingStatusPending, BookingStatusCancelled, true},
		{BookingStatusPending, BookingStatusExpired, true},
		{BookingStatusPending, BookingStatusInProgress, false},
		{BookingStatusConfirmed, BookingStatusInProgress, true},
		{BookingStatusConfirmed, BookingStatusCancelled, true},
		{BookingStatusConfirmed, BookingStatusCompleted, false},
		{BookingStatusInProgress, BookingStatusCompleted, true},
		{BookingStatusCompleted, BookingStatusCancelled, false},
		{BookingStatusCancelled, BookingStatusConfirmed, false},
		{BookingStatusExpired, BookingStatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestBookingStatus_IsTerminal(t *testing.T) {
	assert.True(t, BookingStatusCompleted.IsTerminal())
	assert.True(t, BookingStatusCancelled.IsTerminal())
	assert.True(t, BookingStatusExpired.IsTerminal())
	assert.False(t, BookingStatusPending.IsTerminal())
	assert.False(t, BookingStatus("BOGUS").IsTerminal())
}

func TestBooking_TransitionTo(t *testing.T) {
	b := &Booking{Status: BookingStatusCancelled}
	err := b.TransitionTo(BookingStatusConfirmed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, BookingStatusCancelled, b.Status)

	b.Status = BookingStatusPending
	assert.NoError(t, b.TransitionTo(BookingStatusConfirmed))
	assert.Equal(t, BookingStatusConfirmed, b.Status)
}

func TestBooking_HoldExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pending := &Booking{Status: BookingStatusPending, HoldExpiresAt: now.Add(-time.Minute)}
	assert.True(t, pending.HoldExpired(now))

	confirmed := &Booking{Status: BookingStatusConfirmed, HoldExpiresAt: now.Add(-time.Minute)}
	assert.False(t, confirmed.HoldExpired(now))

	fresh := &Booking{Status: BookingStatusPending, HoldExpiresAt: now.Add(time.Minute)}
	assert.False(t, fresh.HoldExpired(now))
}

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusCompleted))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusFailed))
	assert.True(t, PaymentStatusFailed.CanTransitionTo(PaymentStatusPending))
	assert.True(t, PaymentStatusCompleted.CanTransitionTo(PaymentStatusRefunded))
	assert.False(t, PaymentStatusCompleted.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusPending.CanTransitionTo(PaymentStatusRefunded))
	assert.False(t, PaymentStatusRefunded.CanTransitionTo(PaymentStatusCompleted))
	assert.False(t, PaymentStatusFailed.CanTransitionTo(PaymentStatusCompleted))
}

func TestRefundStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, RefundStatusPending.CanTransitionTo(RefundStatusProcessing))
	assert.True(t, RefundStatusFailed.CanTransitionTo(RefundStatusProcessing))
	assert.True(t, RefundStatusAwaitingManualProof.CanTransitionTo(RefundStatusProcessed))
	assert.False(t, RefundStatusProcessed.CanTransitionTo(RefundStatusProcessing))
	assert.False(t, RefundStatusNotRequired.CanTransitionTo(RefundStatusProcessing))
}

func TestSettlement_AdditionalPaymentDue(t *testing.T) {
	assert.Equal(t, int64(0), (&Settlement{DepositRefundAmount: 500}).AdditionalPaymentDue())
	assert.Equal(t, int64(700), (&Settlement{DepositRefundAmount: -700}).AdditionalPaymentDue())
}

func TestKind(t *testing.T) {
	assert.Equal(t, ErrValidation, Kind(ErrStartInPast))
	assert.Equal(t, ErrConflict, Kind(fmt.Errorf("create booking: %w", ErrVehicleUnavailable)))
	assert.Equal(t, ErrNotFound, Kind(ErrBookingNotFound))
	assert.Equal(t, ErrInvalidTransition, Kind(InvalidTransition("booking", "A", "B")))
	assert.Equal(t, ErrInconsistency, Kind(ErrInconsistentTransaction))
	assert.Nil(t, Kind(errors.New("boom")))
}
