package jobs

import (
	"context"
	"errors"
	"fmt"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
)

// expireBookings cancels PENDING bookings whose payment hold has run out.
// Each booking is expired in its own transaction; a booking that was paid
// between the query and the expiry is skipped.
func (jr *JobRunner) expireBookings(ctx context.Context) (Result, error) {
	var res Result
	now := jr.now()

	pending, err := jr.bookings.ListExpiredPending(ctx, now, jr.config.Scheduler.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list expired bookings: %w", err)
	}

	for _, b := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		_, err := jr.services.Bookings.Expire(ctx, b.ID)
		switch {
		case err == nil:
			res.Processed++
			logger.Debug("Expired booking", "bookingID", b.ID, "holdExpiresAt", b.HoldExpiresAt)
		case skippable(err):
			res.Skipped++
			logger.Debug("Booking no longer expirable", "bookingID", b.ID, "reason", err)
		default:
			res.Failed++
			logger.Error("Failed to expire booking", "bookingID", b.ID, "error", err)
		}
	}
	return res, nil
}

// markNoShows cancels CONFIRMED bookings whose rental window ended without
// a pickup and applies the no-show penalty.
func (jr *JobRunner) markNoShows(ctx context.Context) (Result, error) {
	var res Result
	now := jr.now()

	bookings, err := jr.bookings.ListNoShows(ctx, now, jr.config.Scheduler.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list no-show bookings: %w", err)
	}

	for _, b := range bookings {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		_, err := jr.services.Bookings.MarkNoShow(ctx, b.ID)
		switch {
		case err == nil:
			res.Processed++
			logger.Debug("Marked booking as no-show", "bookingID", b.ID, "customerID", b.CustomerID)
		case skippable(err):
			res.Skipped++
		default:
			res.Failed++
			logger.Error("Failed to mark no-show", "bookingID", b.ID, "error", err)
		}
	}
	return res, nil
}

// skippable reports errors caused by the booking having moved on since
// it was listed. ErrHoldNotExpired and ErrNotNoShow are transition errors.
func skippable(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition)
}
