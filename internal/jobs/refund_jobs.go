package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
)

var stalledRefundStatuses = []domain.RefundStatus{
	domain.RefundStatusPending,
	domain.RefundStatusProcessing,
	domain.RefundStatusFailed,
}

// retryStalledRefunds re-queues requested refunds that have not moved for a
// while. This covers tasks lost from the in-memory queue on
// restart as well as refunds that ran out of worker attempts.
func (jr *JobRunner) retryStalledRefunds(ctx context.Context) (Result, error) {
	var res Result
	cutoff := jr.now().Add(-time.Duration(jr.config.Scheduler.StalledRefundAfter) * time.Minute)

	stalled, err := jr.settlements.ListStalledRefunds(ctx, stalledRefundStatuses, cutoff, jr.config.Scheduler.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list stalled refunds: %w", err)
	}

	for _, st := range stalled {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if st.RefundRequestedAt == nil {
			// Finalized after a damaged return; staff decide when to refund.
			res.Skipped++
			continue
		}
		if err := jr.requeueRefund(ctx, st); err != nil {
			res.Failed++
			logger.Error("Failed to requeue refund", "bookingID", st.BookingID, "refundStatus", st.RefundStatus, "error", err)
			continue
		}
		res.Processed++
	}
	return res, nil
}

func (jr *JobRunner) requeueRefund(ctx context.Context, st domain.Settlement) error {
	if st.RefundStatus != domain.RefundStatusProcessing {
		_, err := jr.services.Settlements.RequestRefund(ctx, st.BookingID)
		return err
	}

	// A PROCESSING refund cannot be requested again; the worker resumes it
	// with the settlement's idempotency key.
	p, err := jr.services.Payments.Get(ctx, st.BookingID)
	if err != nil {
		return err
	}
	return jr.services.Refunds.Dispatch(ctx, domain.RefundTask{
		ID:        uuid.NewString(),
		BookingID: st.BookingID,
		Method:    p.Method,
		Amount:    st.DepositRefundAmount,
		CreatedAt: jr.now().UTC(),
	})
}
