package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/gateway"
	"carrental-backend/internal/logger"

	"github.com/google/uuid"
)

// settler holds the settlement steps shared by rental completion and the
// staff settlement operations.
type settler struct {
	Dependencies
	now func() time.Time
}

func newSettler(d Dependencies) settler {
	return settler{Dependencies: d, now: d.clock()}
}

// open creates the settlement of a returned booking. Must run inside a
// transaction.
func (s settler) open(ctx context.Context, b *domain.Booking, returnedAt time.Time, damages []domain.DamageReport) (*domain.Settlement, error) {
	if b.Status != domain.BookingStatusInProgress && b.Status != domain.BookingStatusCompleted {
		return nil, fmt.Errorf("%w: booking %d is %s", domain.ErrInvalidTransition, b.ID, b.Status)
	}

	st := &domain.Settlement{
		BookingID:         b.ID,
		ScheduledReturnAt: b.ScheduledEnd,
		ActualReturnAt:    returnedAt,
		InitialDeposit:    b.DepositAmount,
		RefundStatus:      domain.RefundStatusPending,
	}
	s.recompute(b, st, damages)
	if err := s.Settlements.Create(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s settler) recompute(b *domain.Booking, st *domain.Settlement, damages []domain.DamageReport) {
	figures := s.Calculator.Settle(b.HourlyRate, st.InitialDeposit, st.ScheduledReturnAt, st.ActualReturnAt, damages)
	st.OvertimeHours = figures.OvertimeHours
	st.OvertimeFee = figures.OvertimeFee
	st.DamageCharge = figures.DamageCharge
	st.TotalAdditionalCharges = figures.TotalAdditionalCharges
	st.DepositRefundAmount = figures.DepositRefundAmount
	st.DamageDescription = describeDamages(damages)
}

// finalize freezes the settlement and applies the late-return and damage
// penalties. Must run inside a transaction.
func (s settler) finalize(ctx context.Context, b *domain.Booking, st *domain.Settlement, staffID *int64, out *outbox) error {
	if st.Finalized {
		return domain.ErrSettlementFinalized
	}

	now := s.now().UTC()
	st.Finalized = true
	st.FinalizedAt = &now
	st.FinalizedBy = staffID
	if st.DepositRefundAmount <= 0 {
		if err := st.TransitionRefund(domain.RefundStatusNotRequired); err != nil {
			return err
		}
	}
	if err := s.Settlements.Update(ctx, st); err != nil {
		return err
	}

	if st.OvertimeHours > 0 {
		if _, err := s.Trust.ApplyLateReturnPenalty(ctx, b.CustomerID, b.ID, st.OvertimeHours); err != nil {
			return err
		}
	}
	if st.DamageCharge > 0 {
		if _, err := s.Trust.ApplyDamagePenalty(ctx, b.CustomerID, b.ID, st.DamageCharge); err != nil {
			return err
		}
	}

	out.add(b.CustomerID, domain.EventSettlementReady, map[string]string{
		"booking_id":         strconv.FormatInt(b.ID, 10),
		"overtime_fee":       strconv.FormatInt(st.OvertimeFee, 10),
		"damage_charge":      strconv.FormatInt(st.DamageCharge, 10),
		"deposit_refund":     strconv.FormatInt(st.DepositRefundAmount, 10),
		"additional_payment": strconv.FormatInt(st.AdditionalPaymentDue(), 10),
	})
	return nil
}

// scheduleRefund starts the deposit refund of a finalized settlement. For a
// gateway with a refund API a task goes to the refund workers; otherwise
// the settlement waits for staff to upload a proof of manual refund. Called
// after the finalizing transaction has committed.
func (s settler) scheduleRefund(ctx context.Context, st *domain.Settlement) (bool, error) {
	if !st.Finalized {
		return false, domain.ErrSettlementNotFinal
	}
	if st.RefundStatus != domain.RefundStatusPending && st.RefundStatus != domain.RefundStatusFailed {
		return false, nil
	}

	p, err := s.Payments.Get(ctx, st.BookingID)
	if err != nil {
		return false, err
	}
	g, err := s.Gateways.Get(p.Method)
	if err != nil {
		return false, err
	}

	manual := !g.SupportsAutomaticRefund()
	if manual || st.RefundRequestedAt == nil {
		err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
			current, err := s.Settlements.GetByBookingIDForUpdate(ctx, st.BookingID)
			if err != nil {
				return err
			}
			if current.RefundRequestedAt == nil {
				requested := s.now().UTC()
				current.RefundRequestedAt = &requested
			}
			if manual {
				if err := current.TransitionRefund(domain.RefundStatusAwaitingManualProof); err != nil {
					return err
				}
			}
			if err := s.Settlements.Update(ctx, current); err != nil {
				return err
			}
			*st = *current
			return nil
		})
		if err != nil || manual {
			return false, err
		}
	}

	task := domain.RefundTask{
		ID:        uuid.NewString(),
		BookingID: st.BookingID,
		Method:    p.Method,
		Amount:    st.DepositRefundAmount,
		CreatedAt: s.now().UTC(),
	}
	if err := s.Refunds.Dispatch(ctx, task); err != nil {
		return false, fmt.Errorf("dispatch refund: %w", err)
	}
	logger.Info("Refund task dispatched", "bookingID", st.BookingID, "taskID", task.ID, "amount", task.Amount)
	return true, nil
}

func describeDamages(damages []domain.DamageReport) string {
	parts := make([]string, 0, len(damages))
	for _, d := range damages {
		if d.Description == "" {
			parts = append(parts, string(d.Severity))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", d.Severity, d.Description))
	}
	return strings.Join(parts, "; ")
}

type settlementService struct {
	settler
}

func NewSettlementService(d Dependencies) SettlementService {
	return &settlementService{settler: newSettler(d)}
}

// AddDamage records a damage report on an open settlement and recomputes
// its figures.
func (s *settlementService) AddDamage(ctx context.Context, bookingID int64, in DamageInput) (*domain.Settlement, error) {
	logger.EnterMethod("settlementService.AddDamage", "bookingID", bookingID, "severity", in.Severity)

	if in.Severity == "" {
		return nil, fmt.Errorf("%w: severity", domain.ErrMissingField)
	}
	if in.EstimatedCost != nil && *in.EstimatedCost < 0 {
		return nil, domain.ErrInvalidAmount
	}

	var st *domain.Settlement
	err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		b, err := s.Bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		st, err = s.Settlements.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if st.Finalized {
			return domain.ErrSettlementFinalized
		}

		err = s.Damages.Create(ctx, &domain.DamageReport{
			BookingID:     bookingID,
			Severity:      in.Severity,
			Description:   in.Description,
			EstimatedCost: in.EstimatedCost,
			ReportedBy:    in.ReportedBy,
		})
		if err != nil {
			return err
		}
		damages, err := s.Damages.ListByBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		s.recompute(b, st, damages)
		return s.Settlements.Update(ctx, st)
	})
	if err != nil {
		logger.ExitMethodWithError("settlementService.AddDamage", err, "bookingID", bookingID)
		return nil, err
	}

	logger.ExitMethod("settlementService.AddDamage", "bookingID", bookingID, "damageCharge", st.DamageCharge)
	return st, nil
}

// Finalize freezes a settlement left open for damage assessment. The refund
// is requested separately.
func (s *settlementService) Finalize(ctx context.Context, bookingID, staffID int64) (*domain.Settlement, error) {
	logger.EnterMethod("settlementService.Finalize", "bookingID", bookingID, "staffID", staffID)

	var (
		st     *domain.Settlement
		events outbox
	)
	err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		b, err := s.Bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		st, err = s.Settlements.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		return s.finalize(ctx, b, st, &staffID, &events)
	})
	if err != nil {
		logger.ExitMethodWithError("settlementService.Finalize", err, "bookingID", bookingID)
		return nil, err
	}
	events.publish(ctx, s.Notifier)

	logger.ExitMethod("settlementService.Finalize", "bookingID", bookingID, "depositRefund", st.DepositRefundAmount)
	return st, nil
}

func (s *settlementService) RequestRefund(ctx context.Context, bookingID int64) (*domain.Settlement, error) {
	logger.EnterMethod("settlementService.RequestRefund", "bookingID", bookingID)

	st, err := s.Settlements.GetByBookingID(ctx, bookingID)
	if err != nil {
		logger.ExitMethodWithError("settlementService.RequestRefund", err, "bookingID", bookingID)
		return nil, err
	}
	if st.RefundStatus == domain.RefundStatusNotRequired {
		logger.ExitMethod("settlementService.RequestRefund", "bookingID", bookingID, "refundStatus", st.RefundStatus)
		return st, nil
	}
	if st.RefundStatus != domain.RefundStatusPending && st.RefundStatus != domain.RefundStatusFailed {
		err := fmt.Errorf("%w: refund is %s", domain.ErrInvalidTransition, st.RefundStatus)
		logger.ExitMethodWithError("settlementService.RequestRefund", err, "bookingID", bookingID)
		return nil, err
	}

	if _, err := s.scheduleRefund(ctx, st); err != nil {
		logger.ExitMethodWithError("settlementService.RequestRefund", err, "bookingID", bookingID)
		return nil, err
	}

	logger.ExitMethod("settlementService.RequestRefund", "bookingID", bookingID, "refundStatus", st.RefundStatus)
	return st, nil
}

// SubmitRefundProof closes a manual refund with the reference of the bank
// transfer made by staff.
func (s *settlementService) SubmitRefundProof(ctx context.Context, bookingID, adminID int64, reference string) (*domain.Settlement, error) {
	logger.EnterMethod("settlementService.SubmitRefundProof", "bookingID", bookingID, "adminID", adminID)

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: refund reference", domain.ErrMissingField)
	}

	var (
		st     *domain.Settlement
		b      *domain.Booking
		events outbox
	)
	err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.Bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		st, err = s.Settlements.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if st.RefundStatus != domain.RefundStatusAwaitingManualProof {
			return fmt.Errorf("%w: refund is %s", domain.ErrInvalidTransition, st.RefundStatus)
		}
		if err := st.TransitionRefund(domain.RefundStatusProcessed); err != nil {
			return err
		}
		st.RefundReference = &reference
		if err := s.Settlements.Update(ctx, st); err != nil {
			return err
		}
		if _, err := s.Payments.MarkRefunded(ctx, bookingID, reference, fmt.Sprintf("manual refund confirmed by admin %d", adminID)); err != nil {
			return err
		}
		events.add(b.CustomerID, domain.EventRefundProcessed, refundPayload(st))
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("settlementService.SubmitRefundProof", err, "bookingID", bookingID)
		return nil, err
	}
	events.publish(ctx, s.Notifier)

	logger.ExitMethod("settlementService.SubmitRefundProof", "bookingID", bookingID)
	return st, nil
}

// ProcessRefund pays the deposit back through the gateway. The settlement
// is marked PROCESSING before the call and PROCESSED or FAILED after it.
// The idempotency key is stable per settlement so a retried call after a
// crash cannot pay twice.
func (s *settlementService) ProcessRefund(ctx context.Context, task domain.RefundTask) error {
	logger.EnterMethod("settlementService.ProcessRefund", "bookingID", task.BookingID, "taskID", task.ID, "attempt", task.Attempt)

	var (
		st   *domain.Settlement
		b    *domain.Booking
		p    *domain.Payment
		skip bool
	)
	err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.Settlements.GetByBookingIDForUpdate(ctx, task.BookingID)
		if err != nil {
			return err
		}
		switch st.RefundStatus {
		case domain.RefundStatusProcessing:
		case domain.RefundStatusPending, domain.RefundStatusFailed:
			if err := st.TransitionRefund(domain.RefundStatusProcessing); err != nil {
				return err
			}
			if err := s.Settlements.Update(ctx, st); err != nil {
				return err
			}
		default:
			skip = true
			return nil
		}
		if b, err = s.Bookings.GetByID(ctx, task.BookingID); err != nil {
			return err
		}
		p, err = s.Payments.Get(ctx, task.BookingID)
		return err
	})
	if err != nil {
		logger.ExitMethodWithError("settlementService.ProcessRefund", err, "bookingID", task.BookingID)
		return err
	}
	if skip {
		logger.Info("Refund task skipped", "bookingID", task.BookingID, "refundStatus", st.RefundStatus)
		return nil
	}

	refundID, err := s.callRefund(ctx, st, p)
	if err != nil {
		s.recordRefundFailure(ctx, task.BookingID, err)
		logger.ExitMethodWithError("settlementService.ProcessRefund", err, "bookingID", task.BookingID)
		return err
	}

	var events outbox
	err = s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		current, err := s.Settlements.GetByBookingIDForUpdate(ctx, task.BookingID)
		if err != nil {
			return err
		}
		if err := current.TransitionRefund(domain.RefundStatusProcessed); err != nil {
			return err
		}
		current.RefundReference = &refundID
		current.RefundFailureReason = ""
		if err := s.Settlements.Update(ctx, current); err != nil {
			return err
		}
		if _, err := s.Payments.MarkRefunded(ctx, task.BookingID, refundID, "deposit refund"); err != nil {
			return err
		}
		st = current
		events.add(b.CustomerID, domain.EventRefundProcessed, refundPayload(current))
		return nil
	})
	if err != nil {
		// The gateway has paid out; an operator must reconcile this row.
		logger.Error("Refund paid but not recorded", "bookingID", task.BookingID, "refundID", refundID, "error", err)
		return fmt.Errorf("%w: refund %s for booking %d: %w", domain.ErrInconsistency, refundID, task.BookingID, err)
	}
	events.publish(ctx, s.Notifier)

	logger.ExitMethod("settlementService.ProcessRefund", "bookingID", task.BookingID, "refundID", refundID)
	return nil
}

func (s *settlementService) callRefund(ctx context.Context, st *domain.Settlement, p *domain.Payment) (string, error) {
	if p.TransactionID == nil {
		return "", fmt.Errorf("%w: payment of booking %d has no transaction id", domain.ErrInvalidTransition, st.BookingID)
	}
	g, err := s.Gateways.Get(p.Method)
	if err != nil {
		return "", err
	}
	return g.Refund(ctx, gateway.RefundRequest{
		BookingID:      st.BookingID,
		TransactionID:  *p.TransactionID,
		Amount:         st.DepositRefundAmount,
		Currency:       p.Currency,
		Reason:         "deposit refund",
		IdempotencyKey: fmt.Sprintf("refund-settlement-%d", st.ID),
	})
}

func (s *settlementService) recordRefundFailure(ctx context.Context, bookingID int64, cause error) {
	err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		st, err := s.Settlements.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := st.TransitionRefund(domain.RefundStatusFailed); err != nil {
			return err
		}
		st.RefundFailureReason = cause.Error()
		return s.Settlements.Update(ctx, st)
	})
	if err != nil {
		logger.Error("Failed to record refund failure", "bookingID", bookingID, "cause", cause, "error", err)
	}
}

func (s *settlementService) Get(ctx context.Context, bookingID int64) (*domain.Settlement, error) {
	return s.Settlements.GetByBookingID(ctx, bookingID)
}

func refundPayload(st *domain.Settlement) map[string]string {
	payload := map[string]string{
		"booking_id": strconv.FormatInt(st.BookingID, 10),
		"amount":     strconv.FormatInt(st.DepositRefundAmount, 10),
	}
	if st.RefundReference != nil {
		payload["reference"] = *st.RefundReference
	}
	return payload
}
