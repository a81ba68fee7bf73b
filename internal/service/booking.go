package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/pricing"
)

const defaultHoldWindow = 15 * time.Minute

type bookingService struct {
	settler
	hold time.Duration
}

func NewBookingService(d Dependencies) BookingService {
	hold := d.HoldWindow
	if hold <= 0 {
		hold = defaultHoldWindow
	}
	return &bookingService{settler: newSettler(d), hold: hold}
}

func (s *bookingService) validate(req BookingRequest) error {
	if req.CustomerID <= 0 {
		return fmt.Errorf("%w: customer id", domain.ErrMissingField)
	}
	if req.VehicleID <= 0 {
		return fmt.Errorf("%w: vehicle id", domain.ErrMissingField)
	}
	if req.PaymentMethod == "" {
		return fmt.Errorf("%w: payment method", domain.ErrMissingField)
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return fmt.Errorf("%w: scheduled start and end", domain.ErrMissingField)
	}
	if !req.Start.Before(req.End) {
		return domain.ErrInvalidDateRange
	}
	if req.Start.Before(s.now()) {
		return domain.ErrStartInPast
	}
	return nil
}

func (s *bookingService) quote(ctx context.Context, v *domain.Vehicle, req BookingRequest) (pricing.CostBreakdown, error) {
	score, err := s.Trust.GetScore(ctx, req.CustomerID)
	if err != nil {
		return pricing.CostBreakdown{}, err
	}
	completed, err := s.Bookings.CountCompletedByCustomer(ctx, req.CustomerID)
	if err != nil {
		return pricing.CostBreakdown{}, err
	}
	return s.Calculator.Quote(v.HourlyRate, v.VehiclePrice, req.Start, req.End, score, completed), nil
}

// Preview prices a booking without reserving anything.
func (s *bookingService) Preview(ctx context.Context, req BookingRequest) (*pricing.CostBreakdown, error) {
	logger.EnterMethod("bookingService.Preview", "customerID", req.CustomerID, "vehicleID", req.VehicleID)

	if err := s.validate(req); err != nil {
		logger.ExitMethodWithError("bookingService.Preview", err)
		return nil, err
	}
	v, err := s.Vehicles.GetByID(ctx, req.VehicleID)
	if err != nil {
		logger.ExitMethodWithError("bookingService.Preview", err, "vehicleID", req.VehicleID)
		return nil, err
	}
	q, err := s.quote(ctx, v, req)
	if err != nil {
		logger.ExitMethodWithError("bookingService.Preview", err)
		return nil, err
	}

	logger.ExitMethod("bookingService.Preview", "total", q.Total)
	return &q, nil
}

// Create reserves the vehicle for the requested window and opens the
// booking's payment. The vehicle row lock serializes concurrent creates for
// the same vehicle, so the overlap count cannot go stale before the insert.
func (s *bookingService) Create(ctx context.Context, req BookingRequest) (*BookingCreated, error) {
	logger.EnterMethod("bookingService.Create", "customerID", req.CustomerID, "vehicleID", req.VehicleID,
		"start", req.Start, "end", req.End)

	if err := s.validate(req); err != nil {
		logger.ExitMethodWithError("bookingService.Create", err)
		return nil, err
	}
	if s.Gateways != nil && !s.Gateways.Supports(req.PaymentMethod) {
		err := fmt.Errorf("%w: unsupported payment method %q", domain.ErrValidation, req.PaymentMethod)
		logger.ExitMethodWithError("bookingService.Create", err)
		return nil, err
	}

	res := &BookingCreated{}
	err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		v, err := s.Vehicles.LockForBooking(ctx, req.VehicleID)
		if err != nil {
			return err
		}
		if v.Status != domain.VehicleStatusAvailable {
			return fmt.Errorf("%w: vehicle %d is %s", domain.ErrVehicleUnavailable, v.ID, v.Status)
		}
		n, err := s.Bookings.CountOverlapping(ctx, req.VehicleID, req.Start, req.End)
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrVehicleUnavailable
		}

		q, err := s.quote(ctx, v, req)
		if err != nil {
			return err
		}
		b := &domain.Booking{
			CustomerID:         req.CustomerID,
			VehicleID:          req.VehicleID,
			ScheduledStart:     req.Start.UTC(),
			ScheduledEnd:       req.End.UTC(),
			HourlyRate:         v.HourlyRate,
			RentalCost:         q.RentalCost,
			DepositAmount:      q.Deposit,
			ServiceFee:         q.ServiceFee,
			TotalAmount:        q.Total,
			TrustScoreSnapshot: q.TrustScore,
			Status:             domain.BookingStatusPending,
			PaymentMethod:      req.PaymentMethod,
			HoldExpiresAt:      s.now().UTC().Add(s.hold),
		}
		if err := s.Bookings.Create(ctx, b); err != nil {
			return err
		}
		p, err := s.Payments.Create(ctx, b.ID, q.Total, q.Currency, req.PaymentMethod)
		if err != nil {
			return err
		}

		res.Booking, res.Payment, res.Quote = b, p, q
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.Create", err, "vehicleID", req.VehicleID)
		return nil, err
	}

	url, err := s.Payments.StartCheckout(ctx, res.Booking)
	if err != nil {
		// The booking stands; the client can ask for a new checkout session.
		logger.Warn("Checkout session not created", "bookingID", res.Booking.ID, "error", err)
	} else {
		res.CheckoutURL = url
		res.Payment.CheckoutURL = url
	}

	var events outbox
	events.add(res.Booking.CustomerID, domain.EventBookingCreated, map[string]string{
		"booking_id":      strconv.FormatInt(res.Booking.ID, 10),
		"total":           strconv.FormatInt(res.Booking.TotalAmount, 10),
		"currency":        res.Payment.Currency,
		"hold_expires_at": res.Booking.HoldExpiresAt.Format(time.RFC3339),
	})
	events.publish(ctx, s.Notifier)

	logger.ExitMethod("bookingService.Create", "bookingID", res.Booking.ID, "total", res.Booking.TotalAmount)
	return res, nil
}

// ConfirmPayment applies a verified payment webhook. Once the booking is past
// PENDING only a replay of the stored transaction is accepted, and it changes
// nothing whatever stage the rental has reached.
func (s *bookingService) ConfirmPayment(ctx context.Context, c PaymentConfirmation) (*ConfirmResult, error) {
	logger.EnterMethod("bookingService.ConfirmPayment", "bookingID", c.BookingID, "transactionID", c.TransactionID)

	res := &ConfirmResult{}
	err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		b, err := s.Bookings.GetByIDForUpdate(ctx, c.BookingID)
		if err != nil {
			return err
		}
		res.Booking = b

		switch b.Status {
		case domain.BookingStatusConfirmed, domain.BookingStatusInProgress, domain.BookingStatusCompleted:
			p, outcome, err := s.Payments.MarkCompleted(ctx, b.ID, c.TransactionID, c.Amount, c.Payload)
			if err != nil {
				return err
			}
			res.Payment, res.Outcome = p, outcome
			res.TrustScore, err = s.Trust.GetScore(ctx, b.CustomerID)
			return err
		}

		if !b.Status.CanTransitionTo(domain.BookingStatusConfirmed) {
			return domain.InvalidTransition("booking", string(b.Status), string(domain.BookingStatusConfirmed))
		}
		p, outcome, err := s.Payments.MarkCompleted(ctx, b.ID, c.TransactionID, c.Amount, c.Payload)
		if err != nil {
			return err
		}
		res.Payment, res.Outcome = p, outcome

		if err := b.TransitionTo(domain.BookingStatusConfirmed); err != nil {
			return err
		}
		if err := s.Bookings.Update(ctx, b); err != nil {
			return err
		}

		res.TrustScore, res.BonusApplied, err = s.Trust.ApplyFirstPaymentBonus(ctx, b.CustomerID, b.ID)
		return err
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.ConfirmPayment", err, "bookingID", c.BookingID)
		return nil, err
	}

	if res.Outcome == domain.OutcomeApplied {
		var events outbox
		events.add(res.Booking.CustomerID, domain.EventPaymentSucceeded, map[string]string{
			"booking_id":     strconv.FormatInt(res.Booking.ID, 10),
			"transaction_id": c.TransactionID,
			"amount":         strconv.FormatInt(res.Payment.Amount, 10),
			"trust_score":    strconv.Itoa(res.TrustScore),
		})
		events.publish(ctx, s.Notifier)
	}

	logger.ExitMethod("bookingService.ConfirmPayment", "bookingID", c.BookingID, "outcome", res.Outcome, "score", res.TrustScore)
	return res, nil
}

// RecordPaymentFailure marks the payment failed. The booking keeps its hold
// so the customer can retry until it expires.
func (s *bookingService) RecordPaymentFailure(ctx context.Context, bookingID int64, payload json.RawMessage) error {
	logger.EnterMethod("bookingService.RecordPaymentFailure", "bookingID", bookingID)

	b, err := s.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		logger.ExitMethodWithError("bookingService.RecordPaymentFailure", err, "bookingID", bookingID)
		return err
	}
	_, outcome, err := s.Payments.MarkFailed(ctx, bookingID, payload)
	if err != nil {
		logger.ExitMethodWithError("bookingService.RecordPaymentFailure", err, "bookingID", bookingID)
		return err
	}

	if outcome == domain.OutcomeApplied {
		var events outbox
		events.add(b.CustomerID, domain.EventPaymentFailed, map[string]string{
			"booking_id":      strconv.FormatInt(b.ID, 10),
			"hold_expires_at": b.HoldExpiresAt.Format(time.RFC3339),
		})
		events.publish(ctx, s.Notifier)
	}

	logger.ExitMethod("bookingService.RecordPaymentFailure", "bookingID", bookingID, "outcome", outcome)
	return nil
}

func (s *bookingService) StartRental(ctx context.Context, bookingID, staffID int64) (*domain.Booking, error) {
	logger.EnterMethod("bookingService.StartRental", "bookingID", bookingID, "staffID", staffID)

	var (
		b      *domain.Booking
		events outbox
	)
	err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.Bookings.GetByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingStatusConfirmed {
			return domain.InvalidTransition("booking", string(b.Status), string(domain.BookingStatusInProgress))
		}
		now := s.now().UTC()
		if now.Before(b.ScheduledStart) {
			return domain.ErrRentalNotStarted
		}
		photos, err := s.Conditions.CountByPhase(ctx, bookingID, domain.ConditionPhasePickup)
		if err != nil {
			return err
		}
		if photos < 1 {
			return domain.ErrPickupEvidenceMissing
		}

		if err := b.TransitionTo(domain.BookingStatusInProgress); err != nil {
			return err
		}
		b.ActualPickupAt = &now
		if err := s.Bookings.Update(ctx, b); err != nil {
			return err
		}
		events.add(b.CustomerID, domain.EventRentalStarted, map[string]string{
			"booking_id":    strconv.FormatInt(b.ID, 10),
			"scheduled_end": b.ScheduledEnd.Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.StartRental", err, "bookingID", bookingID)
		return nil, err
	}
	events.publish(ctx, s.Notifier)

	logger.ExitMethod("bookingService.StartRental", "bookingID", bookingID)
	return b, nil
}

// CompleteRental closes a rental at return. A return without damage settles
// at once and its deposit refund is started after commit; a return with
// damage leaves the settlement open for staff assessment.
func (s *bookingService) CompleteRental(ctx context.Context, req ReturnRequest) (*CompletionResult, error) {
	logger.EnterMethod("bookingService.CompleteRental", "bookingID", req.BookingID, "staffID", req.StaffID,
		"damages", len(req.Damages))

	for _, d := range req.Damages {
		if d.Severity == "" {
			return nil, fmt.Errorf("%w: damage severity", domain.ErrMissingField)
		}
		if d.EstimatedCost != nil && *d.EstimatedCost < 0 {
			return nil, domain.ErrInvalidAmount
		}
	}
	returnedAt := req.ReturnedAt
	if returnedAt.IsZero() {
		returnedAt = s.now()
	}
	returnedAt = returnedAt.UTC()

	var (
		res    = &CompletionResult{}
		events outbox
	)
	err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		b, err := s.Bookings.GetByIDForUpdate(ctx, req.BookingID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingStatusInProgress {
			return domain.InvalidTransition("booking", string(b.Status), string(domain.BookingStatusCompleted))
		}
		photos, err := s.Conditions.CountByPhase(ctx, b.ID, domain.ConditionPhaseReturn)
		if err != nil {
			return err
		}
		if photos < 1 {
			return domain.ErrReturnEvidenceMissing
		}

		damages := make([]domain.DamageReport, 0, len(req.Damages))
		for _, in := range req.Damages {
			d := domain.DamageReport{
				BookingID:     b.ID,
				Severity:      in.Severity,
				Description:   in.Description,
				EstimatedCost: in.EstimatedCost,
				ReportedBy:    firstID(in.ReportedBy, req.StaffID),
			}
			if err := s.Damages.Create(ctx, &d); err != nil {
				return err
			}
			damages = append(damages, d)
		}

		st, err := s.open(ctx, b, returnedAt, damages)
		if err != nil {
			return err
		}
		if len(damages) == 0 {
			var staff *int64
			if req.StaffID > 0 {
				staff = &req.StaffID
			}
			if err := s.finalize(ctx, b, st, staff, &events); err != nil {
				return err
			}
		}

		if err := b.TransitionTo(domain.BookingStatusCompleted); err != nil {
			return err
		}
		b.ActualReturnAt = &returnedAt
		if err := s.Bookings.Update(ctx, b); err != nil {
			return err
		}
		if _, err := s.Trust.ApplyCompletionBonus(ctx, b.CustomerID, b.ID); err != nil {
			return err
		}

		events.add(b.CustomerID, domain.EventRentalCompleted, map[string]string{
			"booking_id":     strconv.FormatInt(b.ID, 10),
			"damage_reports": strconv.Itoa(len(damages)),
		})
		res.Booking, res.Settlement = b, st
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.CompleteRental", err, "bookingID", req.BookingID)
		return nil, err
	}
	events.publish(ctx, s.Notifier)

	if res.Settlement.Finalized && len(req.Damages) == 0 {
		scheduled, err := s.scheduleRefund(ctx, res.Settlement)
		if err != nil {
			// The settlement stays PENDING; the refund retry job picks it up.
			logger.Error("Deposit refund not scheduled", "bookingID", req.BookingID, "error", err)
		}
		res.RefundScheduled = scheduled
	}

	logger.ExitMethod("bookingService.CompleteRental", "bookingID", req.BookingID,
		"finalized", res.Settlement.Finalized, "refundScheduled", res.RefundScheduled)
	return res, nil
}

// Expire cancels an unpaid booking whose hold has lapsed.
func (s *bookingService) Expire(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	logger.EnterMethod("bookingService.Expire", "bookingID", bookingID)

	var b *domain.Booking
	err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.Bookings.GetByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingStatusPending {
			return domain.InvalidTransition("booking", string(b.Status), string(domain.BookingStatusCancelled))
		}
		if !b.HoldExpired(s.now()) {
			return domain.ErrHoldNotExpired
		}
		if err := b.TransitionTo(domain.BookingStatusCancelled); err != nil {
			return err
		}
		return s.Bookings.Update(ctx, b)
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.Expire", err, "bookingID", bookingID)
		return nil, err
	}

	var events outbox
	events.add(b.CustomerID, domain.EventBookingExpired, map[string]string{
		"booking_id": strconv.FormatInt(b.ID, 10),
	})
	events.publish(ctx, s.Notifier)

	logger.ExitMethod("bookingService.Expire", "bookingID", bookingID)
	return b, nil
}

// MarkNoShow cancels a confirmed booking whose window passed without a
// pickup and penalizes the customer.
func (s *bookingService) MarkNoShow(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	logger.EnterMethod("bookingService.MarkNoShow", "bookingID", bookingID)

	var (
		b      *domain.Booking
		events outbox
	)
	err := s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.Bookings.GetByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingStatusConfirmed {
			return domain.InvalidTransition("booking", string(b.Status), string(domain.BookingStatusCancelled))
		}
		if b.ActualPickupAt != nil || !b.ScheduledEnd.Before(s.now()) {
			return domain.ErrNotNoShow
		}
		if err := b.TransitionTo(domain.BookingStatusCancelled); err != nil {
			return err
		}
		if err := s.Bookings.Update(ctx, b); err != nil {
			return err
		}
		score, err := s.Trust.ApplyNoShowPenalty(ctx, b.CustomerID, b.ID)
		if err != nil {
			return err
		}
		events.add(b.CustomerID, domain.EventBookingCancelled, map[string]string{
			"booking_id":  strconv.FormatInt(b.ID, 10),
			"reason":      "no-show",
			"trust_score": strconv.Itoa(score),
		})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.MarkNoShow", err, "bookingID", bookingID)
		return nil, err
	}
	events.publish(ctx, s.Notifier)

	logger.ExitMethod("bookingService.MarkNoShow", "bookingID", bookingID)
	return b, nil
}

func (s *bookingService) Get(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	return s.Bookings.GetByID(ctx, bookingID)
}

// RecordCondition stores a handover photo. The photo must already be in
// storage.
func (s *bookingService) RecordCondition(ctx context.Context, in ConditionInput) (*domain.ConditionRecord, error) {
	logger.EnterMethod("bookingService.RecordCondition", "bookingID", in.BookingID, "phase", in.Phase)

	if in.PhotoKey == "" {
		return nil, fmt.Errorf("%w: photo key", domain.ErrMissingField)
	}
	if in.Phase != domain.ConditionPhasePickup && in.Phase != domain.ConditionPhaseReturn {
		return nil, fmt.Errorf("%w: unknown condition phase %q", domain.ErrValidation, in.Phase)
	}
	if s.Evidence != nil {
		ok, _, err := s.Evidence.FileExists(ctx, in.PhotoKey)
		if err != nil {
			logger.ExitMethodWithError("bookingService.RecordCondition", err, "photoKey", in.PhotoKey)
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: photo %s was not uploaded", domain.ErrValidation, in.PhotoKey)
		}
	}

	b, err := s.Bookings.GetByID(ctx, in.BookingID)
	if err != nil {
		logger.ExitMethodWithError("bookingService.RecordCondition", err, "bookingID", in.BookingID)
		return nil, err
	}
	if b.Status != domain.BookingStatusConfirmed && b.Status != domain.BookingStatusInProgress {
		err := fmt.Errorf("%w: booking %d is %s", domain.ErrInvalidTransition, b.ID, b.Status)
		logger.ExitMethodWithError("bookingService.RecordCondition", err)
		return nil, err
	}

	rec := &domain.ConditionRecord{
		BookingID:  in.BookingID,
		Phase:      in.Phase,
		PhotoKey:   in.PhotoKey,
		Note:       in.Note,
		RecordedBy: in.RecordedBy,
	}
	if err := s.Conditions.Create(ctx, rec); err != nil {
		logger.ExitMethodWithError("bookingService.RecordCondition", err, "bookingID", in.BookingID)
		return nil, err
	}

	logger.ExitMethod("bookingService.RecordCondition", "recordID", rec.ID)
	return rec, nil
}

func firstID(ids ...int64) int64 {
	for _, id := range ids {
		if id > 0 {
			return id
		}
	}
	return 0
}
