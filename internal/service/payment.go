package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/gateway"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"
)

type paymentManager struct {
	tx       repository.Transactor
	payments repository.PaymentRepository
	bookings repository.BookingRepository
	gateways *gateway.Registry
	now      func() time.Time
}

func NewPaymentManager(
	tx repository.Transactor,
	payments repository.PaymentRepository,
	bookings repository.BookingRepository,
	gateways *gateway.Registry,
) PaymentManager {
	return &paymentManager{
		tx:       tx,
		payments: payments,
		bookings: bookings,
		gateways: gateways,
		now:      time.Now,
	}
}

// Create opens the single payment record of a booking.
func (m *paymentManager) Create(ctx context.Context, bookingID, amount int64, currency string, method domain.PaymentMethod) (*domain.Payment, error) {
	logger.EnterMethod("paymentManager.Create", "bookingID", bookingID, "amount", amount, "method", method)

	if amount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	if m.gateways != nil && !m.gateways.Supports(method) {
		return nil, fmt.Errorf("%w: unsupported payment method %q", domain.ErrValidation, method)
	}

	_, err := m.payments.GetByBookingID(ctx, bookingID)
	if err == nil {
		logger.ExitMethodWithError("paymentManager.Create", domain.ErrPaymentExists, "bookingID", bookingID)
		return nil, domain.ErrPaymentExists
	}
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}

	p := &domain.Payment{
		BookingID: bookingID,
		Amount:    amount,
		Currency:  currency,
		Method:    method,
		Status:    domain.PaymentStatusPending,
	}
	if err := m.payments.Create(ctx, p); err != nil {
		logger.ExitMethodWithError("paymentManager.Create", err, "bookingID", bookingID)
		return nil, err
	}

	logger.ExitMethod("paymentManager.Create", "paymentID", p.ID)
	return p, nil
}

// MarkCompleted records a successful gateway payment. A repeated call with
// the same transaction id changes nothing and reports OutcomeAlreadyApplied;
// a different transaction id for a completed payment is rejected.
func (m *paymentManager) MarkCompleted(ctx context.Context, bookingID int64, transactionID string, amount int64, payload json.RawMessage) (*domain.Payment, domain.PaymentOutcome, error) {
	logger.EnterMethod("paymentManager.MarkCompleted", "bookingID", bookingID, "transactionID", transactionID)

	if transactionID == "" {
		return nil, domain.OutcomeApplied, fmt.Errorf("%w: transaction id", domain.ErrMissingField)
	}

	var (
		p       *domain.Payment
		outcome = domain.OutcomeApplied
	)
	err := m.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		p, err = m.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}

		switch p.Status {
		case domain.PaymentStatusCompleted, domain.PaymentStatusRefunded:
			if p.TransactionID != nil && *p.TransactionID == transactionID {
				outcome = domain.OutcomeAlreadyApplied
				return nil
			}
			logger.Error("Payment completed twice with different transaction ids",
				"bookingID", bookingID, "stored", p.TransactionID, "received", transactionID)
			return fmt.Errorf("%w: booking %d", domain.ErrInconsistentTransaction, bookingID)
		}

		if amount != 0 && amount != p.Amount {
			return fmt.Errorf("%w: expected %d, got %d", domain.ErrAmountMismatch, p.Amount, amount)
		}
		if err := p.TransitionTo(domain.PaymentStatusCompleted); err != nil {
			return err
		}
		paidAt := m.now().UTC()
		p.TransactionID = &transactionID
		p.GatewayPayload = payload
		p.PaidAt = &paidAt
		return m.payments.Update(ctx, p)
	})
	if err != nil {
		logger.ExitMethodWithError("paymentManager.MarkCompleted", err, "bookingID", bookingID)
		return nil, domain.OutcomeApplied, err
	}

	logger.ExitMethod("paymentManager.MarkCompleted", "bookingID", bookingID, "outcome", outcome)
	return p, outcome, nil
}

// MarkFailed is a no-op for a payment that already failed and is rejected
// for one that completed.
func (m *paymentManager) MarkFailed(ctx context.Context, bookingID int64, payload json.RawMessage) (*domain.Payment, domain.PaymentOutcome, error) {
	logger.EnterMethod("paymentManager.MarkFailed", "bookingID", bookingID)

	var (
		p       *domain.Payment
		outcome = domain.OutcomeApplied
	)
	err := m.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		p, err = m.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if p.Status == domain.PaymentStatusFailed {
			outcome = domain.OutcomeAlreadyApplied
			return nil
		}
		if err := p.TransitionTo(domain.PaymentStatusFailed); err != nil {
			return err
		}
		p.GatewayPayload = payload
		return m.payments.Update(ctx, p)
	})
	if err != nil {
		logger.ExitMethodWithError("paymentManager.MarkFailed", err, "bookingID", bookingID)
		return nil, domain.OutcomeApplied, err
	}

	logger.ExitMethod("paymentManager.MarkFailed", "bookingID", bookingID, "outcome", outcome)
	return p, outcome, nil
}

func (m *paymentManager) MarkRefunded(ctx context.Context, bookingID int64, refundID, reason string) (*domain.Payment, error) {
	logger.EnterMethod("paymentManager.MarkRefunded", "bookingID", bookingID, "refundID", refundID)

	if refundID == "" {
		return nil, fmt.Errorf("%w: refund id", domain.ErrMissingField)
	}

	var p *domain.Payment
	err := m.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		p, err = m.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := p.TransitionTo(domain.PaymentStatusRefunded); err != nil {
			return err
		}
		refundedAt := m.now().UTC()
		p.RefundID = &refundID
		p.RefundReason = reason
		p.RefundedAt = &refundedAt
		return m.payments.Update(ctx, p)
	})
	if err != nil {
		logger.ExitMethodWithError("paymentManager.MarkRefunded", err, "bookingID", bookingID)
		return nil, err
	}

	logger.ExitMethod("paymentManager.MarkRefunded", "bookingID", bookingID)
	return p, nil
}

// RestartCheckout reopens a failed payment and asks the gateway for a new
// checkout session. The booking must still be held.
func (m *paymentManager) RestartCheckout(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	logger.EnterMethod("paymentManager.RestartCheckout", "bookingID", bookingID)

	var (
		b *domain.Booking
		p *domain.Payment
	)
	err := m.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		b, err = m.bookings.GetByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingStatusPending {
			return fmt.Errorf("%w: booking %d is %s", domain.ErrInvalidTransition, bookingID, b.Status)
		}
		if b.HoldExpired(m.now()) {
			return fmt.Errorf("%w: hold of booking %d has expired", domain.ErrInvalidTransition, bookingID)
		}

		p, err = m.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if p.Status == domain.PaymentStatusPending {
			return nil
		}
		if err := p.TransitionTo(domain.PaymentStatusPending); err != nil {
			return err
		}
		return m.payments.Update(ctx, p)
	})
	if err != nil {
		logger.ExitMethodWithError("paymentManager.RestartCheckout", err, "bookingID", bookingID)
		return nil, err
	}

	url, err := m.StartCheckout(ctx, b)
	if err != nil {
		logger.ExitMethodWithError("paymentManager.RestartCheckout", err, "bookingID", bookingID)
		return nil, err
	}
	p.CheckoutURL = url

	logger.ExitMethod("paymentManager.RestartCheckout", "bookingID", bookingID)
	return p, nil
}

func (m *paymentManager) Get(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	return m.payments.GetByBookingID(ctx, bookingID)
}

// StartCheckout opens a gateway checkout session for the booking's payment
// and stores its URL. The payment row is re-read under lock before the URL
// is written so a webhook that landed in the meantime is not overwritten.
func (m *paymentManager) StartCheckout(ctx context.Context, b *domain.Booking) (string, error) {
	if m.gateways == nil {
		return "", errors.New("no payment gateways configured")
	}
	p, err := m.payments.GetByBookingID(ctx, b.ID)
	if err != nil {
		return "", err
	}
	g, err := m.gateways.Get(p.Method)
	if err != nil {
		return "", err
	}

	url, err := g.CreateCheckout(ctx, gateway.CheckoutRequest{
		BookingID: b.ID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Metadata: map[string]string{
			"customer_id": strconv.FormatInt(b.CustomerID, 10),
			"vehicle_id":  strconv.FormatInt(b.VehicleID, 10),
		},
	})
	if err != nil {
		return "", fmt.Errorf("create checkout: %w", err)
	}

	err = m.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		current, err := m.payments.GetByBookingIDForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		current.CheckoutURL = url
		return m.payments.Update(ctx, current)
	})
	if err != nil {
		return "", fmt.Errorf("store checkout url: %w", err)
	}
	return url, nil
}
