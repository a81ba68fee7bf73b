package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"
)

const initialScoreReason = "initial trust score"

type trustLedger struct {
	tx     repository.Transactor
	scores repository.TrustScoreRepository
	policy TrustPolicy
}

func NewTrustLedger(tx repository.Transactor, scores repository.TrustScoreRepository, policy TrustPolicy) TrustLedger {
	return &trustLedger{tx: tx, scores: scores, policy: policy}
}

// GetScore returns 0 for a customer without a record and creates nothing.
func (l *trustLedger) GetScore(ctx context.Context, customerID int64) (int, error) {
	ts, err := l.scores.Get(ctx, customerID)
	if errors.Is(err, domain.ErrTrustScoreNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ts.Score, nil
}

// ApplyEvent applies one signed delta to the customer's score and records it
// in the history, creating the score first when the customer has none.
func (l *trustLedger) ApplyEvent(ctx context.Context, ev domain.TrustEvent) (int, error) {
	logger.EnterMethod("trustLedger.ApplyEvent", "customerID", ev.CustomerID, "delta", ev.Delta, "changeType", ev.ChangeType)

	var score int
	err := l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		ts, _, err := l.getOrCreate(ctx, ev.CustomerID, ev.BookingID)
		if err != nil {
			return err
		}
		score, err = l.apply(ctx, ts, ev)
		return err
	})
	if err != nil {
		err = ledgerError(ev.CustomerID, err)
		logger.ExitMethodWithError("trustLedger.ApplyEvent", err, "customerID", ev.CustomerID)
		return 0, err
	}

	logger.ExitMethod("trustLedger.ApplyEvent", "customerID", ev.CustomerID, "score", score)
	return score, nil
}

// ApplyFirstPaymentBonus grants the first-payment bonus only while the score
// still sits at its initial value, so a repeated call grants nothing.
func (l *trustLedger) ApplyFirstPaymentBonus(ctx context.Context, customerID, bookingID int64) (int, bool, error) {
	logger.EnterMethod("trustLedger.ApplyFirstPaymentBonus", "customerID", customerID, "bookingID", bookingID)

	var (
		score   int
		applied bool
	)
	err := l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		ts, _, err := l.getOrCreate(ctx, customerID, &bookingID)
		if err != nil {
			return err
		}
		if ts.Score != l.policy.InitialScore {
			score = ts.Score
			return nil
		}
		score, err = l.apply(ctx, ts, domain.TrustEvent{
			CustomerID: customerID,
			BookingID:  &bookingID,
			Delta:      l.policy.FirstPaymentBonus,
			Reason:     "first successful payment",
			ChangeType: domain.TrustChangeBonus,
		})
		applied = err == nil
		return err
	})
	if err != nil {
		err = ledgerError(customerID, err)
		logger.ExitMethodWithError("trustLedger.ApplyFirstPaymentBonus", err, "customerID", customerID)
		return 0, false, err
	}

	logger.ExitMethod("trustLedger.ApplyFirstPaymentBonus", "customerID", customerID, "applied", applied, "score", score)
	return score, applied, nil
}

func (l *trustLedger) ApplyCompletionBonus(ctx context.Context, customerID, bookingID int64) (int, error) {
	return l.ApplyEvent(ctx, domain.TrustEvent{
		CustomerID: customerID,
		BookingID:  &bookingID,
		Delta:      l.policy.CompletionBonus,
		Reason:     "rental completed",
		ChangeType: domain.TrustChangeBonus,
	})
}

func (l *trustLedger) ApplyNoShowPenalty(ctx context.Context, customerID, bookingID int64) (int, error) {
	return l.ApplyEvent(ctx, domain.TrustEvent{
		CustomerID: customerID,
		BookingID:  &bookingID,
		Delta:      -l.policy.NoShowPenalty,
		Reason:     "no-show",
		ChangeType: domain.TrustChangePenalty,
	})
}

// ApplyLateReturnPenalty charges the per-hour penalty for every overtime
// hour. Zero hours leaves the score untouched.
func (l *trustLedger) ApplyLateReturnPenalty(ctx context.Context, customerID, bookingID, overtimeHours int64) (int, error) {
	if overtimeHours <= 0 {
		return l.GetScore(ctx, customerID)
	}
	return l.ApplyEvent(ctx, domain.TrustEvent{
		CustomerID: customerID,
		BookingID:  &bookingID,
		Delta:      -int(overtimeHours) * l.policy.LatePenaltyPerHour,
		Reason:     fmt.Sprintf("late return by %d hour(s)", overtimeHours),
		ChangeType: domain.TrustChangePenalty,
	})
}

// ApplyDamagePenalty applies the major penalty when the charge reaches the
// configured threshold and the minor penalty otherwise.
func (l *trustLedger) ApplyDamagePenalty(ctx context.Context, customerID, bookingID, damageCharge int64) (int, error) {
	if damageCharge <= 0 {
		return l.GetScore(ctx, customerID)
	}

	penalty, reason := l.policy.MinorDamagePenalty, "minor damage"
	if damageCharge >= l.policy.MajorDamageThreshold {
		penalty, reason = l.policy.MajorDamagePenalty, "major damage"
	}
	return l.ApplyEvent(ctx, domain.TrustEvent{
		CustomerID: customerID,
		BookingID:  &bookingID,
		Delta:      -penalty,
		Reason:     fmt.Sprintf("%s (charge %d)", reason, damageCharge),
		ChangeType: domain.TrustChangePenalty,
	})
}

func (l *trustLedger) AdjustManually(ctx context.Context, customerID, adminID int64, delta int, reason string) (int, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return 0, domain.ErrReasonRequired
	}
	if adminID <= 0 {
		return 0, fmt.Errorf("%w: admin id", domain.ErrMissingField)
	}
	if delta == 0 {
		return 0, fmt.Errorf("%w: adjustment must be non-zero", domain.ErrValidation)
	}

	return l.ApplyEvent(ctx, domain.TrustEvent{
		CustomerID: customerID,
		AdminID:    &adminID,
		Delta:      delta,
		Reason:     reason,
		ChangeType: domain.TrustChangeManualAdjustment,
	})
}

func (l *trustLedger) GetHistory(ctx context.Context, customerID int64) ([]domain.TrustScoreHistory, error) {
	return l.scores.ListHistory(ctx, customerID)
}

// getOrCreate returns the customer's score locked for update. A newly
// created score is recorded in the history with the initial value as its
// delta. Must run inside a transaction.
func (l *trustLedger) getOrCreate(ctx context.Context, customerID int64, bookingID *int64) (*domain.TrustScore, domain.TrustScoreInit, error) {
	ts, err := l.scores.GetForUpdate(ctx, customerID)
	if err == nil {
		return ts, domain.TrustScoreExisting, nil
	}
	if !errors.Is(err, domain.ErrTrustScoreNotFound) {
		return nil, domain.TrustScoreExisting, err
	}

	ts = &domain.TrustScore{CustomerID: customerID, Score: l.policy.InitialScore, LastBookingID: bookingID}
	created, err := l.scores.Insert(ctx, ts)
	if err != nil {
		return nil, domain.TrustScoreExisting, err
	}
	if !created {
		// Lost the insert race; the winner's row is committed by now.
		ts, err = l.scores.GetForUpdate(ctx, customerID)
		return ts, domain.TrustScoreExisting, err
	}

	err = l.scores.AppendHistory(ctx, &domain.TrustScoreHistory{
		CustomerID:    customerID,
		BookingID:     bookingID,
		ChangeAmount:  l.policy.InitialScore,
		PreviousScore: 0,
		NewScore:      l.policy.InitialScore,
		Reason:        initialScoreReason,
		ChangeType:    domain.TrustChangeBonus,
	})
	if err != nil {
		return nil, domain.TrustScoreCreated, err
	}
	logger.Info("Trust score created", "customerID", customerID, "score", ts.Score)
	return ts, domain.TrustScoreCreated, nil
}

func (l *trustLedger) apply(ctx context.Context, ts *domain.TrustScore, ev domain.TrustEvent) (int, error) {
	previous := ts.Score
	ts.Score = previous + ev.Delta
	if ev.BookingID != nil {
		ts.LastBookingID = ev.BookingID
	}
	if err := l.scores.Update(ctx, ts); err != nil {
		return 0, err
	}

	err := l.scores.AppendHistory(ctx, &domain.TrustScoreHistory{
		CustomerID:    ts.CustomerID,
		BookingID:     ev.BookingID,
		AdminID:       ev.AdminID,
		ChangeAmount:  ev.Delta,
		PreviousScore: previous,
		NewScore:      ts.Score,
		Reason:        ev.Reason,
		ChangeType:    ev.ChangeType,
	})
	if err != nil {
		return 0, err
	}
	return ts.Score, nil
}

func ledgerError(customerID int64, err error) error {
	if errors.Is(err, domain.ErrLedger) {
		return err
	}
	return fmt.Errorf("%w: customer %d: %w", domain.ErrLedger, customerID, err)
}
