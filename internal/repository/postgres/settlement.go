package postgres

import (
	"context"
	"database/sql"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"

	"github.com/lib/pq"
)

type settlementRepository struct {
	db *sql.DB
}

func NewSettlementRepository(db *sql.DB) repository.SettlementRepository {
	return &settlementRepository{db: db}
}

const settlementColumns = `id, booking_id, scheduled_return_at, actual_return_at, overtime_hours, overtime_fee,
	damage_charge, COALESCE(damage_description, ''), initial_deposit, total_additional_charges, deposit_refund_amount,
	finalized, finalized_at, finalized_by, refund_status, refund_reference, COALESCE(refund_failure_reason, ''),
	refund_requested_at, created_at, updated_at`

func scanSettlement(row rowScanner) (*domain.Settlement, error) {
	var s domain.Settlement
	err := row.Scan(&s.ID, &s.BookingID, &s.ScheduledReturnAt, &s.ActualReturnAt, &s.OvertimeHours, &s.OvertimeFee,
		&s.DamageCharge, &s.DamageDescription, &s.InitialDeposit, &s.TotalAdditionalCharges, &s.DepositRefundAmount,
		&s.Finalized, &s.FinalizedAt, &s.FinalizedBy, &s.RefundStatus, &s.RefundReference, &s.RefundFailureReason,
		&s.RefundRequestedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settlementRepository) Create(ctx context.Context, s *domain.Settlement) error {
	logger.EnterMethod("settlementRepository.Create", "bookingID", s.BookingID)

	query := `INSERT INTO settlements (booking_id, scheduled_return_at, actual_return_at, overtime_hours, overtime_fee,
	          damage_charge, damage_description, initial_deposit, total_additional_charges, deposit_refund_amount,
	          finalized, finalized_at, finalized_by, refund_status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15) RETURNING id`
	logger.DatabaseCall("INSERT", "settlements", "bookingID", s.BookingID)

	now := time.Now().UTC()
	err := conn(ctx, r.db).QueryRowContext(ctx, query, s.BookingID, s.ScheduledReturnAt, s.ActualReturnAt,
		s.OvertimeHours, s.OvertimeFee, s.DamageCharge, s.DamageDescription, s.InitialDeposit,
		s.TotalAdditionalCharges, s.DepositRefundAmount, s.Finalized, s.FinalizedAt, s.FinalizedBy,
		s.RefundStatus, now).Scan(&s.ID)
	logger.DatabaseResult("INSERT", 1, err, "settlementID", s.ID)
	if err != nil {
		if isConstraintViolation(err) {
			err = domain.ErrSettlementExists
		}
		logger.ExitMethodWithError("settlementRepository.Create", err, "bookingID", s.BookingID)
		return err
	}

	s.CreatedAt, s.UpdatedAt = now, now
	logger.ExitMethod("settlementRepository.Create", "settlementID", s.ID)
	return nil
}

func (r *settlementRepository) GetByBookingID(ctx context.Context, bookingID int64) (*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE booking_id = $1`
	s, err := scanSettlement(conn(ctx, r.db).QueryRowContext(ctx, query, bookingID))
	return s, notFound(err, domain.ErrSettlementNotFound)
}

func (r *settlementRepository) GetByBookingIDForUpdate(ctx context.Context, bookingID int64) (*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE booking_id = $1 FOR UPDATE`
	s, err := scanSettlement(conn(ctx, r.db).QueryRowContext(ctx, query, bookingID))
	return s, notFound(err, domain.ErrSettlementNotFound)
}

// Update writes every mutable column. Charge columns of a row that was
// already finalized before this statement keep their stored values.
func (r *settlementRepository) Update(ctx context.Context, s *domain.Settlement) error {
	query := `UPDATE settlements SET
	              overtime_hours = CASE WHEN finalized THEN overtime_hours ELSE $1 END,
	              overtime_fee = CASE WHEN finalized THEN overtime_fee ELSE $2 END,
	              damage_charge = CASE WHEN finalized THEN damage_charge ELSE $3 END,
	              damage_description = CASE WHEN finalized THEN damage_description ELSE $4 END,
	              total_additional_charges = CASE WHEN finalized THEN total_additional_charges ELSE $5 END,
	              deposit_refund_amount = CASE WHEN finalized THEN deposit_refund_amount ELSE $6 END,
	              finalized = $7, finalized_at = COALESCE(finalized_at, $8), finalized_by = COALESCE(finalized_by, $9),
	              refund_status = $10, refund_reference = $11, refund_failure_reason = $12,
	              refund_requested_at = COALESCE(refund_requested_at, $13), updated_at = $14
	          WHERE id = $15`
	logger.DatabaseCall("UPDATE", "settlements", "settlementID", s.ID, "refundStatus", s.RefundStatus)

	now := time.Now().UTC()
	result, err := conn(ctx, r.db).ExecContext(ctx, query, s.OvertimeHours, s.OvertimeFee, s.DamageCharge,
		s.DamageDescription, s.TotalAdditionalCharges, s.DepositRefundAmount, s.Finalized, s.FinalizedAt,
		s.FinalizedBy, s.RefundStatus, s.RefundReference, s.RefundFailureReason, s.RefundRequestedAt, now, s.ID)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "settlementID", s.ID)
		return err
	}
	rows, err := result.RowsAffected()
	logger.DatabaseResult("UPDATE", rows, err, "settlementID", s.ID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrSettlementNotFound
	}
	s.UpdatedAt = now
	return nil
}

func (r *settlementRepository) ListStalledRefunds(ctx context.Context, statuses []domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Settlement, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `SELECT ` + settlementColumns + ` FROM settlements
	          WHERE finalized AND refund_requested_at IS NOT NULL AND refund_status = ANY($1) AND updated_at < $2
	          ORDER BY updated_at LIMIT $3`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, pq.Array(names), updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

type damageRepository struct {
	db *sql.DB
}

func NewDamageRepository(db *sql.DB) repository.DamageRepository {
	return &damageRepository{db: db}
}

func (r *damageRepository) Create(ctx context.Context, d *domain.DamageReport) error {
	query := `INSERT INTO damage_reports (booking_id, severity, description, estimated_cost, reported_by, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	logger.DatabaseCall("INSERT", "damage_reports", "bookingID", d.BookingID, "severity", d.Severity)

	now := time.Now().UTC()
	err := conn(ctx, r.db).QueryRowContext(ctx, query, d.BookingID, d.Severity, d.Description, d.EstimatedCost,
		d.ReportedBy, now).Scan(&d.ID)
	logger.DatabaseResult("INSERT", 1, err, "damageID", d.ID)
	if err == nil {
		d.CreatedAt = now
	}
	return err
}

func (r *damageRepository) ListByBooking(ctx context.Context, bookingID int64) ([]domain.DamageReport, error) {
	query := `SELECT id, booking_id, severity, COALESCE(description, ''), estimated_cost, reported_by, created_at
	          FROM damage_reports WHERE booking_id = $1 ORDER BY id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DamageReport
	for rows.Next() {
		var d domain.DamageReport
		if err := rows.Scan(&d.ID, &d.BookingID, &d.Severity, &d.Description, &d.EstimatedCost, &d.ReportedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type conditionRepository struct {
	db *sql.DB
}

func NewConditionRepository(db *sql.DB) repository.ConditionRepository {
	return &conditionRepository{db: db}
}

func (r *conditionRepository) Create(ctx context.Context, c *domain.ConditionRecord) error {
	query := `INSERT INTO condition_records (booking_id, phase, photo_key, note, recorded_by, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	logger.DatabaseCall("INSERT", "condition_records", "bookingID", c.BookingID, "phase", c.Phase)

	now := time.Now().UTC()
	err := conn(ctx, r.db).QueryRowContext(ctx, query, c.BookingID, c.Phase, c.PhotoKey, c.Note, c.RecordedBy, now).Scan(&c.ID)
	logger.DatabaseResult("INSERT", 1, err, "conditionID", c.ID)
	if err == nil {
		c.CreatedAt = now
	}
	return err
}

func (r *conditionRepository) CountByPhase(ctx context.Context, bookingID int64, phase domain.ConditionPhase) (int, error) {
	query := `SELECT count(*) FROM condition_records WHERE booking_id = $1 AND phase = $2`
	var count int
	err := conn(ctx, r.db).QueryRowContext(ctx, query, bookingID, phase).Scan(&count)
	return count, err
}
