package postgres

import (
	"context"
	"database/sql"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"
)

type trustScoreRepository struct {
	db *sql.DB
}

func NewTrustScoreRepository(db *sql.DB) repository.TrustScoreRepository {
	return &trustScoreRepository{db: db}
}

func (r *trustScoreRepository) Get(ctx context.Context, customerID int64) (*domain.TrustScore, error) {
	return r.get(ctx, `SELECT customer_id, score, last_booking_id, updated_at FROM trust_scores WHERE customer_id = $1`, customerID)
}

func (r *trustScoreRepository) GetForUpdate(ctx context.Context, customerID int64) (*domain.TrustScore, error) {
	return r.get(ctx, `SELECT customer_id, score, last_booking_id, updated_at FROM trust_scores WHERE customer_id = $1 FOR UPDATE`, customerID)
}

func (r *trustScoreRepository) get(ctx context.Context, query string, customerID int64) (*domain.TrustScore, error) {
	var ts domain.TrustScore
	err := conn(ctx, r.db).QueryRowContext(ctx, query, customerID).Scan(&ts.CustomerID, &ts.Score, &ts.LastBookingID, &ts.UpdatedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrTrustScoreNotFound)
	}
	return &ts, nil
}

func (r *trustScoreRepository) Insert(ctx context.Context, ts *domain.TrustScore) (bool, error) {
	query := `INSERT INTO trust_scores (customer_id, score, last_booking_id, updated_at)
	          VALUES ($1, $2, $3, $4) ON CONFLICT (customer_id) DO NOTHING`
	logger.DatabaseCall("INSERT", "trust_scores", "customerID", ts.CustomerID)

	now := time.Now().UTC()
	result, err := conn(ctx, r.db).ExecContext(ctx, query, ts.CustomerID, ts.Score, ts.LastBookingID, now)
	if err != nil {
		logger.DatabaseResult("INSERT", 0, err, "customerID", ts.CustomerID)
		return false, err
	}
	rows, err := result.RowsAffected()
	logger.DatabaseResult("INSERT", rows, err, "customerID", ts.CustomerID)
	if err != nil {
		return false, err
	}
	ts.UpdatedAt = now
	return rows == 1, nil
}

func (r *trustScoreRepository) Update(ctx context.Context, ts *domain.TrustScore) error {
	query := `UPDATE trust_scores SET score = $1, last_booking_id = COALESCE($2, last_booking_id), updated_at = $3
	          WHERE customer_id = $4`
	logger.DatabaseCall("UPDATE", "trust_scores", "customerID", ts.CustomerID, "score", ts.Score)

	now := time.Now().UTC()
	result, err := conn(ctx, r.db).ExecContext(ctx, query, ts.Score, ts.LastBookingID, now, ts.CustomerID)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "customerID", ts.CustomerID)
		return err
	}
	rows, err := result.RowsAffected()
	logger.DatabaseResult("UPDATE", rows, err, "customerID", ts.CustomerID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrTrustScoreNotFound
	}
	ts.UpdatedAt = now
	return nil
}

func (r *trustScoreRepository) AppendHistory(ctx context.Context, h *domain.TrustScoreHistory) error {
	query := `INSERT INTO trust_score_history (customer_id, booking_id, admin_id, change_amount, previous_score,
	          new_score, reason, change_type, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	logger.DatabaseCall("INSERT", "trust_score_history", "customerID", h.CustomerID, "changeType", h.ChangeType)

	now := time.Now().UTC()
	err := conn(ctx, r.db).QueryRowContext(ctx, query, h.CustomerID, h.BookingID, h.AdminID, h.ChangeAmount,
		h.PreviousScore, h.NewScore, h.Reason, h.ChangeType, now).Scan(&h.ID)
	logger.DatabaseResult("INSERT", 1, err, "historyID", h.ID)
	if err == nil {
		h.CreatedAt = now
	}
	return err
}

func (r *trustScoreRepository) ListHistory(ctx context.Context, customerID int64) ([]domain.TrustScoreHistory, error) {
	query := `SELECT id, customer_id, booking_id, admin_id, change_amount, previous_score, new_score, reason,
	          change_type, created_at
	          FROM trust_score_history WHERE customer_id = $1 ORDER BY id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrustScoreHistory
	for rows.Next() {
		var h domain.TrustScoreHistory
		if err := rows.Scan(&h.ID, &h.CustomerID, &h.BookingID, &h.AdminID, &h.ChangeAmount, &h.PreviousScore,
			&h.NewScore, &h.Reason, &h.ChangeType, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
