package postgres

import (
	"context"
	"database/sql"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"
)

type paymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) repository.PaymentRepository {
	return &paymentRepository{db: db}
}

const paymentColumns = `id, booking_id, amount, currency, method, status, transaction_id, gateway_payload,
	COALESCE(checkout_url, ''), refund_id, COALESCE(refund_reason, ''), paid_at, refunded_at, created_at, updated_at`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var payload []byte
	err := row.Scan(&p.ID, &p.BookingID, &p.Amount, &p.Currency, &p.Method, &p.Status, &p.TransactionID, &payload,
		&p.CheckoutURL, &p.RefundID, &p.RefundReason, &p.PaidAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		p.GatewayPayload = payload
	}
	return &p, nil
}

func (r *paymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	logger.EnterMethod("paymentRepository.Create", "bookingID", p.BookingID, "amount", p.Amount)

	query := `INSERT INTO payments (booking_id, amount, currency, method, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`
	logger.DatabaseCall("INSERT", "payments", "bookingID", p.BookingID)

	now := time.Now().UTC()
	err := conn(ctx, r.db).QueryRowContext(ctx, query, p.BookingID, p.Amount, p.Currency, p.Method, p.Status, now).Scan(&p.ID)
	logger.DatabaseResult("INSERT", 1, err, "paymentID", p.ID)
	if err != nil {
		if isConstraintViolation(err) {
			err = domain.ErrPaymentExists
		}
		logger.ExitMethodWithError("paymentRepository.Create", err, "bookingID", p.BookingID)
		return err
	}

	p.CreatedAt, p.UpdatedAt = now, now
	logger.ExitMethod("paymentRepository.Create", "paymentID", p.ID)
	return nil
}

func (r *paymentRepository) GetByBookingID(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1`
	p, err := scanPayment(conn(ctx, r.db).QueryRowContext(ctx, query, bookingID))
	return p, notFound(err, domain.ErrPaymentNotFound)
}

func (r *paymentRepository) GetByBookingIDForUpdate(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1 FOR UPDATE`
	p, err := scanPayment(conn(ctx, r.db).QueryRowContext(ctx, query, bookingID))
	return p, notFound(err, domain.ErrPaymentNotFound)
}

// Update persists the mutable payment fields. The transaction id is only
// written while still NULL so a completed payment keeps its first id.
func (r *paymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	query := `UPDATE payments SET status = $1, transaction_id = COALESCE(transaction_id, $2), gateway_payload = $3,
	          checkout_url = $4, refund_id = $5, refund_reason = $6, paid_at = $7, refunded_at = $8, updated_at = $9
	          WHERE id = $10`
	logger.DatabaseCall("UPDATE", "payments", "paymentID", p.ID, "status", p.Status)

	var payload any
	if len(p.GatewayPayload) > 0 {
		payload = []byte(p.GatewayPayload)
	}

	now := time.Now().UTC()
	result, err := conn(ctx, r.db).ExecContext(ctx, query, p.Status, p.TransactionID, payload, p.CheckoutURL,
		p.RefundID, p.RefundReason, p.PaidAt, p.RefundedAt, now, p.ID)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "paymentID", p.ID)
		return err
	}
	rows, err := result.RowsAffected()
	logger.DatabaseResult("UPDATE", rows, err, "paymentID", p.ID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrPaymentNotFound
	}
	p.UpdatedAt = now
	return nil
}
