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

type bookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) repository.BookingRepository {
	return &bookingRepository{db: db}
}

const bookingColumns = `id, customer_id, vehicle_id, scheduled_start, scheduled_end, hourly_rate, rental_cost,
	deposit_amount, service_fee, total_amount, trust_score_snapshot, status, payment_method, hold_expires_at,
	actual_pickup_at, actual_return_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.CustomerID, &b.VehicleID, &b.ScheduledStart, &b.ScheduledEnd, &b.HourlyRate,
		&b.RentalCost, &b.DepositAmount, &b.ServiceFee, &b.TotalAmount, &b.TrustScoreSnapshot, &b.Status,
		&b.PaymentMethod, &b.HoldExpiresAt, &b.ActualPickupAt, &b.ActualReturnAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	logger.EnterMethod("bookingRepository.Create", "customerID", b.CustomerID, "vehicleID", b.VehicleID)

	query := `INSERT INTO bookings (customer_id, vehicle_id, scheduled_start, scheduled_end, hourly_rate, rental_cost,
	          deposit_amount, service_fee, total_amount, trust_score_snapshot, status, payment_method, hold_expires_at,
	          created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14) RETURNING id`
	logger.DatabaseCall("INSERT", "bookings", "vehicleID", b.VehicleID)

	now := time.Now().UTC()
	err := conn(ctx, r.db).QueryRowContext(ctx, query, b.CustomerID, b.VehicleID, b.ScheduledStart, b.ScheduledEnd,
		b.HourlyRate, b.RentalCost, b.DepositAmount, b.ServiceFee, b.TotalAmount, b.TrustScoreSnapshot, b.Status,
		b.PaymentMethod, b.HoldExpiresAt, now).Scan(&b.ID)
	logger.DatabaseResult("INSERT", 1, err, "bookingID", b.ID)
	if err != nil {
		if isConstraintViolation(err) {
			err = domain.ErrVehicleUnavailable
		}
		logger.ExitMethodWithError("bookingRepository.Create", err, "vehicleID", b.VehicleID)
		return err
	}

	b.CreatedAt, b.UpdatedAt = now, now
	logger.ExitMethod("bookingRepository.Create", "bookingID", b.ID)
	return nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	b, err := scanBooking(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	return b, notFound(err, domain.ErrBookingNotFound)
}

func (r *bookingRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	b, err := scanBooking(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	return b, notFound(err, domain.ErrBookingNotFound)
}

func (r *bookingRepository) Update(ctx context.Context, b *domain.Booking) error {
	query := `UPDATE bookings SET status = $1, actual_pickup_at = $2, actual_return_at = $3, updated_at = $4
	          WHERE id = $5`
	logger.DatabaseCall("UPDATE", "bookings", "bookingID", b.ID, "status", b.Status)

	now := time.Now().UTC()
	result, err := conn(ctx, r.db).ExecContext(ctx, query, b.Status, b.ActualPickupAt, b.ActualReturnAt, now, b.ID)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "bookingID", b.ID)
		return err
	}
	rows, err := result.RowsAffected()
	logger.DatabaseResult("UPDATE", rows, err, "bookingID", b.ID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrBookingNotFound
	}
	b.UpdatedAt = now
	return nil
}

// CountOverlapping counts bookings that hold the vehicle for any part of
// [start, end). Call it after LockForBooking inside the same transaction.
func (r *bookingRepository) CountOverlapping(ctx context.Context, vehicleID int64, start, end time.Time) (int, error) {
	query := `SELECT count(*) FROM bookings
	          WHERE vehicle_id = $1 AND status = ANY($2) AND scheduled_start < $3 AND scheduled_end > $4`
	var count int
	err := conn(ctx, r.db).QueryRowContext(ctx, query, vehicleID, pq.Array(statusStrings(domain.ActiveBookingStatuses)), end, start).Scan(&count)
	return count, err
}

func (r *bookingRepository) CountCompletedByCustomer(ctx context.Context, customerID int64) (int, error) {
	query := `SELECT count(*) FROM bookings WHERE customer_id = $1 AND status = $2`
	var count int
	err := conn(ctx, r.db).QueryRowContext(ctx, query, customerID, domain.BookingStatusCompleted).Scan(&count)
	return count, err
}

func (r *bookingRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	          WHERE status = $1 AND hold_expires_at < $2 ORDER BY hold_expires_at LIMIT $3`
	return r.list(ctx, query, domain.BookingStatusPending, now, limit)
}

// ListNoShows returns confirmed bookings whose window ended without a pickup.
func (r *bookingRepository) ListNoShows(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	          WHERE status = $1 AND actual_pickup_at IS NULL AND scheduled_end < $2 ORDER BY scheduled_end LIMIT $3`
	return r.list(ctx, query, domain.BookingStatusConfirmed, now, limit)
}

func (r *bookingRepository) list(ctx context.Context, query string, args ...any) ([]domain.Booking, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func statusStrings(statuses []domain.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
