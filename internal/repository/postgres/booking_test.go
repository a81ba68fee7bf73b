package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"carrental-backend/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bookingRowColumns = []string{"id", "customer_id", "vehicle_id", "scheduled_start", "scheduled_end", "hourly_rate",
	"rental_cost", "deposit_amount", "service_fee", "total_amount", "trust_score_snapshot", "status", "payment_method",
	"hold_expires_at", "actual_pickup_at", "actual_return_at", "created_at", "updated_at"}

func bookingRow(id int64, status domain.BookingStatus, start time.Time) []driver.Value {
	return []driver.Value{id, int64(3), int64(4), start, start.Add(3 * time.Hour), int64(20000), int64(60000), int64(150000),
		int64(50000), int64(260000), 0, string(status), "card", start.Add(-time.Hour), nil, nil, start, start}
}

func TestBookingRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := NewBookingRepository(db)
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	newBooking := func() *domain.Booking {
		return &domain.Booking{
			CustomerID:     3,
			VehicleID:      4,
			ScheduledStart: start,
			ScheduledEnd:   start.Add(3 * time.Hour),
			HourlyRate:     20000,
			RentalCost:     60000,
			DepositAmount:  150000,
			ServiceFee:     50000,
			TotalAmount:    260000,
			Status:         domain.BookingStatusPending,
			PaymentMethod:  domain.PaymentMethodCard,
			HoldExpiresAt:  start.Add(-time.Hour),
		}
	}

	t.Run("Success", func(t *testing.T) {
		b := newBooking()
		mock.ExpectQuery("INSERT INTO bookings").
			WithArgs(b.CustomerID, b.VehicleID, b.ScheduledStart, b.ScheduledEnd, b.HourlyRate, b.RentalCost,
				b.DepositAmount, b.ServiceFee, b.TotalAmount, b.TrustScoreSnapshot, b.Status, b.PaymentMethod,
				b.HoldExpiresAt, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

		err := repo.Create(ctx, b)
		assert.NoError(t, err)
		assert.Equal(t, int64(11), b.ID)
		assert.False(t, b.CreatedAt.IsZero())
	})

	t.Run("Exclusion violation is a conflict", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO bookings").
			WillReturnError(&pq.Error{Code: pqExclusionViolation})

		err := repo.Create(ctx, newBooking())
		assert.ErrorIs(t, err, domain.ErrVehicleUnavailable)
	})

	t.Run("Other errors pass through", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO bookings").
			WillReturnError(errors.New("connection reset"))

		err := repo.Create(ctx, newBooking())
		assert.EqualError(t, err, "connection reset")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewBookingRepository(db)
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id = \\$1$").
			WithArgs(int64(11)).
			WillReturnRows(sqlmock.NewRows(bookingRowColumns).AddRow(bookingRow(11, domain.BookingStatusPending, start)...))

		b, err := repo.GetByID(ctx, 11)
		require.NoError(t, err)
		assert.Equal(t, int64(11), b.ID)
		assert.Equal(t, domain.BookingStatusPending, b.Status)
		assert.Equal(t, domain.PaymentMethodCard, b.PaymentMethod)
		assert.Nil(t, b.ActualPickupAt)
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id = \\$1").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(bookingRowColumns))

		_, err := repo.GetByID(ctx, 99)
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})

	t.Run("For update locks the row", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(11)).
			WillReturnRows(sqlmock.NewRows(bookingRowColumns).AddRow(bookingRow(11, domain.BookingStatusConfirmed, start)...))

		b, err := repo.GetByIDForUpdate(ctx, 11)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusConfirmed, b.Status)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewBookingRepository(db)
	ctx := context.Background()
	b := &domain.Booking{ID: 11, Status: domain.BookingStatusConfirmed}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec("UPDATE bookings SET status").
			WithArgs(b.Status, b.ActualPickupAt, b.ActualReturnAt, sqlmock.AnyArg(), b.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Update(ctx, b))
	})

	t.Run("Missing row", func(t *testing.T) {
		mock.ExpectExec("UPDATE bookings SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Update(ctx, b), domain.ErrBookingNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_CountOverlapping(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewBookingRepository(db)
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM bookings").
		WithArgs(int64(4), pq.Array([]string{"PENDING", "CONFIRMED", "IN_PROGRESS"}), end, start).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	count, err := repo.CountOverlapping(context.Background(), 4, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_ListExpiredPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewBookingRepository(db)
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM bookings\\s+WHERE status = \\$1 AND hold_expires_at < \\$2").
		WithArgs(domain.BookingStatusPending, now, 50).
		WillReturnRows(sqlmock.NewRows(bookingRowColumns).
			AddRow(bookingRow(1, domain.BookingStatusPending, now)...).
			AddRow(bookingRow(2, domain.BookingStatusPending, now)...))

	bookings, err := repo.ListExpiredPending(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Len(t, bookings, 2)
	assert.Equal(t, int64(2), bookings[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_ListNoShows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewBookingRepository(db)
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("actual_pickup_at IS NULL AND scheduled_end < \\$2").
		WithArgs(domain.BookingStatusConfirmed, now, 10).
		WillReturnRows(sqlmock.NewRows(bookingRowColumns).AddRow(bookingRow(5, domain.BookingStatusConfirmed, now)...))

	bookings, err := repo.ListNoShows(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, domain.BookingStatusConfirmed, bookings[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
