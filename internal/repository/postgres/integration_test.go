//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"carrental-backend/internal/config"
	"carrental-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configPath = flag.String("config", "../../../config/config.test.yaml", "path to config file")

func prepareDB(t *testing.T) *sql.DB {
	t.Helper()

	cfg, err := config.Load(*configPath)
	require.NoError(t, err)

	var db *sql.DB
	for i := 0; i < 10; i++ {
		db, err = sql.Open("postgres", cfg.GetDatabaseConnectionString())
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
		}
		time.Sleep(2 * time.Second)
	}
	require.NoError(t, err, "failed to connect to database")

	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "001_booking_engine.sql"))
	require.NoError(t, err)

	_, err = db.Exec(`DROP TABLE IF EXISTS notifications, trust_score_history, trust_scores, condition_records,
		damage_reports, settlements, payments, bookings, vehicles, customers CASCADE`)
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	return db
}

func seedFleet(t *testing.T, db *sql.DB) (customerID, vehicleID int64) {
	t.Helper()
	require.NoError(t, db.QueryRow(`INSERT INTO customers (name, email) VALUES ('Lan', 'lan@example.com') RETURNING id`).Scan(&customerID))
	require.NoError(t, db.QueryRow(`INSERT INTO vehicles (name, plate_number, hourly_rate, vehicle_price)
		VALUES ('Vios', '51A-12345', 20000, 500000) RETURNING id`).Scan(&vehicleID))
	return customerID, vehicleID
}

func TestIntegration_ConcurrentBookingsForSameWindow(t *testing.T) {
	db := prepareDB(t)
	defer db.Close()

	store := NewStore(db)
	customerID, vehicleID := seedFleet(t, db)
	start := time.Now().Add(24 * time.Hour).Truncate(time.Hour)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(offset time.Duration) {
			defer wg.Done()
			err := store.WithinTransaction(context.Background(), func(ctx context.Context) error {
				if _, err := store.VehicleRepository.LockForBooking(ctx, vehicleID); err != nil {
					return err
				}
				n, err := store.BookingRepository.CountOverlapping(ctx, vehicleID, start.Add(offset), start.Add(offset+2*time.Hour))
				if err != nil {
					return err
				}
				if n > 0 {
					return domain.ErrVehicleUnavailable
				}
				return store.BookingRepository.Create(ctx, &domain.Booking{
					CustomerID:     customerID,
					VehicleID:      vehicleID,
					ScheduledStart: start.Add(offset),
					ScheduledEnd:   start.Add(offset + 2*time.Hour),
					HourlyRate:     20000,
					RentalCost:     40000,
					DepositAmount:  150000,
					ServiceFee:     50000,
					TotalAmount:    240000,
					Status:         domain.BookingStatusPending,
					PaymentMethod:  domain.PaymentMethodCard,
					HoldExpiresAt:  time.Now().Add(15 * time.Minute),
				})
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrVehicleUnavailable):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(time.Duration(i) * 10 * time.Minute)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)
}

func TestIntegration_ExclusionConstraintBackstop(t *testing.T) {
	db := prepareDB(t)
	defer db.Close()

	repo := NewBookingRepository(db)
	customerID, vehicleID := seedFleet(t, db)
	start := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
	ctx := context.Background()

	newBooking := func(status domain.BookingStatus) *domain.Booking {
		return &domain.Booking{
			CustomerID:     customerID,
			VehicleID:      vehicleID,
			ScheduledStart: start,
			ScheduledEnd:   start.Add(3 * time.Hour),
			HourlyRate:     20000,
			RentalCost:     60000,
			DepositAmount:  150000,
			ServiceFee:     50000,
			TotalAmount:    260000,
			Status:         status,
			PaymentMethod:  domain.PaymentMethodCard,
			HoldExpiresAt:  time.Now().Add(15 * time.Minute),
		}
	}

	first := newBooking(domain.BookingStatusPending)
	require.NoError(t, repo.Create(ctx, first))

	err := repo.Create(ctx, newBooking(domain.BookingStatusPending))
	assert.ErrorIs(t, err, domain.ErrVehicleUnavailable)

	first.Status = domain.BookingStatusCancelled
	require.NoError(t, repo.Update(ctx, first))

	// A cancelled booking no longer holds the window.
	assert.NoError(t, repo.Create(ctx, newBooking(domain.BookingStatusPending)))
}
