package repository

import (
	"context"
	"time"

	"carrental-backend/internal/domain"
)

// Transactor runs fn inside one database transaction. Repositories called with
// the ctx handed to fn take part in that transaction; a nested call joins the
// outer transaction instead of opening a new one.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type BookingRepository interface {
	Create(ctx context.Context, b *domain.Booking) error
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	// GetByIDForUpdate locks the booking row until the surrounding
	// transaction ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.Booking, error)
	Update(ctx context.Context, b *domain.Booking) error
	CountOverlapping(ctx context.Context, vehicleID int64, start, end time.Time) (int, error)
	CountCompletedByCustomer(ctx context.Context, customerID int64) (int, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
	ListNoShows(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
}

type VehicleRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Vehicle, error)
	// LockForBooking takes a row lock on the vehicle so that availability
	// checks for the same vehicle run one at a time.
	LockForBooking(ctx context.Context, id int64) (*domain.Vehicle, error)
}

type CustomerRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Customer, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByBookingID(ctx context.Context, bookingID int64) (*domain.Payment, error)
	GetByBookingIDForUpdate(ctx context.Context, bookingID int64) (*domain.Payment, error)
	Update(ctx context.Context, p *domain.Payment) error
}

type SettlementRepository interface {
	Create(ctx context.Context, s *domain.Settlement) error
	GetByBookingID(ctx context.Context, bookingID int64) (*domain.Settlement, error)
	GetByBookingIDForUpdate(ctx context.Context, bookingID int64) (*domain.Settlement, error)
	Update(ctx context.Context, s *domain.Settlement) error
	ListStalledRefunds(ctx context.Context, statuses []domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Settlement, error)
}

type DamageRepository interface {
	Create(ctx context.Context, d *domain.DamageReport) error
	ListByBooking(ctx context.Context, bookingID int64) ([]domain.DamageReport, error)
}

type ConditionRepository interface {
	Create(ctx context.Context, c *domain.ConditionRecord) error
	CountByPhase(ctx context.Context, bookingID int64, phase domain.ConditionPhase) (int, error)
}

type TrustScoreRepository interface {
	// Get returns domain.ErrTrustScoreNotFound when the customer has no record.
	Get(ctx context.Context, customerID int64) (*domain.TrustScore, error)
	GetForUpdate(ctx context.Context, customerID int64) (*domain.TrustScore, error)
	// Insert creates the record and reports false when a concurrent writer
	// created it first.
	Insert(ctx context.Context, ts *domain.TrustScore) (bool, error)
	Update(ctx context.Context, ts *domain.TrustScore) error
	AppendHistory(ctx context.Context, h *domain.TrustScoreHistory) error
	ListHistory(ctx context.Context, customerID int64) ([]domain.TrustScoreHistory, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	List(ctx context.Context, customerID int64, limit, offset int32) ([]domain.Notification, int32, error)
	MarkAsRead(ctx context.Context, id, customerID int64) error
}
