package service

import (
	"context"
	"sort"
	"time"

	"carrental-backend/internal/domain"
)

// memStore keeps every table in memory. Reads return copies so a service
// sees stored state only after it calls Update, as it would with Postgres.
type memStore struct {
	nextID      int64
	vehicles    map[int64]domain.Vehicle
	bookings    map[int64]domain.Booking
	payments    map[int64]domain.Payment
	settlements map[int64]domain.Settlement
	damages     []domain.DamageReport
	conditions  []domain.ConditionRecord
	scores      map[int64]domain.TrustScore
	history     []domain.TrustScoreHistory
}

func newMemStore() *memStore {
	return &memStore{
		vehicles:    map[int64]domain.Vehicle{},
		bookings:    map[int64]domain.Booking{},
		payments:    map[int64]domain.Payment{},
		settlements: map[int64]domain.Settlement{},
		scores:      map[int64]domain.TrustScore{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

type memBookings struct{ *memStore }

func (r memBookings) Create(ctx context.Context, b *domain.Booking) error {
	b.ID = r.id()
	b.CreatedAt = time.Now()
	r.bookings[b.ID] = *b
	return nil
}

func (r memBookings) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return &b, nil
}

func (r memBookings) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Booking, error) {
	return r.GetByID(ctx, id)
}

func (r memBookings) Update(ctx context.Context, b *domain.Booking) error {
	if _, ok := r.bookings[b.ID]; !ok {
		return domain.ErrBookingNotFound
	}
	r.bookings[b.ID] = *b
	return nil
}

func (r memBookings) CountOverlapping(ctx context.Context, vehicleID int64, start, end time.Time) (int, error) {
	n := 0
	for _, b := range r.bookings {
		if b.VehicleID != vehicleID || !isActive(b.Status) {
			continue
		}
		if b.ScheduledStart.Before(end) && start.Before(b.ScheduledEnd) {
			n++
		}
	}
	return n, nil
}

func (r memBookings) CountCompletedByCustomer(ctx context.Context, customerID int64) (int, error) {
	n := 0
	for _, b := range r.bookings {
		if b.CustomerID == customerID && b.Status == domain.BookingStatusCompleted {
			n++
		}
	}
	return n, nil
}

func (r memBookings) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	return r.list(limit, func(b domain.Booking) bool { return b.HoldExpired(now) }), nil
}

func (r memBookings) ListNoShows(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	return r.list(limit, func(b domain.Booking) bool {
		return b.Status == domain.BookingStatusConfirmed && b.ActualPickupAt == nil && b.ScheduledEnd.Before(now)
	}), nil
}

func (r memBookings) list(limit int, keep func(domain.Booking) bool) []domain.Booking {
	var out []domain.Booking
	for _, b := range r.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func isActive(status domain.BookingStatus) bool {
	for _, s := range domain.ActiveBookingStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type memVehicles struct{ *memStore }

func (r memVehicles) GetByID(ctx context.Context, id int64) (*domain.Vehicle, error) {
	v, ok := r.vehicles[id]
	if !ok {
		return nil, domain.ErrVehicleNotFound
	}
	return &v, nil
}

func (r memVehicles) LockForBooking(ctx context.Context, id int64) (*domain.Vehicle, error) {
	return r.GetByID(ctx, id)
}

type memPayments struct{ *memStore }

func (r memPayments) Create(ctx context.Context, p *domain.Payment) error {
	if _, ok := r.payments[p.BookingID]; ok {
		return domain.ErrPaymentExists
	}
	p.ID = r.id()
	r.payments[p.BookingID] = *p
	return nil
}

func (r memPayments) GetByBookingID(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	p, ok := r.payments[bookingID]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return &p, nil
}

func (r memPayments) GetByBookingIDForUpdate(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	return r.GetByBookingID(ctx, bookingID)
}

func (r memPayments) Update(ctx context.Context, p *domain.Payment) error {
	if _, ok := r.payments[p.BookingID]; !ok {
		return domain.ErrPaymentNotFound
	}
	r.payments[p.BookingID] = *p
	return nil
}

type memSettlements struct{ *memStore }

func (r memSettlements) Create(ctx context.Context, s *domain.Settlement) error {
	if _, ok := r.settlements[s.BookingID]; ok {
		return domain.ErrSettlementExists
	}
	s.ID = r.id()
	r.settlements[s.BookingID] = *s
	return nil
}

func (r memSettlements) GetByBookingID(ctx context.Context, bookingID int64) (*domain.Settlement, error) {
	s, ok := r.settlements[bookingID]
	if !ok {
		return nil, domain.ErrSettlementNotFound
	}
	return &s, nil
}

func (r memSettlements) GetByBookingIDForUpdate(ctx context.Context, bookingID int64) (*domain.Settlement, error) {
	return r.GetByBookingID(ctx, bookingID)
}

func (r memSettlements) Update(ctx context.Context, s *domain.Settlement) error {
	if _, ok := r.settlements[s.BookingID]; !ok {
		return domain.ErrSettlementNotFound
	}
	r.settlements[s.BookingID] = *s
	return nil
}

func (r memSettlements) ListStalledRefunds(ctx context.Context, statuses []domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Settlement, error) {
	var out []domain.Settlement
	for _, s := range r.settlements {
		if !s.Finalized || s.RefundRequestedAt == nil || s.UpdatedAt.After(updatedBefore) {
			continue
		}
		for _, st := range statuses {
			if s.RefundStatus == st {
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memDamages struct{ *memStore }

func (r memDamages) Create(ctx context.Context, d *domain.DamageReport) error {
	d.ID = r.id()
	r.damages = append(r.damages, *d)
	return nil
}

func (r memDamages) ListByBooking(ctx context.Context, bookingID int64) ([]domain.DamageReport, error) {
	var out []domain.DamageReport
	for _, d := range r.damages {
		if d.BookingID == bookingID {
			out = append(out, d)
		}
	}
	return out, nil
}

type memConditions struct{ *memStore }

func (r memConditions) Create(ctx context.Context, c *domain.ConditionRecord) error {
	c.ID = r.id()
	r.conditions = append(r.conditions, *c)
	return nil
}

func (r memConditions) CountByPhase(ctx context.Context, bookingID int64, phase domain.ConditionPhase) (int, error) {
	n := 0
	for _, c := range r.conditions {
		if c.BookingID == bookingID && c.Phase == phase {
			n++
		}
	}
	return n, nil
}

type memTrust struct{ *memStore }

func (r memTrust) Get(ctx context.Context, customerID int64) (*domain.TrustScore, error) {
	ts, ok := r.scores[customerID]
	if !ok {
		return nil, domain.ErrTrustScoreNotFound
	}
	return &ts, nil
}

func (r memTrust) GetForUpdate(ctx context.Context, customerID int64) (*domain.TrustScore, error) {
	return r.Get(ctx, customerID)
}

func (r memTrust) Insert(ctx context.Context, ts *domain.TrustScore) (bool, error) {
	if _, ok := r.scores[ts.CustomerID]; ok {
		return false, nil
	}
	r.scores[ts.CustomerID] = *ts
	return true, nil
}

func (r memTrust) Update(ctx context.Context, ts *domain.TrustScore) error {
	r.scores[ts.CustomerID] = *ts
	return nil
}

func (r memTrust) AppendHistory(ctx context.Context, h *domain.TrustScoreHistory) error {
	h.ID = r.id()
	r.history = append(r.history, *h)
	return nil
}

func (r memTrust) ListHistory(ctx context.Context, customerID int64) ([]domain.TrustScoreHistory, error) {
	var out []domain.TrustScoreHistory
	for _, h := range r.history {
		if h.CustomerID == customerID {
			out = append(out, h)
		}
	}
	return out, nil
}
