package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"carrental-backend/internal/config"
	"carrental-backend/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockQueries struct {
	mock.Mock
}

func (m *MockQueries) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockQueries) ListNoShows(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockQueries) ListStalledRefunds(ctx context.Context, statuses []domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Settlement, error) {
	args := m.Called(ctx, statuses, updatedBefore, limit)
	return args.Get(0).([]domain.Settlement), args.Error(1)
}

type MockServices struct {
	mock.Mock
}

func (m *MockServices) Expire(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	args := m.Called(ctx, bookingID)
	b, _ := args.Get(0).(*domain.Booking)
	return b, args.Error(1)
}

func (m *MockServices) MarkNoShow(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	args := m.Called(ctx, bookingID)
	b, _ := args.Get(0).(*domain.Booking)
	return b, args.Error(1)
}

func (m *MockServices) RequestRefund(ctx context.Context, bookingID int64) (*domain.Settlement, error) {
	args := m.Called(ctx, bookingID)
	st, _ := args.Get(0).(*domain.Settlement)
	return st, args.Error(1)
}

func (m *MockServices) Get(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	args := m.Called(ctx, bookingID)
	p, _ := args.Get(0).(*domain.Payment)
	return p, args.Error(1)
}

func (m *MockServices) Dispatch(ctx context.Context, task domain.RefundTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

type stubLocker struct {
	held     bool
	released int
}

func (l *stubLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Scheduler.BatchSize = 50
	cfg.Scheduler.LockTTLSeconds = 30
	cfg.Scheduler.StalledRefundAfter = 15
	return cfg
}

func newTestRunner(q *MockQueries, svc *MockServices, locker Locker) *JobRunner {
	jr := NewJobRunner(q, q, &Services{Bookings: svc, Settlements: svc, Payments: svc, Refunds: svc}, locker, testConfig())
	jr.now = func() time.Time { return fixedNow }
	return jr
}

// TestExpireBookings verifies the hold-expiry sweep.
// Goal: Verify that:
// 1. Every listed booking is expired individually.
// 2. A booking paid in the meantime is counted as skipped, not failed.
// 3. An unexpected error does not stop the sweep.
func TestExpireBookings(t *testing.T) {
	ctx := context.Background()
	q, svc := new(MockQueries), new(MockServices)
	jr := newTestRunner(q, svc, nil)

	q.On("ListExpiredPending", ctx, fixedNow, 50).Return([]domain.Booking{{ID: 1}, {ID: 2}, {ID: 3}}, nil).Once()
	svc.On("Expire", ctx, int64(1)).Return(&domain.Booking{ID: 1, Status: domain.BookingStatusCancelled}, nil).Once()
	svc.On("Expire", ctx, int64(2)).Return(nil, domain.InvalidTransition("booking", string(domain.BookingStatusConfirmed), string(domain.BookingStatusCancelled))).Once()
	svc.On("Expire", ctx, int64(3)).Return(nil, errors.New("connection reset")).Once()

	res, err := jr.Run(ctx, JobExpireBookings)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Skipped: 1, Failed: 1}, res)
	svc.AssertExpectations(t)
}

func TestMarkNoShows(t *testing.T) {
	ctx := context.Background()
	q, svc := new(MockQueries), new(MockServices)
	jr := newTestRunner(q, svc, nil)

	q.On("ListNoShows", ctx, fixedNow, 50).Return([]domain.Booking{{ID: 4, CustomerID: 7}, {ID: 5}}, nil).Once()
	svc.On("MarkNoShow", ctx, int64(4)).Return(&domain.Booking{ID: 4}, nil).Once()
	svc.On("MarkNoShow", ctx, int64(5)).Return(nil, domain.ErrNotNoShow).Once()

	res, err := jr.Run(ctx, JobMarkNoShows)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Skipped: 1}, res)
}

// TestRetryStalledRefunds verifies the refund recovery sweep.
// Goal: Verify that:
// 1. The cutoff is now minus the configured stall window.
// 2. PENDING and FAILED refunds are requested again through the settlement service.
// 3. A PROCESSING refund is re-dispatched directly to the workers.
func TestRetryStalledRefunds(t *testing.T) {
	ctx := context.Background()
	q, svc := new(MockQueries), new(MockServices)
	jr := newTestRunner(q, svc, nil)

	cutoff := fixedNow.Add(-15 * time.Minute)
	requested := fixedNow.Add(-time.Hour)
	q.On("ListStalledRefunds", ctx, stalledRefundStatuses, cutoff, 50).Return([]domain.Settlement{
		{BookingID: 1, RefundStatus: domain.RefundStatusFailed, DepositRefundAmount: 100, RefundRequestedAt: &requested},
		{BookingID: 2, RefundStatus: domain.RefundStatusProcessing, DepositRefundAmount: 150000, RefundRequestedAt: &requested},
		{BookingID: 3, RefundStatus: domain.RefundStatusPending, RefundRequestedAt: &requested},
	}, nil).Once()
	svc.On("RequestRefund", ctx, int64(1)).Return(&domain.Settlement{}, nil).Once()
	svc.On("Get", ctx, int64(2)).Return(&domain.Payment{BookingID: 2, Method: domain.PaymentMethodCard}, nil).Once()
	svc.On("Dispatch", ctx, mock.MatchedBy(func(task domain.RefundTask) bool {
		return task.BookingID == 2 && task.Amount == 150000 && task.Method == domain.PaymentMethodCard && task.ID != ""
	})).Return(nil).Once()
	svc.On("RequestRefund", ctx, int64(3)).Return(nil, errors.New("queue full")).Once()

	res, err := jr.Run(ctx, JobRetryStalledRefunds)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 2, Failed: 1}, res)
	svc.AssertExpectations(t)
}

// TestRetryStalledRefunds_LeavesUnrequestedRefunds covers a damaged return
// that staff finalized without asking for the refund yet.
// Goal: Verify that:
// 1. The settlement is counted as skipped.
// 2. Neither RequestRefund nor Dispatch is called for it.
func TestRetryStalledRefunds_LeavesUnrequestedRefunds(t *testing.T) {
	ctx := context.Background()
	q, svc := new(MockQueries), new(MockServices)
	jr := newTestRunner(q, svc, nil)

	finalizedAt := fixedNow.Add(-2 * time.Hour)
	q.On("ListStalledRefunds", ctx, stalledRefundStatuses, fixedNow.Add(-15*time.Minute), 50).Return([]domain.Settlement{
		{BookingID: 9, RefundStatus: domain.RefundStatusPending, Finalized: true, FinalizedAt: &finalizedAt,
			DamageCharge: 10000, DepositRefundAmount: 140000},
	}, nil).Once()

	res, err := jr.Run(ctx, JobRetryStalledRefunds)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)
	svc.AssertNotCalled(t, "RequestRefund", mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestRun_ListError(t *testing.T) {
	ctx := context.Background()
	q, svc := new(MockQueries), new(MockServices)
	jr := newTestRunner(q, svc, nil)

	q.On("ListExpiredPending", ctx, fixedNow, 50).Return([]domain.Booking(nil), errors.New("db down")).Once()

	_, err := jr.Run(ctx, JobExpireBookings)
	assert.ErrorContains(t, err, "db down")

	_, err = jr.Run(ctx, "reindex")
	assert.ErrorContains(t, err, "unknown job")
}

func TestRun_SkipsWhenLocked(t *testing.T) {
	ctx := context.Background()
	q, svc := new(MockQueries), new(MockServices)

	locker := &stubLocker{held: true}
	jr := newTestRunner(q, svc, locker)
	res, err := jr.Run(ctx, JobExpireBookings)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	q.AssertNotCalled(t, "ListExpiredPending", mock.Anything, mock.Anything, mock.Anything)

	locker.held = false
	q.On("ListExpiredPending", ctx, fixedNow, 50).Return([]domain.Booking{}, nil).Once()
	_, err = jr.Run(ctx, JobExpireBookings)
	require.NoError(t, err)
	assert.Equal(t, 1, locker.released)
}

func TestScheduledEntryRecoversFromPanic(t *testing.T) {
	q, svc := new(MockQueries), new(MockServices)
	jr := newTestRunner(q, svc, nil)
	q.On("ListNoShows", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	}).Return([]domain.Booking{}, nil)

	assert.NotPanics(t, jr.MarkNoShows)
}

// TestRedisLocker verifies the distributed job lock.
// Goal: Verify that:
// 1. A second holder cannot take a held lock.
// 2. Release frees the lock for the next run.
// 3. Releasing after the lock expired and was taken over leaves the new holder's lock alone.
func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	locker := NewRedisLocker(client)

	release, ok, err := locker.Acquire(ctx, JobExpireBookings, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, JobExpireBookings, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := locker.Acquire(ctx, JobExpireBookings, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = locker.Acquire(ctx, JobExpireBookings, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	release2()
	assert.True(t, mr.Exists("jobs:lock:"+JobExpireBookings))
}
