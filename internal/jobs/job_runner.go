package jobs

import (
	"context"
	"fmt"
	"time"

	"carrental-backend/internal/config"
	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
)

// BookingQueries are the sweeper's read queries on bookings.
type BookingQueries interface {
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
	ListNoShows(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
}

type SettlementQueries interface {
	ListStalledRefunds(ctx context.Context, statuses []domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Settlement, error)
}

type BookingSweeper interface {
	Expire(ctx context.Context, bookingID int64) (*domain.Booking, error)
	MarkNoShow(ctx context.Context, bookingID int64) (*domain.Booking, error)
}

type RefundRequester interface {
	RequestRefund(ctx context.Context, bookingID int64) (*domain.Settlement, error)
}

type PaymentLookup interface {
	Get(ctx context.Context, bookingID int64) (*domain.Payment, error)
}

type RefundDispatcher interface {
	Dispatch(ctx context.Context, task domain.RefundTask) error
}

// Services holds the service dependencies needed by jobs
type Services struct {
	Bookings    BookingSweeper
	Settlements RefundRequester
	Payments    PaymentLookup
	Refunds     RefundDispatcher
}

// Result summarizes one job run.
type Result struct {
	Processed int
	Skipped   int
	Failed    int
}

func (r Result) String() string {
	return fmt.Sprintf("processed=%d skipped=%d failed=%d", r.Processed, r.Skipped, r.Failed)
}

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	bookings    BookingQueries
	settlements SettlementQueries
	services    *Services
	locker      Locker
	config      *config.Config
	now         func() time.Time
}

// NewJobRunner creates a new job runner with all dependencies. A nil
// locker runs every job without coordination.
func NewJobRunner(bookings BookingQueries, settlements SettlementQueries, services *Services, locker Locker, cfg *config.Config) *JobRunner {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &JobRunner{
		bookings:    bookings,
		settlements: settlements,
		services:    services,
		locker:      locker,
		config:      cfg,
		now:         time.Now,
	}
}

func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// Job names as accepted by Run.
const (
	JobExpireBookings      = "expire-bookings"
	JobMarkNoShows         = "mark-no-shows"
	JobRetryStalledRefunds = "retry-stalled-refunds"
)

func JobNames() []string {
	return []string{JobExpireBookings, JobMarkNoShows, JobRetryStalledRefunds}
}

// Run executes one job by name and returns its summary.
func (jr *JobRunner) Run(ctx context.Context, name string) (Result, error) {
	var fn func(context.Context) (Result, error)
	switch name {
	case JobExpireBookings:
		fn = jr.expireBookings
	case JobMarkNoShows:
		fn = jr.markNoShows
	case JobRetryStalledRefunds:
		fn = jr.retryStalledRefunds
	default:
		return Result{}, fmt.Errorf("unknown job %q", name)
	}
	return jr.runLocked(ctx, name, fn)
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll(ctx context.Context) {
	for _, name := range JobNames() {
		if _, err := jr.Run(ctx, name); err != nil {
			logger.Error("Job failed", "job", name, "error", err)
		}
	}
}

// runLocked takes the job lock so that only one instance runs a job at a
// time. A run that cannot take the lock is skipped.
func (jr *JobRunner) runLocked(ctx context.Context, name string, fn func(context.Context) (Result, error)) (Result, error) {
	ttl := time.Duration(jr.config.Scheduler.LockTTLSeconds) * time.Second
	release, ok, err := jr.locker.Acquire(ctx, name, ttl)
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock for %s: %w", name, err)
	}
	if !ok {
		logger.Info("Job already running elsewhere, skipping", "job", name)
		return Result{}, nil
	}
	defer release()

	log := logger.WithJob(name)
	start := time.Now()
	log.Info("Starting job")
	res, err := fn(ctx)
	if err != nil {
		log.Error("Job failed", "error", err, "durationMs", time.Since(start).Milliseconds())
		return res, err
	}
	log.Info("Job completed", "processed", res.Processed, "skipped", res.Skipped, "failed", res.Failed,
		"durationMs", time.Since(start).Milliseconds())
	return res, nil
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	if _, err := jr.Run(context.Background(), jobName); err != nil {
		logger.Error("Scheduled job failed", "job", jobName, "error", err)
	}
}

// ExpireBookings, MarkNoShows and RetryStalledRefunds are the cron entry
// points.
func (jr *JobRunner) ExpireBookings()      { jr.runWithRecovery(JobExpireBookings) }
func (jr *JobRunner) MarkNoShows()         { jr.runWithRecovery(JobMarkNoShows) }
func (jr *JobRunner) RetryStalledRefunds() { jr.runWithRecovery(JobRetryStalledRefunds) }
