package refund

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/service"
)

// Processor performs one refund attempt.
type Processor interface {
	ProcessRefund(ctx context.Context, task domain.RefundTask) error
}

type BookingLookup interface {
	Get(ctx context.Context, bookingID int64) (*domain.Booking, error)
}

// Dispatcher implements service.RefundDispatcher on top of a Queue.
type Dispatcher struct {
	queue Queue
}

func NewDispatcher(queue Queue) *Dispatcher {
	return &Dispatcher{queue: queue}
}

func (d *Dispatcher) Dispatch(ctx context.Context, task domain.RefundTask) error {
	return d.queue.Push(ctx, task)
}

type Options struct {
	Workers     int
	MaxAttempts int
	// Backoff is the unit of the retry delay; attempt n waits n*n*Backoff.
	Backoff time.Duration
}

// Pool runs refund tasks from a Queue. A retryable failure is pushed back
// with the attempt counter raised until MaxAttempts; after that the
// customer is told the refund is delayed and the settlement stays FAILED
// for the stalled-refund job or an operator.
type Pool struct {
	queue       Queue
	processor   Processor
	bookings    BookingLookup
	notifier    service.Notifier
	workers     int
	maxAttempts int
	backoff     time.Duration

	ctx context.Context
	wg  sync.WaitGroup
}

func NewPool(queue Queue, processor Processor, bookings BookingLookup, notifier service.Notifier, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	return &Pool{
		queue:       queue,
		processor:   processor,
		bookings:    bookings,
		notifier:    notifier,
		workers:     opts.Workers,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		ctx:         context.Background(),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	logger.Info("Refund workers started", "workers", p.workers, "maxAttempts", p.maxAttempts)
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

// maxPopBackoff caps the wait between failed reads of the queue.
const maxPopBackoff = 30 * time.Second

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	failures := 0
	for {
		task, err := p.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				logger.Debug("Refund worker stopping", "worker", id)
				return
			}
			failures++
			delay := popBackoff(p.backoff, failures)
			logger.Error("Failed to read refund task", "worker", id, "error", err, "failures", failures, "retryIn", delay)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Debug("Refund worker stopping", "worker", id)
				return
			case <-timer.C:
			}
			continue
		}
		failures = 0
		p.handle(ctx, task)
	}
}

// popBackoff doubles the delay with every consecutive failure up to
// maxPopBackoff.
func popBackoff(unit time.Duration, failures int) time.Duration {
	delay := unit
	for i := 1; i < failures && delay < maxPopBackoff; i++ {
		delay *= 2
	}
	if delay > maxPopBackoff {
		delay = maxPopBackoff
	}
	return delay
}

func (p *Pool) handle(ctx context.Context, task domain.RefundTask) {
	log := logger.WithBooking(task.BookingID).With("taskID", task.ID, "attempt", task.Attempt)

	err := p.processor.ProcessRefund(ctx, task)
	if err == nil {
		log.Info("Refund task completed")
		return
	}

	next := task
	next.Attempt++
	if !retryable(err) || next.Attempt >= p.maxAttempts {
		log.Error("Refund task abandoned", "error", err, "retryable", retryable(err))
		p.notifyFailure(ctx, task)
		return
	}

	delay := time.Duration(next.Attempt*next.Attempt) * p.backoff
	log.Warn("Refund attempt failed, retrying", "error", err, "delay", delay)
	time.AfterFunc(delay, func() {
		if p.ctx.Err() != nil {
			return
		}
		if err := p.queue.Push(p.ctx, next); err != nil {
			log.Error("Failed to requeue refund task", "error", err)
		}
	})
}

// retryable reports whether another attempt can succeed. Gateway and
// storage errors carry no domain kind. An inconsistency is retried because
// the gateway call reuses the idempotency key of the settlement.
func retryable(err error) bool {
	switch domain.Kind(err) {
	case nil, domain.ErrInconsistency, domain.ErrConflict:
		return true
	default:
		return false
	}
}

func (p *Pool) notifyFailure(ctx context.Context, task domain.RefundTask) {
	if p.notifier == nil || p.bookings == nil {
		return
	}
	b, err := p.bookings.Get(ctx, task.BookingID)
	if err != nil {
		logger.Warn("Cannot notify refund failure", "bookingID", task.BookingID, "error", err)
		return
	}
	p.notifier.Notify(ctx, b.CustomerID, domain.EventRefundFailed, map[string]string{
		"booking_id": strconv.FormatInt(task.BookingID, 10),
		"amount":     strconv.FormatInt(task.Amount, 10),
	})
}
