package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"
)

// Message is one rendered customer notification on its way to the sinks.
type Message struct {
	CustomerID int64
	EventType  domain.EventType
	Title      string
	Body       string
	Payload    map[string]string
	// Customer is loaded once per delivery; nil when the lookup failed.
	Customer *domain.Customer
}

// Sink is one delivery channel. A sink that has nothing to do for a
// message (no push token, no email) returns nil.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

var ErrQueueFull = errors.New("notification queue is full")

type job struct {
	msg     Message
	sink    Sink
	retries int
}

// Dispatcher fans events out to the configured sinks on a pool of workers.
// Notify never blocks; a failed sink delivery is retried on its own with a
// quadratic backoff until maxRetries is reached.
type Dispatcher struct {
	customers  repository.CustomerRepository
	sinks      []Sink
	jobs       chan job
	workers    int
	maxRetries int
	backoff    time.Duration

	ctx context.Context
	wg  sync.WaitGroup
}

type Options struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	// Backoff is the unit of the retry delay; retry n waits n*n*Backoff.
	Backoff time.Duration
}

func NewDispatcher(customers repository.CustomerRepository, opts Options, sinks ...Sink) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &Dispatcher{
		customers:  customers,
		sinks:      sinks,
		jobs:       make(chan job, opts.QueueSize),
		workers:    opts.Workers,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		ctx:        context.Background(),
	}
}

// Start launches the workers. They stop when ctx is cancelled; Wait blocks
// until they have.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx = ctx
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	logger.Info("Notification dispatcher started", "workers", d.workers, "sinks", len(d.sinks))
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Notify implements service.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, customerID int64, eventType domain.EventType, payload map[string]string) {
	title, body := Render(eventType, payload)
	msg := Message{
		CustomerID: customerID,
		EventType:  eventType,
		Title:      title,
		Body:       body,
		Payload:    payload,
	}
	if err := d.enqueue(job{msg: msg}); err != nil {
		logger.Warn("Notification dropped", "customerID", customerID, "event", eventType, "error", err)
	}
}

func (d *Dispatcher) enqueue(j job) error {
	select {
	case d.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Notification worker stopping", "worker", id)
			return
		case j := <-d.jobs:
			d.process(ctx, j)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	if j.msg.Customer == nil && d.customers != nil {
		c, err := d.customers.GetByID(ctx, j.msg.CustomerID)
		if err != nil {
			logger.Warn("Customer lookup failed for notification", "customerID", j.msg.CustomerID, "error", err)
		} else {
			j.msg.Customer = c
		}
	}

	if j.sink != nil {
		d.deliver(ctx, j.sink, j)
		return
	}
	for _, s := range d.sinks {
		d.deliver(ctx, s, j)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, j job) {
	logger.ExternalServiceCall(s.Name(), "Deliver", "customerID", j.msg.CustomerID, "event", j.msg.EventType)
	start := time.Now()
	err := s.Deliver(ctx, j.msg)
	logger.ExternalServiceResult(s.Name(), "Deliver", err, "durationMs", time.Since(start).Milliseconds())
	if err == nil {
		return
	}

	if j.retries >= d.maxRetries {
		logger.Error("Notification delivery failed after retries",
			"sink", s.Name(), "customerID", j.msg.CustomerID, "event", j.msg.EventType, "retries", j.retries, "error", err)
		return
	}

	retry := job{msg: j.msg, sink: s, retries: j.retries + 1}
	delay := time.Duration(retry.retries*retry.retries) * d.backoff
	logger.Warn("Notification delivery failed, retrying",
		"sink", s.Name(), "customerID", j.msg.CustomerID, "retry", retry.retries, "delay", delay, "error", err)
	time.AfterFunc(delay, func() {
		if d.ctx.Err() != nil {
			return
		}
		if err := d.enqueue(retry); err != nil {
			logger.Warn("Notification retry dropped", "sink", s.Name(), "customerID", j.msg.CustomerID, "error", err)
		}
	})
}
