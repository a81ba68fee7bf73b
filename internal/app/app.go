// Package app wires the engine's components from configuration. Both the
// server and the cronjob runner build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"carrental-backend/internal/config"
	"carrental-backend/internal/contract"
	"carrental-backend/internal/gateway"
	"carrental-backend/internal/jobs"
	"carrental-backend/internal/kv"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/notify"
	"carrental-backend/internal/pricing"
	"carrental-backend/internal/refund"
	"carrental-backend/internal/repository/postgres"
	"carrental-backend/internal/service"
	"carrental-backend/internal/storage"
)

type App struct {
	Config *config.Config
	DB     *sql.DB
	Store  *postgres.Store
	Redis  *redis.Client // nil without a redis url

	Gateways *gateway.Registry
	Objects  *storage.LocalStore
	Hub      *notify.Hub
	Notifier *notify.Dispatcher

	RefundQueue refund.Queue
	Refunds     *refund.Pool

	Trust       service.TrustLedger
	Payments    service.PaymentManager
	Bookings    service.BookingService
	Settlements service.SettlementService
	Contracts   *contract.Generator
	Inbox       service.NotificationInbox
}

// New builds every component. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, db *sql.DB) (*App, error) {
	a := &App{
		Config:   cfg,
		DB:       db,
		Store:    postgres.NewStore(db),
		Gateways: cfg.GatewayRegistry(),
	}

	if cfg.Redis.URL != "" {
		client, err := kv.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.Redis = client
	}

	objects, err := storage.NewLocalStore(cfg.LocalStorage())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Objects = objects

	sinks, err := a.notificationSinks(ctx)
	if err != nil {
		return nil, err
	}
	a.Notifier = notify.NewDispatcher(a.Store.CustomerRepository, notify.Options{
		Workers:   cfg.Notifications.Workers,
		QueueSize: cfg.Notifications.QueueSize,
	}, sinks...)

	if cfg.Refunds.Queue == "redis" {
		a.RefundQueue = refund.NewRedisQueue(a.Redis, cfg.Refunds.QueueKey)
	} else {
		a.RefundQueue = refund.NewMemoryQueue(cfg.Refunds.QueueSize)
	}
	logger.Info("Refund queue configured", "backend", cfg.Refunds.Queue)

	a.Trust = service.NewTrustLedger(a.Store.TxManager, a.Store.TrustScoreRepository, cfg.TrustPolicy())
	a.Payments = service.NewPaymentManager(a.Store.TxManager, a.Store.PaymentRepository, a.Store.BookingRepository, a.Gateways)

	deps := service.Dependencies{
		Tx:          a.Store.TxManager,
		Bookings:    a.Store.BookingRepository,
		Vehicles:    a.Store.VehicleRepository,
		Settlements: a.Store.SettlementRepository,
		Damages:     a.Store.DamageRepository,
		Conditions:  a.Store.ConditionRepository,
		Payments:    a.Payments,
		Trust:       a.Trust,
		Calculator:  pricing.NewCalculator(cfg.PricingConfig()),
		Gateways:    a.Gateways,
		Notifier:    a.Notifier,
		Refunds:     refund.NewDispatcher(a.RefundQueue),
		Evidence:    a.Objects,
		HoldWindow:  cfg.HoldWindow(),
	}
	a.Bookings = service.NewBookingService(deps)
	a.Settlements = service.NewSettlementService(deps)

	a.Refunds = refund.NewPool(a.RefundQueue, a.Settlements, a.Bookings, a.Notifier, refund.Options{
		Workers:     cfg.Refunds.Workers,
		MaxAttempts: cfg.Refunds.MaxAttempts,
		Backoff:     time.Duration(cfg.Refunds.BackoffSeconds) * time.Second,
	})
	a.Inbox = service.NewNotificationInbox(a.Store.NotificationRepository)
	a.Contracts = contract.NewGenerator(a.Store.BookingRepository, a.Store.VehicleRepository, a.Store.CustomerRepository, a.Objects)

	return a, nil
}

// notificationSinks always persists to the inbox and pushes over websocket;
// e-mail and FCM join when configured.
func (a *App) notificationSinks(ctx context.Context) ([]notify.Sink, error) {
	cfg := a.Config.Notifications
	a.Hub = notify.NewHub(a.Config.Server.AllowedOrigins)
	sinks := []notify.Sink{notify.NewInboxSink(a.Store.NotificationRepository), a.Hub}

	if cfg.SendGrid.APIKey != "" {
		sinks = append(sinks, notify.NewEmailSink(cfg.SendGrid.APIKey, cfg.SendGrid.FromEmail, cfg.SendGrid.FromName))
	} else {
		logger.Info("SendGrid API key not set, e-mail notifications disabled")
	}

	if cfg.Firebase.CredentialsFile != "" {
		push, err := notify.NewPushSink(ctx, cfg.Firebase.CredentialsFile)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, push)
	} else {
		logger.Info("Firebase credentials not set, push notifications disabled")
	}
	return sinks, nil
}

// Start runs the notification and refund workers until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.Notifier.Start(ctx)
	a.Refunds.Start(ctx)
}

// Wait blocks until the workers started by Start have stopped.
func (a *App) Wait() {
	a.Refunds.Wait()
	a.Notifier.Wait()
}

// JobRunner builds the scheduled jobs. With Redis they take a distributed
// lock so only one replica runs each job.
func (a *App) JobRunner() *jobs.JobRunner {
	var locker jobs.Locker
	if a.Redis != nil {
		locker = jobs.NewRedisLocker(a.Redis)
	}
	return jobs.NewJobRunner(a.Store.BookingRepository, a.Store.SettlementRepository, &jobs.Services{
		Bookings:    a.Bookings,
		Settlements: a.Settlements,
		Payments:    a.Payments,
		Refunds:     refund.NewDispatcher(a.RefundQueue),
	}, locker, a.Config)
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("Failed to close redis client", "error", err)
		}
	}
}
