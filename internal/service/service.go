package service

import (
	"context"
	"encoding/json"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/gateway"
	"carrental-backend/internal/pricing"
	"carrental-backend/internal/repository"
)

type BookingService interface {
	Preview(ctx context.Context, req BookingRequest) (*pricing.CostBreakdown, error)
	Create(ctx context.Context, req BookingRequest) (*BookingCreated, error)
	ConfirmPayment(ctx context.Context, c PaymentConfirmation) (*ConfirmResult, error)
	RecordPaymentFailure(ctx context.Context, bookingID int64, payload json.RawMessage) error
	StartRental(ctx context.Context, bookingID, staffID int64) (*domain.Booking, error)
	CompleteRental(ctx context.Context, req ReturnRequest) (*CompletionResult, error)
	Expire(ctx context.Context, bookingID int64) (*domain.Booking, error)
	MarkNoShow(ctx context.Context, bookingID int64) (*domain.Booking, error)
	Get(ctx context.Context, bookingID int64) (*domain.Booking, error)
	RecordCondition(ctx context.Context, in ConditionInput) (*domain.ConditionRecord, error)
}

type PaymentManager interface {
	Create(ctx context.Context, bookingID, amount int64, currency string, method domain.PaymentMethod) (*domain.Payment, error)
	MarkCompleted(ctx context.Context, bookingID int64, transactionID string, amount int64, payload json.RawMessage) (*domain.Payment, domain.PaymentOutcome, error)
	MarkFailed(ctx context.Context, bookingID int64, payload json.RawMessage) (*domain.Payment, domain.PaymentOutcome, error)
	MarkRefunded(ctx context.Context, bookingID int64, refundID, reason string) (*domain.Payment, error)
	StartCheckout(ctx context.Context, b *domain.Booking) (string, error)
	RestartCheckout(ctx context.Context, bookingID int64) (*domain.Payment, error)
	Get(ctx context.Context, bookingID int64) (*domain.Payment, error)
}

type TrustLedger interface {
	GetScore(ctx context.Context, customerID int64) (int, error)
	ApplyEvent(ctx context.Context, ev domain.TrustEvent) (int, error)
	ApplyFirstPaymentBonus(ctx context.Context, customerID, bookingID int64) (int, bool, error)
	ApplyCompletionBonus(ctx context.Context, customerID, bookingID int64) (int, error)
	ApplyNoShowPenalty(ctx context.Context, customerID, bookingID int64) (int, error)
	ApplyLateReturnPenalty(ctx context.Context, customerID, bookingID, overtimeHours int64) (int, error)
	ApplyDamagePenalty(ctx context.Context, customerID, bookingID, damageCharge int64) (int, error)
	AdjustManually(ctx context.Context, customerID, adminID int64, delta int, reason string) (int, error)
	GetHistory(ctx context.Context, customerID int64) ([]domain.TrustScoreHistory, error)
}

type SettlementService interface {
	AddDamage(ctx context.Context, bookingID int64, in DamageInput) (*domain.Settlement, error)
	Finalize(ctx context.Context, bookingID, staffID int64) (*domain.Settlement, error)
	RequestRefund(ctx context.Context, bookingID int64) (*domain.Settlement, error)
	SubmitRefundProof(ctx context.Context, bookingID, adminID int64, reference string) (*domain.Settlement, error)
	ProcessRefund(ctx context.Context, task domain.RefundTask) error
	Get(ctx context.Context, bookingID int64) (*domain.Settlement, error)
}

// Notifier delivers customer-facing events. Delivery is best effort and
// must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, customerID int64, eventType domain.EventType, payload map[string]string)
}

// RefundDispatcher hands a refund task to the asynchronous refund workers.
type RefundDispatcher interface {
	Dispatch(ctx context.Context, task domain.RefundTask) error
}

// EvidenceStore reports whether an uploaded condition photo exists.
type EvidenceStore interface {
	FileExists(ctx context.Context, key string) (bool, int64, error)
}

// ContractGenerator renders and stores the rental contract once a payment
// has succeeded. The webhook layer calls it; the booking engine never does.
type ContractGenerator interface {
	GenerateAndStore(ctx context.Context, bookingID, customerID, vehicleID int64, snapshot PaymentSnapshot) (string, error)
}

type PaymentSnapshot struct {
	TransactionID string
	Amount        int64
	Currency      string
	Method        domain.PaymentMethod
	PaidAt        time.Time
}

// Dependencies wires the booking and settlement services to their stores
// and collaborators.
type Dependencies struct {
	Tx          repository.Transactor
	Bookings    repository.BookingRepository
	Vehicles    repository.VehicleRepository
	Settlements repository.SettlementRepository
	Damages     repository.DamageRepository
	Conditions  repository.ConditionRepository
	Payments    PaymentManager
	Trust       TrustLedger
	Calculator  *pricing.Calculator
	Gateways    *gateway.Registry
	Notifier    Notifier
	Refunds     RefundDispatcher
	Evidence    EvidenceStore
	HoldWindow  time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Dependencies) clock() func() time.Time {
	if d.Now != nil {
		return d.Now
	}
	return time.Now
}

// TrustPolicy holds the ledger's bonuses, penalties and thresholds.
type TrustPolicy struct {
	InitialScore         int
	FirstPaymentBonus    int
	CompletionBonus      int
	NoShowPenalty        int
	LatePenaltyPerHour   int
	MinorDamagePenalty   int
	MajorDamagePenalty   int
	MajorDamageThreshold int64
}

func DefaultTrustPolicy() TrustPolicy {
	return TrustPolicy{
		InitialScore:         100,
		FirstPaymentBonus:    50,
		CompletionBonus:      10,
		NoShowPenalty:        100,
		LatePenaltyPerHour:   5,
		MinorDamagePenalty:   20,
		MajorDamagePenalty:   80,
		MajorDamageThreshold: 1000000,
	}
}

type BookingRequest struct {
	CustomerID    int64
	VehicleID     int64
	Start         time.Time
	End           time.Time
	PaymentMethod domain.PaymentMethod
}

type BookingCreated struct {
	Booking     *domain.Booking
	Payment     *domain.Payment
	Quote       pricing.CostBreakdown
	CheckoutURL string
}

type PaymentConfirmation struct {
	BookingID     int64
	TransactionID string
	// Amount is the amount the gateway reports as paid; zero skips the check.
	Amount  int64
	Payload json.RawMessage
}

type ConfirmResult struct {
	Booking      *domain.Booking
	Payment      *domain.Payment
	Outcome      domain.PaymentOutcome
	BonusApplied bool
	TrustScore   int
}

type DamageInput struct {
	Severity      domain.DamageSeverity
	Description   string
	EstimatedCost *int64
	ReportedBy    int64
}

type ReturnRequest struct {
	BookingID int64
	StaffID   int64
	// ReturnedAt defaults to the current time.
	ReturnedAt time.Time
	Damages    []DamageInput
}

type CompletionResult struct {
	Booking         *domain.Booking
	Settlement      *domain.Settlement
	RefundScheduled bool
}

type ConditionInput struct {
	BookingID  int64
	Phase      domain.ConditionPhase
	PhotoKey   string
	Note       string
	RecordedBy int64
}

// event is a notification collected inside a transaction and sent after it
// commits.
type event struct {
	customerID int64
	eventType  domain.EventType
	payload    map[string]string
}

type outbox []event

func (o *outbox) add(customerID int64, eventType domain.EventType, payload map[string]string) {
	*o = append(*o, event{customerID: customerID, eventType: eventType, payload: payload})
}

func (o outbox) publish(ctx context.Context, n Notifier) {
	if n == nil {
		return
	}
	for _, e := range o {
		n.Notify(ctx, e.customerID, e.eventType, e.payload)
	}
}
