package domain

import "time"

type RefundStatus string

const (
	RefundStatusPending             RefundStatus = "PENDING"
	RefundStatusProcessing          RefundStatus = "PROCESSING"
	RefundStatusProcessed           RefundStatus = "PROCESSED"
	RefundStatusFailed              RefundStatus = "FAILED"
	RefundStatusAwaitingManualProof RefundStatus = "AWAITING_MANUAL_PROOF"
	RefundStatusNotRequired         RefundStatus = "NOT_REQUIRED"
)

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusPending:             {RefundStatusProcessing, RefundStatusAwaitingManualProof, RefundStatusNotRequired},
	RefundStatusProcessing:          {RefundStatusProcessed, RefundStatusFailed},
	RefundStatusFailed:              {RefundStatusProcessing, RefundStatusAwaitingManualProof},
	RefundStatusAwaitingManualProof: {RefundStatusProcessed},
}

func (s RefundStatus) CanTransitionTo(next RefundStatus) bool {
	for _, allowed := range refundTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Settlement struct {
	ID                     int64        `json:"id"`
	BookingID              int64        `json:"booking_id"`
	ScheduledReturnAt      time.Time    `json:"scheduled_return_at"`
	ActualReturnAt         time.Time    `json:"actual_return_at"`
	OvertimeHours          int64        `json:"overtime_hours"`
	OvertimeFee            int64        `json:"overtime_fee"`
	DamageCharge           int64        `json:"damage_charge"`
	DamageDescription      string       `json:"damage_description"`
	InitialDeposit         int64        `json:"initial_deposit"`
	TotalAdditionalCharges int64        `json:"total_additional_charges"`
	DepositRefundAmount    int64        `json:"deposit_refund_amount"`
	Finalized              bool         `json:"finalized"`
	FinalizedAt            *time.Time   `json:"finalized_at,omitempty"`
	FinalizedBy            *int64       `json:"finalized_by,omitempty"`
	RefundStatus           RefundStatus `json:"refund_status"`
	RefundReference        *string      `json:"refund_reference,omitempty"`
	RefundFailureReason    string       `json:"refund_failure_reason"`
	// RefundRequestedAt is set once the refund has been asked for, either on
	// an automatic finalization or by staff. Stalled-refund recovery only
	// touches requested refunds.
	RefundRequestedAt *time.Time `json:"refund_requested_at,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

func (s *Settlement) TransitionRefund(next RefundStatus) error {
	if !s.RefundStatus.CanTransitionTo(next) {
		return InvalidTransition("refund", string(s.RefundStatus), string(next))
	}
	s.RefundStatus = next
	return nil
}

// AdditionalPaymentDue is the amount the customer still owes when charges
// exceed the deposit.
func (s *Settlement) AdditionalPaymentDue() int64 {
	if s.DepositRefundAmount < 0 {
		return -s.DepositRefundAmount
	}
	return 0
}

type DamageSeverity string

const (
	DamageSeverityMinor    DamageSeverity = "MINOR"
	DamageSeverityModerate DamageSeverity = "MODERATE"
	DamageSeverityMajor    DamageSeverity = "MAJOR"
)

type DamageReport struct {
	ID            int64          `json:"id"`
	BookingID     int64          `json:"booking_id"`
	Severity      DamageSeverity `json:"severity"`
	Description   string         `json:"description"`
	EstimatedCost *int64         `json:"estimated_cost,omitempty"`
	ReportedBy    int64          `json:"reported_by"`
	CreatedAt     time.Time      `json:"created_at"`
}

// RefundTask asks a refund worker to pay back a settled deposit.
type RefundTask struct {
	ID        string        `json:"id"`
	BookingID int64         `json:"booking_id"`
	Method    PaymentMethod `json:"method"`
	Amount    int64         `json:"amount"`
	Attempt   int           `json:"attempt"`
	CreatedAt time.Time     `json:"created_at"`
}
