package domain

import "time"

type TrustChangeType string

const (
	TrustChangeBonus            TrustChangeType = "BONUS"
	TrustChangePenalty          TrustChangeType = "PENALTY"
	TrustChangeManualAdjustment TrustChangeType = "MANUAL_ADJUSTMENT"
)

type TrustScore struct {
	CustomerID    int64     `json:"customer_id"`
	Score         int       `json:"score"`
	LastBookingID *int64    `json:"last_booking_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TrustScoreHistory rows are append-only.
type TrustScoreHistory struct {
	ID            int64           `json:"id"`
	CustomerID    int64           `json:"customer_id"`
	BookingID     *int64          `json:"booking_id,omitempty"`
	AdminID       *int64          `json:"admin_id,omitempty"`
	ChangeAmount  int             `json:"change_amount"`
	PreviousScore int             `json:"previous_score"`
	NewScore      int             `json:"new_score"`
	Reason        string          `json:"reason"`
	ChangeType    TrustChangeType `json:"change_type"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TrustScoreInit tags the result of a get-or-create on a trust score.
type TrustScoreInit int

const (
	TrustScoreExisting TrustScoreInit = iota
	TrustScoreCreated
)

// TrustEvent is one scoring event applied by the ledger.
type TrustEvent struct {
	CustomerID int64
	BookingID  *int64
	AdminID    *int64
	Delta      int
	Reason     string
	ChangeType TrustChangeType
}
