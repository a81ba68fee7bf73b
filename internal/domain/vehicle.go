package domain

import "time"

type VehicleStatus string

const (
	VehicleStatusAvailable   VehicleStatus = "AVAILABLE"
	VehicleStatusMaintenance VehicleStatus = "MAINTENANCE"
	VehicleStatusRetired     VehicleStatus = "RETIRED"
)

type Vehicle struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	PlateNumber  string        `json:"plate_number"`
	HourlyRate   int64         `json:"hourly_rate"`
	VehiclePrice int64         `json:"vehicle_price"`
	Status       VehicleStatus `json:"status"`
}

type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	PushToken string    `json:"push_token"`
	CreatedAt time.Time `json:"created_at"`
}

type ConditionPhase string

const (
	ConditionPhasePickup ConditionPhase = "PICKUP"
	ConditionPhaseReturn ConditionPhase = "RETURN"
)

// ConditionRecord is photo evidence of a vehicle's state at handover.
type ConditionRecord struct {
	ID         int64          `json:"id"`
	BookingID  int64          `json:"booking_id"`
	Phase      ConditionPhase `json:"phase"`
	PhotoKey   string         `json:"photo_key"`
	Note       string         `json:"note"`
	RecordedBy int64          `json:"recorded_by"`
	CreatedAt  time.Time      `json:"created_at"`
}
