package pricing

import (
	"math"
	"time"

	"carrental-backend/internal/domain"
)

// CostBreakdown is the price of a booking as shown to the customer before
// they commit.
type CostBreakdown struct {
	Hours             int64   `json:"hours"`
	HourlyRate        int64   `json:"hourly_rate"`
	RentalCost        int64   `json:"rental_cost"`
	DepositBase       int64   `json:"deposit_base"`
	DepositMultiplier float64 `json:"deposit_multiplier"`
	Deposit           int64   `json:"deposit"`
	ServiceFee        int64   `json:"service_fee"`
	Total             int64   `json:"total"`
	TrustScore        int     `json:"trust_score"`
	Currency          string  `json:"currency"`
}

// SettlementFigures are the computed fields of a settlement.
type SettlementFigures struct {
	OvertimeHours          int64
	OvertimeFee            int64
	DamageCharge           int64
	TotalAdditionalCharges int64
	DepositRefundAmount    int64
}

// Calculator applies a fixed Config to bookings and returns.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg.clone()}
}

func (c *Calculator) Currency() string {
	return c.cfg.Currency
}

// RentalHours returns the billable hours between start and end, rounded up.
func RentalHours(start, end time.Time) int64 {
	if !end.After(start) {
		return 0
	}
	return ceilDiv(end.Sub(start), time.Hour)
}

// DepositMultiplier maps a trust score onto the share of the base deposit
// that must be paid.
func DepositMultiplier(score int, tiers DepositTiers) float64 {
	switch {
	case score < tiers.LowThreshold:
		return 1.0
	case score < tiers.HighThreshold:
		return tiers.ReducedMultiplier
	default:
		return 0
	}
}

// Quote prices a booking window for a customer with the given trust score
// and completed-booking count. The service fee is waived for repeat
// customers.
func (c *Calculator) Quote(hourlyRate, vehiclePrice int64, start, end time.Time, trustScore int, completedBookings int) CostBreakdown {
	hours := RentalHours(start, end)
	rental := hourlyRate * hours

	base := roundMoney(float64(vehiclePrice) * c.cfg.DepositPercent)
	mult := DepositMultiplier(trustScore, c.cfg.Tiers)
	deposit := roundMoney(float64(base) * mult)

	fee := c.cfg.ServiceFee
	if completedBookings > 0 {
		fee = 0
	}

	return CostBreakdown{
		Hours:             hours,
		HourlyRate:        hourlyRate,
		RentalCost:        rental,
		DepositBase:       base,
		DepositMultiplier: mult,
		Deposit:           deposit,
		ServiceFee:        fee,
		Total:             rental + deposit + fee,
		TrustScore:        trustScore,
		Currency:          c.cfg.Currency,
	}
}

// Settle computes every settlement figure for one return using the
// configured multiplier, grace period and damage rates.
func (c *Calculator) Settle(hourlyRate, initialDeposit int64, scheduledReturn, actualReturn time.Time, damages []domain.DamageReport) SettlementFigures {
	hours, fee := ComputeOvertime(hourlyRate, scheduledReturn, actualReturn, c.cfg.OvertimeMultiplier, c.cfg.GracePeriod)
	damage := c.DamageCharge(hourlyRate, damages)
	total := fee + damage
	return SettlementFigures{
		OvertimeHours:          hours,
		OvertimeFee:            fee,
		DamageCharge:           damage,
		TotalAdditionalCharges: total,
		DepositRefundAmount:    ComputeNetSettlement(initialDeposit, total),
	}
}

// DamageCharge is ComputeDamageCharge with the configured rates.
func (c *Calculator) DamageCharge(hourlyRate int64, damages []domain.DamageReport) int64 {
	return ComputeDamageCharge(hourlyRate, damages, c.cfg.DamageRates)
}

func ceilDiv(d, unit time.Duration) int64 {
	n := int64(d / unit)
	if d%unit != 0 {
		n++
	}
	return n
}

// roundMoney rounds half away from zero to the smallest currency unit.
func roundMoney(v float64) int64 {
	return int64(math.Round(v))
}
