package pricing

import (
	"time"

	"carrental-backend/internal/domain"
)

// ComputeOvertime returns the billable overtime hours and fee for a return.
// A return at or before scheduledReturn+grace costs nothing. Past that, every
// started hour after the grace period is billed in full.
func ComputeOvertime(hourlyRate int64, scheduledReturn, actualReturn time.Time, multiplier float64, grace time.Duration) (int64, int64) {
	late := actualReturn.Sub(scheduledReturn)
	if late <= grace {
		return 0, 0
	}
	hours := ceilDiv(late-grace, time.Hour)
	fee := roundMoney(float64(hourlyRate*hours) * multiplier)
	return hours, fee
}

// ComputeDamageCharge sums the charge for every damage record. The base of a
// record is the assessor estimate when present, otherwise a share of the
// daily rate for its severity. The severity multiplier is applied on top.
// Records with neither an estimate nor a known severity add nothing.
func ComputeDamageCharge(hourlyRate int64, damages []domain.DamageReport, rates map[domain.DamageSeverity]DamageRate) int64 {
	dailyRate := hourlyRate * 24
	var total int64
	for _, d := range damages {
		rate, known := rates[d.Severity]
		multiplier := 1.0
		if known {
			multiplier = rate.Multiplier
		}

		var base float64
		switch {
		case d.EstimatedCost != nil:
			base = float64(*d.EstimatedCost)
		case known:
			base = float64(dailyRate) * rate.Percent
		default:
			continue
		}
		total += roundMoney(base * multiplier)
	}
	return total
}

// ComputeNetSettlement returns the deposit refund. A negative result is the
// amount the customer still owes.
func ComputeNetSettlement(initialDeposit, totalAdditionalCharges int64) int64 {
	return initialDeposit - totalAdditionalCharges
}
