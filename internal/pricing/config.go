package pricing

import (
	"time"

	"carrental-backend/internal/domain"
)

// DamageRate prices one severity level when the assessor gave no estimate.
// Percent is taken of the daily rate, Multiplier is applied on top of the base.
type DamageRate struct {
	Percent    float64
	Multiplier float64
}

// DepositTiers maps a trust score onto a deposit multiplier.
type DepositTiers struct {
	LowThreshold      int
	HighThreshold     int
	ReducedMultiplier float64
}

// Config holds every tunable the calculator reads. Build it once at startup
// and hand it to NewCalculator; the calculator keeps its own copy.
type Config struct {
	Currency           string
	ServiceFee         int64
	DepositPercent     float64
	Tiers              DepositTiers
	OvertimeMultiplier float64
	GracePeriod        time.Duration
	DamageRates        map[domain.DamageSeverity]DamageRate
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Currency:       "VND",
		ServiceFee:     50000,
		DepositPercent: 0.30,
		Tiers: DepositTiers{
			LowThreshold:      200,
			HighThreshold:     500,
			ReducedMultiplier: 0.5,
		},
		OvertimeMultiplier: 1.5,
		GracePeriod:        10 * time.Minute,
		DamageRates: map[domain.DamageSeverity]DamageRate{
			domain.DamageSeverityMinor:    {Percent: 0.10, Multiplier: 1.0},
			domain.DamageSeverityModerate: {Percent: 0.30, Multiplier: 1.5},
			domain.DamageSeverityMajor:    {Percent: 0.60, Multiplier: 2.0},
		},
	}
}

func (c Config) clone() Config {
	rates := make(map[domain.DamageSeverity]DamageRate, len(c.DamageRates))
	for k, v := range c.DamageRates {
		rates[k] = v
	}
	c.DamageRates = rates
	return c
}
