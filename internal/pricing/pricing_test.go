package pricing

import (
	"testing"
	"time"

	"carrental-backend/internal/domain"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func TestRentalHours(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected int64
	}{
		{"exact hours", 3 * time.Hour, 3},
		{"one minute over rounds up", 3*time.Hour + time.Minute, 4},
		{"under one hour", 20 * time.Minute, 1},
		{"zero length", 0, 0},
		{"negative", -time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RentalHours(t0, t0.Add(tt.duration)))
		})
	}
}

func TestDepositMultiplier(t *testing.T) {
	tiers := DefaultConfig().Tiers

	assert.Equal(t, 1.0, DepositMultiplier(0, tiers))
	assert.Equal(t, 1.0, DepositMultiplier(199, tiers))
	assert.Equal(t, 0.5, DepositMultiplier(200, tiers))
	assert.Equal(t, 0.5, DepositMultiplier(499, tiers))
	assert.Equal(t, 0.0, DepositMultiplier(500, tiers))
	assert.Equal(t, 1.0, DepositMultiplier(-300, tiers))
}

func TestCalculator_Quote(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	t.Run("New customer pays full deposit and service fee", func(t *testing.T) {
		q := calc.Quote(20000, 500000, t0, t0.Add(3*time.Hour), 0, 0)

		assert.Equal(t, int64(3), q.Hours)
		assert.Equal(t, int64(60000), q.RentalCost)
		assert.Equal(t, int64(150000), q.DepositBase)
		assert.Equal(t, int64(150000), q.Deposit)
		assert.Equal(t, int64(50000), q.ServiceFee)
		assert.Equal(t, int64(260000), q.Total)
	})

	t.Run("Repeat customer skips service fee", func(t *testing.T) {
		q := calc.Quote(20000, 500000, t0, t0.Add(3*time.Hour), 160, 1)

		assert.Equal(t, int64(0), q.ServiceFee)
		assert.Equal(t, int64(210000), q.Total)
	})

	t.Run("Mid tier halves deposit", func(t *testing.T) {
		q := calc.Quote(20000, 500000, t0, t0.Add(time.Hour), 250, 2)

		assert.Equal(t, 0.5, q.DepositMultiplier)
		assert.Equal(t, int64(75000), q.Deposit)
	})

	t.Run("Top tier pays no deposit", func(t *testing.T) {
		q := calc.Quote(20000, 500000, t0, t0.Add(time.Hour), 900, 10)

		assert.Equal(t, int64(0), q.Deposit)
		assert.Equal(t, int64(20000), q.Total)
	})

	t.Run("Partial hour billed in full", func(t *testing.T) {
		q := calc.Quote(20000, 500000, t0, t0.Add(90*time.Minute), 0, 0)

		assert.Equal(t, int64(2), q.Hours)
		assert.Equal(t, int64(40000), q.RentalCost)
	})
}

func TestNewCalculator_CopiesConfig(t *testing.T) {
	cfg := DefaultConfig()
	calc := NewCalculator(cfg)

	cfg.DamageRates[domain.DamageSeverityMinor] = DamageRate{Percent: 1, Multiplier: 10}

	charge := calc.DamageCharge(1000, []domain.DamageReport{{Severity: domain.DamageSeverityMinor}})
	assert.Equal(t, int64(2400), charge)
}
