package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"carrental-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
server:
  http_port: 8080
database:
  host: localhost
  user: carrental
  database: carrental
storage:
  upload_dir: /tmp/uploads
gateways:
  card:
    enabled: true
    webhook_secret: secret
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.GRPCPort)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 15*time.Minute, cfg.HoldWindow())
	assert.Equal(t, 100, cfg.Trust.InitialScore)
	assert.Equal(t, "memory", cfg.Refunds.Queue)
	assert.Equal(t, "0 */1 * * * *", cfg.Scheduler.ExpireBookings)
	assert.Equal(t, 10, cfg.Gateways.Card.TimeoutSeconds)
}

func TestParse_Validation(t *testing.T) {
	t.Run("No gateway enabled", func(t *testing.T) {
		_, err := Parse([]byte(`
server: {http_port: 8080}
database: {host: h, user: u, database: d}
storage: {upload_dir: /tmp}
`))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "payment gateway")
	})

	t.Run("Redis queue without url", func(t *testing.T) {
		_, err := Parse([]byte(minimalYAML + "refunds:\n  queue: redis\n"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis url")
	})

	t.Run("Unknown damage severity", func(t *testing.T) {
		_, err := Parse([]byte(minimalYAML + "settlement:\n  damage_rates:\n    cosmic: {percent: 1, multiplier: 1}\n"))
		assert.Error(t, err)
	})

	t.Run("Inverted trust thresholds", func(t *testing.T) {
		_, err := Parse([]byte(minimalYAML + "trust:\n  low_threshold: 600\n  high_threshold: 300\n"))
		assert.Error(t, err)
	})
}

func TestParse_EnvOverride(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
}

func TestConfig_PricingConfig(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
settlement:
  grace_minutes: 5
  overtime_multiplier: 2
  damage_rates:
    minor: {percent: 0.2, multiplier: 1.1}
`))
	require.NoError(t, err)

	pc := cfg.PricingConfig()
	assert.Equal(t, 5*time.Minute, pc.GracePeriod)
	assert.Equal(t, 2.0, pc.OvertimeMultiplier)
	assert.Equal(t, 0.2, pc.DamageRates[domain.DamageSeverityMinor].Percent)
	assert.Equal(t, 2.0, pc.DamageRates[domain.DamageSeverityMajor].Multiplier)
	assert.Equal(t, 200, pc.Tiers.LowThreshold)
}

func TestConfig_TrustPolicy(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	p := cfg.TrustPolicy()
	assert.Equal(t, 100, p.InitialScore)
	assert.Equal(t, 50, p.FirstPaymentBonus)
	assert.Equal(t, 10, p.CompletionBonus)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://carrental:@localhost:0/carrental?sslmode=disable", cfg.GetDatabaseConnectionString())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Adapters(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	cfg.Storage.MaxFileSize = 5

	registry := cfg.GatewayRegistry()
	assert.True(t, registry.Supports(domain.PaymentMethodCard))
	assert.False(t, registry.Supports(domain.PaymentMethodQR))

	sc := cfg.LocalStorage()
	assert.Equal(t, "/tmp/uploads", sc.Dir)
	assert.Equal(t, int64(5*1024*1024), sc.MaxFileSize)
	assert.NotEmpty(t, sc.SigningSecret, "a random secret is generated when none is configured")
}
