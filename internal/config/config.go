package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/gateway"
	"carrental-backend/internal/pricing"
	"carrental-backend/internal/service"
	"carrental-backend/internal/storage"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Log           LogConfig          `yaml:"log"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Booking       BookingConfig      `yaml:"booking"`
	Settlement    SettlementConfig   `yaml:"settlement"`
	Trust         TrustConfig        `yaml:"trust"`
	Gateways      GatewaysConfig     `yaml:"gateways"`
	Notifications NotificationConfig `yaml:"notifications"`
	Storage       StorageConfig      `yaml:"storage"`
	Refunds       RefundConfig       `yaml:"refunds"`
}

// ServerConfig contains listener settings. The HTTP port serves webhooks and
// the websocket channel, the gRPC port serves health checks.
type ServerConfig struct {
	Host      string `yaml:"host"`
	HTTPPort  int    `yaml:"http_port"`
	GRPCPort  int    `yaml:"grpc_port"`
	PublicURL string `yaml:"public_url"`
	// AllowedOrigins restricts websocket upgrades; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// RedisConfig is optional. When URL is empty the refund queue stays in
// memory and scheduled jobs run without a distributed lock.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// SchedulerConfig contains cron schedule settings (with seconds field)
type SchedulerConfig struct {
	// InProcess runs the jobs inside the server instead of the cronjob
	// runner, so re-dispatched refunds reach an in-memory queue.
	InProcess          bool   `yaml:"in_process"`
	ExpireBookings     string `yaml:"expire_bookings"`
	MarkNoShows        string `yaml:"mark_no_shows"`
	RetryRefunds       string `yaml:"retry_refunds"`
	LockTTLSeconds     int    `yaml:"lock_ttl_seconds"`
	BatchSize          int    `yaml:"batch_size"`
	StalledRefundAfter int    `yaml:"stalled_refund_after_minutes"`
}

type BookingConfig struct {
	HoldMinutes    int     `yaml:"hold_minutes"`
	ServiceFee     int64   `yaml:"service_fee"`
	DepositPercent float64 `yaml:"deposit_percent"`
	Currency       string  `yaml:"currency"`
}

type DamageRateConfig struct {
	Percent    float64 `yaml:"percent"`
	Multiplier float64 `yaml:"multiplier"`
}

type SettlementConfig struct {
	OvertimeMultiplier float64                     `yaml:"overtime_multiplier"`
	GraceMinutes       int                         `yaml:"grace_minutes"`
	DamageRates        map[string]DamageRateConfig `yaml:"damage_rates"`
}

type TrustConfig struct {
	InitialScore             int     `yaml:"initial_score"`
	FirstPaymentBonus        int     `yaml:"first_payment_bonus"`
	CompletionBonus          int     `yaml:"completion_bonus"`
	NoShowPenalty            int     `yaml:"no_show_penalty"`
	LatePenaltyPerHour       int     `yaml:"late_penalty_per_hour"`
	MinorDamagePenalty       int     `yaml:"minor_damage_penalty"`
	MajorDamagePenalty       int     `yaml:"major_damage_penalty"`
	MajorDamageThreshold     int64   `yaml:"major_damage_threshold"`
	LowThreshold             int     `yaml:"low_threshold"`
	HighThreshold            int     `yaml:"high_threshold"`
	ReducedDepositMultiplier float64 `yaml:"reduced_deposit_multiplier"`
}

type GatewaysConfig struct {
	Card CardGatewayConfig `yaml:"card"`
	QR   QRGatewayConfig   `yaml:"qr"`
}

type CardGatewayConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
	SuccessURL     string `yaml:"success_url"`
	CancelURL      string `yaml:"cancel_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type QRGatewayConfig struct {
	Enabled      bool   `yaml:"enabled"`
	PayURL       string `yaml:"pay_url"`
	MerchantCode string `yaml:"merchant_code"`
	HashSecret   string `yaml:"hash_secret"`
	ReturnURL    string `yaml:"return_url"`
}

type NotificationConfig struct {
	Workers   int            `yaml:"workers"`
	QueueSize int            `yaml:"queue_size"`
	SendGrid  SendGridConfig `yaml:"sendgrid"`
	Firebase  FirebaseConfig `yaml:"firebase"`
}

type SendGridConfig struct {
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

type FirebaseConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

// StorageConfig contains condition photo storage settings
type StorageConfig struct {
	Type         string   `yaml:"type"`       // only "local" is implemented
	UploadDir    string   `yaml:"upload_dir"` // for local storage
	BaseURL      string   `yaml:"base_url"`   // server base URL for local upload links
	MaxFileSize  int64    `yaml:"max_file_size_mb"`
	AllowedTypes []string `yaml:"allowed_types"`
	// SigningSecret signs upload and download links. A random secret is
	// generated when empty, which invalidates links on restart.
	SigningSecret string `yaml:"signing_secret"`
}

type RefundConfig struct {
	Queue          string `yaml:"queue"` // "memory" or "redis"
	QueueKey       string `yaml:"queue_key"`
	Workers        int    `yaml:"workers"`
	QueueSize      int    `yaml:"queue_size"`
	MaxAttempts    int    `yaml:"max_attempts"`
	BackoffSeconds int    `yaml:"backoff_seconds"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			fmt.Sscanf(val, "%d", dst)
		}
	}

	setString("DB_HOST", &c.Database.Host)
	setInt("DB_PORT", &c.Database.Port)
	setString("DB_USER", &c.Database.User)
	setString("DB_PASSWORD", &c.Database.Password)
	setString("DB_NAME", &c.Database.Database)
	setString("DB_SSL_MODE", &c.Database.SSLMode)

	setString("SERVER_HOST", &c.Server.Host)
	setInt("HTTP_PORT", &c.Server.HTTPPort)
	setInt("GRPC_PORT", &c.Server.GRPCPort)

	setString("REDIS_URL", &c.Redis.URL)

	setString("CARD_API_KEY", &c.Gateways.Card.APIKey)
	setString("CARD_WEBHOOK_SECRET", &c.Gateways.Card.WebhookSecret)
	setString("QR_HASH_SECRET", &c.Gateways.QR.HashSecret)

	setString("SENDGRID_API_KEY", &c.Notifications.SendGrid.APIKey)
	setString("FIREBASE_SERVICE_ACCOUNT_PATH", &c.Notifications.Firebase.CredentialsFile)

	setString("UPLOAD_DIR", &c.Storage.UploadDir)
	setString("STORAGE_SIGNING_SECRET", &c.Storage.SigningSecret)

	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration and fills defaults
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = c.Server.HTTPPort + 1
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.Server.GRPCPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("upload directory is required")
	}
	if c.Storage.Type != "local" {
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Storage.SigningSecret == "" {
		c.Storage.SigningSecret = uuid.NewString()
	}

	if !c.Gateways.Card.Enabled && !c.Gateways.QR.Enabled {
		return fmt.Errorf("at least one payment gateway must be enabled")
	}
	if c.Gateways.Card.Enabled && c.Gateways.Card.WebhookSecret == "" {
		return fmt.Errorf("card gateway webhook secret is required")
	}
	if c.Gateways.QR.Enabled && c.Gateways.QR.HashSecret == "" {
		return fmt.Errorf("qr gateway hash secret is required")
	}
	if c.Gateways.Card.TimeoutSeconds == 0 {
		c.Gateways.Card.TimeoutSeconds = 10
	}

	c.applyBookingDefaults()
	c.applyTrustDefaults()

	if c.Trust.LowThreshold > c.Trust.HighThreshold {
		return fmt.Errorf("trust low threshold %d exceeds high threshold %d", c.Trust.LowThreshold, c.Trust.HighThreshold)
	}
	for severity := range c.Settlement.DamageRates {
		switch domain.DamageSeverity(strings.ToUpper(severity)) {
		case domain.DamageSeverityMinor, domain.DamageSeverityModerate, domain.DamageSeverityMajor:
		default:
			return fmt.Errorf("unknown damage severity %q", severity)
		}
	}

	// Scheduler defaults
	if c.Scheduler.ExpireBookings == "" {
		c.Scheduler.ExpireBookings = "0 */1 * * * *" // every minute
	}
	if c.Scheduler.MarkNoShows == "" {
		c.Scheduler.MarkNoShows = "0 */15 * * * *"
	}
	if c.Scheduler.RetryRefunds == "" {
		c.Scheduler.RetryRefunds = "0 */10 * * * *"
	}
	if c.Scheduler.LockTTLSeconds == 0 {
		c.Scheduler.LockTTLSeconds = 55
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = 200
	}
	if c.Scheduler.StalledRefundAfter == 0 {
		c.Scheduler.StalledRefundAfter = 15
	}

	if c.Notifications.Workers == 0 {
		c.Notifications.Workers = 2
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = 256
	}

	if c.Refunds.Queue == "" {
		c.Refunds.Queue = "memory"
	}
	if c.Refunds.Queue != "memory" && c.Refunds.Queue != "redis" {
		return fmt.Errorf("unknown refund queue %q", c.Refunds.Queue)
	}
	if c.Refunds.Queue == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("redis url is required for the redis refund queue")
	}
	if c.Refunds.QueueKey == "" {
		c.Refunds.QueueKey = "refunds:tasks"
	}
	if c.Refunds.Workers == 0 {
		c.Refunds.Workers = 2
	}
	if c.Refunds.QueueSize == 0 {
		c.Refunds.QueueSize = 100
	}
	if c.Refunds.MaxAttempts == 0 {
		c.Refunds.MaxAttempts = 5
	}
	if c.Refunds.BackoffSeconds == 0 {
		c.Refunds.BackoffSeconds = 2
	}

	return nil
}

func (c *Config) applyBookingDefaults() {
	if c.Booking.HoldMinutes == 0 {
		c.Booking.HoldMinutes = 15
	}
	if c.Booking.ServiceFee == 0 {
		c.Booking.ServiceFee = 50000
	}
	if c.Booking.DepositPercent == 0 {
		c.Booking.DepositPercent = 0.30
	}
	if c.Booking.Currency == "" {
		c.Booking.Currency = "VND"
	}
	if c.Settlement.OvertimeMultiplier == 0 {
		c.Settlement.OvertimeMultiplier = 1.5
	}
	if c.Settlement.GraceMinutes == 0 {
		c.Settlement.GraceMinutes = 10
	}
}

func (c *Config) applyTrustDefaults() {
	t := &c.Trust
	if t.InitialScore == 0 {
		t.InitialScore = 100
	}
	if t.FirstPaymentBonus == 0 {
		t.FirstPaymentBonus = 50
	}
	if t.CompletionBonus == 0 {
		t.CompletionBonus = 10
	}
	if t.NoShowPenalty == 0 {
		t.NoShowPenalty = 100
	}
	if t.LatePenaltyPerHour == 0 {
		t.LatePenaltyPerHour = 5
	}
	if t.MinorDamagePenalty == 0 {
		t.MinorDamagePenalty = 20
	}
	if t.MajorDamagePenalty == 0 {
		t.MajorDamagePenalty = 80
	}
	if t.MajorDamageThreshold == 0 {
		t.MajorDamageThreshold = 1000000
	}
	if t.LowThreshold == 0 {
		t.LowThreshold = 200
	}
	if t.HighThreshold == 0 {
		t.HighThreshold = 500
	}
	if t.ReducedDepositMultiplier == 0 {
		t.ReducedDepositMultiplier = 0.5
	}
}

// PricingConfig converts the booking, settlement and trust sections into the
// calculator's configuration.
func (c *Config) PricingConfig() pricing.Config {
	pc := pricing.DefaultConfig()
	pc.Currency = c.Booking.Currency
	pc.ServiceFee = c.Booking.ServiceFee
	pc.DepositPercent = c.Booking.DepositPercent
	pc.Tiers = pricing.DepositTiers{
		LowThreshold:      c.Trust.LowThreshold,
		HighThreshold:     c.Trust.HighThreshold,
		ReducedMultiplier: c.Trust.ReducedDepositMultiplier,
	}
	pc.OvertimeMultiplier = c.Settlement.OvertimeMultiplier
	pc.GracePeriod = time.Duration(c.Settlement.GraceMinutes) * time.Minute
	for severity, rate := range c.Settlement.DamageRates {
		pc.DamageRates[domain.DamageSeverity(strings.ToUpper(severity))] = pricing.DamageRate{
			Percent:    rate.Percent,
			Multiplier: rate.Multiplier,
		}
	}
	return pc
}

// TrustPolicy converts the trust section into the ledger's policy.
func (c *Config) TrustPolicy() service.TrustPolicy {
	return service.TrustPolicy{
		InitialScore:         c.Trust.InitialScore,
		FirstPaymentBonus:    c.Trust.FirstPaymentBonus,
		CompletionBonus:      c.Trust.CompletionBonus,
		NoShowPenalty:        c.Trust.NoShowPenalty,
		LatePenaltyPerHour:   c.Trust.LatePenaltyPerHour,
		MinorDamagePenalty:   c.Trust.MinorDamagePenalty,
		MajorDamagePenalty:   c.Trust.MajorDamagePenalty,
		MajorDamageThreshold: c.Trust.MajorDamageThreshold,
	}
}

// GatewayRegistry builds the enabled payment gateways.
func (c *Config) GatewayRegistry() *gateway.Registry {
	var gateways []gateway.Gateway
	if card := c.Gateways.Card; card.Enabled {
		gateways = append(gateways, gateway.NewCardGateway(gateway.CardConfig{
			BaseURL:       card.BaseURL,
			APIKey:        card.APIKey,
			WebhookSecret: card.WebhookSecret,
			SuccessURL:    card.SuccessURL,
			CancelURL:     card.CancelURL,
			Timeout:       time.Duration(card.TimeoutSeconds) * time.Second,
		}))
	}
	if qr := c.Gateways.QR; qr.Enabled {
		gateways = append(gateways, gateway.NewQRGateway(gateway.QRConfig{
			PayURL:       qr.PayURL,
			MerchantCode: qr.MerchantCode,
			HashSecret:   qr.HashSecret,
			ReturnURL:    qr.ReturnURL,
		}))
	}
	return gateway.NewRegistry(gateways...)
}

// HoldWindow is how long an unpaid booking keeps its vehicle.
func (c *Config) HoldWindow() time.Duration {
	return time.Duration(c.Booking.HoldMinutes) * time.Minute
}

// LocalStorage converts the storage section into the local store's settings.
func (c *Config) LocalStorage() storage.Config {
	return storage.Config{
		Dir:           c.Storage.UploadDir,
		BaseURL:       c.Storage.BaseURL,
		SigningSecret: c.Storage.SigningSecret,
		MaxFileSize:   c.Storage.MaxFileSize * 1024 * 1024,
		AllowedTypes:  c.Storage.AllowedTypes,
	}
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

func (c *Config) GetHTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.HTTPPort)
}

func (c *Config) GetGRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}
