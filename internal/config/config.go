package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `envconfig:"APP_NAME" default:"ChamaLedger"`
	AppEnv         string        `envconfig:"APP_ENV" default:"development"`
	Port           string        `envconfig:"PORT" default:"8080"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string        `envconfig:"LOG_FORMAT" default:"json"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	DBMaxConns     int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	ShutdownPeriod time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	Currency       string        `envconfig:"CURRENCY" default:"KES"`

	// AdminKeyHash and WebhookKeyHash are bcrypt hashes of the shared keys
	// presented by back-office callers and payment-gateway webhooks.
	AdminKeyHash   string `envconfig:"ADMIN_KEY_HASH"`
	WebhookKeyHash string `envconfig:"WEBHOOK_KEY_HASH"`

	Withdrawal Withdrawal
	Ledger     Ledger
	Fees       Fees
	NSQ        NSQ
}

// Withdrawal holds rolling-window caps in minor units.
type Withdrawal struct {
	DailyLimit      int64 `envconfig:"WITHDRAWAL_DAILY_LIMIT" default:"7000000"`
	WeeklyLimit     int64 `envconfig:"WITHDRAWAL_WEEKLY_LIMIT" default:"35000000"`
	MonthlyLimit    int64 `envconfig:"WITHDRAWAL_MONTHLY_LIMIT" default:"100000000"`
	RequestsPerHour int   `envconfig:"WITHDRAWAL_REQUESTS_PER_HOUR" default:"10"`
}

// Ledger holds the lock and reconciliation settings.
type Ledger struct {
	LockTimeout          time.Duration `envconfig:"LOCK_TIMEOUT" default:"5s"`
	PendingTimeout       time.Duration `envconfig:"PENDING_TIMEOUT" default:"30m"`
	ReconcileInterval    time.Duration `envconfig:"RECONCILE_INTERVAL" default:"15m"`
	ReconcileEpsilon     int64         `envconfig:"RECONCILE_EPSILON" default:"50"`
	ReconcileConcurrency int           `envconfig:"RECONCILE_CONCURRENCY" default:"4"`
}

// Fees controls how fee schedules are cached between operations.
type Fees struct {
	CacheTTL time.Duration `envconfig:"FEE_CACHE_TTL" default:"1m"`
}

// NSQ configures event publishing and settlement consumption. Empty
// addresses disable the integration.
type NSQ struct {
	NSQDAddress       string `envconfig:"NSQD_ADDRESS"`
	EventsTopic       string `envconfig:"EVENTS_TOPIC" default:"ledger.events"`
	SettlementTopic   string `envconfig:"SETTLEMENT_TOPIC" default:"payments.settled"`
	SettlementChannel string `envconfig:"SETTLEMENT_CHANNEL" default:"ledger"`
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Currency = strings.ToUpper(cfg.Currency)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that envconfig cannot express.
func (c Config) Validate() error {
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.AdminKeyHash == "" {
			return fmt.Errorf("ADMIN_KEY_HASH must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	w := c.Withdrawal
	if w.DailyLimit <= 0 || w.WeeklyLimit <= 0 || w.MonthlyLimit <= 0 {
		return fmt.Errorf("withdrawal limits must be positive")
	}
	if w.DailyLimit > w.WeeklyLimit || w.WeeklyLimit > w.MonthlyLimit {
		return fmt.Errorf("withdrawal limits must satisfy daily <= weekly <= monthly")
	}
	if c.Ledger.ReconcileEpsilon < 0 {
		return fmt.Errorf("RECONCILE_EPSILON must not be negative")
	}
	if c.Ledger.ReconcileConcurrency <= 0 {
		return fmt.Errorf("RECONCILE_CONCURRENCY must be positive")
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local/development environment,
// where in-memory backends are acceptable.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
