package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Checkout  CheckoutConfig
	Sync      SyncConfig
	Payments  PaymentsConfig
	Stripe    StripeConfig
	Square    SquareConfig
	Shipping  ShippingConfig
	Messaging MessagingConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
	Cron      CronConfig
	RateLimit RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"IBOS_APP_ENV" required:"true"`
	Port         string `envconfig:"IBOS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"IBOS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"IBOS_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"IBOS_LOG_FORMAT" default:"json"`
	// MetricsAddr is where the worker binaries expose /metrics; empty disables it.
	MetricsAddr string `envconfig:"IBOS_METRICS_ADDR" default:""`
	AutoMigrate  bool   `envconfig:"IBOS_AUTO_MIGRATE" default:"false"`

	// CORSOrigins is a comma separated allow-list for browser callers.
	CORSOrigins []string `envconfig:"IBOS_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"IBOS_DB_DSN"`
	Driver string `envconfig:"IBOS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"IBOS_DB_HOST"`
	LegacyPort     int    `envconfig:"IBOS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"IBOS_DB_USER"`
	LegacyPassword string `envconfig:"IBOS_DB_PASSWORD"`
	LegacyName     string `envconfig:"IBOS_DB_NAME"`
	LegacySSLMode  string `envconfig:"IBOS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"IBOS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"IBOS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"IBOS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"IBOS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQueryThreshold logs statements slower than this at warn; 0 turns query logging off.
	SlowQueryThreshold time.Duration `envconfig:"IBOS_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded SQLite engine.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"IBOS_REDIS_URL"`
	Address      string        `envconfig:"IBOS_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"IBOS_REDIS_PASSWORD"`
	DB           int           `envconfig:"IBOS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"IBOS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"IBOS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"IBOS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"IBOS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"IBOS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"IBOS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"IBOS_JWT_ISSUER" default:"ibos"`
	ExpirationMinutes int    `envconfig:"IBOS_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type CheckoutConfig struct {
	SessionTTL      time.Duration `envconfig:"IBOS_CHECKOUT_SESSION_TTL" default:"60m"`
	ExpiryBatchSize int           `envconfig:"IBOS_CHECKOUT_EXPIRY_BATCH_SIZE" default:"500"`
	PublicBaseURL   string        `envconfig:"IBOS_CHECKOUT_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	DefaultCurrency string        `envconfig:"IBOS_CHECKOUT_DEFAULT_CURRENCY" default:"USD"`
	// ExpireInProcess runs the session expiry loop inside the API binary
	// in addition to (or instead of) the cron worker.
	ExpireInProcess bool          `envconfig:"IBOS_CHECKOUT_EXPIRE_IN_PROCESS" default:"false"`
	ExpireInterval  time.Duration `envconfig:"IBOS_CHECKOUT_EXPIRE_INTERVAL" default:"1m"`
}

type SyncConfig struct {
	MaxBatchSize int `envconfig:"IBOS_SYNC_MAX_BATCH_SIZE" default:"200"`
}

type PaymentsConfig struct {
	Provider      string `envconfig:"IBOS_PAYMENTS_PROVIDER" default:"stub"`
	WebhookSecret string `envconfig:"IBOS_PAYMENTS_WEBHOOK_SECRET"`

	BreakerMaxRequests      uint32        `envconfig:"IBOS_PAYMENTS_BREAKER_MAX_REQUESTS" default:"3"`
	BreakerInterval         time.Duration `envconfig:"IBOS_PAYMENTS_BREAKER_INTERVAL" default:"60s"`
	BreakerTimeout          time.Duration `envconfig:"IBOS_PAYMENTS_BREAKER_TIMEOUT" default:"30s"`
	BreakerFailureThreshold uint32        `envconfig:"IBOS_PAYMENTS_BREAKER_FAILURE_THRESHOLD" default:"5"`
}

// ProviderName returns the normalized provider selector.
func (p PaymentsConfig) ProviderName() string {
	name := strings.TrimSpace(strings.ToLower(p.Provider))
	if name == "" {
		return PaymentProviderStub
	}
	return name
}

func (p PaymentsConfig) validate() error {
	switch p.ProviderName() {
	case PaymentProviderStub, PaymentProviderStripe, PaymentProviderSquare:
		return nil
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvPaymentsProvider, PaymentProviderStub, PaymentProviderStripe, PaymentProviderSquare)
	}
}

type StripeConfig struct {
	APIKey string `envconfig:"IBOS_STRIPE_API_KEY"`
	Secret string `envconfig:"IBOS_STRIPE_SECRET"`
	Env    string `envconfig:"IBOS_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken         string `envconfig:"IBOS_SQUARE_ACCESS_TOKEN"`
	LocationID          string `envconfig:"IBOS_SQUARE_LOCATION_ID"`
	Env                 string `envconfig:"IBOS_SQUARE_ENV" default:"sandbox"`
	WebhookSignatureKey string `envconfig:"IBOS_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	WebhookURL          string `envconfig:"IBOS_SQUARE_WEBHOOK_URL"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type ShippingConfig struct {
	Carrier         string `envconfig:"IBOS_SHIPPING_CARRIER" default:"stub"`
	DefaultWeightG  int    `envconfig:"IBOS_SHIPPING_DEFAULT_ITEM_WEIGHT_GRAMS" default:"500"`
	OriginPostcode  string `envconfig:"IBOS_SHIPPING_ORIGIN_POSTCODE"`
	DefaultCurrency string `envconfig:"IBOS_SHIPPING_DEFAULT_CURRENCY" default:"USD"`
}

type MessagingConfig struct {
	Sender string `envconfig:"IBOS_MESSAGING_SENDER" default:"log"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"IBOS_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic       string `envconfig:"IBOS_PUBSUB_DOMAIN_TOPIC" default:"ibos-domain-events"`
	NotificationTopic string `envconfig:"IBOS_PUBSUB_NOTIFICATION_TOPIC" default:"ibos-notifications"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"IBOS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"IBOS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"IBOS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"IBOS_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Schedule string        `envconfig:"IBOS_CRON_SCHEDULE" default:"@every 1m"`
	LockTTL  time.Duration `envconfig:"IBOS_CRON_LOCK_TTL" default:"5m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:ibos.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

// RateLimitConfig bounds unauthenticated webhook traffic per client IP and POS
// sync traffic per business.
type RateLimitConfig struct {
	WebhookWindow time.Duration `envconfig:"IBOS_RATE_LIMIT_WEBHOOK_WINDOW" default:"1m"`
	WebhookLimit  int           `envconfig:"IBOS_RATE_LIMIT_WEBHOOK_LIMIT" default:"600"`
	SyncWindow    time.Duration `envconfig:"IBOS_RATE_LIMIT_SYNC_WINDOW" default:"1m"`
	SyncLimit     int           `envconfig:"IBOS_RATE_LIMIT_SYNC_LIMIT" default:"60"`
}
