package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Checkout     CheckoutConfig
	MercadoPago  MercadoPagoConfig
	Webhooks     WebhooksConfig
	RateLimit    RateLimitConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LUMINA_APP_ENV" required:"true"`
	Port         string `envconfig:"LUMINA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LUMINA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LUMINA_LOG_WARN_STACK" default:"false"`

	// CORSOrigins is a comma separated allow list. Empty keeps the storefront defaults.
	CORSOrigins []string `envconfig:"LUMINA_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LUMINA_SERVICE_KIND" default:"api"`

	// background workers expose /metrics here when set, e.g. ":9102"
	MetricsAddr string `envconfig:"LUMINA_WORKER_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"LUMINA_DB_DSN"`
	Driver string `envconfig:"LUMINA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LUMINA_DB_HOST"`
	LegacyPort     int    `envconfig:"LUMINA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LUMINA_DB_USER"`
	LegacyPassword string `envconfig:"LUMINA_DB_PASSWORD"`
	LegacyName     string `envconfig:"LUMINA_DB_NAME"`
	LegacySSLMode  string `envconfig:"LUMINA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LUMINA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LUMINA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LUMINA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LUMINA_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// statements slower than this are logged as db.slow_query
	SlowQueryThreshold time.Duration `envconfig:"LUMINA_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"LUMINA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LUMINA_REDIS_ADDR"`
	Password     string        `envconfig:"LUMINA_REDIS_PASSWORD"`
	DB           int           `envconfig:"LUMINA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LUMINA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LUMINA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LUMINA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LUMINA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LUMINA_REDIS_WRITE_TIMEOUT" default:"5s"`
	// KeyPrefix namespaces every key so environments can share one instance.
	KeyPrefix string `envconfig:"LUMINA_REDIS_KEY_PREFIX" default:"lumina"`
}

// JWTConfig holds the shared secret used to verify buyer access tokens minted upstream.
// JWTConfig describes the buyer tokens issued by the identity provider.
type JWTConfig struct {
	Secret   string        `envconfig:"LUMINA_JWT_SECRET" required:"true"`
	Issuer   string        `envconfig:"LUMINA_JWT_ISSUER" required:"true"`
	Audience string        `envconfig:"LUMINA_JWT_AUDIENCE"`
	Leeway   time.Duration `envconfig:"LUMINA_JWT_LEEWAY" default:"30s"`
}

// CheckoutConfig carries the pricing and split parameters of the payment engine.
type CheckoutConfig struct {
	PlatformPercentage  string        `envconfig:"LUMINA_CHECKOUT_PLATFORM_PERCENTAGE" default:"9"`
	MinimumChargeable   string        `envconfig:"LUMINA_CHECKOUT_MIN_CHARGE" default:"1.00"`
	Currency            string        `envconfig:"LUMINA_CHECKOUT_CURRENCY" default:"BRL"`
	StatementDescriptor string        `envconfig:"LUMINA_CHECKOUT_STATEMENT_DESCRIPTOR" default:"LUMINA FOTOS"`
	NotificationURL     string        `envconfig:"LUMINA_CHECKOUT_NOTIFICATION_URL"`
	GatewayTimeout      time.Duration `envconfig:"LUMINA_CHECKOUT_GATEWAY_TIMEOUT" default:"15s"`
	PixExpiration       time.Duration `envconfig:"LUMINA_CHECKOUT_PIX_EXPIRATION" default:"30m"`
	IdempotencyTTL      time.Duration `envconfig:"LUMINA_CHECKOUT_IDEMPOTENCY_TTL" default:"24h"`
}

// PlatformShare returns the configured platform percentage.
func (c CheckoutConfig) PlatformShare() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(c.PlatformPercentage))
	if err != nil {
		return decimal.NewFromInt(DefaultPlatformPercentage)
	}
	return d
}

// MinimumCharge returns the configured floor for a single gateway charge.
func (c CheckoutConfig) MinimumCharge() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(c.MinimumChargeable))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (c CheckoutConfig) validate() error {
	pct, err := decimal.NewFromString(strings.TrimSpace(c.PlatformPercentage))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", EnvCheckoutPlatformPct, err)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must be between 0 and 100", EnvCheckoutPlatformPct)
	}
	if _, err := decimal.NewFromString(strings.TrimSpace(c.MinimumChargeable)); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvCheckoutMinCharge, err)
	}
	return nil
}

// MercadoPagoConfig configures the outbound payment gateway.
type MercadoPagoConfig struct {
	AccessToken       string  `envconfig:"LUMINA_MP_ACCESS_TOKEN"`
	WebhookSecret     string  `envconfig:"LUMINA_MP_WEBHOOK_SECRET"`
	BaseURL           string  `envconfig:"LUMINA_MP_BASE_URL" default:"https://api.mercadopago.com"`
	RequestsPerSecond float64 `envconfig:"LUMINA_MP_REQUESTS_PER_SECOND" default:"20"`
	Burst             int     `envconfig:"LUMINA_MP_BURST" default:"10"`
}

// Configured reports whether the gateway credentials are present.
func (m MercadoPagoConfig) Configured() bool {
	return strings.TrimSpace(m.AccessToken) != ""
}

type WebhooksConfig struct {
	IdempotencyTTL     time.Duration `envconfig:"LUMINA_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	SignatureTolerance time.Duration `envconfig:"LUMINA_WEBHOOK_SIGNATURE_TOLERANCE" default:"10m"`
}

type RateLimitConfig struct {
	CheckoutWindow time.Duration `envconfig:"LUMINA_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutBuyer  int           `envconfig:"LUMINA_RATE_LIMIT_CHECKOUT_BUYER_LIMIT" default:"60"`
	CheckoutIP     int           `envconfig:"LUMINA_RATE_LIMIT_CHECKOUT_IP_LIMIT" default:"120"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"LUMINA_CRON_INTERVAL" default:"5m"`
	PendingMinAge   time.Duration `envconfig:"LUMINA_CRON_PENDING_MIN_AGE" default:"2m"`
	PendingLookback time.Duration `envconfig:"LUMINA_CRON_PENDING_LOOKBACK" default:"72h"`
	BatchLimit      int           `envconfig:"LUMINA_CRON_BATCH_LIMIT" default:"200"`
	JobTimeout      time.Duration `envconfig:"LUMINA_CRON_JOB_TIMEOUT" default:"2m"`
	Concurrency     int           `envconfig:"LUMINA_CRON_RECONCILE_CONCURRENCY" default:"4"`

	// untagged pending rows older than this with no gateway payment are failed
	PendingAbandonAfter time.Duration `envconfig:"LUMINA_CRON_PENDING_ABANDON_AFTER" default:"24h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LUMINA_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"LUMINA_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PurchaseEventsTopic string `envconfig:"LUMINA_PUBSUB_PURCHASE_EVENTS_TOPIC" default:"lumina-purchase-events"`
	// creates the topic when missing; meant for the local emulator
	CreateTopic bool `envconfig:"LUMINA_PUBSUB_CREATE_TOPIC" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"LUMINA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"LUMINA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"LUMINA_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"LUMINA_OUTBOX_RETENTION" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required when %s=sqlite", EnvDBDSN, EnvDBDriver)
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
