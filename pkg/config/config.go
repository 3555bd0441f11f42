package config

import (
	"fmt"
	"net/url"
	"slices"
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
	Password     PasswordConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	ShipBubble   ShipBubbleConfig
	Escrow       EscrowConfig
	Wallet       WalletConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
		if cfg.DB.DSN == "" {
			cfg.DB.DSN = "file:escrow.db?cache=shared"
		}
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Wallet.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ESCROW_APP_ENV" required:"true"`
	Port         string `envconfig:"ESCROW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ESCROW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ESCROW_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"ESCROW_CORS_ORIGINS" default:"http://localhost:8081,http://localhost:19006,https://admin.marketplace.ng"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ESCROW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ESCROW_DB_DSN"`
	Driver string `envconfig:"ESCROW_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"ESCROW_DB_HOST"`
	Port     int    `envconfig:"ESCROW_DB_PORT" default:"5432"`
	User     string `envconfig:"ESCROW_DB_USER"`
	Password string `envconfig:"ESCROW_DB_PASSWORD"`
	Name     string `envconfig:"ESCROW_DB_NAME"`
	SSLMode  string `envconfig:"ESCROW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ESCROW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ESCROW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery is the threshold above which statements are logged at warn.
	SlowQuery time.Duration `envconfig:"ESCROW_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ESCROW_REDIS_URL"`
	Address      string        `envconfig:"ESCROW_REDIS_ADDR"`
	Password     string        `envconfig:"ESCROW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ESCROW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ESCROW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ESCROW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ESCROW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ESCROW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ESCROW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ESCROW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ESCROW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ESCROW_JWT_EXPIRATION_MINUTES" default:"60"`
	// Leeway absorbs clock skew between the identity service and this API.
	Leeway time.Duration `envconfig:"ESCROW_JWT_LEEWAY" default:"30s"`
}

// PasswordConfig tunes argon2id hashing for wallet PINs.
type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"ESCROW_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"ESCROW_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"ESCROW_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"ESCROW_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"ESCROW_ARGON_KEY_LEN" default:"32"`
}

type RateLimitConfig struct {
	WebhookWindow   time.Duration `envconfig:"ESCROW_RATE_LIMIT_WEBHOOK_WINDOW" default:"1m"`
	WebhookIPLimit  int           `envconfig:"ESCROW_RATE_LIMIT_WEBHOOK_IP_LIMIT" default:"120"`
	WithdrawWindow  time.Duration `envconfig:"ESCROW_RATE_LIMIT_WITHDRAW_WINDOW" default:"1m"`
	WithdrawIPLimit int           `envconfig:"ESCROW_RATE_LIMIT_WITHDRAW_IP_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ESCROW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ESCROW_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"ESCROW_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"5m"`
	RequestIdempotencyTTL time.Duration `envconfig:"ESCROW_EVENTING_REQUEST_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ESCROW_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ESCROW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ESCROW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EscrowTopic string `envconfig:"ESCROW_PUBSUB_ESCROW_TOPIC" default:"escrow-events"`
	// WalletTopic carries withdrawal events; empty routes them to EscrowTopic.
	WalletTopic string `envconfig:"ESCROW_PUBSUB_WALLET_TOPIC" default:"wallet-events"`
}

// Topics lists the distinct, non-empty topics the services publish to.
func (c PubSubConfig) Topics() []string {
	var out []string
	for _, t := range []string{c.EscrowTopic, c.WalletTopic} {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ESCROW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ESCROW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ESCROW_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// MetricsAddr, when set, exposes the publisher's /metrics on this address.
	MetricsAddr string `envconfig:"ESCROW_OUTBOX_METRICS_ADDR"`
}

type ShipBubbleConfig struct {
	APIKey        string        `envconfig:"ESCROW_SHIPBUBBLE_API_KEY"`
	BaseURL       string        `envconfig:"ESCROW_SHIPBUBBLE_BASE_URL" default:"https://api.shipbubble.com/v1"`
	Timeout       time.Duration `envconfig:"ESCROW_SHIPBUBBLE_TIMEOUT" default:"8s"`
	WebhookSecret string        `envconfig:"ESCROW_SHIPBUBBLE_WEBHOOK_SECRET"`
	CategoryID    int64         `envconfig:"ESCROW_SHIPBUBBLE_CATEGORY_ID" default:"74794423"`

	BreakerMaxFailures uint32        `envconfig:"ESCROW_SHIPBUBBLE_BREAKER_MAX_FAILURES" default:"5"`
	BreakerCooldown    time.Duration `envconfig:"ESCROW_SHIPBUBBLE_BREAKER_COOLDOWN" default:"30s"`
}

type EscrowConfig struct {
	InspectionPeriod time.Duration `envconfig:"ESCROW_INSPECTION_PERIOD" default:"48h"`
	SweepBatchSize   int           `envconfig:"ESCROW_SWEEP_BATCH_SIZE" default:"100"`
}

// CronConfig drives the cron worker. Each job runs at most once per its own cadence.
type CronConfig struct {
	Tick                time.Duration `envconfig:"ESCROW_CRON_TICK" default:"1m"`
	LockTTL             time.Duration `envconfig:"ESCROW_CRON_LOCK_TTL" default:"10m"`
	SweepEvery          time.Duration `envconfig:"ESCROW_CRON_SWEEP_EVERY" default:"5m"`
	OutboxRetentionDays int           `envconfig:"ESCROW_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
	MetricsAddr         string        `envconfig:"ESCROW_CRON_METRICS_ADDR"`
}

type WalletConfig struct {
	WithdrawalWindow time.Duration `envconfig:"ESCROW_WALLET_WITHDRAWAL_WINDOW" default:"12h"`
	FreeMin          string        `envconfig:"ESCROW_WALLET_FREE_MIN" default:"1000"`
	FreeMax          string        `envconfig:"ESCROW_WALLET_FREE_MAX" default:"50000"`
	ProMin           string        `envconfig:"ESCROW_WALLET_PRO_MIN" default:"1000"`
	ProMax           string        `envconfig:"ESCROW_WALLET_PRO_MAX" default:"200000"`
	BusinessMin      string        `envconfig:"ESCROW_WALLET_BUSINESS_MIN" default:"1000"`
	BusinessMax      string        `envconfig:"ESCROW_WALLET_BUSINESS_MAX" default:"1000000"`
	PINMaxAttempts   int           `envconfig:"ESCROW_WALLET_PIN_MAX_ATTEMPTS" default:"5"`
	PINLockout       time.Duration `envconfig:"ESCROW_WALLET_PIN_LOCKOUT" default:"30m"`
}

// Bounds holds a withdrawal min/max pair.
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// TierBounds returns the parsed withdrawal bounds keyed by plan tier.
func (w WalletConfig) TierBounds() (map[string]Bounds, error) {
	raw := map[string][2]string{
		"free":     {w.FreeMin, w.FreeMax},
		"pro":      {w.ProMin, w.ProMax},
		"business": {w.BusinessMin, w.BusinessMax},
	}
	out := make(map[string]Bounds, len(raw))
	for tier, pair := range raw {
		lo, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("wallet %s min: %w", tier, err)
		}
		hi, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("wallet %s max: %w", tier, err)
		}
		if lo.IsNegative() || hi.LessThan(lo) {
			return nil, fmt.Errorf("wallet %s bounds invalid: min=%s max=%s", tier, lo, hi)
		}
		out[tier] = Bounds{Min: lo, Max: hi}
	}
	return out, nil
}

func (w WalletConfig) validate() error {
	_, err := w.TierBounds()
	return err
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	parts := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbPartEnvVars {
		if parts[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
