package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Admin        AdminConfig
	Password     PasswordConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Storefront   StorefrontConfig
	Scheduler    SchedulerConfig
	Sendgrid     SendgridConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Storefront.RestoreSecret) == "" {
		return nil, fmt.Errorf("%s is required", EnvRestoreSecret)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARTPULSE_APP_ENV" required:"true"`
	Port         string `envconfig:"CARTPULSE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CARTPULSE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARTPULSE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CARTPULSE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CARTPULSE_DB_DSN"`
	Driver string `envconfig:"CARTPULSE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CARTPULSE_DB_HOST"`
	LegacyPort     int    `envconfig:"CARTPULSE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CARTPULSE_DB_USER"`
	LegacyPassword string `envconfig:"CARTPULSE_DB_PASSWORD"`
	LegacyName     string `envconfig:"CARTPULSE_DB_NAME"`
	LegacySSLMode  string `envconfig:"CARTPULSE_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"CARTPULSE_SQLITE_PATH" default:"cartpulse.db"`

	MaxOpenConns    int           `envconfig:"CARTPULSE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CARTPULSE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CARTPULSE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARTPULSE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTPULSE_REDIS_URL"`
	Address      string        `envconfig:"CARTPULSE_REDIS_ADDR"`
	Password     string        `envconfig:"CARTPULSE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTPULSE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTPULSE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARTPULSE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARTPULSE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTPULSE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARTPULSE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig signs admin bearer tokens.
type JWTConfig struct {
	Secret            string `envconfig:"CARTPULSE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CARTPULSE_JWT_ISSUER" default:"cartpulse"`
	ExpirationMinutes int    `envconfig:"CARTPULSE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// AdminConfig holds the operator credentials for the reporting API: one admin
// and an optional read-only viewer. Hashes are argon2id encoded.
type AdminConfig struct {
	Email              string `envconfig:"CARTPULSE_ADMIN_EMAIL"`
	PasswordHash       string `envconfig:"CARTPULSE_ADMIN_PASSWORD_HASH"`
	ViewerEmail        string `envconfig:"CARTPULSE_VIEWER_EMAIL"`
	ViewerPasswordHash string `envconfig:"CARTPULSE_VIEWER_PASSWORD_HASH"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"CARTPULSE_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"CARTPULSE_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"CARTPULSE_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"CARTPULSE_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"CARTPULSE_ARGON_KEY_LEN" default:"32"`
}

type RateLimitConfig struct {
	LoginWindow     time.Duration `envconfig:"CARTPULSE_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginIPLimit    int           `envconfig:"CARTPULSE_RATE_LIMIT_LOGIN_IP_LIMIT" default:"10"`
	LoginEmailLimit int           `envconfig:"CARTPULSE_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	RestoreWindow   time.Duration `envconfig:"CARTPULSE_RATE_LIMIT_RESTORE_WINDOW" default:"1m"`
	RestoreLimit    int           `envconfig:"CARTPULSE_RATE_LIMIT_RESTORE_IP_LIMIT" default:"30"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CARTPULSE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CARTPULSE_AUTO_MIGRATE" default:"false"`
}

// StorefrontConfig governs the cart cookie, restore links and checkout form tokens.
type StorefrontConfig struct {
	CookieName     string        `envconfig:"CARTPULSE_CART_COOKIE_NAME" default:"cartpulse_cart_token"`
	CookieTTL      time.Duration `envconfig:"CARTPULSE_CART_COOKIE_TTL" default:"720h"`
	CookieDomain   string        `envconfig:"CARTPULSE_CART_COOKIE_DOMAIN"`
	CookieSecure   bool          `envconfig:"CARTPULSE_CART_COOKIE_SECURE" default:"true"`
	RestoreSecret  string        `envconfig:"CARTPULSE_RESTORE_SECRET"`
	PublicBaseURL  string        `envconfig:"CARTPULSE_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	ShopBaseURL    string        `envconfig:"CARTPULSE_SHOP_BASE_URL" default:"http://localhost:3000"`
	CheckoutPath   string        `envconfig:"CARTPULSE_SHOP_CHECKOUT_PATH" default:"/checkout"`
	CartPath       string        `envconfig:"CARTPULSE_SHOP_CART_PATH" default:"/cart"`
	FormTokenTTL   time.Duration `envconfig:"CARTPULSE_FORM_TOKEN_TTL" default:"1h"`
	AllowedOrigins []string      `envconfig:"CARTPULSE_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// SchedulerConfig drives the abandonment/recovery cron worker.
type SchedulerConfig struct {
	Interval          time.Duration `envconfig:"CARTPULSE_SCHEDULER_INTERVAL" default:"1h"`
	InitialDelay      time.Duration `envconfig:"CARTPULSE_SCHEDULER_INITIAL_DELAY" default:"10m"`
	LockTTL           time.Duration `envconfig:"CARTPULSE_SCHEDULER_LOCK_TTL" default:"55m"`
	CandidateCacheTTL time.Duration `envconfig:"CARTPULSE_CANDIDATE_CACHE_TTL" default:"60s"`
	StatsCacheTTL     time.Duration `envconfig:"CARTPULSE_STATS_CACHE_TTL" default:"300s"`
	MaxSendAttempts   int           `envconfig:"CARTPULSE_MAX_SEND_ATTEMPTS" default:"5"`
	MetricsAddr       string        `envconfig:"CARTPULSE_CRON_METRICS_ADDR" default:":9091"`
}

// EffectiveInterval clamps the configured cadence to the one minute floor.
func (s SchedulerConfig) EffectiveInterval() time.Duration {
	if s.Interval < MinSchedulerInterval {
		return MinSchedulerInterval
	}
	return s.Interval
}

type SendgridConfig struct {
	APIKey      string `envconfig:"CARTPULSE_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"CARTPULSE_SENDGRID_FROM_EMAIL" default:"no-reply@example.com"`
	FromName    string `envconfig:"CARTPULSE_SENDGRID_FROM_NAME" default:"Shop"`
	BaseURL     string `envconfig:"CARTPULSE_SENDGRID_BASE_URL"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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
