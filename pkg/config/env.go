package config

import "time"

const EnvPrefix = "CARTPULSE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// MinSchedulerInterval is the finest cadence the cron worker accepts.
const MinSchedulerInterval = time.Minute

const (
	EnvAppEnv        = "CARTPULSE_APP_ENV"
	EnvPort          = "CARTPULSE_APP_PORT"
	EnvDBDSN         = "CARTPULSE_DB_DSN"
	EnvDBHost        = "CARTPULSE_DB_HOST"
	EnvDBUser        = "CARTPULSE_DB_USER"
	EnvDBName        = "CARTPULSE_DB_NAME"
	EnvRedisURL      = "CARTPULSE_REDIS_URL"
	EnvJWTSecret     = "CARTPULSE_JWT_SECRET"
	EnvJWTIssuer     = "CARTPULSE_JWT_ISSUER"
	EnvUseSQLite     = "CARTPULSE_USE_SQLITE"
	EnvRestoreSecret = "CARTPULSE_RESTORE_SECRET"
	EnvSchedInterval = "CARTPULSE_SCHEDULER_INTERVAL"
	EnvSendgridKey   = "CARTPULSE_SENDGRID_API_KEY"
	EnvCookieTTL     = "CARTPULSE_CART_COOKIE_TTL"
	EnvOrigins       = "CARTPULSE_ALLOWED_ORIGINS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
