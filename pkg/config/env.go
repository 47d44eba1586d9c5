package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "LUMINA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	DefaultPlatformPercentage = 9
)

const (
	EnvAppEnv   = "LUMINA_APP_ENV"
	EnvPort     = "LUMINA_APP_PORT"
	EnvLogLevel = "LUMINA_LOG_LEVEL"

	EnvDBDSN    = "LUMINA_DB_DSN"
	EnvDBDriver = "LUMINA_DB_DRIVER"
	EnvDBHost   = "LUMINA_DB_HOST"
	EnvDBUser   = "LUMINA_DB_USER"
	EnvDBName   = "LUMINA_DB_NAME"

	EnvRedisURL = "LUMINA_REDIS_URL"

	EnvJWTSecret = "LUMINA_JWT_SECRET"
	EnvJWTIssuer = "LUMINA_JWT_ISSUER"

	EnvCheckoutPlatformPct = "LUMINA_CHECKOUT_PLATFORM_PERCENTAGE"
	EnvCheckoutMinCharge   = "LUMINA_CHECKOUT_MIN_CHARGE"

	EnvMPAccessToken   = "LUMINA_MP_ACCESS_TOKEN"
	EnvMPWebhookSecret = "LUMINA_MP_WEBHOOK_SECRET"

	EnvGCPProjectID        = "LUMINA_GCP_PROJECT_ID"
	EnvPubSubPurchaseTopic = "LUMINA_PUBSUB_PURCHASE_EVENTS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
