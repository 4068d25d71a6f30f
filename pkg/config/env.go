package config

// EnvPrefix is passed to envconfig; every field carries a fully qualified key
// so the prefix only matters for fields without an explicit tag.
const EnvPrefix = "IBOS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	PaymentProviderStub   = "stub"
	PaymentProviderStripe = "stripe"
	PaymentProviderSquare = "square"
)

const (
	EnvAppEnv           = "IBOS_APP_ENV"
	EnvPort             = "IBOS_APP_PORT"
	EnvDBDSN            = "IBOS_DB_DSN"
	EnvDBDriver         = "IBOS_DB_DRIVER"
	EnvDBHost           = "IBOS_DB_HOST"
	EnvDBPort           = "IBOS_DB_PORT"
	EnvDBUser           = "IBOS_DB_USER"
	EnvDBPassword       = "IBOS_DB_PASSWORD"
	EnvDBName           = "IBOS_DB_NAME"
	EnvRedisURL         = "IBOS_REDIS_URL"
	EnvJWTSecret        = "IBOS_JWT_SECRET"
	EnvCheckoutTTL      = "IBOS_CHECKOUT_SESSION_TTL"
	EnvPaymentsProvider = "IBOS_PAYMENTS_PROVIDER"
	EnvSyncMaxBatch     = "IBOS_SYNC_MAX_BATCH_SIZE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
