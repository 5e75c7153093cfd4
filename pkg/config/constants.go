package config

const EnvPrefix = "STOCKLEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	TransportKafka  = "kafka"
	TransportPubSub = "pubsub"
)

const (
	DedupBackendPostgres = "postgres"
	DedupBackendRedis    = "redis"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
	DefaultSQLiteDSN = "file:stockledger.db?cache=shared"
)

// Fully qualified environment variable names, used in error messages and tests.
const (
	EnvAppEnv          = "STOCKLEDGER_APP_ENV"
	EnvPort            = "STOCKLEDGER_APP_PORT"
	EnvTransport       = "STOCKLEDGER_TRANSPORT"
	EnvDBDSN           = "STOCKLEDGER_DB_DSN"
	EnvDBHost          = "STOCKLEDGER_DB_HOST"
	EnvDBUser          = "STOCKLEDGER_DB_USER"
	EnvDBName          = "STOCKLEDGER_DB_NAME"
	EnvRedisURL        = "STOCKLEDGER_REDIS_URL"
	EnvRedisAddr       = "STOCKLEDGER_REDIS_ADDR"
	EnvUseSQLite       = "STOCKLEDGER_USE_SQLITE"
	EnvAllowNegative   = "STOCKLEDGER_STOCK_ALLOW_NEGATIVE"
	EnvDedupBackend    = "STOCKLEDGER_DEDUP_BACKEND"
	EnvDedupTTL        = "STOCKLEDGER_DEDUP_TTL"
	EnvKafkaBrokers    = "STOCKLEDGER_KAFKA_BROKERS"
	EnvKafkaTopics     = "STOCKLEDGER_KAFKA_TOPICS"
	EnvGCPProjectID    = "STOCKLEDGER_GCP_PROJECT_ID"
	EnvPubSubEventsSub = "STOCKLEDGER_PUBSUB_EVENTS_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
