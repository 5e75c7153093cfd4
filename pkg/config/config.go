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
	FeatureFlags FeatureFlagsConfig
	Stock        StockConfig
	Dedup        DedupConfig
	Kafka        KafkaConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Metrics      MetricsConfig
	RateLimit    RateLimitConfig
	API          APIConfig
	Telemetry    TelemetryConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Service.Transport {
	case TransportKafka, TransportPubSub:
	default:
		return fmt.Errorf("unsupported transport %q", c.Service.Transport)
	}

	switch c.Dedup.Backend {
	case DedupBackendPostgres:
	case DedupBackendRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("redis dedup backend requires %s or %s", EnvRedisURL, EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unsupported dedup backend %q", c.Dedup.Backend)
	}
	return nil
}

// RequireTransport checks the settings the selected transport needs. Binaries
// that never touch the broker, such as the migrator, skip it.
func (c *Config) RequireTransport() error {
	switch c.Service.Transport {
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("%s is required for the kafka transport", EnvKafkaBrokers)
		}
		if len(c.Kafka.Topics) == 0 {
			return fmt.Errorf("%s is required for the kafka transport", EnvKafkaTopics)
		}
	case TransportPubSub:
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			return fmt.Errorf("%s is required for the pubsub transport", EnvGCPProjectID)
		}
		if strings.TrimSpace(c.PubSub.EventsSubscription) == "" {
			return fmt.Errorf("%s is required for the pubsub transport", EnvPubSubEventsSub)
		}
	default:
		return fmt.Errorf("unsupported transport %q", c.Service.Transport)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"STOCKLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"STOCKLEDGER_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOCKLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOCKLEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind      string `envconfig:"STOCKLEDGER_SERVICE_KIND" default:"worker"`
	Transport string `envconfig:"STOCKLEDGER_TRANSPORT" default:"kafka"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOCKLEDGER_DB_DSN"`
	Driver string `envconfig:"STOCKLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOCKLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"STOCKLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOCKLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"STOCKLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOCKLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOCKLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOCKLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOCKLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOCKLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOCKLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this at warn; 0 disables.
	SlowQueryThreshold time.Duration `envconfig:"STOCKLEDGER_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOCKLEDGER_REDIS_URL"`
	Address      string        `envconfig:"STOCKLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"STOCKLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOCKLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOCKLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOCKLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOCKLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOCKLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOCKLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint has been configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOCKLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOCKLEDGER_AUTO_MIGRATE" default:"false"`
}

// StockConfig holds the stock mutation policy. It is read once at startup.
type StockConfig struct {
	AllowNegative bool `envconfig:"STOCKLEDGER_STOCK_ALLOW_NEGATIVE" default:"false"`
}

type DedupConfig struct {
	Backend string        `envconfig:"STOCKLEDGER_DEDUP_BACKEND" default:"postgres"`
	TTL     time.Duration `envconfig:"STOCKLEDGER_DEDUP_TTL" default:"720h"`

	// PruneInterval controls how often expired postgres markers are removed. Zero disables pruning.
	PruneInterval time.Duration `envconfig:"STOCKLEDGER_DEDUP_PRUNE_INTERVAL" default:"1h"`
}

type KafkaConfig struct {
	Brokers          []string      `envconfig:"STOCKLEDGER_KAFKA_BROKERS"`
	GroupID          string        `envconfig:"STOCKLEDGER_KAFKA_GROUP_ID" default:"stockledger"`
	Topics           []string      `envconfig:"STOCKLEDGER_KAFKA_TOPICS"`
	AdjustmentsTopic string        `envconfig:"STOCKLEDGER_KAFKA_ADJUSTMENTS_TOPIC" default:"stock-adjustments"`
	PartitionQueue   int           `envconfig:"STOCKLEDGER_KAFKA_PARTITION_QUEUE" default:"64"`
	MinBytes         int           `envconfig:"STOCKLEDGER_KAFKA_MIN_BYTES" default:"1"`
	MaxBytes         int           `envconfig:"STOCKLEDGER_KAFKA_MAX_BYTES" default:"10485760"`
	MaxWait          time.Duration `envconfig:"STOCKLEDGER_KAFKA_MAX_WAIT" default:"500ms"`
	WriteTimeout     time.Duration `envconfig:"STOCKLEDGER_KAFKA_WRITE_TIMEOUT" default:"10s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOCKLEDGER_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	EventsTopic        string `envconfig:"STOCKLEDGER_PUBSUB_EVENTS_TOPIC"`
	EventsSubscription string `envconfig:"STOCKLEDGER_PUBSUB_EVENTS_SUBSCRIPTION"`
}

type APIConfig struct {
	CORSOrigins       []string      `envconfig:"STOCKLEDGER_API_CORS_ORIGINS" default:"http://localhost:3000"`
	ReadHeaderTimeout time.Duration `envconfig:"STOCKLEDGER_API_READ_HEADER_TIMEOUT" default:"5s"`
	ShutdownTimeout   time.Duration `envconfig:"STOCKLEDGER_API_SHUTDOWN_TIMEOUT" default:"15s"`
}

// RateLimitConfig throttles adjustment submissions on the ops API per client IP and per store.
type RateLimitConfig struct {
	AdjustmentWindow     time.Duration `envconfig:"STOCKLEDGER_RATE_LIMIT_ADJUSTMENT_WINDOW" default:"1m"`
	AdjustmentIPLimit    int           `envconfig:"STOCKLEDGER_RATE_LIMIT_ADJUSTMENT_IP_LIMIT" default:"60"`
	AdjustmentStoreLimit int           `envconfig:"STOCKLEDGER_RATE_LIMIT_ADJUSTMENT_STORE_LIMIT" default:"300"`
}

// TelemetryConfig configures span export. An empty endpoint keeps tracing in-process.
type TelemetryConfig struct {
	OTLPEndpoint string            `envconfig:"STOCKLEDGER_OTLP_ENDPOINT"`
	OTLPURLPath  string            `envconfig:"STOCKLEDGER_OTLP_TRACES_PATH" default:"/v1/traces"`
	OTLPInsecure bool              `envconfig:"STOCKLEDGER_OTLP_INSECURE" default:"false"`
	OTLPHeaders  map[string]string `envconfig:"STOCKLEDGER_OTLP_HEADERS"`
	ServiceName  string            `envconfig:"STOCKLEDGER_SERVICE_NAME" default:"stockledger"`
	SampleRatio  float64           `envconfig:"STOCKLEDGER_TRACE_SAMPLE_RATIO" default:"1"`
}

// ExportEnabled reports whether spans leave the process.
func (t TelemetryConfig) ExportEnabled() bool {
	return strings.TrimSpace(t.OTLPEndpoint) != ""
}

type MetricsConfig struct {
	Addr string `envconfig:"STOCKLEDGER_METRICS_ADDR" default:":9090"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.Driver = DBDriverSQLite
		db.DSN = DefaultSQLiteDSN
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
