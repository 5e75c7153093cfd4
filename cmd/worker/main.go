package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/stockledger/internal/catalog"
	"github.com/angelmondragon/stockledger/internal/consumer"
	"github.com/angelmondragon/stockledger/internal/cron"
	"github.com/angelmondragon/stockledger/internal/dedup"
	"github.com/angelmondragon/stockledger/internal/pipeline"
	"github.com/angelmondragon/stockledger/internal/stock"
	"github.com/angelmondragon/stockledger/internal/validation"
	"github.com/angelmondragon/stockledger/pkg/config"
	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/envelope"
	"github.com/angelmondragon/stockledger/pkg/instance"
	pkgkafka "github.com/angelmondragon/stockledger/pkg/kafka"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/metrics"
	"github.com/angelmondragon/stockledger/pkg/migrate"
	"github.com/angelmondragon/stockledger/pkg/pubsub"
	"github.com/angelmondragon/stockledger/pkg/redis"
	"github.com/angelmondragon/stockledger/pkg/telemetry"
)

const (
	serviceName           = "worker"
	telemetryFlushTimeout = 5 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := cfg.RequireTransport(); err != nil {
		logg.Error(context.Background(), "invalid transport config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	instanceID := instance.GetID()

	tracing, err := telemetry.Setup(context.Background(), telemetry.Params{
		Config:      cfg.Telemetry,
		Environment: cfg.App.Env,
		InstanceID:  instanceID,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to set up tracing", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			logg.Error(context.Background(), "error shutting down tracing", err)
		}
	}()

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	closers := []io.Closer{dbClient}
	deps := []Dependency{{Name: "database", Ping: dbClient.Ping}}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		closers = append(closers, redisClient)
		deps = append(deps, Dependency{Name: "redis", Ping: redisClient.Ping})
	}

	markers, err := newMarkerStore(cfg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build dedup store", err)
		os.Exit(1)
	}
	ledger, err := dedup.NewLedger(markers)
	if err != nil {
		logg.Error(context.Background(), "failed to build dedup ledger", err)
		os.Exit(1)
	}

	stockRepo := stock.NewGormRepository(dbClient.DB())
	accessor, err := stock.NewAccessor(stockRepo, stockRepo, stock.Policy{AllowNegative: cfg.Stock.AllowNegative})
	if err != nil {
		logg.Error(context.Background(), "failed to build stock accessor", err)
		os.Exit(1)
	}
	catalogRepo := catalog.NewRepository(dbClient.DB())
	validator, err := validation.New(catalogRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to build validator", err)
		os.Exit(1)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	orchestrator, err := pipeline.New(pipeline.Deps{
		Dedup:     ledger,
		Validator: validator,
		Stock:     accessor,
		Catalog:   catalogRepo,
		Logger:    logg,
		Metrics:   pipelineMetrics,
		Tracer:    tracing.Tracer("github.com/angelmondragon/stockledger/internal/pipeline"),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build pipeline", err)
		os.Exit(1)
	}

	eventConsumer, brokerDep, brokerCloser, err := newConsumer(context.Background(), cfg, logg, orchestrator, pipelineMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to build event consumer", err)
		os.Exit(1)
	}
	closers = append(closers, brokerCloser)
	deps = append(deps, brokerDep)

	maintenance, err := newMaintenance(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build maintenance scheduler", err)
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		Dependencies:  deps,
		Consumer:      eventConsumer,
		Maintenance:   maintenance,
		MetricsServer: metricsServer,
		Closers:       closers,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}
	defer func() {
		if err := service.Close(); err != nil {
			logg.Error(context.Background(), "error closing worker resources", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"transport":   cfg.Service.Transport,
		"instance":    instanceID,
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		stop()
		_ = service.Close()
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func newMarkerStore(cfg *config.Config, dbClient *db.Client, redisClient *redis.Client) (dedup.MarkerStore, error) {
	if redisClient == nil {
		return dedup.NewStore(cfg.Dedup, dbClient.DB(), nil)
	}
	return dedup.NewStore(cfg.Dedup, dbClient.DB(), redisClient)
}

func newConsumer(ctx context.Context, cfg *config.Config, logg *logger.Logger, router consumer.Router, m *metrics.PipelineMetrics) (runner, Dependency, io.Closer, error) {
	decoder := envelope.NewDefaultRegistry()

	switch cfg.Service.Transport {
	case config.TransportKafka:
		reader, err := pkgkafka.NewReader(cfg.Kafka)
		if err != nil {
			return nil, Dependency{}, nil, err
		}
		c, err := consumer.NewKafkaConsumer(reader, router, decoder, logg, consumer.KafkaOptions{
			PartitionQueue: cfg.Kafka.PartitionQueue,
			Metrics:        m,
		})
		if err != nil {
			_ = reader.Close()
			return nil, Dependency{}, nil, err
		}
		dep := Dependency{Name: "kafka", Ping: func(ctx context.Context) error {
			return pkgkafka.Ping(ctx, cfg.Kafka.Brokers)
		}}
		return c, dep, reader, nil
	case config.TransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, Dependency{}, nil, err
		}
		sub, subID, err := client.EventsSubscriber(ctx)
		if err != nil {
			_ = client.Close()
			return nil, Dependency{}, nil, err
		}
		c, err := consumer.NewPubSubConsumer(sub, subID, router, decoder, logg, m)
		if err != nil {
			_ = client.Close()
			return nil, Dependency{}, nil, err
		}
		return c, Dependency{Name: "pubsub", Ping: client.Ping}, client, nil
	default:
		return nil, Dependency{}, nil, fmt.Errorf("unsupported transport %q", cfg.Service.Transport)
	}
}

// newMaintenance returns nil when there is nothing to prune: redis markers
// expire on their own and a zero interval disables pruning.
func newMaintenance(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (runner, error) {
	if cfg.Dedup.Backend != config.DedupBackendPostgres || cfg.Dedup.PruneInterval <= 0 {
		return nil, nil
	}

	job, err := cron.NewMarkerRetentionJob(cron.MarkerRetentionJobParams{
		Logger:    logg,
		Store:     dedup.NewGormStore(dbClient.DB()),
		Retention: cfg.Dedup.TTL,
	})
	if err != nil {
		return nil, err
	}

	registry, err := cron.NewRegistry(job)
	if err != nil {
		return nil, err
	}

	var lock cron.Lock = &cron.LocalLock{}
	if redisClient != nil {
		lock, err = cron.NewRedisLock(redisClient, "sl:lock:maintenance:"+cfg.App.Env, 0)
		if err != nil {
			return nil, err
		}
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Dedup.PruneInterval,
	})
}
