package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelmondragon/stockledger/api/controllers"
	"github.com/angelmondragon/stockledger/api/middleware"
	"github.com/angelmondragon/stockledger/api/routes"
	"github.com/angelmondragon/stockledger/internal/catalog"
	"github.com/angelmondragon/stockledger/internal/stock"
	"github.com/angelmondragon/stockledger/pkg/config"
	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/instance"
	pkgkafka "github.com/angelmondragon/stockledger/pkg/kafka"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/migrate"
	"github.com/angelmondragon/stockledger/pkg/pubsub"
	"github.com/angelmondragon/stockledger/pkg/redis"
	"github.com/angelmondragon/stockledger/pkg/telemetry"
)

const serviceName = "api"

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
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	readiness := []controllers.Dependency{{Name: "database", Pinger: dbClient}}

	var limiter middleware.RateLimiterStore
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		limiter = redisClient
		readiness = append(readiness, controllers.Dependency{Name: "redis", Pinger: redisClient})
	} else {
		logg.Warn(context.Background(), "redis not configured; adjustment rate limiting disabled")
	}

	publisher, broker, closeBroker, err := newPublisher(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build event publisher", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeBroker(); err != nil {
			logg.Error(context.Background(), "error closing event publisher", err)
		}
	}()
	readiness = append(readiness, broker)

	stockRepo := stock.NewGormRepository(dbClient.DB())
	accessor, err := stock.NewAccessor(stockRepo, stockRepo, stock.Policy{AllowNegative: cfg.Stock.AllowNegative})
	if err != nil {
		logg.Error(context.Background(), "failed to build stock accessor", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.Params{
		Config:      cfg,
		Logger:      logg,
		Readiness:   readiness,
		Stock:       accessor,
		Stores:      catalog.NewRepository(dbClient.DB()),
		Publisher:   publisher,
		RateLimiter: limiter,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instanceID,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(handler, "stockledger-api"),
		ReadHeaderTimeout: cfg.API.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}

// newPublisher builds the adjustment publisher for the configured transport
// along with its readiness check and a close func.
func newPublisher(ctx context.Context, cfg *config.Config, logg *logger.Logger) (controllers.EventPublisher, controllers.Dependency, func() error, error) {
	if err := cfg.RequireTransport(); err != nil {
		return nil, controllers.Dependency{}, nil, err
	}

	switch cfg.Service.Transport {
	case config.TransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, controllers.Dependency{}, nil, err
		}
		pub, err := client.NewEventPublisher()
		if err != nil {
			_ = client.Close()
			return nil, controllers.Dependency{}, nil, err
		}
		return pub, controllers.Dependency{Name: "pubsub", Pinger: client}, client.Close, nil
	default:
		writer, err := pkgkafka.NewWriter(cfg.Kafka, cfg.Kafka.AdjustmentsTopic)
		if err != nil {
			return nil, controllers.Dependency{}, nil, err
		}
		pub, err := pkgkafka.NewPublisher(writer)
		if err != nil {
			_ = writer.Close()
			return nil, controllers.Dependency{}, nil, err
		}
		ping := controllers.PingFunc(func(ctx context.Context) error {
			return pkgkafka.Ping(ctx, cfg.Kafka.Brokers)
		})
		return pub, controllers.Dependency{Name: "kafka", Pinger: ping}, writer.Close, nil
	}
}
