package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/stockledger/api/controllers"
	"github.com/angelmondragon/stockledger/api/middleware"
	"github.com/angelmondragon/stockledger/pkg/config"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

// Params carries everything the ops API routes need. Optional dependencies
// may be left nil: a nil RateLimiter disables throttling and nil pingers are
// skipped by readiness.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	Readiness   []controllers.Dependency
	Stock       controllers.StockReader
	Stores      controllers.StoreLookup
	Publisher   controllers.EventPublisher
	RateLimiter middleware.RateLimiterStore
	Gatherer    prometheus.Gatherer
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	adjustmentPolicy := middleware.NewRateLimitPolicy(
		"adjustments",
		cfg.RateLimit.AdjustmentWindow,
		cfg.RateLimit.AdjustmentIPLimit,
		cfg.RateLimit.AdjustmentStoreLimit,
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Get("/readyz", controllers.HealthReady(cfg, logg, p.Readiness...))

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/stores/{storeCode}", func(r chi.Router) {
		r.Get("/stock/{sku}", controllers.StockLine(p.Stock, p.Stores, logg))
		r.Get("/adjustments", controllers.ListAdjustments(p.Stock, p.Stores, logg))
		r.With(middleware.RateLimit(adjustmentPolicy, p.RateLimiter, logg)).
			Post("/adjustments", controllers.SubmitAdjustment(p.Publisher, logg))
	})

	return r
}
