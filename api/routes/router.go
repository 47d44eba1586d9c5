package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumina-photos/lumina-backend/api/controllers"
	webhookcontrollers "github.com/lumina-photos/lumina-backend/api/controllers/webhooks"
	"github.com/lumina-photos/lumina-backend/api/middleware"
	checkoutsvc "github.com/lumina-photos/lumina-backend/internal/checkout"
	"github.com/lumina-photos/lumina-backend/pkg/config"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/metrics"
	pkgredis "github.com/lumina-photos/lumina-backend/pkg/redis"
)

// CacheStore is the redis surface the HTTP layer needs.
type CacheStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	cache CacheStore,
	checkoutService checkoutsvc.Service,
	webhookService webhookcontrollers.MercadoPagoWebhookService,
	metricsHandler http.Handler,
	httpMetrics *metrics.HTTPMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins, logg),
	)

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.RateLimit.CheckoutWindow,
		cfg.RateLimit.CheckoutIP,
		cfg.RateLimit.CheckoutBuyer,
	)

	deps := map[string]controllers.Pinger{"db": dbP}
	var (
		idempotencyStore pkgredis.IdempotencyStore
		rateStore        middleware.FixedWindowStore
	)
	if cache != nil {
		deps["redis"] = cache
		idempotencyStore = cache
		rateStore = cache
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps, logg))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mercadopago", webhookcontrollers.MercadoPagoWebhook(webhookService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.With(
			middleware.RateLimit(checkoutPolicy, rateStore, logg),
			middleware.Idempotency(idempotencyStore, cfg.Checkout.IdempotencyTTL, logg),
		).Post("/checkout", controllers.Checkout(checkoutService, logg))
	})

	return r
}
