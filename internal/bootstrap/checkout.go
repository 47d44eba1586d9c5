// Package bootstrap assembles the checkout engine shared by the api and
// cron-worker binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/lumina-photos/lumina-backend/internal/catalog"
	"github.com/lumina-photos/lumina-backend/internal/checkout"
	"github.com/lumina-photos/lumina-backend/internal/pricing"
	"github.com/lumina-photos/lumina-backend/internal/purchases"
	"github.com/lumina-photos/lumina-backend/internal/revenue"
	"github.com/lumina-photos/lumina-backend/pkg/config"
	"github.com/lumina-photos/lumina-backend/pkg/db"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/mercadopago"
	"github.com/lumina-photos/lumina-backend/pkg/metrics"
	"github.com/lumina-photos/lumina-backend/pkg/outbox"
)

// Engine is the wired checkout orchestrator plus the pieces the sweeper reuses.
type Engine struct {
	Checkout  checkout.Service
	Recorder  revenue.Recorder
	Purchases purchases.Repository
	Revenue   revenue.Repository
	Outbox    *outbox.Repository
}

// NewEngine wires the checkout engine against the database. A missing gateway
// access token leaves the gateway unset and every checkout call fails with
// INTERNAL_ERROR instead of refusing to boot.
func NewEngine(cfg *config.Config, dbClient *db.Client, logg *logger.Logger, checkoutMetrics *metrics.CheckoutMetrics) (*Engine, error) {
	if cfg == nil || dbClient == nil {
		return nil, fmt.Errorf("config and database are required")
	}
	conn := dbClient.DB()

	catalogRepo := catalog.NewRepository(conn)
	revenueRepo := revenue.NewRepository(conn)
	purchaseRepo := purchases.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)

	recorder, err := revenue.NewRecorder(revenue.RecorderParams{
		Repo:       revenueRepo,
		Lookup:     catalogRepo,
		Calculator: revenue.NewCalculator(cfg.Checkout.PlatformShare()),
		Logger:     logg,
		Metrics:    checkoutMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("revenue recorder: %w", err)
	}

	params := checkout.ServiceParams{
		Tx:       dbClient,
		Ledger:   purchaseRepo,
		Catalog:  catalogRepo,
		Pricing:  pricing.NewEngine(cfg.Checkout.MinimumCharge()),
		Recorder: recorder,
		Outbox:   outbox.NewEmitter(outboxRepo, logg),
		Logger:   logg,
		Metrics:  checkoutMetrics,
		Config:   cfg.Checkout,
	}
	if cfg.MercadoPago.Configured() {
		gateway, err := mercadopago.NewClient(cfg.MercadoPago.AccessToken,
			mercadopago.WithBaseURL(cfg.MercadoPago.BaseURL),
			mercadopago.WithTimeout(cfg.Checkout.GatewayTimeout),
			mercadopago.WithRateLimit(cfg.MercadoPago.RequestsPerSecond, cfg.MercadoPago.Burst),
		)
		if err != nil {
			return nil, fmt.Errorf("mercado pago client: %w", err)
		}
		params.Gateway = gateway
	} else if logg != nil {
		logg.Warn(context.Background(), "checkout.gateway_not_configured")
	}

	svc, err := checkout.NewService(params)
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	return &Engine{
		Checkout:  svc,
		Recorder:  recorder,
		Purchases: purchaseRepo,
		Revenue:   revenueRepo,
		Outbox:    outboxRepo,
	}, nil
}
