package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-escrow/api/controllers"
	ordercontrollers "github.com/angelmondragon/marketplace-escrow/api/controllers/orders"
	shippingcontrollers "github.com/angelmondragon/marketplace-escrow/api/controllers/shipping"
	walletcontrollers "github.com/angelmondragon/marketplace-escrow/api/controllers/wallet"
	webhookcontrollers "github.com/angelmondragon/marketplace-escrow/api/controllers/webhooks"
	"github.com/angelmondragon/marketplace-escrow/api/middleware"
	"github.com/angelmondragon/marketplace-escrow/internal/escrow"
	"github.com/angelmondragon/marketplace-escrow/internal/orders"
	shipbubblewebhook "github.com/angelmondragon/marketplace-escrow/internal/webhooks/shipbubble"
	"github.com/angelmondragon/marketplace-escrow/internal/wallet"
	"github.com/angelmondragon/marketplace-escrow/pkg/config"
	"github.com/angelmondragon/marketplace-escrow/pkg/db"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/metrics"
	"github.com/angelmondragon/marketplace-escrow/pkg/redis"
)

// Services bundles the domain services the HTTP surface dispatches to.
type Services struct {
	Orders          orders.Service
	Escrow          escrow.Service
	Ledger          walletcontrollers.LedgerReader
	Wallet          wallet.Service
	Shipping        shippingcontrollers.RateQuoter
	Webhooks        webhookcontrollers.ShippingWebhookService
	WebhookGuard    *shipbubblewebhook.IdempotencyGuard
	MetricsGatherer prometheus.Gatherer
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	webhookPolicy := middleware.NewRateLimitPolicy(
		"shipping-webhook",
		cfg.RateLimit.WebhookWindow,
		cfg.RateLimit.WebhookIPLimit,
		0,
	)
	withdrawPolicy := middleware.NewRateLimitPolicy(
		"withdraw",
		cfg.RateLimit.WithdrawWindow,
		cfg.RateLimit.WithdrawIPLimit,
		0,
	)

	readiness := map[string]controllers.Pinger{}
	if dbP != nil {
		readiness["database"] = dbP
	}
	if redisClient != nil {
		readiness["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(svc.MetricsGatherer))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.RateLimit(webhookPolicy, rateStore(redisClient), logg)).
			Post("/shipping-events", webhookcontrollers.ShippingEvents(svc.Webhooks, guard(svc.WebhookGuard), cfg.ShipBubble.WebhookSecret, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore(redisClient), logg))

		r.Post("/v1/orders", ordercontrollers.Create(svc.Orders, logg))
		r.Get("/v1/orders", ordercontrollers.List(svc.Orders, logg))
		r.Route("/v1/orders/{orderId}", func(r chi.Router) {
			r.Get("/", ordercontrollers.Detail(svc.Orders, logg))
			r.Get("/escrow", ordercontrollers.EscrowStatus(svc.Escrow, logg))
			r.Get("/shipping-logs", ordercontrollers.ShippingLogs(svc.Orders, logg))
			r.Post("/shipment", ordercontrollers.CreateShipment(svc.Orders, logg))
			r.Get("/tracking", ordercontrollers.Tracking(svc.Orders, logg))
			r.Post("/confirm-receipt", ordercontrollers.ConfirmReceipt(svc.Escrow, logg))
			r.Post("/confirm-quality", ordercontrollers.ConfirmQuality(svc.Escrow, logg))
			r.Post("/release-escrow", ordercontrollers.ReleaseEscrow(svc.Escrow, logg))
		})

		r.Post("/v1/shipping/rates", shippingcontrollers.Rates(svc.Shipping, logg))

		r.Get("/v1/wallet", walletcontrollers.Balance(svc.Ledger, logg))
		r.Get("/v1/wallet/transactions", walletcontrollers.Transactions(svc.Ledger, logg))
		r.Post("/v1/wallet/pin", walletcontrollers.SetPIN(svc.Wallet, logg))
		r.With(middleware.RateLimit(withdrawPolicy, rateStore(redisClient), logg)).
			Post("/v1/wallet/withdraw", walletcontrollers.Withdraw(svc.Wallet, logg))

		r.With(middleware.RequireRole(logg, enums.UserRoleAdmin)).
			Post("/admin/v1/escrow/process-expired-escrows", controllers.AdminProcessExpiredEscrows(svc.Escrow, logg))
	})

	return r
}

// The helpers below keep a nil *redis.Client from becoming a non-nil interface.

func rateStore(client *redis.Client) middleware.RateLimitStore {
	if client == nil {
		return nil
	}
	return client
}

func idempotencyStore(client *redis.Client) redis.IdempotencyStore {
	if client == nil {
		return nil
	}
	return client
}

func guard(g *shipbubblewebhook.IdempotencyGuard) webhookcontrollers.ShippingWebhookGuard {
	if g == nil {
		return nil
	}
	return g
}
