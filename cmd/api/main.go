package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/marketplace-escrow/api/routes"
	"github.com/angelmondragon/marketplace-escrow/internal/bootstrap"
	"github.com/angelmondragon/marketplace-escrow/internal/orders"
	"github.com/angelmondragon/marketplace-escrow/internal/shipping"
	"github.com/angelmondragon/marketplace-escrow/internal/wallet"
	shipbubblewebhook "github.com/angelmondragon/marketplace-escrow/internal/webhooks/shipbubble"
	"github.com/angelmondragon/marketplace-escrow/pkg/config"
	"github.com/angelmondragon/marketplace-escrow/pkg/shipbubble"
)

const shutdownGrace = 15 * time.Second

func main() {
	bootstrap.Main("api", run)
}

// shippingProvider returns nil without an API key; the shipping service then
// quotes from the fallback rate table and refuses to book.
func shippingProvider(cfg config.ShipBubbleConfig) (shipping.Provider, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	return shipbubble.NewClient(
		cfg.APIKey,
		shipbubble.WithBaseURL(cfg.BaseURL),
		shipbubble.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg, logg := rt.Config, rt.Logger
	rt.Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	redisClient, err := rt.Redis(ctx)
	if err != nil {
		return err
	}
	stack, err := rt.Escrow()
	if err != nil {
		return err
	}

	provider, err := shippingProvider(cfg.ShipBubble)
	if err != nil {
		return fmt.Errorf("shipbubble client: %w", err)
	}
	if provider == nil {
		logg.Warn(ctx, "shipbubble api key missing, quotes will use the fallback rate table")
	}
	shippingService, err := shipping.NewService(shipping.ServiceParams{
		Provider: provider,
		Config:   cfg.ShipBubble,
		Metrics:  stack.Metrics,
		Logger:   logg,
	})
	if err != nil {
		return fmt.Errorf("shipping service: %w", err)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repository: stack.Orders,
		TxRunner:   rt.DB,
		Outbox:     stack.Outbox,
		Escrow:     stack.Service,
		Shipping:   shippingService,
		Audit:      stack.Audit,
		Logger:     logg,
	})
	if err != nil {
		return fmt.Errorf("orders service: %w", err)
	}

	walletService, err := wallet.NewService(wallet.ServiceParams{
		Repository: stack.LedgerRepo,
		Ledger:     stack.Ledger,
		Outbox:     stack.Outbox,
		TxRunner:   rt.DB,
		Wallet:     cfg.Wallet,
		Password:   cfg.Password,
		Logger:     logg,
		Attempts:   redisClient,
	})
	if err != nil {
		return fmt.Errorf("wallet service: %w", err)
	}

	webhookService, err := shipbubblewebhook.NewService(shipbubblewebhook.ServiceParams{
		Orders:  stack.Orders,
		Escrow:  stack.Service,
		Audit:   stack.Audit,
		Metrics: stack.Metrics,
		Logger:  logg,
	})
	if err != nil {
		return fmt.Errorf("shipbubble webhook service: %w", err)
	}
	webhookGuard, err := shipbubblewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "shipbubble")
	if err != nil {
		return fmt.Errorf("webhook idempotency guard: %w", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(cfg, logg, rt.DB, redisClient, routes.Services{
			Orders:          ordersService,
			Escrow:          stack.Service,
			Ledger:          stack.Ledger,
			Wallet:          walletService,
			Shipping:        shippingService,
			Webhooks:        webhookService,
			WebhookGuard:    webhookGuard,
			MetricsGatherer: rt.Registry,
		}),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	logg.Info(logg.WithField(ctx, "addr", server.Addr), "api server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
