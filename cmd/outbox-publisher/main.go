package main

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketplace-escrow/internal/bootstrap"
	"github.com/angelmondragon/marketplace-escrow/pkg/metrics"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox/registry"
	"github.com/angelmondragon/marketplace-escrow/pkg/pubsub"
)

func main() {
	bootstrap.Main("outbox-publisher", run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	broker, err := pubsub.NewClient(ctx, rt.Config.GCP, rt.Config.PubSub, rt.Logger)
	if err != nil {
		return fmt.Errorf("connect pubsub: %w", err)
	}
	rt.OnClose("pubsub", broker.Close)

	events, err := registry.NewEventRegistry(rt.Config.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}

	topics, stopTopics := cachedTopics(broker)
	rt.OnClose("topic publishers", func() error {
		stopTopics()
		return nil
	})

	gdb := rt.DB.DB()
	relay, err := NewService(ServiceParams{
		Config:     rt.Config,
		Logger:     rt.Logger,
		DB:         rt.DB,
		Broker:     broker,
		Events:     outbox.NewRepository(gdb),
		DeadLetter: outbox.NewDLQRepository(gdb),
		Resolver:   events,
		Topics:     topics,
		Metrics:    metrics.NewOutboxMetrics(rt.Registry),
	})
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}

	rt.ServeMetrics(ctx, rt.Config.Outbox.MetricsAddr)
	rt.Logger.Info(ctx, "starting outbox publisher")
	return relay.Run(ctx)
}
