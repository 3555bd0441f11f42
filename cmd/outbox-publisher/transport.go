package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox/registry"
)

// topicPublisher is the slice of *pubsub.Publisher the relay needs.
type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// topicLookup returns the publisher for a topic, or nil when none is configured.
type topicLookup func(topic string) topicPublisher

// publish sends the stored envelope unchanged. The order id is the ordering
// key so a subscriber sees an order's transitions in commit order.
func (s *Service) publish(ctx context.Context, topic string, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	pub := s.topics(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := &gcppubsub.Message{
		Data:        []byte(event.Payload),
		OrderingKey: event.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"event_version":  strconv.Itoa(resolved.Envelope.Version),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	ctx, cancel := context.WithTimeout(ctx, publishDeadline)
	defer cancel()
	result := pub.Publish(ctx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	if _, err := result.Get(ctx); err != nil {
		// An ordered publisher pauses the key after a failure.
		pub.ResumePublish(msg.OrderingKey)
		return err
	}
	return nil
}

type topicSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// cachedTopics builds one Pub/Sub publisher per topic and reuses it.
func cachedTopics(src topicSource) (topicLookup, func()) {
	var (
		mu    sync.Mutex
		cache = map[string]*gcppubsub.Publisher{}
	)
	lookup := func(topic string) topicPublisher {
		mu.Lock()
		defer mu.Unlock()
		p, ok := cache[topic]
		if !ok {
			p = src.Publisher(topic)
			if p == nil {
				return nil
			}
			cache[topic] = p
		}
		return gcpPublisher{p}
	}
	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range cache {
			p.Stop()
		}
	}
	return lookup, stop
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return gcpResult{g.p.Publish(ctx, msg)}
}

func (g gcpPublisher) ResumePublish(orderingKey string) {
	g.p.ResumePublish(orderingKey)
}

type gcpResult struct {
	r *gcppubsub.PublishResult
}

func (g gcpResult) Get(ctx context.Context) (string, error) {
	if g.r == nil {
		return "", errors.New("publish result is nil")
	}
	return g.r.Get(ctx)
}
