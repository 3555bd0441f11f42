package shipbubblewebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-escrow/pkg/redis"
)

// IdempotencyGuard claims a shipment status while its delivery is being processed,
// so concurrent redeliveries are acknowledged without touching the order. The TTL
// bounds a claim left behind by a crashed handler.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// EventKey identifies a delivery by shipment and provider status.
func EventKey(providerShipmentID, status string) string {
	return strings.TrimSpace(providerShipmentID) + ":" + strings.ToLower(strings.TrimSpace(status))
}

// CheckAndMark reports true when the key was already seen.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventKey string) (bool, error) {
	if eventKey == "" {
		return false, errors.New("event key is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventKey)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete releases the claim once processing has finished.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventKey string) error {
	if eventKey == "" {
		return errors.New("event key is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventKey)
	return g.store.Del(ctx, key)
}
