package mpwebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const provider = "mercadopago"

// keyStore is the redis subset the guard needs.
type keyStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookKey(provider, eventID string) string
}

// IdempotencyGuard remembers notification deliveries for ttl so redeliveries
// are acknowledged without touching the ledger again.
type IdempotencyGuard struct {
	store keyStore
	ttl   time.Duration
}

func NewIdempotencyGuard(store keyStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark returns true when the delivery was already seen.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, deliveryID string) (bool, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return false, errors.New("delivery id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.WebhookKey(provider, deliveryID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set webhook key: %w", err)
	}
	return !set, nil
}

// Release forgets the delivery so the provider's retry is processed.
func (g *IdempotencyGuard) Release(ctx context.Context, deliveryID string) error {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return errors.New("delivery id is required")
	}
	return g.store.Del(ctx, g.store.WebhookKey(provider, deliveryID))
}
