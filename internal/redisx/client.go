package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tedsai/complex-orders/internal/orders"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Deduper records processed ids with SETNX so at-least-once deliveries are
// handled once per TTL window.
type Deduper struct {
	Client *redis.Client
	TTL    time.Duration
}

// Claim returns true when the caller is the first to see id in scope.
func (d *Deduper) Claim(ctx context.Context, scope, id string) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return d.Client.SetNX(ctx, fmt.Sprintf(KeyDedup, scope, id), 1, ttl).Result()
}

// Forget drops a claim so a redelivery is processed again.
func (d *Deduper) Forget(ctx context.Context, scope, id string) error {
	return d.Client.Del(ctx, fmt.Sprintf(KeyDedup, scope, id)).Err()
}

type CachedStatus struct {
	OrderID       string               `json:"orderId"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"paymentStatus"`
	Reason        string               `json:"statusReason,omitempty"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

// StatusCache keeps the latest order status for the poll path.
type StatusCache struct {
	Client *redis.Client
}

func (c *StatusCache) Put(ctx context.Context, o *orders.Order) error {
	b, err := json.Marshal(CachedStatus{
		OrderID: o.ID, Status: o.Status, PaymentStatus: o.PaymentStatus,
		Reason: o.StatusReason, UpdatedAt: o.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, fmt.Sprintf(KeyOrderStatus, o.ID), b, TTLStatusCache).Err()
}

// Get reports ok=false on a cache miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	var out CachedStatus
	s, err := c.Client.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(s, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

// IdempotencyStore remembers checkout results per client-supplied key.
type IdempotencyStore struct {
	Client *redis.Client
}

func (s *IdempotencyStore) Load(ctx context.Context, key string, out any) (bool, error) {
	b, err := s.Client.Get(ctx, fmt.Sprintf(KeyIdemCheckout, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, out)
}

func (s *IdempotencyStore) Save(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, fmt.Sprintf(KeyIdemCheckout, key), b, TTLIdempotency).Err()
}
