package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/tedsai/complex-orders/internal/orders"
	"github.com/tedsai/complex-orders/internal/payments"
)

// FakeGateway is a payments.CheckoutGateway and payments.MobileMoneyGateway
// that hands out sequential sessions and serves canned verifications.
type FakeGateway struct {
	mu       sync.Mutex
	n        int
	Prefix   string
	Requests []payments.SessionRequest
	Expired  []string

	CreateErr     error
	Verifications map[string]payments.Verification // by transaction id or tx_ref
	VerifyErr     error
	Hash          string
}

func (g *FakeGateway) CreateSession(_ context.Context, req payments.SessionRequest) (payments.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = append(g.Requests, req)
	if g.CreateErr != nil {
		return payments.Session{}, g.CreateErr
	}
	g.n++
	prefix := g.Prefix
	if prefix == "" {
		prefix = "cs_test_"
	}
	id := fmt.Sprintf("%s%d", prefix, g.n)
	return payments.Session{ID: id, URL: "https://pay.example/" + id}, nil
}

func (g *FakeGateway) ExpireSession(_ context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Expired = append(g.Expired, sessionID)
	return nil
}

func (g *FakeGateway) Verify(_ context.Context, transactionID string) (payments.Verification, error) {
	return g.lookup(transactionID)
}

func (g *FakeGateway) VerifyByReference(_ context.Context, txRef string) (payments.Verification, error) {
	return g.lookup(txRef)
}

func (g *FakeGateway) CheckWebhookHash(got string) bool {
	return g.Hash == "" || got == g.Hash
}

func (g *FakeGateway) lookup(key string) (payments.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.VerifyErr != nil {
		return payments.Verification{}, g.VerifyErr
	}
	v, ok := g.Verifications[key]
	if !ok {
		return payments.Verification{}, fmt.Errorf("%w: no transaction %s", orders.ErrGateway, key)
	}
	return v, nil
}

func (g *FakeGateway) ExpiredSessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.Expired...)
}

// Event is one notification captured by Recorder.
type Event struct {
	Type          string
	CorrelationID string
	Payload       any
}

// Recorder is a notify.Notifier that keeps every dispatched event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Dispatch(_ context.Context, eventType, correlationID string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Type: eventType, CorrelationID: correlationID, Payload: payload})
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// MemClaimer is an in-memory dedup claim set.
type MemClaimer struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (c *MemClaimer) Claim(_ context.Context, scope, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = map[string]bool{}
	}
	k := scope + ":" + id
	if c.seen[k] {
		return false, nil
	}
	c.seen[k] = true
	return true, nil
}

func (c *MemClaimer) Forget(_ context.Context, scope, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, scope+":"+id)
	return nil
}
