// Package notify carries order notifications from the API to the senders that
// email or message customers. Events travel as orders.Envelope over Kafka or
// RabbitMQ.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tedsai/complex-orders/internal/orders"
)

// Notifier is what order workflows use to announce state changes.
type Notifier interface {
	Dispatch(ctx context.Context, eventType, correlationID string, payload any)
}

// Publisher puts one envelope on the notification bus.
type Publisher interface {
	Publish(ctx context.Context, env orders.Envelope) error
	Close() error
}

// Dispatcher wraps payloads in an envelope and publishes them. Failures are
// logged; the order workflow that triggered the event has already committed.
type Dispatcher struct {
	Pub      Publisher
	Producer string
	Timeout  time.Duration
	Log      *slog.Logger
}

func (d *Dispatcher) Dispatch(ctx context.Context, eventType, correlationID string, payload any) {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	env, err := NewEnvelope(eventType, d.Producer, correlationID, payload)
	if err != nil {
		log.ErrorContext(ctx, "encode notification", slog.String("event_type", eventType), slog.Any("err", err))
		return
	}
	env.TraceID = traceID(ctx)

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	// detached from the request so a client disconnect does not drop the event
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := d.Pub.Publish(pctx, env); err != nil {
		log.ErrorContext(ctx, "publish notification",
			slog.String("event_type", eventType),
			slog.String("event_id", env.EventID),
			slog.String("order_id", correlationID),
			slog.Any("err", err))
		return
	}
	log.DebugContext(ctx, "notification queued",
		slog.String("event_type", eventType), slog.String("event_id", env.EventID))
}

func NewEnvelope(eventType, producer, correlationID string, payload any) (orders.Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return orders.Envelope{}, err
	}
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

type traceKey struct{}

// WithTraceID tags ctx so envelopes dispatched under it carry the id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}
