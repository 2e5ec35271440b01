package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"

	kafkax "github.com/tedsai/complex-orders/internal/kafka"
	"github.com/tedsai/complex-orders/internal/orders"
)

const dedupScope = "notify"

// Claimer records which envelopes were already handled.
type Claimer interface {
	Claim(ctx context.Context, scope, id string) (bool, error)
	Forget(ctx context.Context, scope, id string) error
}

// Sender delivers one notification to a channel (email relay, WhatsApp, log).
type Sender interface {
	Name() string
	Send(ctx context.Context, env orders.Envelope) error
}

// Worker is the consumer side of the notification bus. Deliveries are
// at-least-once; the claim on the envelope id drops duplicates.
type Worker struct {
	Dedup   Claimer
	Senders []Sender
	Log     *slog.Logger
}

// Handle processes one raw envelope. Undecodable messages are dropped; a
// sender failure releases the claim and is returned so the consumer retries
// the same message (in place on Kafka, requeued on AMQP).
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	log := w.Log
	if log == nil {
		log = slog.Default()
	}
	env, err := kafkax.DecodeEnvelope(body)
	if err != nil {
		log.WarnContext(ctx, "dropping malformed notification", slog.Any("err", err))
		return nil
	}
	attrs := []any{slog.String("event_id", env.EventID), slog.String("event_type", env.EventType)}

	if w.Dedup != nil {
		first, err := w.Dedup.Claim(ctx, dedupScope, env.EventID)
		if err != nil {
			return fmt.Errorf("claim %s: %w", env.EventID, err)
		}
		if !first {
			log.DebugContext(ctx, "duplicate notification", attrs...)
			return nil
		}
	}

	for _, s := range w.Senders {
		if err := s.Send(ctx, env); err != nil {
			if w.Dedup != nil {
				if ferr := w.Dedup.Forget(ctx, dedupScope, env.EventID); ferr != nil {
					log.ErrorContext(ctx, "release claim", append(attrs, slog.Any("err", ferr))...)
				}
			}
			return fmt.Errorf("sender %s: %w", s.Name(), err)
		}
	}
	log.InfoContext(ctx, "notification delivered", append(attrs, slog.Int("senders", len(w.Senders)))...)
	return nil
}

// HandleKafka adapts Handle to the Kafka consumer.
func (w *Worker) HandleKafka(ctx context.Context, m kafka.Message) error {
	return w.Handle(ctx, m.Value)
}

// LogSender writes notifications to the structured log.
type LogSender struct {
	Log *slog.Logger
}

func (LogSender) Name() string { return "log" }

func (s LogSender) Send(ctx context.Context, env orders.Envelope) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "notify",
		slog.String("event_type", env.EventType),
		slog.String("order_id", env.CorrelationID),
		slog.String("payload", string(env.Payload)))
	return nil
}

// RelaySender posts the envelope to an HTTP relay that fans out to email and
// WhatsApp.
type RelaySender struct {
	URL  string
	HTTP *http.Client
}

func NewRelaySender(url string, timeout time.Duration) *RelaySender {
	return &RelaySender{URL: url, HTTP: &http.Client{Timeout: timeout}}
}

func (*RelaySender) Name() string { return "http" }

func (s *RelaySender) Send(ctx context.Context, env orders.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", env.EventID)
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("relay responded %d", resp.StatusCode)
	}
	return nil
}
