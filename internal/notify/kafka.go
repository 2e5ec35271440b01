package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkax "github.com/tedsai/complex-orders/internal/kafka"
	"github.com/tedsai/complex-orders/internal/orders"
)

// KafkaPublisher sends envelopes through the buffered producer, keyed by
// order id so one order's events stay in sequence.
type KafkaPublisher struct {
	P *kafkax.Producer
}

func (k *KafkaPublisher) Publish(ctx context.Context, env orders.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return k.P.Publish(ctx, orders.PartitionKey(env.CorrelationID), b, kafkax.EnvelopeHeaders(env)...)
}

// Close flushes queued messages before returning.
func (k *KafkaPublisher) Close() error {
	k.P.Close()
	k.P.WaitClosed()
	return nil
}

// NewPublisher connects to the configured broker: "kafka" or "amqp".
func NewPublisher(broker string, kafkaBrokers []string, amqpURL string, log *slog.Logger) (Publisher, error) {
	switch broker {
	case "kafka":
		p := kafkax.NewProducer(kafkaBrokers, orders.TopicNotifications, 1024, log)
		p.Start()
		return &KafkaPublisher{P: p}, nil
	case "amqp":
		p, err := NewAMQPPublisher(amqpURL, orders.TopicNotifications)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unsupported notification broker %q", broker)
}
