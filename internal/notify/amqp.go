package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tedsai/complex-orders/internal/orders"
)

// AMQPPublisher publishes persistent messages to a durable queue through the
// default exchange.
type AMQPPublisher struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex // amqp channels are not safe for concurrent publishes
	ch *amqp.Channel
}

func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	conn, ch, err := dialQueue(url, queue)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, env orders.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.EventID,
		CorrelationId: env.CorrelationID,
		Type:          env.EventType,
		Timestamp:     env.OccurredAt,
		Body:          body,
	})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.ch.Close(), p.conn.Close())
}

// AMQPConsumer delivers messages of one queue to a pool of workers with
// manual acknowledgement.
type AMQPConsumer struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	workers int
	log     *slog.Logger
	backoff time.Duration
}

func NewAMQPConsumer(url, queue string, workers int, log *slog.Logger) (*AMQPConsumer, error) {
	conn, ch, err := dialQueue(url, queue)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 1
	}
	if err := ch.Qos(workers*2, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &AMQPConsumer{conn: conn, ch: ch, queue: queue, workers: workers, log: log, backoff: time.Second}, nil
}

// Start consumes until ctx is done or the broker closes the channel. Failed
// messages are requeued after a short pause.
func (c *AMQPConsumer) Start(ctx context.Context, h func(ctx context.Context, body []byte) error) error {
	defer c.conn.Close()
	msgs, err := c.ch.Consume(
		c.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						select {
						case errCh <- errors.New("amqp delivery channel closed"):
						default:
						}
						return
					}
					c.deliver(ctx, h, d)
				}
			}
		}()
	}
	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (c *AMQPConsumer) deliver(ctx context.Context, h func(context.Context, []byte) error, d amqp.Delivery) {
	if err := h(ctx, d.Body); err != nil {
		c.log.Error("notification handler failed",
			slog.String("message_id", d.MessageId), slog.Any("err", err))
		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
		}
		_ = d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		c.log.Error("amqp ack", slog.String("message_id", d.MessageId), slog.Any("err", err))
	}
}

func dialQueue(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp declare %s: %w", queue, err)
	}
	return conn, ch, nil
}
