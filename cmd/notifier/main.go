package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tedsai/complex-orders/internal/config"
	kafkax "github.com/tedsai/complex-orders/internal/kafka"
	"github.com/tedsai/complex-orders/internal/notify"
	"github.com/tedsai/complex-orders/internal/orders"
	"github.com/tedsai/complex-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.Any("err", err))
		os.Exit(1)
	}
	log := config.NewLogger(cfg.LogLevel).With(slog.String("service", cfg.ServiceName+"-notifier"))
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	worker := &notify.Worker{
		Dedup:   &redisx.Deduper{Client: rdb},
		Senders: senders(cfg, log),
		Log:     log,
	}

	// Consumer
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("notifier started",
			slog.String("broker", cfg.NotifyBroker),
			slog.String("topic", orders.TopicNotifications),
			slog.Int("workers", cfg.NotifierWorkers))
		if err := consume(ctx, cfg, worker, log); err != nil {
			log.Error("consumer exit", slog.Any("err", err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn("consumer did not stop in time")
	}
}

func consume(ctx context.Context, cfg config.Config, w *notify.Worker, log *slog.Logger) error {
	if cfg.NotifyBroker == "amqp" {
		c, err := notify.NewAMQPConsumer(cfg.AMQPURL, orders.TopicNotifications, cfg.NotifierWorkers, log)
		if err != nil {
			return err
		}
		return c.Start(ctx, w.Handle)
	}
	c := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicNotifications, cfg.NotifierWorkers, log)
	return c.Start(ctx, w.HandleKafka)
}

func senders(cfg config.Config, log *slog.Logger) []notify.Sender {
	var out []notify.Sender
	for _, name := range cfg.NotifySenders {
		switch name {
		case "log":
			out = append(out, notify.LogSender{Log: log})
		case "http":
			if cfg.NotifyRelayURL == "" {
				log.Warn("NOTIFY_RELAY_URL not set, http sender disabled")
				continue
			}
			out = append(out, notify.NewRelaySender(cfg.NotifyRelayURL, 10*time.Second))
		default:
			log.Warn("unknown notification sender", slog.String("sender", name))
		}
	}
	return out
}
