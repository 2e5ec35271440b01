package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tedsai/complex-orders/internal/checkout"
	"github.com/tedsai/complex-orders/internal/config"
	"github.com/tedsai/complex-orders/internal/httpx"
	"github.com/tedsai/complex-orders/internal/inventory"
	"github.com/tedsai/complex-orders/internal/notify"
	"github.com/tedsai/complex-orders/internal/orders"
	"github.com/tedsai/complex-orders/internal/payments"
	"github.com/tedsai/complex-orders/internal/postgres"
	"github.com/tedsai/complex-orders/internal/reconcile"
	"github.com/tedsai/complex-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.Any("err", err))
		os.Exit(1)
	}
	log := config.NewLogger(cfg.LogLevel).With(slog.String("service", cfg.ServiceName))
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 16)
	if err != nil {
		log.Error("db connect", slog.Any("err", err))
		os.Exit(1)
	}
	defer db.Close()
	store := postgres.NewStore(db)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	dedup := &redisx.Deduper{Client: rdb}
	statusCache := &redisx.StatusCache{Client: rdb}

	// Notifications
	pub, err := notify.NewPublisher(cfg.NotifyBroker, cfg.KafkaBrokers, cfg.AMQPURL, log)
	if err != nil {
		log.Error("notification publisher", slog.Any("err", err))
		os.Exit(1)
	}
	dispatcher := &notify.Dispatcher{Pub: pub, Producer: cfg.ServiceName, Log: log}

	// Gateways
	stripeGW := payments.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.GatewayTimeout)
	flwGW := payments.NewFlutterwaveGateway(cfg.FlwBaseURL, cfg.FlwSecretKey, cfg.FlwWebhookHash, cfg.GatewayTimeout)
	if cfg.FlwWebhookHash == "" {
		log.Warn("FLW_WEBHOOK_HASH not set: flutterwave webhooks are accepted unauthenticated")
	}

	deps := reconcile.Deps{
		Store:     store,
		Dedup:     dedup,
		Cache:     statusCache,
		Notifier:  dispatcher,
		Trackable: cfg.Trackable,
		TxTimeout: cfg.StoreTxTimeout,
		Log:       log,
	}
	api := &httpx.Handler{
		Checkout: &checkout.Service{
			Store: store,
			Gateways: map[orders.Gateway]payments.CheckoutGateway{
				orders.GatewayCard:        stripeGW,
				orders.GatewayMobileMoney: flwGW,
			},
			Notifier:       dispatcher,
			Idem:           &redisx.IdempotencyStore{Client: rdb},
			Cache:          statusCache,
			Pricing:        cfg.Pricing,
			Promo:          cfg.PromoCodes,
			Trackable:      cfg.Trackable,
			Currency:       cfg.Currency,
			BaseURL:        cfg.PublicBaseURL,
			GatewayTimeout: cfg.GatewayTimeout,
			TxTimeout:      cfg.StoreTxTimeout,
			Log:            log,
		},
		Inventory: &inventory.Service{Store: store, Timeout: cfg.StoreTxTimeout, Log: log},
		Stock:     store,
		Card:      &reconcile.Card{Deps: deps},
		CardGW:    stripeGW,
		Momo:      &reconcile.Momo{Deps: deps, Gateway: flwGW, GatewayTimeout: cfg.GatewayTimeout},
		Store:     store,
		Status:    statusCache,
		Log:       log,
	}
	router := httpx.NewRouter()
	api.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if err := pub.Close(); err != nil {
		log.Error("close publisher", slog.Any("err", err))
	}
}
