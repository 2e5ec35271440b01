package main

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tedsai/complex-orders/internal/config"
	"github.com/tedsai/complex-orders/internal/notify"
	"github.com/tedsai/complex-orders/internal/payments"
	"github.com/tedsai/complex-orders/internal/postgres"
	"github.com/tedsai/complex-orders/internal/reconcile"
	"github.com/tedsai/complex-orders/internal/redisx"
)

func reconcileMomoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile-momo",
		Short: "Verify stale pending mobile-money orders with Flutterwave",
		Long: `Look up every pending mobile-money order older than --older-than and
apply the verified transaction status. Covers webhooks that never arrived.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			log := config.NewLogger(cfg.LogLevel).With(slog.String("service", cfg.ServiceName+"-storectl"))

			rdb := redisx.New(cfg.RedisAddr)
			defer rdb.Close()

			pub, err := notify.NewPublisher(cfg.NotifyBroker, cfg.KafkaBrokers, cfg.AMQPURL, log)
			if err != nil {
				return err
			}
			defer pub.Close()

			store := postgres.NewStore(db)
			momo := &reconcile.Momo{
				Deps: reconcile.Deps{
					Store:     store,
					Dedup:     &redisx.Deduper{Client: rdb},
					Cache:     &redisx.StatusCache{Client: rdb},
					Notifier:  &notify.Dispatcher{Pub: pub, Producer: cfg.ServiceName, Log: log},
					Trackable: cfg.Trackable,
					TxTimeout: cfg.StoreTxTimeout,
					Log:       log,
				},
				Gateway:        payments.NewFlutterwaveGateway(cfg.FlwBaseURL, cfg.FlwSecretKey, cfg.FlwWebhookHash, cfg.GatewayTimeout),
				GatewayTimeout: cfg.GatewayTimeout,
			}

			sum, err := momo.ReconcilePending(cmd.Context(), store, olderThan, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}

	cmd.Flags().Duration("older-than", 15*time.Minute, "Only check orders created before now minus this")
	cmd.Flags().Int("limit", 100, "Maximum orders per run")
	return cmd
}
