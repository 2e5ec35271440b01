package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tedsai/complex-orders/internal/config"
	"github.com/tedsai/complex-orders/internal/postgres"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "storectl",
		Short:        "Operate the TEDSAI order store",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(stockCmd())
	rootCmd.AddCommand(reconcileMomoCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		return cfg, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return cfg, db, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the inventory and orders tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}
