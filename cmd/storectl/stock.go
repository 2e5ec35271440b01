package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tedsai/complex-orders/internal/orders"
	"github.com/tedsai/complex-orders/internal/postgres"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load inventory counters from a YAML file",
		Long: `Load inventory counters from a YAML list such as:

- productId: honey-500g
  name: Honey 500g
  category: shop
  stock: 40

A missing category defaults to "trackable". Existing products are
overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			items, err := readSeed(f)
			if err != nil {
				return err
			}

			_, db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			store := postgres.NewStore(db)
			err = store.RunTx(cmd.Context(), func(ctx context.Context, tx orders.Tx) error {
				for i := range items {
					if err := tx.PutInventory(ctx, &items[i]); err != nil {
						return fmt.Errorf("seed %s: %w", items[i].ProductID, err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("seeded %d products\n", len(items))
			return nil
		},
	}

	cmd.Flags().StringP("file", "f", "inventory.yaml", "YAML inventory file")
	return cmd
}

// readSeed decodes and checks a seed file. Duplicate ids are rejected.
func readSeed(r io.Reader) ([]orders.InventoryItem, error) {
	var items []orders.InventoryItem
	if err := yaml.NewDecoder(r).Decode(&items); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	seen := make(map[string]bool, len(items))
	for i := range items {
		it := &items[i]
		it.ProductID = strings.TrimSpace(it.ProductID)
		if it.ProductID == "" {
			return nil, fmt.Errorf("seed entry %d: productId is required", i)
		}
		if it.Stock < 0 {
			return nil, fmt.Errorf("seed %s: stock must not be negative", it.ProductID)
		}
		if seen[it.ProductID] {
			return nil, fmt.Errorf("seed %s: duplicate productId", it.ProductID)
		}
		seen[it.ProductID] = true
		if it.Category == "" {
			it.Category = orders.CategoryTrackable
		}
		it.SetStock(it.Stock)
	}
	return items, nil
}

func stockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Print current inventory counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			items, err := postgres.NewStore(db).ListInventory(cmd.Context())
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			return printStock(cmd.OutOrStdout(), items, asJSON)
		},
	}

	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func printStock(w io.Writer, items []orders.InventoryItem, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tNAME\tCATEGORY\tSTOCK")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", it.ProductID, it.Name, it.Category, it.Stock)
	}
	return tw.Flush()
}
