package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tedsai/complex-orders/internal/orders"
)

// Service reserves and releases stock of inventory-tracked products. Each call
// is one store transaction covering every product in the batch.
type Service struct {
	Store   orders.Store
	Timeout time.Duration // upper bound per transaction
	Log     *slog.Logger
}

// Reserve decrements every product by its quantity, or nothing at all.
func (s *Service) Reserve(ctx context.Context, items []orders.StockRequest) error {
	batch, err := Merge(items)
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	err = s.Store.RunTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return ReserveTx(ctx, tx, batch)
	})
	if err != nil {
		return err
	}
	s.logger().InfoContext(ctx, "stock reserved", slog.Int("products", len(batch)))
	return nil
}

// Release adds the quantities back. Products without an inventory document
// are skipped.
func (s *Service) Release(ctx context.Context, items []orders.StockRequest) error {
	batch, err := Merge(items)
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var released int
	err = s.Store.RunTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		n, err := ReleaseTx(ctx, tx, batch)
		released = n
		return err
	})
	if err != nil {
		return err
	}
	s.logger().InfoContext(ctx, "stock released",
		slog.Int("products", len(batch)), slog.Int("released", released))
	return nil
}

// ReserveTx runs the read-check-decrement for a merged batch inside tx. The
// first shortfall aborts the caller's transaction.
func ReserveTx(ctx context.Context, tx orders.Tx, batch []orders.StockRequest) error {
	for _, it := range batch {
		inv, err := tx.GetInventory(ctx, it.ProductID)
		if errors.Is(err, orders.ErrNotFound) {
			return fmt.Errorf("%w: %s", orders.ErrUnknownProduct, it.ProductID)
		}
		if err != nil {
			return fmt.Errorf("read stock %s: %w", it.ProductID, err)
		}
		if err := take(ctx, tx, inv, it); err != nil {
			return err
		}
	}
	return nil
}

// ReserveTrackedTx reserves the products of a merged order batch whose
// inventory document is in one of categories. Products without a document,
// or in another category, are not stock managed and are skipped. It reports
// how many products were reserved.
func ReserveTrackedTx(ctx context.Context, tx orders.Tx, batch []orders.StockRequest, categories map[string]bool) (int, error) {
	reserved := 0
	for _, it := range batch {
		inv, err := tracked(ctx, tx, it.ProductID, categories)
		if err != nil {
			return reserved, err
		}
		if inv == nil {
			continue
		}
		if err := take(ctx, tx, inv, it); err != nil {
			return reserved, err
		}
		reserved++
	}
	return reserved, nil
}

// ReleaseTx increments stock for a merged batch inside tx and reports how many
// products were found.
func ReleaseTx(ctx context.Context, tx orders.Tx, batch []orders.StockRequest) (int, error) {
	return ReleaseTrackedTx(ctx, tx, batch, nil)
}

// ReleaseTrackedTx gives back what ReserveTrackedTx took. A nil categories
// releases every product that has a document.
func ReleaseTrackedTx(ctx context.Context, tx orders.Tx, batch []orders.StockRequest, categories map[string]bool) (int, error) {
	released := 0
	for _, it := range batch {
		inv, err := tracked(ctx, tx, it.ProductID, categories)
		if err != nil {
			return released, err
		}
		if inv == nil {
			continue
		}
		inv.SetStock(inv.Stock + it.Quantity)
		if err := tx.PutInventory(ctx, inv); err != nil {
			return released, fmt.Errorf("write stock %s: %w", it.ProductID, err)
		}
		released++
	}
	return released, nil
}

// tracked returns nil, nil for a product that is not stock managed.
func tracked(ctx context.Context, tx orders.Tx, productID string, categories map[string]bool) (*orders.InventoryItem, error) {
	inv, err := tx.GetInventory(ctx, productID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stock %s: %w", productID, err)
	}
	if categories != nil && !categories[inv.Category] {
		return nil, nil
	}
	return inv, nil
}

func take(ctx context.Context, tx orders.Tx, inv *orders.InventoryItem, it orders.StockRequest) error {
	if inv.Stock < it.Quantity {
		name := it.Name
		if name == "" {
			name = inv.Name
		}
		return &orders.InsufficientStockError{
			ProductID: it.ProductID, Name: name, Requested: it.Quantity, Available: inv.Stock,
		}
	}
	inv.SetStock(inv.Stock - it.Quantity)
	if err := tx.PutInventory(ctx, inv); err != nil {
		return fmt.Errorf("write stock %s: %w", it.ProductID, err)
	}
	return nil
}

// Merge validates a batch, sums quantities per product and orders the result
// by product id so concurrent transactions lock rows in the same order. A
// product may not total more than orders.MaxQuantity.
func Merge(items []orders.StockRequest) ([]orders.StockRequest, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", orders.ErrValidation)
	}
	byID := make(map[string]*orders.StockRequest, len(items))
	out := make([]orders.StockRequest, 0, len(items))
	for i, it := range items {
		if it.ProductID == "" {
			return nil, fmt.Errorf("%w: item %d: productId is required", orders.ErrValidation, i)
		}
		if it.Quantity <= 0 || it.Quantity > orders.MaxQuantity {
			return nil, fmt.Errorf("%w: item %d: quantity must be between 1 and %d", orders.ErrValidation, i, orders.MaxQuantity)
		}
		if cur, ok := byID[it.ProductID]; ok {
			if cur.Quantity > orders.MaxQuantity-it.Quantity {
				return nil, fmt.Errorf("%w: %s: total quantity above %d", orders.ErrValidation, it.ProductID, orders.MaxQuantity)
			}
			cur.Quantity += it.Quantity
			continue
		}
		out = append(out, it)
		byID[it.ProductID] = &out[len(out)-1]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Timeout)
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}
