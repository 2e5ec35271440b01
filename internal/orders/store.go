package orders

import (
	"context"
	"time"
)

// Tx is the set of reads and writes available inside one store transaction.
// Reads of inventory lock the row for the rest of the transaction.
type Tx interface {
	GetInventory(ctx context.Context, productID string) (*InventoryItem, error)
	PutInventory(ctx context.Context, item *InventoryItem) error

	InsertOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	OrderBySession(ctx context.Context, sessionID string) (*Order, error)
	OrderByPaymentIntent(ctx context.Context, intentID string) (*Order, error)
	// UpdateOrder writes o if its Version still matches the stored one and
	// bumps it.
	UpdateOrder(ctx context.Context, o *Order) error
}

// Store commits everything fn does atomically or nothing at all. fn may run
// more than once when the store retries a conflicting transaction.
type Store interface {
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// PendingLister is implemented by stores that can enumerate stale pending
// orders for batch reconciliation.
type PendingLister interface {
	ListPending(ctx context.Context, gateway Gateway, olderThan time.Time, limit int) ([]Order, error)
}

// Get reads one order in a transaction of its own.
func Get(ctx context.Context, s Store, id string) (*Order, error) {
	var out *Order
	err := s.RunTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, id)
		out = o
		return err
	})
	return out, err
}
