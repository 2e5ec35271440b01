// Package testutil holds in-memory doubles shared by service tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tedsai/complex-orders/internal/orders"
)

// MemStore is an orders.Store that serializes transactions behind one mutex
// and commits a transaction's writes only when fn returns nil.
type MemStore struct {
	mu        sync.Mutex
	inventory map[string]orders.InventoryItem
	orders    map[string]orders.Order

	// FailNext, when set, is returned by the next RunTx before fn runs.
	FailNext error
	// TxCount counts committed transactions.
	TxCount int
}

func NewMemStore() *MemStore {
	return &MemStore{
		inventory: map[string]orders.InventoryItem{},
		orders:    map[string]orders.Order{},
	}
}

// SetStock seeds a trackable inventory document.
func (m *MemStore) SetStock(productID string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := orders.InventoryItem{ProductID: productID, Name: productID, Category: "trackable"}
	it.SetStock(stock)
	m.inventory[productID] = it
}

// PutItem seeds an inventory document as given, category included.
func (m *MemStore) PutItem(it orders.InventoryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.SetStock(it.Stock)
	m.inventory[it.ProductID] = it
}

// Stock returns the current counter, or -1 when the product is unknown.
func (m *MemStore) Stock(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.inventory[productID]
	if !ok {
		return -1
	}
	return it.Stock
}

func (m *MemStore) Inventory(productID string) (orders.InventoryItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.inventory[productID]
	return it, ok
}

func (m *MemStore) Order(id string) (orders.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}

func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// PutOrder stores o as is, bypassing transactions.
func (m *MemStore) PutOrder(o orders.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.Version == 0 {
		o.Version = 1
	}
	m.orders[o.ID] = o
}

func (m *MemStore) RunTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", orders.ErrStorageUnavailable, err)
	}
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}

	tx := &memTx{
		inventory: make(map[string]orders.InventoryItem, len(m.inventory)),
		orders:    make(map[string]orders.Order, len(m.orders)),
	}
	for k, v := range m.inventory {
		tx.inventory[k] = v
	}
	for k, v := range m.orders {
		tx.orders[k] = cloneOrder(v)
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.inventory = tx.inventory
	m.orders = tx.orders
	m.TxCount++
	return nil
}

func (m *MemStore) ListPending(ctx context.Context, gateway orders.Gateway, olderThan time.Time, limit int) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.Order
	for _, o := range m.orders {
		if o.Status == orders.StatusPending && o.Gateway == gateway && o.CreatedAt.Before(olderThan) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTx struct {
	inventory map[string]orders.InventoryItem
	orders    map[string]orders.Order
}

func (t *memTx) GetInventory(_ context.Context, productID string) (*orders.InventoryItem, error) {
	it, ok := t.inventory[productID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &it, nil
}

func (t *memTx) PutInventory(_ context.Context, it *orders.InventoryItem) error {
	if it.Stock < 0 {
		return fmt.Errorf("stock for %s would go negative", it.ProductID)
	}
	it.SetStock(it.Stock)
	t.inventory[it.ProductID] = *it
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	if _, ok := t.orders[o.ID]; ok {
		return orders.ErrAlreadyExists
	}
	for _, x := range t.orders {
		if x.SessionID == o.SessionID {
			return orders.ErrAlreadyExists
		}
	}
	if o.Version == 0 {
		o.Version = 1
	}
	t.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	o, ok := t.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (t *memTx) OrderBySession(_ context.Context, sessionID string) (*orders.Order, error) {
	return t.find(func(o orders.Order) bool { return o.SessionID == sessionID })
}

func (t *memTx) OrderByPaymentIntent(_ context.Context, intentID string) (*orders.Order, error) {
	return t.find(func(o orders.Order) bool { return intentID != "" && o.PaymentIntentID == intentID })
}

func (t *memTx) UpdateOrder(_ context.Context, o *orders.Order) error {
	cur, ok := t.orders[o.ID]
	if !ok || cur.Version != o.Version {
		return orders.ErrVersionConflict
	}
	o.Version++
	t.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *memTx) find(match func(orders.Order) bool) (*orders.Order, error) {
	for _, o := range t.orders {
		if match(o) {
			c := cloneOrder(o)
			return &c, nil
		}
	}
	return nil, orders.ErrNotFound
}

func cloneOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.LineItem(nil), o.Items...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		o.PaidAt = &t
	}
	return o
}

func (m *MemStore) ListInventory(context.Context) ([]orders.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]orders.InventoryItem, 0, len(m.inventory))
	for _, it := range m.inventory {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
