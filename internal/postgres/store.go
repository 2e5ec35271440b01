package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tedsai/complex-orders/internal/orders"
)

// Store runs multi-row transactions at SERIALIZABLE isolation. Inventory and
// order rows read inside a transaction are locked with FOR UPDATE, so a batch
// of reservations commits all-or-nothing against concurrent checkouts.
type Store struct {
	DB          *pgxpool.Pool
	MaxAttempts int
}

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db, MaxAttempts: 3} }

func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			return fn(ctx, &pgTx{tx: tx})
		})
		if err == nil || !retryable(err) {
			break
		}
	}
	return classify(err)
}

// retryable reports serialization failures and deadlocks: the transaction was
// rolled back by the server and can be replayed from scratch.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// classify maps driver failures onto the domain taxonomy. A deadline or a lost
// connection leaves the outcome unknown; it is never retried here.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		pgconn.Timeout(err), errors.As(err, &connErr):
		return fmt.Errorf("%w: %w", orders.ErrStorageUnavailable, err)
	case retryable(err):
		return fmt.Errorf("%w: too many conflicts: %w", orders.ErrStorageUnavailable, err)
	}
	return err
}

const inventoryCols = `product_id, name, category, stock, in_stock, updated_at`

const orderCols = `id, session_id, payment_intent_id, gateway, customer_id, customer, shipping, items,
	currency, subtotal, tax, shipping_fee, discount, total, status, payment_status, status_reason,
	created_at, updated_at, paid_at, version`

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) GetInventory(ctx context.Context, productID string) (*orders.InventoryItem, error) {
	var it orders.InventoryItem
	err := t.tx.QueryRow(ctx, `SELECT `+inventoryCols+` FROM inventory WHERE product_id=$1 FOR UPDATE`, productID).
		Scan(&it.ProductID, &it.Name, &it.Category, &it.Stock, &it.InStock, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (t *pgTx) PutInventory(ctx context.Context, it *orders.InventoryItem) error {
	it.SetStock(it.Stock)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO inventory(product_id, name, category, stock, in_stock, updated_at)
		VALUES ($1,$2,$3,$4,$5, now())
		ON CONFLICT (product_id) DO UPDATE
		SET name=EXCLUDED.name, category=EXCLUDED.category, stock=EXCLUDED.stock,
		    in_stock=EXCLUDED.in_stock, updated_at=now()`,
		it.ProductID, it.Name, it.Category, it.Stock, it.InStock)
	return err
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	customer, shipping, items, err := marshalDocs(o)
	if err != nil {
		return err
	}
	if o.Version == 0 {
		o.Version = 1
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO orders(`+orderCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		o.ID, o.SessionID, nullable(o.PaymentIntentID), o.Gateway, o.CustomerID, customer, shipping, items,
		o.Currency, o.Subtotal, o.Tax, o.Totals.Shipping, o.Discount, o.Total, o.Status, o.PaymentStatus, o.StatusReason,
		o.CreatedAt, o.UpdatedAt, o.PaidAt, o.Version)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", orders.ErrAlreadyExists, pgErr.ConstraintName)
	}
	return err
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	// a malformed id would abort the transaction on the uuid cast
	if _, err := uuid.Parse(id); err != nil {
		return nil, orders.ErrNotFound
	}
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) OrderBySession(ctx context.Context, sessionID string) (*orders.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE session_id=$1 FOR UPDATE`, sessionID))
}

func (t *pgTx) OrderByPaymentIntent(ctx context.Context, intentID string) (*orders.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE payment_intent_id=$1 FOR UPDATE`, intentID))
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET payment_intent_id=$2, status=$3, payment_status=$4, status_reason=$5,
		    updated_at=$6, paid_at=$7, version=version+1
		WHERE id=$1 AND version=$8`,
		o.ID, nullable(o.PaymentIntentID), o.Status, o.PaymentStatus, o.StatusReason,
		o.UpdatedAt, o.PaidAt, o.Version)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", orders.ErrVersionConflict, o.ID)
	}
	o.Version++
	return nil
}

// ListPending returns pending orders of one gateway created before olderThan,
// oldest first.
func (s *Store) ListPending(ctx context.Context, gateway orders.Gateway, olderThan time.Time, limit int) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderCols+` FROM orders
		WHERE status='pending' AND gateway=$1 AND created_at < $2
		ORDER BY created_at LIMIT $3`, gateway, olderThan, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) ListInventory(ctx context.Context) ([]orders.InventoryItem, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+inventoryCols+` FROM inventory ORDER BY product_id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []orders.InventoryItem
	for rows.Next() {
		var it orders.InventoryItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Category, &it.Stock, &it.InStock, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o                         orders.Order
		intent                    *string
		customer, shipping, items []byte
	)
	err := row.Scan(&o.ID, &o.SessionID, &intent, &o.Gateway, &o.CustomerID, &customer, &shipping, &items,
		&o.Currency, &o.Subtotal, &o.Tax, &o.Totals.Shipping, &o.Discount, &o.Total, &o.Status, &o.PaymentStatus,
		&o.StatusReason, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt, &o.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if intent != nil {
		o.PaymentIntentID = *intent
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.Shipping); err != nil {
		return nil, fmt.Errorf("decode shipping: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return &o, nil
}

func marshalDocs(o *orders.Order) (customer, shipping, items []byte, err error) {
	if customer, err = json.Marshal(o.Customer); err != nil {
		return nil, nil, nil, err
	}
	if shipping, err = json.Marshal(o.Shipping); err != nil {
		return nil, nil, nil, err
	}
	if items, err = json.Marshal(o.Items); err != nil {
		return nil, nil, nil, err
	}
	return customer, shipping, items, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
