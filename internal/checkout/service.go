// Package checkout turns a cart into a pending order with reserved stock and a
// hosted payment session.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tedsai/complex-orders/internal/inventory"
	"github.com/tedsai/complex-orders/internal/notify"
	"github.com/tedsai/complex-orders/internal/orders"
	"github.com/tedsai/complex-orders/internal/payments"
)

type CartItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Category  string `json:"category,omitempty"`
}

type Request struct {
	Items      []CartItem      `json:"items"`
	CustomerID string          `json:"customerId,omitempty"`
	Customer   orders.Customer `json:"customer"`
	Shipping   orders.Address  `json:"shippingAddress"`
	Gateway    orders.Gateway  `json:"paymentMethod,omitempty"`
	PromoCode  string          `json:"promoCode,omitempty"`

	// IdempotencyKey comes from the Idempotency-Key header.
	IdempotencyKey string `json:"-"`
}

type Result struct {
	OrderID     string `json:"orderId"`
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId"`
	Total       int64  `json:"total"`
	Replayed    bool   `json:"replayed,omitempty"`
}

// Idempotency remembers results per client key.
type Idempotency interface {
	Load(ctx context.Context, key string, out any) (bool, error)
	Save(ctx context.Context, key string, v any) error
}

type StatusCache interface {
	Put(ctx context.Context, o *orders.Order) error
}

type Service struct {
	Store    orders.Store
	Gateways map[orders.Gateway]payments.CheckoutGateway
	Notifier notify.Notifier
	Idem     Idempotency // optional
	Cache    StatusCache // optional

	Pricing   orders.Pricing
	Promo     map[string]decimal.Decimal
	Trackable map[string]bool
	Currency  string
	BaseURL   string

	GatewayTimeout time.Duration
	TxTimeout      time.Duration
	Log            *slog.Logger

	Now   func() time.Time
	NewID func() string
}

// Checkout prices the cart, opens a payment session and, in one store
// transaction, reserves trackable stock and inserts the pending order. When
// the transaction fails the session is expired and no URL is returned.
func (s *Service) Checkout(ctx context.Context, req Request) (Result, error) {
	gw, items, discount, err := s.validate(req)
	if err != nil {
		return Result{}, err
	}
	log := s.logger().With(slog.String("payment_method", string(gw)))

	if s.Idem != nil && req.IdempotencyKey != "" {
		var prev Result
		ok, err := s.Idem.Load(ctx, req.IdempotencyKey, &prev)
		if err != nil {
			log.WarnContext(ctx, "idempotency lookup failed", slog.Any("err", err))
		} else if ok {
			prev.Replayed = true
			return prev, nil
		}
	}

	totals, err := orders.ComputeTotals(items, s.Pricing, discount)
	if err != nil {
		return Result{}, err
	}
	stock, err := s.stockBatch(items)
	if err != nil {
		return Result{}, err
	}

	orderID := s.newID()
	now := s.now()
	customerID := req.CustomerID
	if customerID == "" {
		customerID = orders.AnonymousCustomer
	}

	gctx, cancel := bound(ctx, s.GatewayTimeout)
	sess, err := s.Gateways[gw].CreateSession(gctx, payments.SessionRequest{
		OrderID:    orderID,
		Currency:   s.Currency,
		Items:      items,
		Totals:     totals,
		Customer:   req.Customer,
		SuccessURL: s.BaseURL + "/checkout/success?order=" + orderID,
		CancelURL:  s.BaseURL + "/checkout/cancel?order=" + orderID,
	})
	cancel()
	if err != nil {
		log.ErrorContext(ctx, "create checkout session", slog.String("order_id", orderID), slog.Any("err", err))
		if !errors.Is(err, orders.ErrGateway) {
			err = fmt.Errorf("%w: %w", orders.ErrGateway, err)
		}
		return Result{}, err
	}

	o := &orders.Order{
		ID:            orderID,
		SessionID:     sess.ID,
		Gateway:       gw,
		CustomerID:    customerID,
		Customer:      req.Customer,
		Shipping:      req.Shipping,
		Items:         items,
		Currency:      s.Currency,
		Totals:        totals,
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tctx, cancel := bound(ctx, s.TxTimeout)
	var reserved int
	err = s.Store.RunTx(tctx, func(ctx context.Context, tx orders.Tx) error {
		n, err := inventory.ReserveTrackedTx(ctx, tx, stock, orders.TrackedCategories(s.Trackable))
		if err != nil {
			return err
		}
		reserved = n
		return tx.InsertOrder(ctx, o)
	})
	cancel()
	if err != nil {
		s.abandonSession(ctx, gw, sess.ID, orderID, err)
		return Result{}, err
	}

	log.InfoContext(ctx, "order created",
		slog.String("order_id", orderID),
		slog.String("session_id", sess.ID),
		slog.Int64("total", totals.Total),
		slog.Int("reserved_products", reserved))

	if s.Cache != nil {
		if err := s.Cache.Put(ctx, o); err != nil {
			log.WarnContext(ctx, "cache order status", slog.String("order_id", orderID), slog.Any("err", err))
		}
	}
	if s.Notifier != nil {
		s.Notifier.Dispatch(ctx, orders.EventOrderCreated, orderID, orders.NewOrderEventPayload(o))
	}

	res := Result{OrderID: orderID, CheckoutURL: sess.URL, SessionID: sess.ID, Total: totals.Total}
	if s.Idem != nil && req.IdempotencyKey != "" {
		if err := s.Idem.Save(ctx, req.IdempotencyKey, res); err != nil {
			log.WarnContext(ctx, "save idempotency key", slog.Any("err", err))
		}
	}
	return res, nil
}

// abandonSession voids a session whose order was never stored so the customer
// cannot pay for it.
func (s *Service) abandonSession(ctx context.Context, gw orders.Gateway, sessionID, orderID string, cause error) {
	log := s.logger()
	log.WarnContext(ctx, "checkout rolled back",
		slog.String("order_id", orderID),
		slog.String("session_id", sessionID),
		slog.Any("err", cause))

	gctx, cancel := bound(context.WithoutCancel(ctx), s.GatewayTimeout)
	defer cancel()
	if err := s.Gateways[gw].ExpireSession(gctx, sessionID); err != nil {
		log.ErrorContext(ctx, "expire orphaned session",
			slog.String("session_id", sessionID), slog.Any("err", err))
	}
}

func (s *Service) validate(req Request) (orders.Gateway, []orders.LineItem, decimal.Decimal, error) {
	gw := req.Gateway
	if gw == "" {
		gw = orders.GatewayCard
	}
	if _, ok := s.Gateways[gw]; !ok {
		return "", nil, decimal.Zero, fmt.Errorf("%w: unsupported payment method %q", orders.ErrValidation, gw)
	}
	if len(req.Items) == 0 {
		return "", nil, decimal.Zero, fmt.Errorf("%w: cart is empty", orders.ErrValidation)
	}

	items := make([]orders.LineItem, 0, len(req.Items))
	for i, it := range req.Items {
		switch {
		case it.ProductID == "":
			return "", nil, decimal.Zero, fmt.Errorf("%w: item %d: productId is required", orders.ErrValidation, i)
		case it.Quantity <= 0 || it.Quantity > orders.MaxQuantity:
			return "", nil, decimal.Zero, fmt.Errorf("%w: item %d: quantity must be between 1 and %d", orders.ErrValidation, i, orders.MaxQuantity)
		case it.Price < 0 || it.Price > orders.MaxAmount:
			return "", nil, decimal.Zero, fmt.Errorf("%w: item %d: price out of range", orders.ErrValidation, i)
		}
		items = append(items, orders.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.Price,
			Quantity:  it.Quantity,
			Category:  it.Category,
		})
	}

	discount := decimal.Zero
	if code := strings.ToUpper(strings.TrimSpace(req.PromoCode)); code != "" {
		pct, ok := s.Promo[code]
		if !ok {
			return "", nil, decimal.Zero, fmt.Errorf("%w: unknown promo code %q", orders.ErrValidation, req.PromoCode)
		}
		discount = pct
	}
	return gw, items, discount, nil
}

// stockBatch covers every line; the inventory documents decide which of them
// are stock managed.
func (s *Service) stockBatch(items []orders.LineItem) ([]orders.StockRequest, error) {
	return inventory.Merge(orders.StockRequests(items))
}

func bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}
