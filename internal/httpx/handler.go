package httpx

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/tedsai/complex-orders/internal/checkout"
	"github.com/tedsai/complex-orders/internal/inventory"
	"github.com/tedsai/complex-orders/internal/orders"
	"github.com/tedsai/complex-orders/internal/payments"
	"github.com/tedsai/complex-orders/internal/reconcile"
	"github.com/tedsai/complex-orders/internal/redisx"
)

const maxWebhookBody = 64 << 10

type StockLister interface {
	ListInventory(ctx context.Context) ([]orders.InventoryItem, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
	Put(ctx context.Context, o *orders.Order) error
}

type Handler struct {
	Checkout  *checkout.Service
	Inventory *inventory.Service
	Stock     StockLister
	Card      *reconcile.Card
	CardGW    payments.CardGateway
	Momo      *reconcile.Momo
	Store     orders.Store
	Status    StatusCache // optional
	Log       *slog.Logger
}

func (h *Handler) Register(r *chi.Mux) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", h.checkout)

		r.Get("/inventory", h.listStock)
		r.Post("/inventory/reserve", h.reserve)
		r.Post("/inventory/release", h.release)

		r.Post("/webhooks/stripe", h.stripeWebhook)
		r.Post("/webhooks/flutterwave", h.flutterwaveWebhook)

		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getStatus)
		r.Post("/orders/{id}/verify", h.verifyOrder)
	})
}

func (h *Handler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}
