package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tedsai/complex-orders/internal/orders"
	"github.com/tedsai/complex-orders/internal/redisx"
)

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := orders.Get(ctx, h.Store, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus is the cheap poll path: redis first, the store on a miss.
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Status != nil {
		if s, ok, err := h.Status.Get(ctx, orderID); err == nil && ok {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	o, err := orders.Get(ctx, h.Store, orderID)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	if h.Status != nil {
		if err := h.Status.Put(ctx, o); err != nil {
			h.logger().WarnContext(ctx, "cache order status", slog.String("order_id", o.ID), slog.Any("err", err))
		}
	}
	writeJSON(w, http.StatusOK, redisx.CachedStatus{
		OrderID: o.ID, Status: o.Status, PaymentStatus: o.PaymentStatus,
		Reason: o.StatusReason, UpdatedAt: o.UpdatedAt,
	})
}

func (h *Handler) verifyOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	o, outcome, err := h.Momo.VerifyOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o, "outcome": outcome})
}
