package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tedsai/complex-orders/internal/checkout"
	"github.com/tedsai/complex-orders/internal/orders"
)

type stockReq struct {
	Items []orders.StockRequest `json:"items"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	res, err := h.Checkout.Checkout(ctx, req)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req stockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Inventory.Reserve(ctx, req.Items); err != nil {
		code, msg := statusFor(err)
		if code >= 500 {
			writeError(w, r, h.logger(), err)
			return
		}
		writeJSON(w, code, map[string]any{"success": false, "error": msg})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	var req stockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Inventory.Release(ctx, req.Items); err != nil {
		code, msg := statusFor(err)
		if code >= 500 {
			writeError(w, r, h.logger(), err)
			return
		}
		writeJSON(w, code, map[string]any{"success": false, "error": msg})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Stock.ListInventory(ctx)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
