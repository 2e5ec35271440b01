package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tedsai/complex-orders/internal/payments"
	"github.com/tedsai/complex-orders/internal/reconcile"
)

// stripeWebhook verifies the signature over the raw body before anything is
// read from it. Only a failed signature is a 400; an authentic event that
// cannot be decoded or applied is a 500 so Stripe redelivers it.
func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payload too large"})
		return
	}
	ev, err := h.CardGW.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrSignature) {
			h.logger().WarnContext(r.Context(), "stripe webhook rejected", slog.Any("err", err))
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
			return
		}
		h.logger().ErrorContext(r.Context(), "stripe webhook undecodable", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "invalid payload"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if _, err := h.Card.HandleEvent(ctx, ev); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// flutterwaveWebhook acknowledges every authentic delivery. Outcomes that
// could not be applied are picked up by the batch reconciler.
func (h *Handler) flutterwaveWebhook(w http.ResponseWriter, r *http.Request) {
	log := h.logger()
	if !h.Momo.Gateway.CheckWebhookHash(r.Header.Get("verif-hash")) {
		log.WarnContext(r.Context(), "flutterwave webhook hash mismatch", slog.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error"})
		return
	}

	var hook reconcile.MomoWebhook
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&hook); err != nil {
		log.WarnContext(r.Context(), "flutterwave webhook undecodable", slog.Any("err", err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()
	if _, err := h.Momo.HandleWebhook(ctx, hook); err != nil {
		log.ErrorContext(r.Context(), "flutterwave webhook not applied",
			slog.String("tx_ref", hook.Data.TxRef), slog.Any("err", err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
