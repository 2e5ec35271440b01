package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tedsai/complex-orders/internal/orders"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Client errors carry their
// message; server-side failures get a generic one.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	code, msg := statusFor(err)
	if code >= 500 {
		log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.Int("status", code), slog.Any("err", err))
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, orders.ErrValidation),
		errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrUnknownProduct):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, orders.ErrAlreadyExists):
		return http.StatusConflict, "order already exists"
	case errors.Is(err, orders.ErrGateway):
		return http.StatusBadGateway, "payment provider unavailable, please try again"
	case errors.Is(err, orders.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable, please try again"
	}
	return http.StatusInternalServerError, "internal error"
}
