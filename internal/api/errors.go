package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bikesim/market-engine/internal/limits"
	"github.com/bikesim/market-engine/internal/store"
	"github.com/bikesim/market-engine/internal/turn"
)

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrTurnClosed),
		errors.Is(err, store.ErrStaleVersion),
		errors.Is(err, turn.ErrGameClosed),
		errors.Is(err, turn.ErrInactiveParticipant):
		return http.StatusConflict
	case errors.Is(err, turn.ErrUnknownLine),
		errors.Is(err, turn.ErrDuplicateLine),
		errors.Is(err, turn.ErrInvalidGame),
		errors.Is(err, limits.ErrInvalidOffer):
		return http.StatusBadRequest
	case errors.Is(err, limits.ErrStockExceeded),
		errors.Is(err, limits.ErrLineLimitExceeded),
		errors.Is(err, limits.ErrBudgetExceeded):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and
// reported without detail.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}
