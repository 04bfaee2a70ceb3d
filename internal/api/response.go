package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/expense-ledger/internal/ledger"
	"github.com/example/expense-ledger/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a ledger error to its HTTP status and error code.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_amount")
	case errors.Is(err, ledger.ErrValidation):
		security.WriteJSONError(w, r, http.StatusBadRequest, "validation_error")
	case errors.Is(err, ledger.ErrNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, ledger.ErrUnauthorized):
		security.WriteJSONError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, ledger.ErrTransactionAborted):
		logger.Warn("transaction aborted",
			security.CorrelationAttr(r.Context()),
			"error", err,
		)
		security.WriteRetryableError(w, r, http.StatusConflict, "transaction_aborted")
	default:
		logger.Error("request failed",
			security.CorrelationAttr(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}
