package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/example/expense-ledger/internal/auth"
	"github.com/example/expense-ledger/internal/security"
	"github.com/example/expense-ledger/pkg/audit"
)

// Auditor receives one line per mutating request, successful or not.
type Auditor interface {
	Append(ctx context.Context, payload string) (*audit.LogEntry, error)
}

// AuditMiddleware records who attempted which write. Committed mutations are
// recorded separately by the engine, on the same chain when the engine and
// the router share a ChainLogger.
func AuditMiddleware(a Auditor, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			actor := "anonymous"
			if id, ok := auth.IdentityFromContext(r.Context()); ok {
				actor = id.AccountID
			}
			payload := fmt.Sprintf("cid=%s actor=%s method=%s path=%s status=%d",
				security.CorrelationIDFromContext(r.Context()), actor, r.Method, r.URL.Path, sw.status)
			if _, err := a.Append(r.Context(), payload); err != nil {
				logger.ErrorContext(r.Context(), "audit append failed",
					security.CorrelationAttr(r.Context()), "error", err)
			}
		})
	}
}
