package security

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

const CorrelationIDHeader = "X-Correlation-ID"

// maxCorrelationIDLen bounds caller-supplied ids before they reach logs.
const maxCorrelationIDLen = 128

type correlationIDKey struct{}

// CorrelationID tags each request with the caller's X-Correlation-ID, or a
// fresh uuid when it is missing or unusable, and echoes it on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := NormalizeCorrelationID(r.Header.Get(CorrelationIDHeader))
		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), cid)))
	})
}

// NormalizeCorrelationID returns cid if it is a short printable ASCII token,
// otherwise a new uuid.
func NormalizeCorrelationID(cid string) string {
	if cid == "" || len(cid) > maxCorrelationIDLen {
		return uuid.NewString()
	}
	for i := 0; i < len(cid); i++ {
		if c := cid[i]; c <= ' ' || c > '~' {
			return uuid.NewString()
		}
	}
	return cid
}

func WithCorrelationID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, cid)
}

func CorrelationIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return s
	}
	return ""
}

// CorrelationAttr is the log attribute for ctx's correlation id.
func CorrelationAttr(ctx context.Context) slog.Attr {
	return slog.String("correlation_id", CorrelationIDFromContext(ctx))
}
