package security

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`
}

func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeError(w, r, status, ErrorResponse{Error: code})
}

// WriteRetryableError is WriteJSONError for failures the client may retry
// unchanged, such as an aborted transaction or an exhausted rate limit.
func WriteRetryableError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeError(w, r, status, ErrorResponse{Error: code, Retryable: true})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, resp ErrorResponse) {
	cid := CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(CorrelationIDHeader, cid)
	}
	resp.CorrelationID = cid

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
