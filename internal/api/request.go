package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/example/expense-ledger/internal/ledger"
)

// amountField accepts a JSON number or a numeric string.
type amountField struct {
	raw string
	set bool
}

func (a *amountField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	a.set = true
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &a.raw)
	}
	a.raw = string(b)
	return nil
}

func (a amountField) Decimal() (decimal.Decimal, error) {
	if !a.set {
		return decimal.Decimal{}, fmt.Errorf("%w: amount is required", ledger.ErrInvalidAmount)
	}
	return ledger.ParseAmount(a.raw)
}

// optionalDate parses s, treating an empty string as the zero Date.
func optionalDate(s string) (ledger.Date, error) {
	if s == "" {
		return ledger.Date{}, nil
	}
	return ledger.ParseDate(s)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", ledger.ErrValidation, err)
	}
	return nil
}

// pageParams reads offset and limit. Missing values are left to the engine's
// defaults; malformed ones are rejected.
func pageParams(r *http.Request) (offset, limit int, err error) {
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: invalid offset %q", ledger.ErrValidation, v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("%w: invalid limit %q", ledger.ErrValidation, v)
		}
	}
	return offset, limit, nil
}

type signupRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type expenseRequest struct {
	Amount   amountField `json:"amount"`
	Type     string      `json:"type"`
	Category string      `json:"category"`
	Details  string      `json:"details"`
	Date     string      `json:"date"`
}

type assignRequest struct {
	Amount  amountField `json:"amount"`
	Details string      `json:"details"`
	Date    string      `json:"date"`
}
