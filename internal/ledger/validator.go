package ledger

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmountScale is the number of fractional digits an amount may carry.
const MaxAmountScale = 8

// MaxAmount is the largest magnitude a single entry may carry.
var MaxAmount = decimal.RequireFromString("999999999999.99999999")

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// ParseAmount parses a caller supplied amount. Non-numeric, non-positive,
// over-precise and oversized values fail with ErrInvalidAmount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, raw)
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Decimal{}, err
	}
	return amount, nil
}

// ValidateAmount checks an already parsed amount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: amount exceeds maximum limit", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(MaxAmountScale)) {
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalidAmount, MaxAmountScale)
	}
	return nil
}

// ValidateEmail checks the loose address shape accepted at registration.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return invalid("invalid email address %q", email)
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", field)
	}
	return nil
}

// Reconcile recomputes every account's balance from its entries and the
// entries of its members, and returns the accounts whose cached balance
// disagrees.
func Reconcile(ctx context.Context, r Reader) ([]Drift, error) {
	accounts, err := r.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	own := make(map[string]decimal.Decimal, len(accounts))
	for _, a := range accounts {
		entries, err := r.EntriesBetween(ctx, a.ID, Date{}, Date{})
		if err != nil {
			return nil, fmt.Errorf("failed to load entries for %s: %w", a.ID, err)
		}
		sum := decimal.Zero
		for _, e := range entries {
			sum = sum.Add(e.Contribution())
		}
		own[a.ID] = sum
	}

	expected := make(map[string]decimal.Decimal, len(accounts))
	for _, a := range accounts {
		expected[a.ID] = expected[a.ID].Add(own[a.ID])
		if a.HasParent() {
			expected[a.ParentID] = expected[a.ParentID].Add(own[a.ID])
		}
	}

	var drift []Drift
	for _, a := range accounts {
		if !a.NetBalance.Equal(expected[a.ID]) {
			drift = append(drift, Drift{AccountID: a.ID, Cached: a.NetBalance, Computed: expected[a.ID]})
		}
	}
	return drift, nil
}
