package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is the closed set of entry kinds. The zero value is invalid.
type Kind uint8

const (
	KindCredit Kind = iota + 1
	KindDebit
	KindAssign
)

// AssignCategory is the category every admin grant carries.
const AssignCategory = "Added by Admin"

type kindRule struct {
	name     string
	negative bool
	category string
	// forced means the category above is always used, whatever the caller sent.
	forced bool
}

// kindRules is the only place sign and category policy lives.
var kindRules = map[Kind]kindRule{
	KindCredit: {name: "credit", category: "Income", forced: true},
	KindDebit:  {name: "debit", negative: true, category: "Other"},
	KindAssign: {name: "assign", category: AssignCategory, forced: true},
}

// ParseKind maps a wire name to a Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, rule := range kindRules {
		if rule.name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrValidation, s)
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindRules[k]
	return ok
}

func (k Kind) String() string {
	if rule, ok := kindRules[k]; ok {
		return rule.name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Signed returns the contribution of amount to a balance for this kind.
func (k Kind) Signed(amount decimal.Decimal) decimal.Decimal {
	if kindRules[k].negative {
		return amount.Neg()
	}
	return amount
}

// Category resolves the category stored for an entry of this kind.
func (k Kind) Category(requested string) string {
	rule := kindRules[k]
	requested = strings.TrimSpace(requested)
	if rule.forced || requested == "" {
		return rule.category
	}
	return requested
}

// IsIncome reports whether entries of this kind count as income in summaries.
func (k Kind) IsIncome() bool {
	return k.Valid() && !kindRules[k].negative
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: invalid kind %d", ErrValidation, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
