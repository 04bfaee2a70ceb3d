package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role distinguishes admins from the members they manage.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleMember }

// Account holds the cached running balance of an account's sub-tree.
type Account struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Role       Role            `json:"role"`
	ParentID   string          `json:"parent_id,omitempty"`
	NetBalance decimal.Decimal `json:"net_balance"`
	CreatedAt  time.Time       `json:"created_at"`
}

// HasParent reports whether balance changes on a propagate to a parent.
func (a Account) HasParent() bool { return a.ParentID != "" }

// Entry is one recorded expense event. Amount is always a positive magnitude.
type Entry struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Amount     decimal.Decimal `json:"amount"`
	Kind       Kind            `json:"kind"`
	Category   string          `json:"category"`
	Details    string          `json:"details"`
	OccurredAt Date            `json:"occurred_at"`
	CreatedAt  time.Time       `json:"created_at"`
	CreatedBy  string          `json:"created_by"`
}

// Contribution is the signed amount the entry adds to its owner's balance.
func (e Entry) Contribution() decimal.Decimal {
	return e.Kind.Signed(e.Amount)
}

// Page is one window of an account's ledger.
type Page struct {
	Entries []Entry         `json:"entries"`
	Total   int             `json:"total"`
	Offset  int             `json:"offset"`
	Limit   int             `json:"limit"`
	HasMore bool            `json:"has_more"`
	Balance decimal.Decimal `json:"total_balance"`
}

// MemberSummary is an admin's view of one member.
type MemberSummary struct {
	Account
	Recent []Entry `json:"recent_entries"`
}

// MemberList is a page of members with the combined member balance.
type MemberList struct {
	Members      []MemberSummary `json:"members"`
	Total        int             `json:"total"`
	HasMore      bool            `json:"has_more"`
	TotalBalance decimal.Decimal `json:"total_user_balance"`
}

// Drift reports an account whose cached balance disagrees with its entries.
type Drift struct {
	AccountID string          `json:"account_id"`
	Cached    decimal.Decimal `json:"cached"`
	Computed  decimal.Decimal `json:"computed"`
}
