package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Reader is the read side shared by stores and transactions.
type Reader interface {
	Account(ctx context.Context, id string) (Account, error)
	AccountByEmail(ctx context.Context, email string) (Account, error)
	// ListEntries returns one page ordered by occurred_at desc, created_at desc,
	// together with the owner's total entry count.
	ListEntries(ctx context.Context, ownerID string, offset, limit int) ([]Entry, int, error)
	// EntriesBetween returns the owner's entries with from <= occurred_at <= to.
	// A zero bound is open.
	EntriesBetween(ctx context.Context, ownerID string, from, to Date) ([]Entry, error)
	ListMembers(ctx context.Context, parentID string, offset, limit int) ([]Account, int, error)
	Accounts(ctx context.Context) ([]Account, error)
}

// Tx is the write surface available inside one atomic unit.
type Tx interface {
	Account(ctx context.Context, id string) (Account, error)
	AccountByEmail(ctx context.Context, email string) (Account, error)
	InsertAccount(ctx context.Context, a Account) error
	// ApplyDelta atomically adds delta to the account's net balance.
	ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (Account, error)
	DeleteAccount(ctx context.Context, id string) error

	Entry(ctx context.Context, id string) (Entry, error)
	InsertEntry(ctx context.Context, e Entry) error
	UpdateEntry(ctx context.Context, e Entry) error
	DeleteEntry(ctx context.Context, id string) error
	DeleteEntriesByOwner(ctx context.Context, ownerID string) (int, error)
}

// Store runs fn in one transaction. Errors from fn are returned unchanged
// after rollback; store failures are wrapped with Aborted.
type Store interface {
	Reader
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Invalidator is notified of accounts whose balance changed after a commit.
type Invalidator interface {
	Invalidate(ctx context.Context, accountIDs ...string) error
}

// Auditor records committed mutations.
type Auditor interface {
	Record(ctx context.Context, ev Event) error
}

// Event describes one committed mutation.
type Event struct {
	Action    string          `json:"action"`
	ActorID   string          `json:"actor_id"`
	AccountID string          `json:"account_id"`
	EntryID   string          `json:"entry_id,omitempty"`
	Delta     decimal.Decimal `json:"delta"`
}
