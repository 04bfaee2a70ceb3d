package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	// RecentEntries is how many entries ListMembers attaches to each member.
	RecentEntries = 10
)

// Engine is the only writer of entries and balances. Every mutation loads
// its records, computes one signed delta, applies it to the owner and the
// owner's parent, and mutates the entry inside a single store transaction.
type Engine struct {
	store       Store
	logger      *slog.Logger
	invalidator Invalidator
	auditor     Auditor
	now         func() time.Time
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithInvalidator registers the hook called after every committed write.
func WithInvalidator(inv Invalidator) Option {
	return func(e *Engine) { e.invalidator = inv }
}

func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.auditor = a }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine creates an engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateEntryRequest files a credit or debit against OwnerID.
type CreateEntryRequest struct {
	OwnerID    string          `json:"owner_id"`
	Amount     decimal.Decimal `json:"amount"`
	Kind       Kind            `json:"kind"`
	Category   string          `json:"category"`
	Details    string          `json:"details"`
	OccurredAt Date            `json:"occurred_at"`
	ActorID    string          `json:"-"`
}

// CreateEntry inserts an entry and applies its signed amount to the owner
// and, when present, the owner's parent.
func (e *Engine) CreateEntry(ctx context.Context, req CreateEntryRequest) (Entry, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return Entry{}, err
	}
	if !req.Kind.Valid() {
		return Entry{}, invalid("kind is required")
	}
	if req.Kind == KindAssign {
		return Entry{}, invalid("assign entries are created by AssignBalance")
	}
	if req.OccurredAt.IsZero() {
		return Entry{}, invalid("occurred_at is required")
	}
	if err := required("owner_id", req.OwnerID); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:         e.newID(),
		OwnerID:    req.OwnerID,
		Amount:     req.Amount,
		Kind:       req.Kind,
		Category:   req.Kind.Category(req.Category),
		Details:    strings.TrimSpace(req.Details),
		OccurredAt: req.OccurredAt,
		CreatedAt:  e.now().UTC(),
		CreatedBy:  req.ActorID,
	}

	var owner Account
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		owner, err = tx.Account(ctx, req.OwnerID)
		if err != nil {
			return err
		}
		if err := authorize(owner, req.ActorID); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
		return propagate(ctx, tx, owner, entry.Contribution())
	})
	if err != nil {
		return Entry{}, err
	}

	e.committed(ctx, Event{
		Action:    "entry.create",
		ActorID:   req.ActorID,
		AccountID: owner.ID,
		EntryID:   entry.ID,
		Delta:     entry.Contribution(),
	}, owner)
	return entry, nil
}

// EditEntryRequest updates an entry. Empty Category, Details and OccurredAt
// keep the stored values. A non-empty OwnerID must match the entry's owner.
type EditEntryRequest struct {
	EntryID    string          `json:"entry_id"`
	OwnerID    string          `json:"owner_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Category   string          `json:"category"`
	Details    string          `json:"details"`
	OccurredAt Date            `json:"occurred_at"`
	ActorID    string          `json:"-"`
}

// EditEntry rewrites an entry and applies the signed difference between the
// new and old amount. An unchanged amount skips the balance writes.
func (e *Engine) EditEntry(ctx context.Context, req EditEntryRequest) (Entry, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return Entry{}, err
	}
	if err := required("entry_id", req.EntryID); err != nil {
		return Entry{}, err
	}

	var (
		updated Entry
		owner   Account
		delta   decimal.Decimal
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := loadEntry(ctx, tx, req.EntryID, req.OwnerID)
		if err != nil {
			return err
		}
		owner, err = tx.Account(ctx, current.OwnerID)
		if err != nil {
			return err
		}
		if err := authorize(owner, req.ActorID); err != nil {
			return err
		}

		updated = current
		updated.Amount = req.Amount
		if strings.TrimSpace(req.Category) != "" {
			updated.Category = current.Kind.Category(req.Category)
		}
		if d := strings.TrimSpace(req.Details); d != "" {
			updated.Details = d
		}
		if !req.OccurredAt.IsZero() {
			updated.OccurredAt = req.OccurredAt
		}
		if err := tx.UpdateEntry(ctx, updated); err != nil {
			return fmt.Errorf("failed to update entry: %w", err)
		}

		delta = current.Kind.Signed(req.Amount.Sub(current.Amount))
		return propagate(ctx, tx, owner, delta)
	})
	if err != nil {
		return Entry{}, err
	}

	e.committed(ctx, Event{
		Action:    "entry.edit",
		ActorID:   req.ActorID,
		AccountID: owner.ID,
		EntryID:   updated.ID,
		Delta:     delta,
	}, owner)
	return updated, nil
}

// DeleteEntryRequest removes an entry. A non-empty OwnerID must match.
type DeleteEntryRequest struct {
	EntryID string `json:"entry_id"`
	OwnerID string `json:"owner_id,omitempty"`
	ActorID string `json:"-"`
}

// DeleteEntry reverses the entry's full contribution and removes it.
func (e *Engine) DeleteEntry(ctx context.Context, req DeleteEntryRequest) error {
	if err := required("entry_id", req.EntryID); err != nil {
		return err
	}

	var (
		owner Account
		delta decimal.Decimal
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := loadEntry(ctx, tx, req.EntryID, req.OwnerID)
		if err != nil {
			return err
		}
		owner, err = tx.Account(ctx, current.OwnerID)
		if err != nil {
			return err
		}
		if err := authorize(owner, req.ActorID); err != nil {
			return err
		}
		delta = current.Contribution().Neg()
		if err := propagate(ctx, tx, owner, delta); err != nil {
			return err
		}
		if err := tx.DeleteEntry(ctx, current.ID); err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.committed(ctx, Event{
		Action:    "entry.delete",
		ActorID:   req.ActorID,
		AccountID: owner.ID,
		EntryID:   req.EntryID,
		Delta:     delta,
	}, owner)
	return nil
}

// AssignRequest is an admin grant to one of its members.
type AssignRequest struct {
	TargetID   string          `json:"target_id"`
	Amount     decimal.Decimal `json:"amount"`
	Details    string          `json:"details"`
	OccurredAt Date            `json:"occurred_at"`
	ActorID    string          `json:"-"`
}

// AssignBalance records an assign entry on the target member. Both the
// member and the granting admin receive +Amount.
func (e *Engine) AssignBalance(ctx context.Context, req AssignRequest) (Entry, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return Entry{}, err
	}
	if err := required("details", req.Details); err != nil {
		return Entry{}, err
	}
	if req.OccurredAt.IsZero() {
		return Entry{}, invalid("occurred_at is required")
	}
	if err := required("target_id", req.TargetID); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:         e.newID(),
		OwnerID:    req.TargetID,
		Amount:     req.Amount,
		Kind:       KindAssign,
		Category:   KindAssign.Category(""),
		Details:    strings.TrimSpace(req.Details),
		OccurredAt: req.OccurredAt,
		CreatedAt:  e.now().UTC(),
		CreatedBy:  req.ActorID,
	}

	var target Account
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		target, err = tx.Account(ctx, req.TargetID)
		if err != nil {
			return err
		}
		if req.ActorID == "" || target.ParentID != req.ActorID {
			return fmt.Errorf("%w: %s does not manage %s", ErrUnauthorized, req.ActorID, target.ID)
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
		return propagate(ctx, tx, target, entry.Contribution())
	})
	if err != nil {
		return Entry{}, err
	}

	e.committed(ctx, Event{
		Action:    "balance.assign",
		ActorID:   req.ActorID,
		AccountID: target.ID,
		EntryID:   entry.ID,
		Delta:     entry.Contribution(),
	}, target)
	return entry, nil
}

// OpenAccountRequest registers an admin (no parent) or a member of ParentID.
// Members must be opened by their parent.
type OpenAccountRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	ParentID string `json:"parent_id,omitempty"`
	ActorID  string `json:"-"`
}

// OpenAccount creates an account with a zero balance.
func (e *Engine) OpenAccount(ctx context.Context, req OpenAccountRequest) (Account, error) {
	if err := required("name", req.Name); err != nil {
		return Account{}, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := ValidateEmail(email); err != nil {
		return Account{}, err
	}
	if !req.Role.Valid() {
		return Account{}, invalid("invalid role %q", req.Role)
	}
	switch {
	case req.Role == RoleAdmin && req.ParentID != "":
		return Account{}, invalid("an admin cannot have a parent")
	case req.Role == RoleMember && req.ParentID == "":
		return Account{}, invalid("a member requires a parent")
	case req.Role == RoleMember && req.ActorID != req.ParentID:
		return Account{}, fmt.Errorf("%w: members are registered by their admin", ErrUnauthorized)
	}

	acct := Account{
		ID:         e.newID(),
		Name:       strings.TrimSpace(req.Name),
		Email:      email,
		Role:       req.Role,
		ParentID:   req.ParentID,
		NetBalance: decimal.Zero,
		CreatedAt:  e.now().UTC(),
	}

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.AccountByEmail(ctx, email); err == nil {
			return invalid("email %s is already registered", email)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if acct.HasParent() {
			parent, err := tx.Account(ctx, acct.ParentID)
			if err != nil {
				return err
			}
			if parent.Role != RoleAdmin {
				return invalid("parent %s is not an admin", parent.ID)
			}
		}
		if err := tx.InsertAccount(ctx, acct); err != nil {
			return fmt.Errorf("failed to insert account: %w", err)
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}

	e.committed(ctx, Event{
		Action:    "account.open",
		ActorID:   req.ActorID,
		AccountID: acct.ID,
		Delta:     decimal.Zero,
	}, acct)
	return acct, nil
}

// DeleteAccount removes a member, its entries and its contribution to the
// parent's balance. Only the parent may delete a member.
func (e *Engine) DeleteAccount(ctx context.Context, accountID, actorID string) error {
	if err := required("account_id", accountID); err != nil {
		return err
	}

	var acct Account
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		acct, err = tx.Account(ctx, accountID)
		if err != nil {
			return err
		}
		if !acct.HasParent() || acct.ParentID != actorID {
			return fmt.Errorf("%w: %s cannot delete %s", ErrUnauthorized, actorID, acct.ID)
		}
		if _, err := tx.DeleteEntriesByOwner(ctx, acct.ID); err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
		if !acct.NetBalance.IsZero() {
			if _, err := tx.ApplyDelta(ctx, acct.ParentID, acct.NetBalance.Neg()); err != nil {
				return fmt.Errorf("failed to apply delta to %s: %w", acct.ParentID, err)
			}
		}
		if err := tx.DeleteAccount(ctx, acct.ID); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.committed(ctx, Event{
		Action:    "account.delete",
		ActorID:   actorID,
		AccountID: acct.ID,
		Delta:     acct.NetBalance.Neg(),
	}, acct)
	return nil
}

// Account returns an account by id.
func (e *Engine) Account(ctx context.Context, id string) (Account, error) {
	return e.store.Account(ctx, id)
}

// Authorize loads accountID and checks that actorID is the account itself or
// its parent.
func (e *Engine) Authorize(ctx context.Context, actorID, accountID string) (Account, error) {
	acct, err := e.store.Account(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if err := authorize(acct, actorID); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// ReadLedger returns one page of the owner's entries, newest first.
func (e *Engine) ReadLedger(ctx context.Context, ownerID string, offset, limit int) (Page, error) {
	offset, limit = normalizePage(offset, limit)

	owner, err := e.store.Account(ctx, ownerID)
	if err != nil {
		return Page{}, err
	}
	entries, total, err := e.store.ListEntries(ctx, ownerID, offset, limit)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list entries: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Page{
		Entries: entries,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: offset+len(entries) < total,
		Balance: owner.NetBalance,
	}, nil
}

// ListMembers returns an admin's members, newest first, each with its most
// recent entries.
func (e *Engine) ListMembers(ctx context.Context, adminID string, offset, limit int) (MemberList, error) {
	offset, limit = normalizePage(offset, limit)

	admin, err := e.store.Account(ctx, adminID)
	if err != nil {
		return MemberList{}, err
	}
	if admin.Role != RoleAdmin {
		return MemberList{}, fmt.Errorf("%w: %s is not an admin", ErrUnauthorized, adminID)
	}

	members, total, err := e.store.ListMembers(ctx, adminID, offset, limit)
	if err != nil {
		return MemberList{}, fmt.Errorf("failed to list members: %w", err)
	}

	out := MemberList{
		Members:      make([]MemberSummary, 0, len(members)),
		Total:        total,
		HasMore:      offset+len(members) < total,
		TotalBalance: admin.NetBalance,
	}
	for _, m := range members {
		recent, _, err := e.store.ListEntries(ctx, m.ID, 0, RecentEntries)
		if err != nil {
			return MemberList{}, fmt.Errorf("failed to list entries for %s: %w", m.ID, err)
		}
		if recent == nil {
			recent = []Entry{}
		}
		out.Members = append(out.Members, MemberSummary{Account: m, Recent: recent})
	}
	return out, nil
}

// Reconcile reports every account whose cached balance drifted from its entries.
func (e *Engine) Reconcile(ctx context.Context) ([]Drift, error) {
	drift, err := Reconcile(ctx, e.store)
	if err != nil {
		return nil, err
	}
	for _, d := range drift {
		e.logger.Warn("balance drift detected",
			"account_id", d.AccountID,
			"cached", d.Cached.String(),
			"computed", d.Computed.String(),
		)
	}
	return drift, nil
}

// committed runs the post-commit hooks. Their failures never undo a commit.
func (e *Engine) committed(ctx context.Context, ev Event, acct Account) {
	e.logger.Info("ledger mutation committed",
		"action", ev.Action,
		"actor_id", ev.ActorID,
		"account_id", ev.AccountID,
		"entry_id", ev.EntryID,
		"delta", ev.Delta.String(),
	)

	if e.invalidator != nil {
		ids := []string{acct.ID}
		if acct.HasParent() {
			ids = append(ids, acct.ParentID)
		}
		if err := e.invalidator.Invalidate(ctx, ids...); err != nil {
			e.logger.Warn("stats invalidation failed", "account_ids", ids, "error", err)
		}
	}
	if e.auditor != nil {
		if err := e.auditor.Record(ctx, ev); err != nil {
			e.logger.Error("audit record failed", "action", ev.Action, "error", err)
		}
	}
}

// propagate applies delta to owner and to owner's parent. A zero delta is a no-op.
func propagate(ctx context.Context, tx Tx, owner Account, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	if _, err := tx.ApplyDelta(ctx, owner.ID, delta); err != nil {
		return fmt.Errorf("failed to apply delta to %s: %w", owner.ID, err)
	}
	if owner.HasParent() {
		if _, err := tx.ApplyDelta(ctx, owner.ParentID, delta); err != nil {
			return fmt.Errorf("failed to apply delta to %s: %w", owner.ParentID, err)
		}
	}
	return nil
}

func loadEntry(ctx context.Context, tx Tx, entryID, ownerID string) (Entry, error) {
	entry, err := tx.Entry(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if ownerID != "" && entry.OwnerID != ownerID {
		return Entry{}, notFound("entry", entryID)
	}
	return entry, nil
}

func authorize(acct Account, actorID string) error {
	if actorID != "" && (actorID == acct.ID || actorID == acct.ParentID) {
		return nil
	}
	return fmt.Errorf("%w: %s cannot act on %s", ErrUnauthorized, actorID, acct.ID)
}

func normalizePage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return offset, limit
}
