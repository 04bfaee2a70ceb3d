// Package memory is an in-process ledger.Store. Transactions are serialized by
// a single mutex and rolled back with an undo log.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/example/expense-ledger/internal/ledger"
)

// FaultInjector is consulted before every write inside a transaction. A
// non-nil error aborts the transaction at that point.
type FaultInjector func(op string) error

// Option configures a Store.
type Option func(*Store)

// WithFaultInjector installs f on every transactional write.
func WithFaultInjector(f FaultInjector) Option {
	return func(s *Store) { s.fault = f }
}

// Store keeps accounts and entries in maps guarded by mu.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]ledger.Account
	entries  map[string]ledger.Entry
	fault    FaultInjector
}

var _ ledger.Store = (*Store)(nil)

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		accounts: make(map[string]ledger.Account),
		entries:  make(map[string]ledger.Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinTx runs fn with the store locked. On any error every write made by
// fn is undone in reverse order.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return ledger.Aborted(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return ledger.Aborted(err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Account(ctx context.Context, id string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account(id)
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountByEmail(email)
}

func (s *Store) ListEntries(ctx context.Context, ownerID string, offset, limit int) ([]ledger.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.ownedBy(ownerID)
	sortEntries(all)
	return window(all, offset, limit), len(all), nil
}

func (s *Store) EntriesBetween(ctx context.Context, ownerID string, from, to ledger.Date) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	for _, e := range s.ownedBy(ownerID) {
		if !from.IsZero() && e.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.OccurredAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) ListMembers(ctx context.Context, parentID string, offset, limit int) ([]ledger.Account, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var members []ledger.Account
	for _, a := range s.accounts {
		if a.ParentID == parentID {
			members = append(members, a)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.After(members[j].CreatedAt)
		}
		return members[i].ID > members[j].ID
	})
	return window(members, offset, limit), len(members), nil
}

func (s *Store) Accounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) account(id string) (ledger.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: account %s", ledger.ErrNotFound, id)
	}
	return a, nil
}

func (s *Store) accountByEmail(email string) (ledger.Account, error) {
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			return a, nil
		}
	}
	return ledger.Account{}, fmt.Errorf("%w: account with email %s", ledger.ErrNotFound, email)
}

func (s *Store) ownedBy(ownerID string) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range s.entries {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out
}

// memTx is only used while Store.mu is held for writing.
type memTx struct {
	s    *Store
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) check(op string) error {
	if tx.s.fault == nil {
		return nil
	}
	if err := tx.s.fault(op); err != nil {
		return ledger.Aborted(fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

func (tx *memTx) Account(ctx context.Context, id string) (ledger.Account, error) {
	return tx.s.account(id)
}

func (tx *memTx) AccountByEmail(ctx context.Context, email string) (ledger.Account, error) {
	return tx.s.accountByEmail(email)
}

func (tx *memTx) InsertAccount(ctx context.Context, a ledger.Account) error {
	if err := tx.check("insert_account"); err != nil {
		return err
	}
	if _, exists := tx.s.accounts[a.ID]; exists {
		return fmt.Errorf("%w: account %s already exists", ledger.ErrValidation, a.ID)
	}
	if _, err := tx.s.accountByEmail(a.Email); err == nil {
		return fmt.Errorf("%w: email %s already registered", ledger.ErrValidation, a.Email)
	}
	tx.s.accounts[a.ID] = a
	tx.undo = append(tx.undo, func() { delete(tx.s.accounts, a.ID) })
	return nil
}

func (tx *memTx) ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (ledger.Account, error) {
	if err := tx.check("apply_delta"); err != nil {
		return ledger.Account{}, err
	}
	prev, err := tx.s.account(id)
	if err != nil {
		return ledger.Account{}, err
	}
	next := prev
	next.NetBalance = prev.NetBalance.Add(delta)
	tx.s.accounts[id] = next
	tx.undo = append(tx.undo, func() { tx.s.accounts[id] = prev })
	return next, nil
}

func (tx *memTx) DeleteAccount(ctx context.Context, id string) error {
	if err := tx.check("delete_account"); err != nil {
		return err
	}
	prev, err := tx.s.account(id)
	if err != nil {
		return err
	}
	delete(tx.s.accounts, id)
	tx.undo = append(tx.undo, func() { tx.s.accounts[id] = prev })
	return nil
}

func (tx *memTx) Entry(ctx context.Context, id string) (ledger.Entry, error) {
	e, ok := tx.s.entries[id]
	if !ok {
		return ledger.Entry{}, fmt.Errorf("%w: entry %s", ledger.ErrNotFound, id)
	}
	return e, nil
}

func (tx *memTx) InsertEntry(ctx context.Context, e ledger.Entry) error {
	if err := tx.check("insert_entry"); err != nil {
		return err
	}
	if _, err := tx.s.account(e.OwnerID); err != nil {
		return err
	}
	if _, exists := tx.s.entries[e.ID]; exists {
		return fmt.Errorf("%w: entry %s already exists", ledger.ErrValidation, e.ID)
	}
	tx.s.entries[e.ID] = e
	tx.undo = append(tx.undo, func() { delete(tx.s.entries, e.ID) })
	return nil
}

func (tx *memTx) UpdateEntry(ctx context.Context, e ledger.Entry) error {
	if err := tx.check("update_entry"); err != nil {
		return err
	}
	prev, err := tx.Entry(ctx, e.ID)
	if err != nil {
		return err
	}
	tx.s.entries[e.ID] = e
	tx.undo = append(tx.undo, func() { tx.s.entries[e.ID] = prev })
	return nil
}

func (tx *memTx) DeleteEntry(ctx context.Context, id string) error {
	if err := tx.check("delete_entry"); err != nil {
		return err
	}
	prev, err := tx.Entry(ctx, id)
	if err != nil {
		return err
	}
	delete(tx.s.entries, id)
	tx.undo = append(tx.undo, func() { tx.s.entries[id] = prev })
	return nil
}

func (tx *memTx) DeleteEntriesByOwner(ctx context.Context, ownerID string) (int, error) {
	if err := tx.check("delete_entries_by_owner"); err != nil {
		return 0, err
	}
	removed := tx.s.ownedBy(ownerID)
	for _, e := range removed {
		delete(tx.s.entries, e.ID)
	}
	tx.undo = append(tx.undo, func() {
		for _, e := range removed {
			tx.s.entries[e.ID] = e
		}
	})
	return len(removed), nil
}

func sortEntries(entries []ledger.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.OccurredAt != b.OccurredAt {
			return a.OccurredAt.After(b.OccurredAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
