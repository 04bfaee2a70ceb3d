package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/expense-ledger/internal/ledger"
	"github.com/example/expense-ledger/internal/storage/memory"
)

type invalidationSpy struct {
	mu  sync.Mutex
	ids []string
}

func (s *invalidationSpy) Invalidate(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, ids...)
	return nil
}

type auditSpy struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (s *auditSpy) Record(_ context.Context, ev ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

type fixture struct {
	store  *memory.Store
	engine *ledger.Engine
	inv    *invalidationSpy
	audit  *auditSpy
	admin  ledger.Account
	member ledger.Account
}

func tickingClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Millisecond)
	}
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func newFixture(t *testing.T, opts ...memory.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(opts...),
		inv:   &invalidationSpy{},
		audit: &auditSpy{},
	}
	f.engine = ledger.NewEngine(f.store,
		ledger.WithInvalidator(f.inv),
		ledger.WithAuditor(f.audit),
		ledger.WithClock(tickingClock()),
		ledger.WithIDGenerator(sequentialIDs()),
	)

	ctx := context.Background()
	var err error
	f.admin, err = f.engine.OpenAccount(ctx, ledger.OpenAccountRequest{
		Name: "Alice", Email: "alice@example.com", Role: ledger.RoleAdmin,
	})
	require.NoError(t, err)
	f.member, err = f.engine.OpenAccount(ctx, ledger.OpenAccountRequest{
		Name: "Bob", Email: "bob@example.com", Role: ledger.RoleMember,
		ParentID: f.admin.ID, ActorID: f.admin.ID,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t *testing.T, kind ledger.Kind, amount string, on ledger.Date) ledger.Entry {
	t.Helper()
	entry, err := f.engine.CreateEntry(context.Background(), ledger.CreateEntryRequest{
		OwnerID:    f.member.ID,
		Amount:     decimal.RequireFromString(amount),
		Kind:       kind,
		Details:    "test",
		OccurredAt: on,
		ActorID:    f.member.ID,
	})
	require.NoError(t, err)
	return entry
}

func (f *fixture) requireBalance(t *testing.T, id, want string) {
	t.Helper()
	acct, err := f.store.Account(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, acct.NetBalance.Equal(decimal.RequireFromString(want)),
		"balance of %s: got %s want %s", id, acct.NetBalance, want)
}

func (f *fixture) requireConsistent(t *testing.T) {
	t.Helper()
	drift, err := f.engine.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drift)
}

var day = ledger.NewDate(2026, time.February, 10)

func TestEngine_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	credit := f.create(t, ledger.KindCredit, "30", day)
	f.requireBalance(t, f.member.ID, "30")
	f.requireBalance(t, f.admin.ID, "30")

	debit := f.create(t, ledger.KindDebit, "10", day)
	f.requireBalance(t, f.member.ID, "20")
	f.requireBalance(t, f.admin.ID, "20")

	_, err := f.engine.EditEntry(ctx, ledger.EditEntryRequest{
		EntryID: debit.ID,
		Amount:  decimal.NewFromInt(25),
		ActorID: f.member.ID,
	})
	require.NoError(t, err)
	f.requireBalance(t, f.member.ID, "5")
	f.requireBalance(t, f.admin.ID, "5")

	require.NoError(t, f.engine.DeleteEntry(ctx, ledger.DeleteEntryRequest{EntryID: credit.ID, ActorID: f.member.ID}))
	f.requireBalance(t, f.member.ID, "-25")
	f.requireBalance(t, f.admin.ID, "-25")

	f.requireConsistent(t)
}

func TestEngine_PropagationSymmetry(t *testing.T) {
	f := newFixture(t)

	debit := f.create(t, ledger.KindDebit, "50", day)
	f.requireBalance(t, f.member.ID, "-50")
	f.requireBalance(t, f.admin.ID, "-50")

	require.NoError(t, f.engine.DeleteEntry(context.Background(), ledger.DeleteEntryRequest{
		EntryID: debit.ID,
		ActorID: f.admin.ID,
	}))
	f.requireBalance(t, f.member.ID, "0")
	f.requireBalance(t, f.admin.ID, "0")
}

func TestEngine_AssignBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.engine.AssignBalance(ctx, ledger.AssignRequest{
		TargetID:   f.member.ID,
		Amount:     decimal.NewFromInt(100),
		Details:    "monthly allowance",
		OccurredAt: day,
		ActorID:    f.admin.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.KindAssign, entry.Kind)
	assert.Equal(t, ledger.AssignCategory, entry.Category)
	f.requireBalance(t, f.member.ID, "100")
	f.requireBalance(t, f.admin.ID, "100")

	t.Run("only the parent admin may assign", func(t *testing.T) {
		_, err := f.engine.AssignBalance(ctx, ledger.AssignRequest{
			TargetID:   f.member.ID,
			Amount:     decimal.NewFromInt(5),
			Details:    "self grant",
			OccurredAt: day,
			ActorID:    f.member.ID,
		})
		require.ErrorIs(t, err, ledger.ErrUnauthorized)
		f.requireBalance(t, f.member.ID, "100")
	})

	t.Run("details are required", func(t *testing.T) {
		_, err := f.engine.AssignBalance(ctx, ledger.AssignRequest{
			TargetID:   f.member.ID,
			Amount:     decimal.NewFromInt(5),
			OccurredAt: day,
			ActorID:    f.admin.ID,
		})
		require.ErrorIs(t, err, ledger.ErrValidation)
	})

	f.requireConsistent(t)
}

func TestEngine_AssignEditAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.Equal(t, "id-1", f.admin.ID)
	assert.Equal(t, "id-2", f.member.ID)

	grant, err := f.engine.AssignBalance(ctx, ledger.AssignRequest{
		TargetID:   f.member.ID,
		Amount:     decimal.NewFromInt(100),
		Details:    "allowance",
		OccurredAt: day,
		ActorID:    f.admin.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "id-3", grant.ID)
	f.requireBalance(t, f.member.ID, "100")
	f.requireBalance(t, f.admin.ID, "100")
	f.requireConsistent(t)

	edited, err := f.engine.EditEntry(ctx, ledger.EditEntryRequest{
		EntryID:  grant.ID,
		Amount:   decimal.NewFromInt(40),
		Category: "Groceries",
		ActorID:  f.admin.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.KindAssign, edited.Kind)
	assert.Equal(t, ledger.AssignCategory, edited.Category)
	f.requireBalance(t, f.member.ID, "40")
	f.requireBalance(t, f.admin.ID, "40")
	f.requireConsistent(t)

	require.NoError(t, f.engine.DeleteEntry(ctx, ledger.DeleteEntryRequest{EntryID: grant.ID, ActorID: f.admin.ID}))
	f.requireBalance(t, f.member.ID, "0")
	f.requireBalance(t, f.admin.ID, "0")
	f.requireConsistent(t)

	f.audit.mu.Lock()
	defer f.audit.mu.Unlock()
	var deltas []string
	for _, ev := range f.audit.events {
		if ev.EntryID == grant.ID {
			deltas = append(deltas, ev.Action+" "+ev.Delta.String())
		}
	}
	assert.Equal(t, []string{"balance.assign 100", "entry.edit -60", "entry.delete -40"}, deltas)
}

func TestEngine_EditWithSameAmountSkipsBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	debit := f.create(t, ledger.KindDebit, "12.50", day)
	later := day.AddDays(3)

	updated, err := f.engine.EditEntry(ctx, ledger.EditEntryRequest{
		EntryID:    debit.ID,
		Amount:     decimal.RequireFromString("12.5"),
		Category:   "Groceries",
		Details:    "weekly shop",
		OccurredAt: later,
		ActorID:    f.member.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "Groceries", updated.Category)
	assert.Equal(t, "weekly shop", updated.Details)
	assert.Equal(t, later, updated.OccurredAt)
	f.requireBalance(t, f.member.ID, "-12.5")
	f.requireBalance(t, f.admin.ID, "-12.5")
}

func TestEngine_CategoryDefaults(t *testing.T) {
	f := newFixture(t)

	credit, err := f.engine.CreateEntry(context.Background(), ledger.CreateEntryRequest{
		OwnerID: f.member.ID, Amount: decimal.NewFromInt(1), Kind: ledger.KindCredit,
		Category: "Gift", OccurredAt: day, ActorID: f.member.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "Income", credit.Category)

	debit := f.create(t, ledger.KindDebit, "1", day)
	assert.Equal(t, "Other", debit.Category)
}

func TestEngine_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ledger.CreateEntryRequest
		want error
	}{
		{
			name: "zero amount",
			req:  ledger.CreateEntryRequest{OwnerID: f.member.ID, Amount: decimal.Zero, Kind: ledger.KindDebit, OccurredAt: day, ActorID: f.member.ID},
			want: ledger.ErrInvalidAmount,
		},
		{
			name: "negative amount",
			req:  ledger.CreateEntryRequest{OwnerID: f.member.ID, Amount: decimal.NewFromInt(-3), Kind: ledger.KindDebit, OccurredAt: day, ActorID: f.member.ID},
			want: ledger.ErrInvalidAmount,
		},
		{
			name: "missing kind",
			req:  ledger.CreateEntryRequest{OwnerID: f.member.ID, Amount: decimal.NewFromInt(3), OccurredAt: day, ActorID: f.member.ID},
			want: ledger.ErrValidation,
		},
		{
			name: "assign through create",
			req:  ledger.CreateEntryRequest{OwnerID: f.member.ID, Amount: decimal.NewFromInt(3), Kind: ledger.KindAssign, OccurredAt: day, ActorID: f.admin.ID},
			want: ledger.ErrValidation,
		},
		{
			name: "missing date",
			req:  ledger.CreateEntryRequest{OwnerID: f.member.ID, Amount: decimal.NewFromInt(3), Kind: ledger.KindDebit, ActorID: f.member.ID},
			want: ledger.ErrValidation,
		},
		{
			name: "unknown owner",
			req:  ledger.CreateEntryRequest{OwnerID: "missing", Amount: decimal.NewFromInt(3), Kind: ledger.KindDebit, OccurredAt: day, ActorID: "missing"},
			want: ledger.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateEntry(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.False(t, ledger.IsRetryable(err))
		})
	}

	f.requireBalance(t, f.member.ID, "0")
}

func TestEngine_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.EditEntry(ctx, ledger.EditEntryRequest{EntryID: "nope", Amount: decimal.NewFromInt(1), ActorID: f.member.ID})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	err = f.engine.DeleteEntry(ctx, ledger.DeleteEntryRequest{EntryID: "nope", ActorID: f.member.ID})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	entry := f.create(t, ledger.KindDebit, "4", day)
	err = f.engine.DeleteEntry(ctx, ledger.DeleteEntryRequest{EntryID: entry.ID, OwnerID: f.admin.ID, ActorID: f.admin.ID})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	f.requireBalance(t, f.member.ID, "-4")
}

func TestEngine_Unauthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outsider, err := f.engine.OpenAccount(ctx, ledger.OpenAccountRequest{
		Name: "Eve", Email: "eve@example.com", Role: ledger.RoleAdmin,
	})
	require.NoError(t, err)

	_, err = f.engine.CreateEntry(ctx, ledger.CreateEntryRequest{
		OwnerID: f.member.ID, Amount: decimal.NewFromInt(1), Kind: ledger.KindDebit,
		OccurredAt: day, ActorID: outsider.ID,
	})
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	entry := f.create(t, ledger.KindDebit, "2", day)
	err = f.engine.DeleteEntry(ctx, ledger.DeleteEntryRequest{EntryID: entry.ID, ActorID: outsider.ID})
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	err = f.engine.DeleteAccount(ctx, f.member.ID, outsider.ID)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = f.engine.Authorize(ctx, outsider.ID, f.member.ID)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)
	_, err = f.engine.Authorize(ctx, f.admin.ID, f.member.ID)
	require.NoError(t, err)
}

func TestEngine_AtomicityUnderFaults(t *testing.T) {
	for _, failOn := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("fail write %d", failOn), func(t *testing.T) {
			var armed atomic.Bool
			var writes atomic.Int32
			boom := errors.New("disk unplugged")

			f := newFixture(t, memory.WithFaultInjector(func(op string) error {
				if !armed.Load() {
					return nil
				}
				if int(writes.Add(1)) == failOn {
					return boom
				}
				return nil
			}))
			ctx := context.Background()

			armed.Store(true)
			_, err := f.engine.CreateEntry(ctx, ledger.CreateEntryRequest{
				OwnerID: f.member.ID, Amount: decimal.NewFromInt(40), Kind: ledger.KindDebit,
				OccurredAt: day, ActorID: f.member.ID,
			})
			require.ErrorIs(t, err, ledger.ErrTransactionAborted)
			require.ErrorIs(t, err, boom)
			assert.True(t, ledger.IsRetryable(err))

			page, err := f.engine.ReadLedger(ctx, f.member.ID, 0, 10)
			require.NoError(t, err)
			assert.Empty(t, page.Entries)
			f.requireBalance(t, f.member.ID, "0")
			f.requireBalance(t, f.admin.ID, "0")
			f.requireConsistent(t)
		})
	}
}

func TestEngine_DeleteAbortLeavesEntry(t *testing.T) {
	var fail atomic.Bool
	f := newFixture(t, memory.WithFaultInjector(func(op string) error {
		if fail.Load() && op == "delete_entry" {
			return errors.New("conflict")
		}
		return nil
	}))
	ctx := context.Background()

	entry := f.create(t, ledger.KindCredit, "9", day)
	fail.Store(true)

	err := f.engine.DeleteEntry(ctx, ledger.DeleteEntryRequest{EntryID: entry.ID, ActorID: f.member.ID})
	require.ErrorIs(t, err, ledger.ErrTransactionAborted)

	f.requireBalance(t, f.member.ID, "9")
	f.requireBalance(t, f.admin.ID, "9")
	page, err := f.engine.ReadLedger(ctx, f.member.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
}

func TestEngine_ReadLedgerPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		f.create(t, ledger.KindDebit, "1", day.AddDays(i))
	}

	first, err := f.engine.ReadLedger(ctx, f.member.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, first.Entries, 10)
	assert.True(t, first.HasMore)
	assert.Equal(t, 15, first.Total)
	assert.Equal(t, day.AddDays(14), first.Entries[0].OccurredAt)
	for i := 1; i < len(first.Entries); i++ {
		assert.False(t, first.Entries[i].OccurredAt.After(first.Entries[i-1].OccurredAt))
	}
	assert.True(t, first.Balance.Equal(decimal.NewFromInt(-15)))

	second, err := f.engine.ReadLedger(ctx, f.member.ID, 10, 10)
	require.NoError(t, err)
	require.Len(t, second.Entries, 5)
	assert.False(t, second.HasMore)
	assert.Equal(t, day, second.Entries[4].OccurredAt)
}

func TestEngine_ReadLedgerTieBreak(t *testing.T) {
	f := newFixture(t)

	older := f.create(t, ledger.KindDebit, "1", day)
	newer := f.create(t, ledger.KindDebit, "2", day)

	page, err := f.engine.ReadLedger(context.Background(), f.member.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultPageSize, page.Limit)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, newer.ID, page.Entries[0].ID)
	assert.Equal(t, older.ID, page.Entries[1].ID)
}

func TestEngine_DeleteAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, ledger.KindCredit, "70", day)
	f.create(t, ledger.KindDebit, "20", day)
	f.requireBalance(t, f.admin.ID, "50")

	require.NoError(t, f.engine.DeleteAccount(ctx, f.member.ID, f.admin.ID))

	_, err := f.store.Account(ctx, f.member.ID)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	entries, err := f.store.EntriesBetween(ctx, f.member.ID, ledger.Date{}, ledger.Date{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	f.requireBalance(t, f.admin.ID, "0")
	f.requireConsistent(t)
}

func TestEngine_OpenAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.OpenAccount(ctx, ledger.OpenAccountRequest{Name: "Dup", Email: "ALICE@example.com", Role: ledger.RoleAdmin})
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.engine.OpenAccount(ctx, ledger.OpenAccountRequest{Name: "Bad", Email: "not-an-email", Role: ledger.RoleAdmin})
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.engine.OpenAccount(ctx, ledger.OpenAccountRequest{
		Name: "Nested", Email: "nested@example.com", Role: ledger.RoleMember,
		ParentID: f.member.ID, ActorID: f.member.ID,
	})
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.engine.OpenAccount(ctx, ledger.OpenAccountRequest{
		Name: "Sneaky", Email: "sneaky@example.com", Role: ledger.RoleMember,
		ParentID: f.admin.ID, ActorID: f.member.ID,
	})
	require.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestEngine_ListMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second, err := f.engine.OpenAccount(ctx, ledger.OpenAccountRequest{
		Name: "Carol", Email: "carol@example.com", Role: ledger.RoleMember,
		ParentID: f.admin.ID, ActorID: f.admin.ID,
	})
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		f.create(t, ledger.KindCredit, "1", day.AddDays(i))
	}

	list, err := f.engine.ListMembers(ctx, f.admin.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, list.Members, 2)
	assert.Equal(t, second.ID, list.Members[0].ID)
	assert.Len(t, list.Members[1].Recent, ledger.RecentEntries)
	assert.Empty(t, list.Members[0].Recent)
	assert.False(t, list.HasMore)
	assert.True(t, list.TotalBalance.Equal(decimal.NewFromInt(12)))

	_, err = f.engine.ListMembers(ctx, f.member.ID, 0, 10)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestEngine_ConcurrentCreatesDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CreateEntry(ctx, ledger.CreateEntryRequest{
				OwnerID: f.member.ID, Amount: decimal.RequireFromString("1.25"), Kind: ledger.KindCredit,
				OccurredAt: day, ActorID: f.member.ID,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	f.requireBalance(t, f.member.ID, "62.5")
	f.requireBalance(t, f.admin.ID, "62.5")
	f.requireConsistent(t)
}

func TestEngine_PostCommitHooks(t *testing.T) {
	f := newFixture(t)

	entry := f.create(t, ledger.KindDebit, "3", day)

	f.inv.mu.Lock()
	assert.Contains(t, f.inv.ids, f.member.ID)
	assert.Contains(t, f.inv.ids, f.admin.ID)
	f.inv.mu.Unlock()

	f.audit.mu.Lock()
	defer f.audit.mu.Unlock()
	last := f.audit.events[len(f.audit.events)-1]
	assert.Equal(t, "entry.create", last.Action)
	assert.Equal(t, entry.ID, last.EntryID)
	assert.True(t, last.Delta.Equal(decimal.NewFromInt(-3)))
}

func TestEngine_CancelledContextAborts(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.CreateEntry(ctx, ledger.CreateEntryRequest{
		OwnerID: f.member.ID, Amount: decimal.NewFromInt(1), Kind: ledger.KindDebit,
		OccurredAt: day, ActorID: f.member.ID,
	})
	require.ErrorIs(t, err, ledger.ErrTransactionAborted)
	require.ErrorIs(t, err, context.Canceled)
	f.requireBalance(t, f.member.ID, "0")
}
