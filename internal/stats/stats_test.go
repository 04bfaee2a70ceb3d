package stats

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/expense-ledger/internal/ledger"
	"github.com/example/expense-ledger/internal/storage/memory"
)

var now = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

func entry(kind ledger.Kind, amount string, on ledger.Date, category string) ledger.Entry {
	return ledger.Entry{
		Amount:     decimal.RequireFromString(amount),
		Kind:       kind,
		Category:   category,
		OccurredAt: on,
	}
}

func TestMonthly(t *testing.T) {
	entries := []ledger.Entry{
		entry(ledger.KindCredit, "100", ledger.NewDate(2026, time.March, 1), "Income"),
		entry(ledger.KindAssign, "50", ledger.NewDate(2026, time.March, 2), ledger.AssignCategory),
		entry(ledger.KindDebit, "30", ledger.NewDate(2026, time.March, 3), "Food"),
		entry(ledger.KindDebit, "12.5", ledger.NewDate(2025, time.April, 30), "Food"),
		// Outside the window.
		entry(ledger.KindDebit, "999", ledger.NewDate(2025, time.March, 31), "Old"),
	}

	got := Monthly(entries, now)

	assert.Equal(t, []string{"Apr", "Mar"}, got.Labels)
	assert.Equal(t, []string{"2025-04", "2026-03"}, got.Months)
	require.Len(t, got.Credits, 2)
	assert.True(t, got.Credits[0].IsZero())
	assert.True(t, got.Debits[0].Equal(decimal.RequireFromString("12.5")))
	assert.True(t, got.Credits[1].Equal(decimal.NewFromInt(150)))
	assert.True(t, got.Debits[1].Equal(decimal.NewFromInt(30)))

	assert.Equal(t, ledger.NewDate(2025, time.April, 1), WindowStart(now))
}

func TestMonthly_Empty(t *testing.T) {
	got := Monthly(nil, now)
	assert.Empty(t, got.Labels)
	assert.NotNil(t, got.Labels)
}

func TestResolvePeriod(t *testing.T) {
	today := ledger.DateOf(now)

	tests := []struct {
		period   string
		from, to ledger.Date
		wantFrom ledger.Date
		wantTo   ledger.Date
		wantErr  bool
	}{
		{period: "weekly", wantFrom: ledger.NewDate(2026, time.March, 8), wantTo: today},
		{period: "", wantFrom: ledger.NewDate(2026, time.February, 15), wantTo: today},
		{period: "Yearly", wantFrom: ledger.NewDate(2025, time.March, 15), wantTo: today},
		{
			period:   "custom",
			from:     ledger.NewDate(2026, time.January, 1),
			to:       ledger.NewDate(2026, time.January, 31),
			wantFrom: ledger.NewDate(2026, time.January, 1),
			wantTo:   ledger.NewDate(2026, time.January, 31),
		},
		{period: "custom", wantErr: true},
		{period: "custom", from: ledger.NewDate(2026, time.May, 1), to: ledger.NewDate(2026, time.January, 1), wantErr: true},
		{period: "daily", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			p, err := ParsePeriod(tt.period)
			if err == nil {
				var from, to ledger.Date
				from, to, err = ResolvePeriod(p, tt.from, tt.to, now)
				if !tt.wantErr {
					assert.Equal(t, tt.wantFrom, from)
					assert.Equal(t, tt.wantTo, to)
				}
			}
			if tt.wantErr {
				require.ErrorIs(t, err, ledger.ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestBuildReport(t *testing.T) {
	entries := []ledger.Entry{
		entry(ledger.KindCredit, "1000", ledger.NewDate(2026, 3, 1), "Income"),
		entry(ledger.KindAssign, "200", ledger.NewDate(2026, 3, 1), ledger.AssignCategory),
		entry(ledger.KindDebit, "300", ledger.NewDate(2026, 3, 2), "Rent"),
		entry(ledger.KindDebit, "50", ledger.NewDate(2026, 3, 3), "Food"),
		entry(ledger.KindDebit, "25", ledger.NewDate(2026, 3, 4), "Food"),
	}

	r := BuildReport(PeriodMonthly, ledger.NewDate(2026, 2, 15), ledger.NewDate(2026, 3, 15), entries)

	assert.True(t, r.Income.Equal(decimal.NewFromInt(1200)))
	assert.True(t, r.Expense.Equal(decimal.NewFromInt(375)))
	assert.True(t, r.Savings.Equal(decimal.NewFromInt(825)))
	assert.Equal(t, 5, r.Count)
	require.Len(t, r.Categories, 2)
	assert.Equal(t, "Rent", r.Categories[0].Category)
	assert.Equal(t, "Food", r.Categories[1].Category)
	assert.True(t, r.Categories[1].Amount.Equal(decimal.NewFromInt(75)))
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, 0)
	s := MonthlySummary{Labels: []string{"Jan"}}

	require.NoError(t, c.Set(ctx, "a", s))
	require.NoError(t, c.Set(ctx, "b", s))
	_, ok, _ := c.Get(ctx, "a")
	assert.True(t, ok)

	// "b" is now least recently used.
	require.NoError(t, c.Set(ctx, "c", s))
	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Size())

	require.NoError(t, c.Invalidate(ctx, "a", "missing"))
	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok)
	assert.Zero(t, c.CleanExpired())
}

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)
	clock := now
	c.now = func() time.Time { return clock }

	require.NoError(t, c.Set(ctx, "a", MonthlySummary{}))
	require.NoError(t, c.Set(ctx, "b", MonthlySummary{}))
	clock = clock.Add(2 * time.Minute)

	assert.Equal(t, 2, c.CleanExpired())
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := &RedisCache{Redis: rdb, Prefix: "test", TTL: time.Minute}
	want := MonthlySummary{
		Labels:  []string{"Mar"},
		Months:  []string{"2026-03"},
		Credits: []decimal.Decimal{decimal.RequireFromString("10.5")},
		Debits:  []decimal.Decimal{decimal.Zero},
	}

	_, ok, err := c.Get(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "acct", want))
	assert.True(t, mr.Exists("test:stats:monthly:acct"))

	got, ok, err := c.Get(ctx, "acct")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Labels, got.Labels)
	assert.True(t, got.Credits[0].Equal(want.Credits[0]))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "acct", want))
	require.NoError(t, c.Invalidate(ctx, "acct"))
	assert.False(t, mr.Exists("test:stats:monthly:acct"))
}

func newLedger(t *testing.T) (*ledger.Engine, *memory.Store, ledger.Account) {
	t.Helper()
	store := memory.New()
	e := ledger.NewEngine(store)
	admin, err := e.OpenAccount(context.Background(), ledger.OpenAccountRequest{
		Name: "Admin", Email: "admin@example.com", Role: ledger.RoleAdmin,
	})
	require.NoError(t, err)
	return e, store, admin
}

func TestService_InvalidateOnWrite(t *testing.T) {
	ctx := context.Background()

	for _, invalidate := range []bool{true, false} {
		name := "stale"
		if invalidate {
			name = "fresh"
		}
		t.Run(name, func(t *testing.T) {
			_, store, admin := newLedger(t)
			svc := NewService(store, NewMemoryCache(16, 0), Config{
				InvalidateOnWrite: invalidate,
				Now:               func() time.Time { return now },
			})
			e := ledger.NewEngine(store, ledger.WithInvalidator(svc))

			first, err := svc.Monthly(ctx, admin.ID)
			require.NoError(t, err)
			assert.Empty(t, first.Labels)

			_, err = e.CreateEntry(ctx, ledger.CreateEntryRequest{
				OwnerID: admin.ID, Amount: decimal.NewFromInt(20), Kind: ledger.KindDebit,
				OccurredAt: ledger.DateOf(now), ActorID: admin.ID,
			})
			require.NoError(t, err)

			second, err := svc.Monthly(ctx, admin.ID)
			require.NoError(t, err)
			if invalidate {
				assert.Equal(t, []string{"Mar"}, second.Labels)
			} else {
				assert.Empty(t, second.Labels)
			}
		})
	}
}

// racingReader commits a concurrent write, through its invalidation, after
// the entries for a fill were read.
type racingReader struct {
	EntryReader
	afterRead func()
}

func (r *racingReader) EntriesBetween(ctx context.Context, ownerID string, from, to ledger.Date) ([]ledger.Entry, error) {
	entries, err := r.EntryReader.EntriesBetween(ctx, ownerID, from, to)
	if r.afterRead != nil {
		r.afterRead()
		r.afterRead = nil
	}
	return entries, err
}

func TestService_FillRacingInvalidationIsNotCached(t *testing.T) {
	ctx := context.Background()
	_, store, admin := newLedger(t)
	cache := NewMemoryCache(16, 0)
	reader := &racingReader{EntryReader: store}
	svc := NewService(reader, cache, Config{
		InvalidateOnWrite: true,
		Now:               func() time.Time { return now },
	})
	e := ledger.NewEngine(store, ledger.WithInvalidator(svc))

	reader.afterRead = func() {
		_, err := e.CreateEntry(ctx, ledger.CreateEntryRequest{
			OwnerID: admin.ID, Amount: decimal.NewFromInt(5), Kind: ledger.KindCredit,
			OccurredAt: ledger.DateOf(now), ActorID: admin.ID,
		})
		require.NoError(t, err)
	}

	stale, err := svc.Monthly(ctx, admin.ID)
	require.NoError(t, err)
	assert.Empty(t, stale.Labels)
	_, ok, err := cache.Get(ctx, admin.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := svc.Monthly(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mar"}, fresh.Labels)
	_, ok, err = cache.Get(ctx, admin.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_Report(t *testing.T) {
	ctx := context.Background()
	e, store, admin := newLedger(t)
	svc := NewService(store, nil, Config{Now: func() time.Time { return now }})

	for _, d := range []ledger.Date{ledger.NewDate(2026, 3, 10), ledger.NewDate(2026, 1, 10)} {
		_, err := e.CreateEntry(ctx, ledger.CreateEntryRequest{
			OwnerID: admin.ID, Amount: decimal.NewFromInt(10), Kind: ledger.KindDebit,
			Category: "Fuel", OccurredAt: d, ActorID: admin.ID,
		})
		require.NoError(t, err)
	}

	r, err := svc.Report(ctx, admin.ID, PeriodWeekly, ledger.Date{}, ledger.Date{})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count)
	assert.True(t, r.Expense.Equal(decimal.NewFromInt(10)))

	r, err = svc.Report(ctx, admin.ID, PeriodYearly, ledger.Date{}, ledger.Date{})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Count)
	assert.True(t, r.Savings.Equal(decimal.NewFromInt(-20)))
}
