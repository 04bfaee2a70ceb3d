package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/expense-ledger/internal/ledger"
)

func TestChainLogger(t *testing.T) {
	ctx := context.Background()
	logger := NewChainLogger()

	e1, err := logger.Append(ctx, "entry.create acct=a")
	require.NoError(t, err)
	e2, err := logger.Append(ctx, "entry.edit acct=a")
	require.NoError(t, err)
	e3, err := logger.Append(ctx, "entry.delete acct=a")
	require.NoError(t, err)
	assert.Equal(t, e3.Hash, logger.Head())

	chain := []*LogEntry{e1, e2, e3}
	require.NoError(t, VerifyChain(chain))

	original := e2.Payload
	e2.Payload = "balance.assign acct=a"
	var cerr *ChainError
	require.ErrorAs(t, VerifyChain(chain), &cerr)
	assert.Equal(t, 1, cerr.Index)
	e2.Payload = original

	e3.PreviousHash = "deadbeef"
	require.ErrorAs(t, VerifyChain(chain), &cerr)
	assert.Equal(t, 2, cerr.Index)
	assert.Equal(t, "previous hash mismatch", cerr.Reason)

	require.NoError(t, VerifyChain(nil))
}

func TestChainLogger_Record(t *testing.T) {
	var got []*LogEntry
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	logger := NewChainLogger(
		WithClock(func() time.Time { return clock }),
		WithSink(func(_ context.Context, e *LogEntry) error {
			got = append(got, e)
			return nil
		}),
	)

	ev := ledger.Event{Action: "entry.create", ActorID: "u1", AccountID: "u1", EntryID: "e1", Delta: decimal.RequireFromString("-12.5")}
	require.NoError(t, logger.Record(context.Background(), ev))
	require.NoError(t, logger.Record(context.Background(), ev))

	require.Len(t, got, 2)
	require.NoError(t, VerifyChain(got))

	var decoded ledger.Event
	require.NoError(t, json.Unmarshal([]byte(got[0].Payload), &decoded))
	assert.Equal(t, "entry.create", decoded.Action)
	assert.True(t, decoded.Delta.Equal(ev.Delta))
	assert.Equal(t, "2026-03-01T00:00:00Z", got[0].Timestamp)
}

func TestChainLogger_MixedWritersShareOneSink(t *testing.T) {
	ctx := context.Background()
	var got []*LogEntry
	logger := NewChainLogger(WithSink(func(_ context.Context, e *LogEntry) error {
		got = append(got, e)
		return nil
	}))

	_, err := logger.Append(ctx, "method=POST path=/v1/accounts status=201")
	require.NoError(t, err)
	require.NoError(t, logger.Record(ctx, ledger.Event{Action: "account.open", AccountID: "a"}))
	_, err = logger.Append(ctx, "method=POST path=/v1/accounts status=201")
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.NoError(t, VerifyChain(got))
	assert.Equal(t, got[2].Hash, logger.Head())
}

func TestChainLogger_SinkError(t *testing.T) {
	boom := errors.New("disk full")
	logger := NewChainLogger(WithSink(func(context.Context, *LogEntry) error { return boom }))

	err := logger.Record(context.Background(), ledger.Event{Action: "entry.delete"})
	require.ErrorIs(t, err, boom)

	entry, err := logger.Append(context.Background(), "x")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, entry.Hash, logger.Head())
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := NewChainLogger(WithSink(SlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))))

	require.NoError(t, logger.Record(context.Background(), ledger.Event{Action: "account.open", AccountID: "a"}))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "audit", rec["msg"])
	assert.Equal(t, logger.Head(), rec["hash"])
	assert.Contains(t, rec["payload"], "account.open")
}
