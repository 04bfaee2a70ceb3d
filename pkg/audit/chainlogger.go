// Package audit keeps a tamper-evident, hash-chained record of committed
// ledger mutations.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/expense-ledger/internal/ledger"
)

// LogEntry is one link of the chain.
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// Sink receives every appended entry, in chain order.
type Sink func(ctx context.Context, e *LogEntry) error

// SlogSink writes entries as structured log records.
func SlogSink(l *slog.Logger) Sink {
	return func(ctx context.Context, e *LogEntry) error {
		l.InfoContext(ctx, "audit",
			"timestamp", e.Timestamp,
			"previous_hash", e.PreviousHash,
			"hash", e.Hash,
			"payload", e.Payload,
		)
		return nil
	}
}

// ChainLogger appends entries whose hash covers the previous entry's hash.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	sink         Sink
	now          func() time.Time
}

var _ ledger.Auditor = (*ChainLogger)(nil)

type Option func(*ChainLogger)

func WithSink(s Sink) Option { return func(c *ChainLogger) { c.sink = s } }

func WithClock(now func() time.Time) Option { return func(c *ChainLogger) { c.now = now } }

// NewChainLogger creates a chain rooted at the zero hash.
func NewChainLogger(opts ...Option) *ChainLogger {
	c := &ChainLogger{
		previousHash: strings.Repeat("0", 64),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append links payload onto the chain and hands the new entry to the sink.
// The sink is called under the chain lock so it observes entries in order.
// A sink failure is returned together with the entry, which stays linked.
func (c *ChainLogger) Append(ctx context.Context, payload string) (*LogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = hashEntry(entry.PreviousHash, entry.Timestamp, entry.Payload)
	c.previousHash = entry.Hash

	if c.sink == nil {
		return entry, nil
	}
	if err := c.sink(ctx, entry); err != nil {
		return entry, fmt.Errorf("failed to write audit entry: %w", err)
	}
	return entry, nil
}

// Record appends a ledger event as its JSON encoding.
func (c *ChainLogger) Record(ctx context.Context, ev ledger.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	_, err = c.Append(ctx, string(payload))
	return err
}

// Head returns the hash of the last appended entry.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

func hashEntry(prev, ts, payload string) string {
	sum := sha256.Sum256([]byte(prev + "|" + ts + "|" + payload))
	return hex.EncodeToString(sum[:])
}

// ChainError reports the first entry that does not verify.
type ChainError struct {
	Index  int
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at entry %d: %s", e.Index, e.Reason)
}

// VerifyChain checks that entries form an unbroken chain. The first entry's
// previous hash is trusted as given.
func VerifyChain(entries []*LogEntry) error {
	for i, entry := range entries {
		if i > 0 && entry.PreviousHash != entries[i-1].Hash {
			return &ChainError{Index: i, Reason: "previous hash mismatch"}
		}
		if hashEntry(entry.PreviousHash, entry.Timestamp, entry.Payload) != entry.Hash {
			return &ChainError{Index: i, Reason: "hash mismatch"}
		}
	}
	return nil
}
