// Package postgres is a ledger.Store over PostgreSQL. Every transaction runs
// at SERIALIZABLE isolation and balances are incremented in SQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/example/expense-ledger/internal/ledger"
)

const defaultTxTimeout = 5 * time.Second

// Store implements ledger.Store.
type Store struct {
	queries
	Pool      *pgxpool.Pool
	txTimeout time.Duration
}

var _ ledger.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTxTimeout bounds every transaction, including its commit.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// Open connects a pool to databaseURL and verifies it.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(pool, opts...), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{queries: queries{q: pool}, Pool: pool, txTimeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

// WithinTx runs fn in a SERIALIZABLE read-write transaction. Serialization
// failures are reported as ledger.ErrTransactionAborted and are not retried.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	conn, err := s.Pool.Acquire(txCtx)
	if err != nil {
		return ledger.Aborted(fmt.Errorf("failed to acquire connection: %w", err))
	}
	defer conn.Release()

	tx, err := conn.BeginTx(txCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return ledger.Aborted(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(txCtx)

	if err := fn(txCtx, &pgTx{queries: queries{q: tx, inTx: true}}); err != nil {
		return err
	}
	if err := tx.Commit(txCtx); err != nil {
		return ledger.Aborted(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q    querier
	inTx bool
}

const accountColumns = `id, name, email, role, COALESCE(parent_id, ''), net_balance::text, created_at`

const entryColumns = `id, owner_id, amount::text, kind, category, details, occurred_at, created_at, created_by`

func (s queries) fail(err error, msg string) error {
	err = classify(err)
	if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrValidation) {
		return err
	}
	err = fmt.Errorf("%s: %w", msg, err)
	if s.inTx {
		return ledger.Aborted(err)
	}
	return err
}

func (s queries) Account(ctx context.Context, id string) (ledger.Account, error) {
	a, err := scanAccount(s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: account %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return ledger.Account{}, s.fail(err, "failed to get account")
	}
	return a, nil
}

func (s queries) AccountByEmail(ctx context.Context, email string) (ledger.Account, error) {
	a, err := scanAccount(s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: account with email %s", ledger.ErrNotFound, email)
	}
	if err != nil {
		return ledger.Account{}, s.fail(err, "failed to get account by email")
	}
	return a, nil
}

func (s queries) ListEntries(ctx context.Context, ownerID string, offset, limit int) ([]ledger.Entry, int, error) {
	var total int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM entries WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, s.fail(err, "failed to count entries")
	}

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE owner_id = $1
		ORDER BY occurred_at DESC, created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, lim, offset)
	if err != nil {
		return nil, 0, s.fail(err, "failed to list entries")
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, s.fail(err, "failed to scan entries")
	}
	return entries, total, nil
}

func (s queries) EntriesBetween(ctx context.Context, ownerID string, from, to ledger.Date) ([]ledger.Entry, error) {
	var lo, hi any
	if !from.IsZero() {
		lo = from.Time()
	}
	if !to.IsZero() {
		hi = to.Time()
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE owner_id = $1
		AND ($2::date IS NULL OR occurred_at >= $2::date)
		AND ($3::date IS NULL OR occurred_at <= $3::date)
		ORDER BY occurred_at DESC, created_at DESC, id DESC
	`, ownerID, lo, hi)
	if err != nil {
		return nil, s.fail(err, "failed to query entries")
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, s.fail(err, "failed to scan entries")
	}
	return entries, nil
}

func (s queries) ListMembers(ctx context.Context, parentID string, offset, limit int) ([]ledger.Account, int, error) {
	var total int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE parent_id = $1`, parentID).Scan(&total); err != nil {
		return nil, 0, s.fail(err, "failed to count members")
	}

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE parent_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, parentID, lim, offset)
	if err != nil {
		return nil, 0, s.fail(err, "failed to list members")
	}
	members, err := collectAccounts(rows)
	if err != nil {
		return nil, 0, s.fail(err, "failed to scan members")
	}
	return members, total, nil
}

func (s queries) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.q.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, s.fail(err, "failed to list accounts")
	}
	accounts, err := collectAccounts(rows)
	if err != nil {
		return nil, s.fail(err, "failed to scan accounts")
	}
	return accounts, nil
}

type pgTx struct {
	queries
}

func (tx *pgTx) InsertAccount(ctx context.Context, a ledger.Account) error {
	var parent any
	if a.ParentID != "" {
		parent = a.ParentID
	}
	_, err := tx.q.Exec(ctx, `
		INSERT INTO accounts (id, name, email, role, parent_id, net_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
	`, a.ID, a.Name, a.Email, string(a.Role), parent, a.NetBalance.String(), a.CreatedAt)
	if err != nil {
		return tx.fail(err, "failed to insert account")
	}
	return nil
}

// ApplyDelta increments in SQL so concurrent deltas compose.
func (tx *pgTx) ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (ledger.Account, error) {
	a, err := scanAccount(tx.q.QueryRow(ctx, `
		UPDATE accounts
		SET net_balance = net_balance + $2::numeric
		WHERE id = $1
		RETURNING `+accountColumns, id, delta.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: account %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return ledger.Account{}, tx.fail(err, "failed to apply balance delta")
	}
	return a, nil
}

func (tx *pgTx) DeleteAccount(ctx context.Context, id string) error {
	tag, err := tx.q.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return tx.fail(err, "failed to delete account")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", ledger.ErrNotFound, id)
	}
	return nil
}

func (tx *pgTx) Entry(ctx context.Context, id string) (ledger.Entry, error) {
	e, err := scanEntry(tx.q.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, fmt.Errorf("%w: entry %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return ledger.Entry{}, tx.fail(err, "failed to get entry")
	}
	return e, nil
}

func (tx *pgTx) InsertEntry(ctx context.Context, e ledger.Entry) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO entries (id, owner_id, amount, kind, category, details, occurred_at, created_at, created_by)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.OwnerID, e.Amount.String(), e.Kind.String(), e.Category, e.Details,
		e.OccurredAt.Time(), e.CreatedAt, e.CreatedBy)
	if err != nil {
		return tx.fail(err, "failed to insert entry")
	}
	return nil
}

func (tx *pgTx) UpdateEntry(ctx context.Context, e ledger.Entry) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE entries
		SET amount = $2::numeric, category = $3, details = $4, occurred_at = $5
		WHERE id = $1
	`, e.ID, e.Amount.String(), e.Category, e.Details, e.OccurredAt.Time())
	if err != nil {
		return tx.fail(err, "failed to update entry")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entry %s", ledger.ErrNotFound, e.ID)
	}
	return nil
}

func (tx *pgTx) DeleteEntry(ctx context.Context, id string) error {
	tag, err := tx.q.Exec(ctx, `DELETE FROM entries WHERE id = $1`, id)
	if err != nil {
		return tx.fail(err, "failed to delete entry")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entry %s", ledger.ErrNotFound, id)
	}
	return nil
}

func (tx *pgTx) DeleteEntriesByOwner(ctx context.Context, ownerID string) (int, error) {
	tag, err := tx.q.Exec(ctx, `DELETE FROM entries WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, tx.fail(err, "failed to delete entries")
	}
	return int(tag.RowsAffected()), nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		a       ledger.Account
		role    string
		balance string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &role, &a.ParentID, &balance, &a.CreatedAt); err != nil {
		return ledger.Account{}, err
	}
	nb, err := decimal.NewFromString(balance)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("corrupt balance %q for account %s: %w", balance, a.ID, err)
	}
	a.Role = ledger.Role(role)
	a.NetBalance = nb
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		e          ledger.Entry
		amount     string
		kind       string
		occurredAt time.Time
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &amount, &kind, &e.Category, &e.Details, &occurredAt, &e.CreatedAt, &e.CreatedBy); err != nil {
		return ledger.Entry{}, err
	}
	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return ledger.Entry{}, fmt.Errorf("corrupt amount %q for entry %s: %w", amount, e.ID, err)
	}
	if e.Kind, err = ledger.ParseKind(kind); err != nil {
		return ledger.Entry{}, fmt.Errorf("corrupt kind for entry %s: %w", e.ID, err)
	}
	e.OccurredAt = ledger.DateOf(occurredAt)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func collectAccounts(rows pgx.Rows) ([]ledger.Account, error) {
	defer rows.Close()
	var out []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PostgreSQL error codes the store distinguishes.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
)

// classify maps constraint violations onto ledger errors and concurrency
// conflicts onto ledger.ErrTransactionAborted.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return ledger.Aborted(err)
	case codeUniqueViolation:
		return fmt.Errorf("%w: duplicate value violates %s", ledger.ErrValidation, pgErr.ConstraintName)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: referenced account is missing or still has members", ledger.ErrValidation)
	case codeCheckViolation:
		return fmt.Errorf("%w: %s", ledger.ErrValidation, pgErr.Message)
	}
	return err
}
