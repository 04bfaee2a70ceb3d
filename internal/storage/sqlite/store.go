// Package sqlite is a ledger.Store over a single SQLite database file.
// Write transactions take the database lock at BEGIN, so balance
// increments computed inside a transaction cannot interleave.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/example/expense-ledger/internal/ledger"
)

const defaultTxTimeout = 5 * time.Second

// Store implements ledger.Store.
type Store struct {
	queries
	db        *sql.DB
	txTimeout time.Duration
}

var _ ledger.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTxTimeout bounds every transaction.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// Open opens the database at path. The schema must already be migrated.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps writers queued in Go instead of spinning on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s := &Store{queries: queries{q: db}, db: db, txTimeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func dsn(path string) string {
	return path + "?_txlock=immediate&_foreign_keys=on&_busy_timeout=5000"
}

func (s *Store) Close() error { return s.db.Close() }

// WithinTx runs fn inside BEGIN IMMEDIATE ... COMMIT.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return ledger.Aborted(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(txCtx, &sqliteTx{queries: queries{q: tx, inTx: true}}); err != nil {
		return err
	}
	if err := txCtx.Err(); err != nil {
		return ledger.Aborted(err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Aborted(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q    queryer
	inTx bool
}

const accountColumns = `id, name, email, role, parent_id, net_balance, created_at`

const entryColumns = `id, owner_id, amount, kind, category, details, occurred_at, created_at, created_by`

func (s queries) fail(err error, format string, args ...any) error {
	err = classify(err)
	if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrValidation) {
		return err
	}
	err = fmt.Errorf(format+": %w", append(args, err)...)
	if s.inTx {
		return ledger.Aborted(err)
	}
	return err
}

func (s queries) Account(ctx context.Context, id string) (ledger.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: account %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return ledger.Account{}, s.fail(err, "failed to get account")
	}
	return a, nil
}

func (s queries) AccountByEmail(ctx context.Context, email string) (ledger.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: account with email %s", ledger.ErrNotFound, email)
	}
	if err != nil {
		return ledger.Account{}, s.fail(err, "failed to get account by email")
	}
	return a, nil
}

func (s queries) ListEntries(ctx context.Context, ownerID string, offset, limit int) ([]ledger.Entry, int, error) {
	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return nil, 0, s.fail(err, "failed to count entries")
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE owner_id = ?
		ORDER BY occurred_at DESC, created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, s.fail(err, "failed to list entries")
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, s.fail(err, "failed to scan entries")
	}
	return entries, total, nil
}

func (s queries) EntriesBetween(ctx context.Context, ownerID string, from, to ledger.Date) ([]ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE owner_id = ?`
	args := []any{ownerID}
	if !from.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, from.String())
	}
	if !to.IsZero() {
		query += ` AND occurred_at <= ?`
		args = append(args, to.String())
	}
	query += ` ORDER BY occurred_at DESC, created_at DESC, id DESC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(err, "failed to query entries")
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, s.fail(err, "failed to scan entries")
	}
	return entries, nil
}

func (s queries) ListMembers(ctx context.Context, parentID string, offset, limit int) ([]ledger.Account, int, error) {
	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE parent_id = ?`, parentID).Scan(&total); err != nil {
		return nil, 0, s.fail(err, "failed to count members")
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE parent_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, parentID, limit, offset)
	if err != nil {
		return nil, 0, s.fail(err, "failed to list members")
	}
	members, err := scanAccounts(rows)
	if err != nil {
		return nil, 0, s.fail(err, "failed to scan members")
	}
	return members, total, nil
}

func (s queries) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, s.fail(err, "failed to list accounts")
	}
	accounts, err := scanAccounts(rows)
	if err != nil {
		return nil, s.fail(err, "failed to scan accounts")
	}
	return accounts, nil
}

type sqliteTx struct {
	queries
}

func (tx *sqliteTx) InsertAccount(ctx context.Context, a ledger.Account) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.Email, string(a.Role), nullString(a.ParentID), a.NetBalance.String(), a.CreatedAt.UnixNano())
	if err != nil {
		return tx.fail(err, "failed to insert account")
	}
	return nil
}

func (tx *sqliteTx) ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (ledger.Account, error) {
	acct, err := tx.Account(ctx, id)
	if err != nil {
		return ledger.Account{}, err
	}
	acct.NetBalance = acct.NetBalance.Add(delta)
	if _, err := tx.q.ExecContext(ctx, `UPDATE accounts SET net_balance = ? WHERE id = ?`, acct.NetBalance.String(), id); err != nil {
		return ledger.Account{}, tx.fail(err, "failed to update balance")
	}
	return acct, nil
}

func (tx *sqliteTx) DeleteAccount(ctx context.Context, id string) error {
	res, err := tx.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return tx.fail(err, "failed to delete account")
	}
	return expectOne(res, "account", id)
}

func (tx *sqliteTx) Entry(ctx context.Context, id string) (ledger.Entry, error) {
	row := tx.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, fmt.Errorf("%w: entry %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return ledger.Entry{}, tx.fail(err, "failed to get entry")
	}
	return e, nil
}

func (tx *sqliteTx) InsertEntry(ctx context.Context, e ledger.Entry) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.OwnerID, e.Amount.String(), e.Kind.String(), e.Category, e.Details,
		e.OccurredAt.String(), e.CreatedAt.UnixNano(), e.CreatedBy)
	if err != nil {
		return tx.fail(err, "failed to insert entry")
	}
	return nil
}

func (tx *sqliteTx) UpdateEntry(ctx context.Context, e ledger.Entry) error {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE entries
		SET amount = ?, category = ?, details = ?, occurred_at = ?
		WHERE id = ?
	`, e.Amount.String(), e.Category, e.Details, e.OccurredAt.String(), e.ID)
	if err != nil {
		return tx.fail(err, "failed to update entry")
	}
	return expectOne(res, "entry", e.ID)
}

func (tx *sqliteTx) DeleteEntry(ctx context.Context, id string) error {
	res, err := tx.q.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return tx.fail(err, "failed to delete entry")
	}
	return expectOne(res, "entry", id)
}

func (tx *sqliteTx) DeleteEntriesByOwner(ctx context.Context, ownerID string) (int, error) {
	res, err := tx.q.ExecContext(ctx, `DELETE FROM entries WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, tx.fail(err, "failed to delete entries")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, tx.fail(err, "failed to read rows affected")
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		a         ledger.Account
		role      string
		parentID  sql.NullString
		balance   string
		createdAt int64
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &role, &parentID, &balance, &createdAt); err != nil {
		return ledger.Account{}, err
	}
	nb, err := decimal.NewFromString(balance)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("corrupt balance %q for account %s: %w", balance, a.ID, err)
	}
	a.Role = ledger.Role(role)
	a.ParentID = parentID.String
	a.NetBalance = nb
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	return a, nil
}

func scanAccounts(rows *sql.Rows) ([]ledger.Account, error) {
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

func scanEntry(row scanner) (ledger.Entry, error) {
	var (
		e          ledger.Entry
		amount     string
		kind       string
		occurredAt string
		createdAt  int64
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &amount, &kind, &e.Category, &e.Details, &occurredAt, &createdAt, &e.CreatedBy); err != nil {
		return ledger.Entry{}, err
	}
	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return ledger.Entry{}, fmt.Errorf("corrupt amount %q for entry %s: %w", amount, e.ID, err)
	}
	if e.Kind, err = ledger.ParseKind(kind); err != nil {
		return ledger.Entry{}, fmt.Errorf("corrupt kind for entry %s: %w", e.ID, err)
	}
	if e.OccurredAt, err = ledger.ParseDate(occurredAt); err != nil {
		return ledger.Entry{}, fmt.Errorf("corrupt date for entry %s: %w", e.ID, err)
	}
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
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

func expectOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Aborted(fmt.Errorf("failed to read rows affected: %w", err))
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ledger.ErrNotFound, what, id)
	}
	return nil
}

// classify maps constraint violations onto ledger errors.
func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %s", ledger.ErrValidation, strings.TrimPrefix(se.Error(), "UNIQUE constraint failed: "))
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: referenced account is missing or still has members", ledger.ErrValidation)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
