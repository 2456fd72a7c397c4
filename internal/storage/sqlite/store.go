// Package sqlite implements the store interfaces on mattn/go-sqlite3.
// It backs single-binary local deployments and the test suite. Money is
// persisted as integer cents so arithmetic inside the database stays
// exact.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/finbook/ledger-engine/internal/interfaces"
	"github.com/finbook/ledger-engine/internal/models"
	"github.com/finbook/ledger-engine/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL DEFAULT '',
	type    TEXT NOT NULL DEFAULT 'bank',
	balance INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transactions (
	id               TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL,
	type             TEXT NOT NULL,
	amount           INTEGER NOT NULL,
	category         TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	transaction_date TIMESTAMP NOT NULL,
	is_planned       INTEGER NOT NULL DEFAULT 0,
	is_posted        INTEGER NOT NULL DEFAULT 0,
	project_id       TEXT NOT NULL DEFAULT '',
	project_line_id  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_project ON transactions(project_id);

CREATE TABLE IF NOT EXISTS project_lines (
	id               TEXT PRIMARY KEY,
	project_id       TEXT NOT NULL,
	kind             TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	projected_amount INTEGER NOT NULL DEFAULT 0,
	actual_amount    INTEGER NOT NULL DEFAULT 0,
	transaction_date TIMESTAMP NOT NULL,
	is_settled       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_project_lines_project ON project_lines(project_id);

CREATE TABLE IF NOT EXISTS linking_log (
	id             TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	line_id        TEXT NOT NULL,
	action         TEXT NOT NULL,
	actor          TEXT NOT NULL,
	at             TIMESTAMP NOT NULL
);
`

// Store is a sqlite-backed implementation of interfaces.Store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and initializes the
// schema. The pool is capped at one connection: sqlite allows a single
// writer, so concurrent units of work queue on the pool instead of
// failing with a busy error.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func (s *Store) Begin(ctx context.Context) (interfaces.StoreTx, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: dbTx}, nil
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (id, name, type, balance) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, account.ID, account.Name, string(account.Type), toCents(account.Balance))
	if isUniqueViolation(err) {
		return storage.ErrDuplicateID
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	const query = `SELECT id, name, type, balance FROM accounts WHERE id = ?`

	var (
		a     models.Account
		cents int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Name, (*string)(&a.Type), &cents)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Account{}, err
	}
	a.Balance = fromCents(cents)
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	const query = `SELECT id, name, type, balance FROM accounts ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var (
			a     models.Account
			cents int64
		)
		if err := rows.Scan(&a.ID, &a.Name, (*string)(&a.Type), &cents); err != nil {
			return nil, err
		}
		a.Balance = fromCents(cents)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

const txColumns = `id, account_id, type, amount, category, description,
	transaction_date, is_planned, is_posted, project_id, project_line_id`

func scanTransaction(row interface{ Scan(...any) error }) (models.Transaction, error) {
	var (
		t     models.Transaction
		cents int64
	)
	err := row.Scan(&t.ID, &t.AccountID, (*string)(&t.Type), &cents, &t.Category,
		&t.Description, &t.TransactionDate, &t.IsPlanned, &t.IsPosted,
		&t.ProjectID, &t.ProjectLineID)
	if err != nil {
		return models.Transaction{}, err
	}
	t.Amount = fromCents(cents)
	return t, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = ?`

	t, err := scanTransaction(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, storage.ErrNotFound
	}
	return t, err
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions ORDER BY transaction_date, id`)
}

func (s *Store) ListPosted(ctx context.Context) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions WHERE is_posted = 1 ORDER BY transaction_date, id`)
}

func (s *Store) ListTransactionsByProject(ctx context.Context, projectID string) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions WHERE project_id = ? ORDER BY transaction_date, id`, projectID)
}

const lineColumns = `id, project_id, kind, description, category,
	projected_amount, actual_amount, transaction_date, is_settled`

func scanLine(row interface{ Scan(...any) error }) (models.ProjectBudgetLine, error) {
	var (
		l                 models.ProjectBudgetLine
		projected, actual int64
	)
	err := row.Scan(&l.ID, &l.ProjectID, (*string)(&l.Kind), &l.Description,
		&l.Category, &projected, &actual, &l.TransactionDate, &l.IsSettled)
	if err != nil {
		return models.ProjectBudgetLine{}, err
	}
	l.ProjectedAmount = fromCents(projected)
	l.ActualAmount = fromCents(actual)
	return l, nil
}

func (s *Store) CreateLine(ctx context.Context, line models.ProjectBudgetLine) error {
	const query = `INSERT INTO project_lines (` + lineColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, line.ID, line.ProjectID, string(line.Kind),
		line.Description, line.Category, toCents(line.ProjectedAmount),
		toCents(line.ActualAmount), line.TransactionDate, line.IsSettled)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateID
	}
	return err
}

func (s *Store) GetLine(ctx context.Context, id string) (models.ProjectBudgetLine, error) {
	const query = `SELECT ` + lineColumns + ` FROM project_lines WHERE id = ?`

	l, err := scanLine(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProjectBudgetLine{}, storage.ErrNotFound
	}
	return l, err
}

func (s *Store) ListLinesByProject(ctx context.Context, projectID string) ([]models.ProjectBudgetLine, error) {
	const query = `SELECT ` + lineColumns + ` FROM project_lines WHERE project_id = ? ORDER BY transaction_date, id`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []models.ProjectBudgetLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *Store) ListLinkingRecords(ctx context.Context, transactionID string) ([]models.LinkingRecord, error) {
	const query = `SELECT id, transaction_id, line_id, action, actor, at
		FROM linking_log WHERE transaction_id = ? ORDER BY at, id`

	rows, err := s.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.LinkingRecord
	for rows.Next() {
		var r models.LinkingRecord
		if err := rows.Scan(&r.ID, &r.TransactionID, &r.LineID, (*string)(&r.Action), &r.Actor, &r.At); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

// Tx is one open sqlite transaction.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// GetTransactionForUpdate reads a transaction inside the unit of work.
// sqlite locks the whole database per writer, so no FOR UPDATE clause is
// needed to hold the row.
func (t *Tx) GetTransactionForUpdate(ctx context.Context, id string) (models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, storage.ErrNotFound
	}
	return tx, err
}

func (t *Tx) InsertTransaction(ctx context.Context, tx models.Transaction) error {
	const query = `INSERT INTO transactions (` + txColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := t.tx.ExecContext(ctx, query, tx.ID, tx.AccountID, string(tx.Type),
		toCents(tx.Amount), tx.Category, tx.Description, tx.TransactionDate,
		tx.IsPlanned, tx.IsPosted, tx.ProjectID, tx.ProjectLineID)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateID
	}
	return err
}

func (t *Tx) UpdateTransaction(ctx context.Context, tx models.Transaction) error {
	const query = `UPDATE transactions SET account_id = ?, type = ?, amount = ?,
		category = ?, description = ?, transaction_date = ?, is_planned = ?,
		is_posted = ?, project_id = ?, project_line_id = ? WHERE id = ?`

	res, err := t.tx.ExecContext(ctx, query, tx.AccountID, string(tx.Type),
		toCents(tx.Amount), tx.Category, tx.Description, tx.TransactionDate,
		tx.IsPlanned, tx.IsPosted, tx.ProjectID, tx.ProjectLineID, tx.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *Tx) DeleteTransaction(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *Tx) SetPosted(ctx context.Context, id string, posted bool) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE transactions SET is_posted = ? WHERE id = ?`, posted, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AddToBalance is the atomic increment: the addition is evaluated by
// sqlite against the current row value, so concurrent deltas on one
// account serialize instead of overwriting each other.
func (t *Tx) AddToBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	const query = `UPDATE accounts SET balance = balance + ? WHERE id = ?`

	res, err := t.tx.ExecContext(ctx, query, toCents(delta), accountID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *Tx) GetLineForUpdate(ctx context.Context, id string) (models.ProjectBudgetLine, error) {
	query := `SELECT ` + lineColumns + ` FROM project_lines WHERE id = ?`

	l, err := scanLine(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProjectBudgetLine{}, storage.ErrNotFound
	}
	return l, err
}

func (t *Tx) UpdateLine(ctx context.Context, line models.ProjectBudgetLine) error {
	const query = `UPDATE project_lines SET description = ?, category = ?,
		projected_amount = ?, actual_amount = ?, transaction_date = ?, is_settled = ?
		WHERE id = ?`

	res, err := t.tx.ExecContext(ctx, query, line.Description, line.Category,
		toCents(line.ProjectedAmount), toCents(line.ActualAmount),
		line.TransactionDate, line.IsSettled, line.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *Tx) SetTransactionLink(ctx context.Context, txID, projectID, lineID string) error {
	const query = `UPDATE transactions SET project_id = ?, project_line_id = ? WHERE id = ?`

	res, err := t.tx.ExecContext(ctx, query, projectID, lineID, txID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *Tx) CountOtherLinksToLine(ctx context.Context, lineID, excludeTxID string) (int, error) {
	const query = `SELECT COUNT(*) FROM transactions WHERE project_line_id = ? AND id <> ?`

	var n int
	err := t.tx.QueryRowContext(ctx, query, lineID, excludeTxID).Scan(&n)
	return n, err
}

func (t *Tx) AppendLinkingRecord(ctx context.Context, rec models.LinkingRecord) error {
	const query = `INSERT INTO linking_log (id, transaction_id, line_id, action, actor, at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := t.tx.ExecContext(ctx, query, rec.ID, rec.TransactionID, rec.LineID,
		string(rec.Action), rec.Actor, rec.At)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var (
	_ interfaces.Store   = (*Store)(nil)
	_ interfaces.StoreTx = (*Tx)(nil)
)
