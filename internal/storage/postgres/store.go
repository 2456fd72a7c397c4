// Package postgres implements the store interfaces on lib/pq. This is
// the production store: balances live in NUMERIC(15,2) columns and every
// balance change is an in-database increment under the row lock postgres
// takes for the UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
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
	balance NUMERIC(15,2) NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transactions (
	id               TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL,
	type             TEXT NOT NULL,
	amount           NUMERIC(15,2) NOT NULL,
	category         TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	transaction_date TIMESTAMPTZ NOT NULL,
	is_planned       BOOLEAN NOT NULL DEFAULT FALSE,
	is_posted        BOOLEAN NOT NULL DEFAULT FALSE,
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
	projected_amount NUMERIC(15,2) NOT NULL DEFAULT 0,
	actual_amount    NUMERIC(15,2) NOT NULL DEFAULT 0,
	transaction_date TIMESTAMPTZ NOT NULL,
	is_settled       BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_project_lines_project ON project_lines(project_id);

CREATE TABLE IF NOT EXISTS linking_log (
	id             TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	line_id        TEXT NOT NULL,
	action         TEXT NOT NULL,
	actor          TEXT NOT NULL,
	at             TIMESTAMPTZ NOT NULL
);
`

// Store is a postgres-backed implementation of interfaces.Store.
type Store struct {
	db *sql.DB
}

// Open connects to dsn, verifies connectivity, and ensures the schema
// exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Begin(ctx context.Context) (interfaces.StoreTx, error) {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: dbTx}, nil
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (id, name, type, balance) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, account.ID, account.Name, string(account.Type), account.Balance)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateID
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	const query = `SELECT id, name, type, balance FROM accounts WHERE id = $1`

	var a models.Account
	err := s.db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Name, (*string)(&a.Type), &a.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, storage.ErrNotFound
	}
	return a, err
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
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Name, (*string)(&a.Type), &a.Balance); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

const txColumns = `id, account_id, type, amount, category, description,
	transaction_date, is_planned, is_posted, project_id, project_line_id`

func scanTransaction(row interface{ Scan(...any) error }) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.AccountID, (*string)(&t.Type), &t.Amount, &t.Category,
		&t.Description, &t.TransactionDate, &t.IsPlanned, &t.IsPosted,
		&t.ProjectID, &t.ProjectLineID)
	return t, err
}

func (s *Store) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`

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
	return s.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions WHERE is_posted ORDER BY transaction_date, id`)
}

func (s *Store) ListTransactionsByProject(ctx context.Context, projectID string) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions WHERE project_id = $1 ORDER BY transaction_date, id`, projectID)
}

const lineColumns = `id, project_id, kind, description, category,
	projected_amount, actual_amount, transaction_date, is_settled`

func scanLine(row interface{ Scan(...any) error }) (models.ProjectBudgetLine, error) {
	var l models.ProjectBudgetLine
	err := row.Scan(&l.ID, &l.ProjectID, (*string)(&l.Kind), &l.Description,
		&l.Category, &l.ProjectedAmount, &l.ActualAmount, &l.TransactionDate, &l.IsSettled)
	return l, err
}

func (s *Store) CreateLine(ctx context.Context, line models.ProjectBudgetLine) error {
	const query = `INSERT INTO project_lines (` + lineColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query, line.ID, line.ProjectID, string(line.Kind),
		line.Description, line.Category, line.ProjectedAmount, line.ActualAmount,
		line.TransactionDate, line.IsSettled)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateID
	}
	return err
}

func (s *Store) GetLine(ctx context.Context, id string) (models.ProjectBudgetLine, error) {
	query := `SELECT ` + lineColumns + ` FROM project_lines WHERE id = $1`

	l, err := scanLine(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProjectBudgetLine{}, storage.ErrNotFound
	}
	return l, err
}

func (s *Store) ListLinesByProject(ctx context.Context, projectID string) ([]models.ProjectBudgetLine, error) {
	query := `SELECT ` + lineColumns + ` FROM project_lines WHERE project_id = $1 ORDER BY transaction_date, id`

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
		FROM linking_log WHERE transaction_id = $1 ORDER BY at, id`

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
	var perr *pq.Error
	return errors.As(err, &perr) && perr.Code == "23505"
}

// Tx is one open postgres transaction.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// GetTransactionForUpdate reads a transaction and holds its row lock for
// the rest of the unit of work.
func (t *Tx) GetTransactionForUpdate(ctx context.Context, id string) (models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	tx, err := scanTransaction(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, storage.ErrNotFound
	}
	return tx, err
}

func (t *Tx) InsertTransaction(ctx context.Context, tx models.Transaction) error {
	const query = `INSERT INTO transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := t.tx.ExecContext(ctx, query, tx.ID, tx.AccountID, string(tx.Type),
		tx.Amount, tx.Category, tx.Description, tx.TransactionDate,
		tx.IsPlanned, tx.IsPosted, tx.ProjectID, tx.ProjectLineID)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateID
	}
	return err
}

func (t *Tx) UpdateTransaction(ctx context.Context, tx models.Transaction) error {
	const query = `UPDATE transactions SET account_id = $1, type = $2, amount = $3,
		category = $4, description = $5, transaction_date = $6, is_planned = $7,
		is_posted = $8, project_id = $9, project_line_id = $10 WHERE id = $11`

	res, err := t.tx.ExecContext(ctx, query, tx.AccountID, string(tx.Type), tx.Amount,
		tx.Category, tx.Description, tx.TransactionDate, tx.IsPlanned,
		tx.IsPosted, tx.ProjectID, tx.ProjectLineID, tx.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *Tx) DeleteTransaction(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *Tx) SetPosted(ctx context.Context, id string, posted bool) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE transactions SET is_posted = $1 WHERE id = $2`, posted, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AddToBalance applies delta with an in-database increment. Postgres
// row-locks the account for the UPDATE, so two units of work racing on
// the same account serialize and both deltas land.
func (t *Tx) AddToBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	const query = `UPDATE accounts SET balance = balance + $1 WHERE id = $2`

	res, err := t.tx.ExecContext(ctx, query, delta, accountID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *Tx) GetLineForUpdate(ctx context.Context, id string) (models.ProjectBudgetLine, error) {
	query := `SELECT ` + lineColumns + ` FROM project_lines WHERE id = $1 FOR UPDATE`

	l, err := scanLine(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProjectBudgetLine{}, storage.ErrNotFound
	}
	return l, err
}

func (t *Tx) UpdateLine(ctx context.Context, line models.ProjectBudgetLine) error {
	const query = `UPDATE project_lines SET description = $1, category = $2,
		projected_amount = $3, actual_amount = $4, transaction_date = $5, is_settled = $6
		WHERE id = $7`

	res, err := t.tx.ExecContext(ctx, query, line.Description, line.Category,
		line.ProjectedAmount, line.ActualAmount, line.TransactionDate,
		line.IsSettled, line.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *Tx) SetTransactionLink(ctx context.Context, txID, projectID, lineID string) error {
	const query = `UPDATE transactions SET project_id = $1, project_line_id = $2 WHERE id = $3`

	res, err := t.tx.ExecContext(ctx, query, projectID, lineID, txID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *Tx) CountOtherLinksToLine(ctx context.Context, lineID, excludeTxID string) (int, error) {
	const query = `SELECT COUNT(*) FROM transactions WHERE project_line_id = $1 AND id <> $2`

	var n int
	err := t.tx.QueryRowContext(ctx, query, lineID, excludeTxID).Scan(&n)
	return n, err
}

func (t *Tx) AppendLinkingRecord(ctx context.Context, rec models.LinkingRecord) error {
	const query = `INSERT INTO linking_log (id, transaction_id, line_id, action, actor, at)
		VALUES ($1, $2, $3, $4, $5, $6)`

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
