package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/finbook/ledger-engine/internal/models"
)

// Store is the read side of the relational store plus the entry point for
// units of work. Implementations exist for postgres (production) and
// sqlite (local mode and tests); services depend only on this interface.
type Store interface {
	// Begin opens a unit of work. Everything done through the returned
	// StoreTx commits or rolls back together.
	Begin(ctx context.Context) (StoreTx, error)

	CreateAccount(ctx context.Context, account models.Account) error
	GetAccount(ctx context.Context, id string) (models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)

	GetTransaction(ctx context.Context, id string) (models.Transaction, error)
	ListTransactions(ctx context.Context) ([]models.Transaction, error)
	ListPosted(ctx context.Context) ([]models.Transaction, error)
	ListTransactionsByProject(ctx context.Context, projectID string) ([]models.Transaction, error)

	CreateLine(ctx context.Context, line models.ProjectBudgetLine) error
	GetLine(ctx context.Context, id string) (models.ProjectBudgetLine, error)
	ListLinesByProject(ctx context.Context, projectID string) ([]models.ProjectBudgetLine, error)

	ListLinkingRecords(ctx context.Context, transactionID string) ([]models.LinkingRecord, error)
}

// StoreTx is one open storage transaction. The balance mutation is
// expressed as AddToBalance so the increment happens inside the database
// (`SET balance = balance + ?`), never as a read-modify-write in Go.
type StoreTx interface {
	GetTransactionForUpdate(ctx context.Context, id string) (models.Transaction, error)
	InsertTransaction(ctx context.Context, tx models.Transaction) error
	UpdateTransaction(ctx context.Context, tx models.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	SetPosted(ctx context.Context, id string, posted bool) error

	// AddToBalance applies delta atomically to the account row, returning
	// storage.ErrNotFound when the account does not exist.
	AddToBalance(ctx context.Context, accountID string, delta decimal.Decimal) error

	GetLineForUpdate(ctx context.Context, id string) (models.ProjectBudgetLine, error)
	UpdateLine(ctx context.Context, line models.ProjectBudgetLine) error
	SetTransactionLink(ctx context.Context, txID, projectID, lineID string) error
	CountOtherLinksToLine(ctx context.Context, lineID, excludeTxID string) (int, error)
	AppendLinkingRecord(ctx context.Context, rec models.LinkingRecord) error

	Commit() error
	Rollback() error
}
