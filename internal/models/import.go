package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ImportRow is one already-parsed candidate transaction from an untrusted
// batch (bank statement export, CSV upload). The ingestion collaborator
// owns parsing; the pipeline only classifies and commits.
type ImportRow struct {
	AccountID       string
	TransactionDate time.Time
	Amount          decimal.Decimal
	Type            TransactionType
	Category        string
	Description     string
}

// ImportResult is the aggregate outcome of one batch import. Imported is
// the number of rows committed, Duplicates the number filtered out, and
// Unique the transactions actually inserted (posted), in batch order.
type ImportResult struct {
	Imported   int
	Duplicates int
	Unique     []Transaction
}
