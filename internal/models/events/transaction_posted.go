package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionPosted is emitted after a transaction's balance effect has
// been committed — on create-as-posted, import, and post/unpost. Delta is
// the signed amount actually applied to the account.
type TransactionPosted struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Type          string          `json:"type"`
	Delta         decimal.Decimal `json:"delta"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// BudgetLineLinked is emitted after a link or unlink commits, mirroring
// the persisted linking log entry.
type BudgetLineLinked struct {
	TransactionID string    `json:"transaction_id"`
	LineID        string    `json:"line_id"`
	Action        string    `json:"action"`
	Actor         string    `json:"actor"`
	OccurredAt    time.Time `json:"occurred_at"`
}
