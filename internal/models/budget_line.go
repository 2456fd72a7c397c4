package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineKind tells whether a budget line plans money going out (expense,
// settled flag means "paid") or coming in (revenue, settled flag means
// "received").
type LineKind string

const (
	LineExpense LineKind = "expense"
	LineRevenue LineKind = "revenue"
)

// ProjectBudgetLine is a planned expense or revenue item belonging to a
// project. ProjectedAmount is authored up front; ActualAmount and
// IsSettled are maintained by the matcher when a realized transaction is
// linked or unlinked.
type ProjectBudgetLine struct {
	ID              string
	ProjectID       string
	Kind            LineKind
	Description     string
	Category        string
	ProjectedAmount decimal.Decimal
	ActualAmount    decimal.Decimal
	TransactionDate time.Time
	IsSettled       bool
}
