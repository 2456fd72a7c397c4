package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies how a transaction affects the owning
// account's balance once posted.
type TransactionType string

const (
	TypeIncome   TransactionType = "income"
	TypeExpense  TransactionType = "expense"
	TypeTransfer TransactionType = "transfer"
)

// ValidTransactionType reports whether t is one of the known types.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TypeIncome, TypeExpense, TypeTransfer:
		return true
	}
	return false
}

// Transaction represents a single economic event on an account.
// Amount is always positive; the sign of its balance contribution is
// derived from Type. ProjectID/ProjectLineID are empty when the
// transaction is not linked to a project budget line.
type Transaction struct {
	ID              string
	AccountID       string
	Type            TransactionType
	Amount          decimal.Decimal
	Category        string
	Description     string
	TransactionDate time.Time
	IsPlanned       bool
	IsPosted        bool
	ProjectID       string
	ProjectLineID   string
}

// SignedAmount is the transaction's contribution to the owning account's
// balance when posted: +Amount for income, -Amount for expense, zero for
// transfer (a transfer nets out across accounts and never moves the
// single-account sum).
func (t Transaction) SignedAmount() decimal.Decimal {
	switch t.Type {
	case TypeIncome:
		return t.Amount
	case TypeExpense:
		return t.Amount.Neg()
	default:
		return decimal.Zero
	}
}

// PostedContribution is SignedAmount when the transaction is posted,
// zero otherwise.
func (t Transaction) PostedContribution() decimal.Decimal {
	if !t.IsPosted {
		return decimal.Zero
	}
	return t.SignedAmount()
}
