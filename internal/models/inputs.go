package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateTransactionInput carries the already-validated fields for a new
// transaction. The API layer owns field validation; by the time one of
// these reaches the core, Amount is positive and Type is a known value.
type CreateTransactionInput struct {
	AccountID       string
	Type            TransactionType
	Amount          decimal.Decimal
	Category        string
	Description     string
	TransactionDate time.Time
	IsPlanned       bool
	IsPosted        bool
	ProjectID       string
}

// Transaction builds the domain transaction for this input. ID is left
// empty for the ledger to assign.
func (in CreateTransactionInput) Transaction() Transaction {
	return Transaction{
		AccountID:       in.AccountID,
		Type:            in.Type,
		Amount:          in.Amount,
		Category:        in.Category,
		Description:     in.Description,
		TransactionDate: in.TransactionDate,
		IsPlanned:       in.IsPlanned,
		IsPosted:        in.IsPosted,
		ProjectID:       in.ProjectID,
	}
}

// UpdateTransactionInput is the full replacement state for an existing
// transaction. The ledger computes the balance delta between the stored
// row and this input.
type UpdateTransactionInput struct {
	AccountID       string
	Type            TransactionType
	Amount          decimal.Decimal
	Category        string
	Description     string
	TransactionDate time.Time
	IsPlanned       bool
	IsPosted        bool
}

// LinkRequest associates a realized transaction with a project budget
// line. Actor is the opaque identity string recorded in the linking log.
type LinkRequest struct {
	TransactionID string
	LineID        string
	Actor         string
}

// AdjustmentInput records an audited balance correction. Amount carries
// its own sign: positive raises the balance, negative lowers it.
type AdjustmentInput struct {
	AccountID string
	Amount    decimal.Decimal
	Reason    string
	Actor     string
}
