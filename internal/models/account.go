package models

import "github.com/shopspring/decimal"

// AccountType distinguishes where the money lives.
type AccountType string

const (
	AccountCash   AccountType = "cash"
	AccountBank   AccountType = "bank"
	AccountMobile AccountType = "mobile"
	AccountCredit AccountType = "credit"
)

// Account holds identity and the stored running balance. Balance is only
// ever written through the ledger service; every other component reads it.
type Account struct {
	ID      string
	Name    string
	Type    AccountType
	Balance decimal.Decimal
}
