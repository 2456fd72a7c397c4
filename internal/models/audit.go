package models

import "github.com/shopspring/decimal"

// AccountDrift compares an account's stored balance against the balance
// recomputed from its posted transactions. Diff is stored minus
// calculated; zero means the ledger invariant holds.
type AccountDrift struct {
	AccountID  string
	Stored     decimal.Decimal
	Calculated decimal.Decimal
	Diff       decimal.Decimal
}

// InBalance reports whether stored and calculated agree.
func (d AccountDrift) InBalance() bool {
	return d.Diff.IsZero()
}

// AuditAnomalies collects data problems found alongside balance drift.
type AuditAnomalies struct {
	// DuplicateSignatureGroups maps a duplicate-detection signature to the
	// posted transactions sharing it (only groups with 2+ members).
	DuplicateSignatureGroups   map[string][]Transaction
	NegativeAmountTransactions []Transaction

	// OrphanTransactions reference an account id that no longer exists.
	OrphanTransactions []Transaction

	// FarFutureTransactions are dated implausibly far ahead of the audit.
	FarFutureTransactions []Transaction
}

// AuditReport is the full read-only output of one reconciliation run.
type AuditReport struct {
	PerAccount []AccountDrift
	Anomalies  AuditAnomalies
}

// DriftedAccounts returns only the accounts whose stored balance disagrees
// with the recomputed one.
func (r AuditReport) DriftedAccounts() []AccountDrift {
	var out []AccountDrift
	for _, d := range r.PerAccount {
		if !d.InBalance() {
			out = append(out, d)
		}
	}
	return out
}
