// Package reconcile recomputes account balances from posted transactions
// and reports drift and related data anomalies. It only reads: the audit
// is advisory, takes no locks, and a stale snapshot is acceptable.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finbook/ledger-engine/internal/interfaces"
	"github.com/finbook/ledger-engine/internal/models"
	"github.com/finbook/ledger-engine/internal/signature"
)

// FarFutureHorizon is how far ahead of the audit a transaction date may
// sit before it is flagged as an anomaly.
const FarFutureHorizon = 365 * 24 * time.Hour

// Service is the read-only auditor.
type Service struct {
	store  interfaces.Store
	logger zerolog.Logger
}

// NewService wires the auditor to a store.
func NewService(store interfaces.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "reconcile").Logger(),
	}
}

// RunAudit compares each account's stored balance against the sum of its
// posted transactions and collects anomalies across the whole
// transaction set. A store failure fails the run; nothing is mutated
// either way.
func (s *Service) RunAudit(ctx context.Context) (models.AuditReport, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return models.AuditReport{}, fmt.Errorf("load accounts: %w", err)
	}
	txs, err := s.store.ListTransactions(ctx)
	if err != nil {
		return models.AuditReport{}, fmt.Errorf("load transactions: %w", err)
	}

	known := make(map[string]struct{}, len(accounts))
	sums := make(map[string]decimal.Decimal, len(accounts))
	for _, a := range accounts {
		known[a.ID] = struct{}{}
		sums[a.ID] = decimal.Zero
	}

	report := models.AuditReport{
		Anomalies: models.AuditAnomalies{
			DuplicateSignatureGroups: map[string][]models.Transaction{},
		},
	}

	bySignature := make(map[string][]models.Transaction)
	horizon := time.Now().Add(FarFutureHorizon)

	for _, t := range txs {
		if _, ok := known[t.AccountID]; !ok {
			report.Anomalies.OrphanTransactions = append(report.Anomalies.OrphanTransactions, t)
		} else if t.IsPosted {
			sums[t.AccountID] = sums[t.AccountID].Add(t.SignedAmount())
		}

		if t.Amount.IsNegative() {
			report.Anomalies.NegativeAmountTransactions = append(report.Anomalies.NegativeAmountTransactions, t)
		}
		if t.TransactionDate.After(horizon) {
			report.Anomalies.FarFutureTransactions = append(report.Anomalies.FarFutureTransactions, t)
		}
		if t.IsPosted {
			sig := signature.Of(t)
			bySignature[sig] = append(bySignature[sig], t)
		}
	}

	for sig, group := range bySignature {
		if len(group) > 1 {
			report.Anomalies.DuplicateSignatureGroups[sig] = group
		}
	}

	for _, a := range accounts {
		calculated := sums[a.ID]
		report.PerAccount = append(report.PerAccount, models.AccountDrift{
			AccountID:  a.ID,
			Stored:     a.Balance,
			Calculated: calculated,
			Diff:       a.Balance.Sub(calculated),
		})
	}

	if drifted := report.DriftedAccounts(); len(drifted) > 0 {
		s.logger.Warn().Int("accounts", len(drifted)).Msg("balance drift detected")
	}
	return report, nil
}
