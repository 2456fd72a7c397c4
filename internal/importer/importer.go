// Package importer commits untrusted transaction batches. Rows are
// classified against everything already posted, then every unique row is
// inserted and its balance effect applied inside one unit of work:
// either the whole batch lands or none of it does.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/finbook/ledger-engine/internal/interfaces"
	"github.com/finbook/ledger-engine/internal/ledger"
	"github.com/finbook/ledger-engine/internal/models"
	"github.com/finbook/ledger-engine/internal/models/events"
	"github.com/finbook/ledger-engine/internal/signature"
)

// Service is the import pipeline.
type Service struct {
	store     interfaces.Store
	publisher interfaces.EventPublisher
	logger    zerolog.Logger
}

// NewService wires the pipeline to a store and an event publisher. The
// publisher may be nil.
func NewService(store interfaces.Store, publisher interfaces.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "importer").Logger(),
	}
}

// ImportBatch filters rows through the signature engine and commits the
// unique remainder as posted transactions, all-or-nothing. Re-running
// the same batch imports nothing: every row now matches an existing
// posted signature.
func (s *Service) ImportBatch(ctx context.Context, rows []models.ImportRow) (models.ImportResult, error) {
	posted, err := s.store.ListPosted(ctx)
	if err != nil {
		return models.ImportResult{}, fmt.Errorf("load posted transactions: %w", err)
	}

	unique, duplicates := signature.Partition(posted, rows)
	result := models.ImportResult{Duplicates: len(duplicates)}
	if len(unique) == 0 {
		s.logger.Info().Int("rows", len(rows)).Int("duplicates", result.Duplicates).Msg("batch contained nothing new")
		return result, nil
	}

	committed := make([]models.Transaction, 0, len(unique))

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return models.ImportResult{}, fmt.Errorf("begin unit of work: %w", err)
	}
	defer tx.Rollback()

	for _, row := range unique {
		t := models.Transaction{
			ID:              uuid.New().String(),
			AccountID:       row.AccountID,
			Type:            row.Type,
			Amount:          row.Amount,
			Category:        row.Category,
			Description:     row.Description,
			TransactionDate: row.TransactionDate,
			IsPosted:        true,
		}
		if err := tx.AddToBalance(ctx, t.AccountID, t.SignedAmount()); err != nil {
			return models.ImportResult{}, fmt.Errorf("apply balance for account %s: %w", t.AccountID, err)
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return models.ImportResult{}, fmt.Errorf("insert imported transaction: %w", err)
		}
		committed = append(committed, t)
	}

	if err := tx.Commit(); err != nil {
		return models.ImportResult{}, fmt.Errorf("commit batch: %w", err)
	}

	result.Imported = len(committed)
	result.Unique = committed

	for _, t := range committed {
		s.publishPosted(t)
	}
	s.logger.Info().
		Int("rows", len(rows)).
		Int("imported", result.Imported).
		Int("duplicates", result.Duplicates).
		Msg("batch imported")
	return result, nil
}

func (s *Service) publishPosted(t models.Transaction) {
	if s.publisher == nil {
		return
	}
	event := events.TransactionPosted{
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		Type:          string(t.Type),
		Delta:         t.SignedAmount(),
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.publisher.Publish(ledger.TopicTransactionPosted, event); err != nil {
		s.logger.Warn().Err(err).Str("transaction_id", t.ID).Msg("event publish failed")
	}
}
