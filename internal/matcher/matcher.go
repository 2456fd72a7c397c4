// Package matcher associates realized transactions with planned project
// budget lines. It reads and writes transactions and lines but never
// touches an account balance; every link and unlink is appended to the
// linking log.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/finbook/ledger-engine/internal/interfaces"
	"github.com/finbook/ledger-engine/internal/models"
	"github.com/finbook/ledger-engine/internal/models/events"
)

// TopicBudgetLineLinked is the event topic for link/unlink actions.
const TopicBudgetLineLinked = "budget_line_linked"

// ErrAlreadyLinked is returned when a transaction already references a
// different budget line. The caller must unlink first.
var ErrAlreadyLinked = errors.New("transaction already linked to another line")

// Match pairs a candidate budget line with its composite score.
type Match struct {
	Line  models.ProjectBudgetLine
	Score float64
}

// Service is the budget line matcher.
type Service struct {
	store     interfaces.Store
	publisher interfaces.EventPublisher
	weights   Weights
	logger    zerolog.Logger
}

// NewService wires the matcher. The publisher may be nil.
func NewService(store interfaces.Store, publisher interfaces.EventPublisher, weights Weights, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		weights:   weights,
		logger:    logger.With().Str("component", "matcher").Logger(),
	}
}

func (s *Service) publish(event events.BudgetLineLinked) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(TopicBudgetLineLinked, event); err != nil {
		s.logger.Warn().Err(err).Str("transaction_id", event.TransactionID).Msg("event publish failed")
	}
}

// Link attaches a transaction to a budget line, marks the line settled
// with the transaction's amount as actual, and appends a link record.
// Linking to the line the transaction is already on is a no-op; linking
// while attached to a different line fails with ErrAlreadyLinked.
func (s *Service) Link(ctx context.Context, req models.LinkRequest) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer tx.Rollback()

	t, err := tx.GetTransactionForUpdate(ctx, req.TransactionID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", req.TransactionID, err)
	}
	if t.ProjectLineID == req.LineID {
		return nil
	}
	if t.ProjectLineID != "" {
		return fmt.Errorf("transaction %s holds line %s: %w", t.ID, t.ProjectLineID, ErrAlreadyLinked)
	}

	line, err := tx.GetLineForUpdate(ctx, req.LineID)
	if err != nil {
		return fmt.Errorf("load line %s: %w", req.LineID, err)
	}

	if err := tx.SetTransactionLink(ctx, t.ID, line.ProjectID, line.ID); err != nil {
		return fmt.Errorf("set link on %s: %w", t.ID, err)
	}

	line.IsSettled = true
	line.ActualAmount = t.Amount
	if err := tx.UpdateLine(ctx, line); err != nil {
		return fmt.Errorf("settle line %s: %w", line.ID, err)
	}

	now := time.Now().UTC()
	rec := models.LinkingRecord{
		ID:            uuid.New().String(),
		TransactionID: t.ID,
		LineID:        line.ID,
		Action:        models.ActionLink,
		Actor:         req.Actor,
		At:            now,
	}
	if err := tx.AppendLinkingRecord(ctx, rec); err != nil {
		return fmt.Errorf("append linking record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit link: %w", err)
	}

	s.publish(events.BudgetLineLinked{
		TransactionID: t.ID,
		LineID:        line.ID,
		Action:        string(models.ActionLink),
		Actor:         req.Actor,
		OccurredAt:    now,
	})
	return nil
}

// Unlink clears the transaction's line reference and, when no other
// transaction still references the line, clears the line's settled flag.
// Unlinking an already-unlinked transaction is a no-op.
func (s *Service) Unlink(ctx context.Context, transactionID, actor string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer tx.Rollback()

	t, err := tx.GetTransactionForUpdate(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", transactionID, err)
	}
	if t.ProjectLineID == "" {
		return nil
	}
	lineID := t.ProjectLineID

	if err := tx.SetTransactionLink(ctx, t.ID, t.ProjectID, ""); err != nil {
		return fmt.Errorf("clear link on %s: %w", t.ID, err)
	}

	others, err := tx.CountOtherLinksToLine(ctx, lineID, t.ID)
	if err != nil {
		return fmt.Errorf("count links to line %s: %w", lineID, err)
	}
	if others == 0 {
		line, err := tx.GetLineForUpdate(ctx, lineID)
		if err != nil {
			return fmt.Errorf("load line %s: %w", lineID, err)
		}
		line.IsSettled = false
		if err := tx.UpdateLine(ctx, line); err != nil {
			return fmt.Errorf("unsettle line %s: %w", lineID, err)
		}
	}

	now := time.Now().UTC()
	rec := models.LinkingRecord{
		ID:            uuid.New().String(),
		TransactionID: t.ID,
		LineID:        lineID,
		Action:        models.ActionUnlink,
		Actor:         actor,
		At:            now,
	}
	if err := tx.AppendLinkingRecord(ctx, rec); err != nil {
		return fmt.Errorf("append linking record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unlink: %w", err)
	}

	s.publish(events.BudgetLineLinked{
		TransactionID: t.ID,
		LineID:        lineID,
		Action:        string(models.ActionUnlink),
		Actor:         actor,
		OccurredAt:    now,
	})
	return nil
}

// SuggestMatches scores the unlinked budget lines of the transaction's
// project and returns them best-first. A transaction with no project has
// no candidate pool and gets an empty list.
func (s *Service) SuggestMatches(ctx context.Context, transactionID string) ([]Match, error) {
	t, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", transactionID, err)
	}
	if t.ProjectID == "" {
		return nil, nil
	}

	lines, err := s.store.ListLinesByProject(ctx, t.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load lines for project %s: %w", t.ProjectID, err)
	}
	taken, err := s.takenLines(ctx, t.ProjectID, t.ID)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, line := range lines {
		if _, used := taken[line.ID]; used {
			continue
		}
		if score := s.weights.Score(t, line); score > 0 {
			matches = append(matches, Match{Line: line, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// takenLines returns the ids of lines already linked to some transaction
// in the project other than excludeTxID.
func (s *Service) takenLines(ctx context.Context, projectID, excludeTxID string) (map[string]struct{}, error) {
	txs, err := s.store.ListTransactionsByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load transactions for project %s: %w", projectID, err)
	}
	taken := make(map[string]struct{})
	for _, other := range txs {
		if other.ID != excludeTxID && other.ProjectLineID != "" {
			taken[other.ProjectLineID] = struct{}{}
		}
	}
	return taken, nil
}

// AutoLink walks every unlinked transaction in the project and links it
// to its best unlinked line when the score clears the confidence
// threshold. One unmatched or failing item never aborts the run; it is
// counted as skipped and the walk continues.
func (s *Service) AutoLink(ctx context.Context, projectID, actor string) (linked, skipped int, err error) {
	txs, err := s.store.ListTransactionsByProject(ctx, projectID)
	if err != nil {
		return 0, 0, fmt.Errorf("load transactions for project %s: %w", projectID, err)
	}
	lines, err := s.store.ListLinesByProject(ctx, projectID)
	if err != nil {
		return 0, 0, fmt.Errorf("load lines for project %s: %w", projectID, err)
	}

	taken := make(map[string]struct{})
	for _, t := range txs {
		if t.ProjectLineID != "" {
			taken[t.ProjectLineID] = struct{}{}
		}
	}

	for _, t := range txs {
		if t.ProjectLineID != "" {
			continue
		}

		bestScore := 0.0
		var best *models.ProjectBudgetLine
		for i, line := range lines {
			if _, used := taken[line.ID]; used {
				continue
			}
			if score := s.weights.Score(t, line); score > bestScore {
				bestScore = score
				best = &lines[i]
			}
		}

		if best == nil || bestScore < s.weights.AutoLinkThreshold {
			skipped++
			continue
		}

		if err := s.Link(ctx, models.LinkRequest{TransactionID: t.ID, LineID: best.ID, Actor: actor}); err != nil {
			s.logger.Warn().Err(err).Str("transaction_id", t.ID).Str("line_id", best.ID).Msg("auto-link failed, skipping")
			skipped++
			continue
		}
		taken[best.ID] = struct{}{}
		linked++
	}

	s.logger.Info().Str("project_id", projectID).Int("linked", linked).Int("skipped", skipped).Msg("auto-link finished")
	return linked, skipped, nil
}
