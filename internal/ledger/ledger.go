// Package ledger is the single path through which a transaction's
// posting effect reaches an account balance. Every operation runs inside
// one storage transaction covering both the transaction row and the
// account row, and the balance change is always an in-database increment,
// so the invariant "balance equals the sum of posted transactions" is
// never observed broken — not by a concurrent caller and not after a
// failure.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/finbook/ledger-engine/internal/interfaces"
	"github.com/finbook/ledger-engine/internal/models"
	"github.com/finbook/ledger-engine/internal/models/events"
)

// TopicTransactionPosted is the event topic for committed balance effects.
const TopicTransactionPosted = "transaction_posted"

// AdjustmentCategory marks transactions created by RecordAdjustment.
const AdjustmentCategory = "adjustment"

// Service maintains the ledger invariant.
type Service struct {
	store     interfaces.Store
	publisher interfaces.EventPublisher
	logger    zerolog.Logger
}

// NewService wires the maintainer to a store and an event publisher. The
// publisher may be nil; events are then skipped.
func NewService(store interfaces.Store, publisher interfaces.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "ledger").Logger(),
	}
}

// inTx runs fn inside one unit of work, rolling back on any error.
func (s *Service) inTx(ctx context.Context, fn func(tx interfaces.StoreTx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}
	return nil
}

func (s *Service) publish(event events.TransactionPosted) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(TopicTransactionPosted, event); err != nil {
		s.logger.Warn().Err(err).Str("transaction_id", event.TransactionID).Msg("event publish failed")
	}
}

// Create inserts a transaction and, if it is posted, applies its signed
// amount to the owning account's balance. The account row is always
// touched (with a zero delta for unposted rows) so a missing account
// surfaces as storage.ErrNotFound before anything is committed.
func (s *Service) Create(ctx context.Context, in models.CreateTransactionInput) (models.Transaction, error) {
	tx := in.Transaction()
	tx.ID = uuid.New().String()

	err := s.inTx(ctx, func(stx interfaces.StoreTx) error {
		if err := stx.AddToBalance(ctx, tx.AccountID, tx.PostedContribution()); err != nil {
			return fmt.Errorf("apply balance for account %s: %w", tx.AccountID, err)
		}
		if err := stx.InsertTransaction(ctx, tx); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	if tx.IsPosted {
		s.publish(events.TransactionPosted{
			TransactionID: tx.ID,
			AccountID:     tx.AccountID,
			Type:          string(tx.Type),
			Delta:         tx.SignedAmount(),
			OccurredAt:    time.Now().UTC(),
		})
	}
	s.logger.Debug().Str("transaction_id", tx.ID).Bool("posted", tx.IsPosted).Msg("transaction created")
	return tx, nil
}

// Update replaces a transaction's mutable fields and moves the balance
// delta between old and new state. When the owning account changes, the
// old contribution is reversed on the old account and the new one
// applied on the new account, both inside the same unit of work.
func (s *Service) Update(ctx context.Context, id string, in models.UpdateTransactionInput) (models.Transaction, error) {
	var updated models.Transaction

	err := s.inTx(ctx, func(stx interfaces.StoreTx) error {
		old, err := stx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("load transaction %s: %w", id, err)
		}

		updated = models.Transaction{
			ID:              old.ID,
			AccountID:       in.AccountID,
			Type:            in.Type,
			Amount:          in.Amount,
			Category:        in.Category,
			Description:     in.Description,
			TransactionDate: in.TransactionDate,
			IsPlanned:       in.IsPlanned,
			IsPosted:        in.IsPosted,
			ProjectID:       old.ProjectID,
			ProjectLineID:   old.ProjectLineID,
		}

		if old.AccountID == updated.AccountID {
			delta := updated.PostedContribution().Sub(old.PostedContribution())
			if err := stx.AddToBalance(ctx, updated.AccountID, delta); err != nil {
				return fmt.Errorf("apply balance for account %s: %w", updated.AccountID, err)
			}
		} else {
			if err := stx.AddToBalance(ctx, old.AccountID, old.PostedContribution().Neg()); err != nil {
				return fmt.Errorf("reverse balance for account %s: %w", old.AccountID, err)
			}
			if err := stx.AddToBalance(ctx, updated.AccountID, updated.PostedContribution()); err != nil {
				return fmt.Errorf("apply balance for account %s: %w", updated.AccountID, err)
			}
		}

		if err := stx.UpdateTransaction(ctx, updated); err != nil {
			return fmt.Errorf("update transaction %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	s.logger.Debug().Str("transaction_id", id).Msg("transaction updated")
	return updated, nil
}

// SetPosted toggles a transaction's posting state. Requesting the state
// the transaction is already in is a no-op, not an error: the current
// row comes back unchanged and no delta is applied, which makes the
// operation idempotent and the post/unpost round trip exactly
// reversible.
func (s *Service) SetPosted(ctx context.Context, id string, posted bool) (models.Transaction, error) {
	var (
		result  models.Transaction
		changed bool
	)

	err := s.inTx(ctx, func(stx interfaces.StoreTx) error {
		tx, err := stx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("load transaction %s: %w", id, err)
		}
		if tx.IsPosted == posted {
			result = tx
			return nil
		}

		delta := tx.SignedAmount()
		if !posted {
			delta = delta.Neg()
		}
		if err := stx.AddToBalance(ctx, tx.AccountID, delta); err != nil {
			return fmt.Errorf("apply balance for account %s: %w", tx.AccountID, err)
		}
		if err := stx.SetPosted(ctx, id, posted); err != nil {
			return fmt.Errorf("set posted on %s: %w", id, err)
		}

		tx.IsPosted = posted
		result = tx
		changed = true
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	if changed {
		delta := result.SignedAmount()
		if !posted {
			delta = delta.Neg()
		}
		s.publish(events.TransactionPosted{
			TransactionID: result.ID,
			AccountID:     result.AccountID,
			Type:          string(result.Type),
			Delta:         delta,
			OccurredAt:    time.Now().UTC(),
		})
	}
	return result, nil
}

// Delete reverses the transaction's posted contribution, if any, and
// removes the row.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.inTx(ctx, func(stx interfaces.StoreTx) error {
		tx, err := stx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("load transaction %s: %w", id, err)
		}
		if tx.IsPosted {
			if err := stx.AddToBalance(ctx, tx.AccountID, tx.SignedAmount().Neg()); err != nil {
				return fmt.Errorf("reverse balance for account %s: %w", tx.AccountID, err)
			}
		}
		if err := stx.DeleteTransaction(ctx, id); err != nil {
			return fmt.Errorf("delete transaction %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Str("transaction_id", id).Msg("transaction deleted")
	return nil
}

// RecordAdjustment posts an audited balance correction through the same
// path as any other transaction. It replaces out-of-band "fix balance"
// updates: the correction is a regular posted transaction, so it shows
// up in audits and sums like everything else. The sign of the amount
// picks the transaction type.
func (s *Service) RecordAdjustment(ctx context.Context, in models.AdjustmentInput) (models.Transaction, error) {
	typ := models.TypeIncome
	amount := in.Amount
	if amount.IsNegative() {
		typ = models.TypeExpense
		amount = amount.Neg()
	}

	s.logger.Info().
		Str("account_id", in.AccountID).
		Str("amount", in.Amount.StringFixed(2)).
		Str("actor", in.Actor).
		Str("reason", in.Reason).
		Msg("recording balance adjustment")

	return s.Create(ctx, models.CreateTransactionInput{
		AccountID:       in.AccountID,
		Type:            typ,
		Amount:          amount,
		Category:        AdjustmentCategory,
		Description:     fmt.Sprintf("adjustment (%s): %s", in.Actor, in.Reason),
		TransactionDate: time.Now().UTC(),
		IsPosted:        true,
	})
}
