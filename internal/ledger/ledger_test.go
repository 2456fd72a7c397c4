package ledger_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbook/ledger-engine/internal/config"
	"github.com/finbook/ledger-engine/internal/interfaces"
	"github.com/finbook/ledger-engine/internal/ledger"
	"github.com/finbook/ledger-engine/internal/models"
	"github.com/finbook/ledger-engine/internal/storage"
	"github.com/finbook/ledger-engine/internal/storage/sqlite"
)

func newFixture(t *testing.T) (*ledger.Service, interfaces.Store) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return ledger.NewService(store, nil, config.NewLogger("error")), store
}

func seedAccount(t *testing.T, store interfaces.Store, id string, balance string) {
	t.Helper()
	err := store.CreateAccount(context.Background(), models.Account{
		ID:      id,
		Name:    id,
		Type:    models.AccountBank,
		Balance: decimal.RequireFromString(balance),
	})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, store interfaces.Store, id string) string {
	t.Helper()
	a, err := store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance.StringFixed(2)
}

func createInput(account string, typ models.TransactionType, amount string, posted bool) models.CreateTransactionInput {
	return models.CreateTransactionInput{
		AccountID:       account,
		Type:            typ,
		Amount:          decimal.RequireFromString(amount),
		Category:        "misc",
		Description:     "test transaction",
		TransactionDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		IsPosted:        posted,
	}
}

func TestCreatePostedAppliesSignedAmount(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "0")
	ctx := context.Background()

	_, err := svc.Create(ctx, createInput("acc-1", models.TypeIncome, "120.50", true))
	require.NoError(t, err)
	assert.Equal(t, "120.50", balanceOf(t, store, "acc-1"))

	_, err = svc.Create(ctx, createInput("acc-1", models.TypeExpense, "20.50", true))
	require.NoError(t, err)
	assert.Equal(t, "100.00", balanceOf(t, store, "acc-1"))
}

func TestCreateUnpostedLeavesBalance(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "500")

	tx, err := svc.Create(context.Background(), createInput("acc-1", models.TypeExpense, "100", false))
	require.NoError(t, err)
	assert.False(t, tx.IsPosted)
	assert.Equal(t, "500.00", balanceOf(t, store, "acc-1"))
}

func TestCreateTransferHasNoBalanceEffect(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "500")

	_, err := svc.Create(context.Background(), createInput("acc-1", models.TypeTransfer, "200", true))
	require.NoError(t, err)
	assert.Equal(t, "500.00", balanceOf(t, store, "acc-1"))
}

func TestCreateMissingAccount(t *testing.T) {
	svc, store := newFixture(t)

	_, err := svc.Create(context.Background(), createInput("nope", models.TypeIncome, "10", true))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Nothing committed.
	txs, err := store.ListTransactions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestPostUnpostRoundTrip(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "1000")
	ctx := context.Background()

	tx, err := svc.Create(ctx, createInput("acc-1", models.TypeExpense, "300", false))
	require.NoError(t, err)

	posted, err := svc.SetPosted(ctx, tx.ID, true)
	require.NoError(t, err)
	assert.True(t, posted.IsPosted)
	assert.Equal(t, "700.00", balanceOf(t, store, "acc-1"))

	unposted, err := svc.SetPosted(ctx, tx.ID, false)
	require.NoError(t, err)
	assert.False(t, unposted.IsPosted)
	assert.Equal(t, "1000.00", balanceOf(t, store, "acc-1"))
}

func TestSetPostedIsIdempotent(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "1000")
	ctx := context.Background()

	tx, err := svc.Create(ctx, createInput("acc-1", models.TypeExpense, "300", true))
	require.NoError(t, err)
	assert.Equal(t, "700.00", balanceOf(t, store, "acc-1"))

	// Posting an already-posted transaction applies nothing.
	again, err := svc.SetPosted(ctx, tx.ID, true)
	require.NoError(t, err)
	assert.True(t, again.IsPosted)
	assert.Equal(t, "700.00", balanceOf(t, store, "acc-1"))

	// Same for unposting twice.
	_, err = svc.SetPosted(ctx, tx.ID, false)
	require.NoError(t, err)
	_, err = svc.SetPosted(ctx, tx.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", balanceOf(t, store, "acc-1"))
}

func TestSetPostedMissingTransaction(t *testing.T) {
	svc, _ := newFixture(t)

	_, err := svc.SetPosted(context.Background(), "nope", true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateAmountAndTypeMovesDelta(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "0")
	ctx := context.Background()

	tx, err := svc.Create(ctx, createInput("acc-1", models.TypeIncome, "100", true))
	require.NoError(t, err)
	assert.Equal(t, "100.00", balanceOf(t, store, "acc-1"))

	updated, err := svc.Update(ctx, tx.ID, models.UpdateTransactionInput{
		AccountID:       "acc-1",
		Type:            models.TypeExpense,
		Amount:          decimal.NewFromInt(40),
		Category:        tx.Category,
		Description:     tx.Description,
		TransactionDate: tx.TransactionDate,
		IsPosted:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TypeExpense, updated.Type)
	assert.Equal(t, "-40.00", balanceOf(t, store, "acc-1"))
}

func TestUpdateAcrossAccounts(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "0")
	seedAccount(t, store, "acc-2", "0")
	ctx := context.Background()

	tx, err := svc.Create(ctx, createInput("acc-1", models.TypeIncome, "100", true))
	require.NoError(t, err)

	_, err = svc.Update(ctx, tx.ID, models.UpdateTransactionInput{
		AccountID:       "acc-2",
		Type:            models.TypeIncome,
		Amount:          decimal.NewFromInt(100),
		Category:        tx.Category,
		Description:     tx.Description,
		TransactionDate: tx.TransactionDate,
		IsPosted:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, "0.00", balanceOf(t, store, "acc-1"))
	assert.Equal(t, "100.00", balanceOf(t, store, "acc-2"))
}

func TestUpdateToMissingAccountRollsBack(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "0")
	ctx := context.Background()

	tx, err := svc.Create(ctx, createInput("acc-1", models.TypeIncome, "100", true))
	require.NoError(t, err)

	_, err = svc.Update(ctx, tx.ID, models.UpdateTransactionInput{
		AccountID:       "ghost",
		Type:            models.TypeIncome,
		Amount:          decimal.NewFromInt(100),
		TransactionDate: tx.TransactionDate,
		IsPosted:        true,
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The old contribution must still be on the old account.
	assert.Equal(t, "100.00", balanceOf(t, store, "acc-1"))
	got, err := store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got.AccountID)
}

func TestDeleteReversesPostedContribution(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "1000")
	ctx := context.Background()

	tx, err := svc.Create(ctx, createInput("acc-1", models.TypeExpense, "250", true))
	require.NoError(t, err)
	assert.Equal(t, "750.00", balanceOf(t, store, "acc-1"))

	require.NoError(t, svc.Delete(ctx, tx.ID))
	assert.Equal(t, "1000.00", balanceOf(t, store, "acc-1"))

	_, err = store.GetTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteUnpostedLeavesBalance(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "1000")
	ctx := context.Background()

	tx, err := svc.Create(ctx, createInput("acc-1", models.TypeExpense, "250", false))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, tx.ID))
	assert.Equal(t, "1000.00", balanceOf(t, store, "acc-1"))
}

func TestRecordAdjustment(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "90")
	ctx := context.Background()

	tx, err := svc.RecordAdjustment(ctx, models.AdjustmentInput{
		AccountID: "acc-1",
		Amount:    decimal.NewFromInt(10),
		Reason:    "bank statement correction",
		Actor:     "ops@finbook",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TypeIncome, tx.Type)
	assert.Equal(t, ledger.AdjustmentCategory, tx.Category)
	assert.True(t, tx.IsPosted)
	assert.Equal(t, "100.00", balanceOf(t, store, "acc-1"))

	// Negative adjustments become posted expenses.
	tx, err = svc.RecordAdjustment(ctx, models.AdjustmentInput{
		AccountID: "acc-1",
		Amount:    decimal.RequireFromString("-25.50"),
		Reason:    "duplicate refund",
		Actor:     "ops@finbook",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TypeExpense, tx.Type)
	assert.Equal(t, "74.50", balanceOf(t, store, "acc-1"))
}

func TestConcurrentCreatesDoNotLoseUpdates(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "0")
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 2)
	go func() {
		defer wg.Done()
		_, err := svc.Create(ctx, createInput("acc-1", models.TypeIncome, "100", true))
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := svc.Create(ctx, createInput("acc-1", models.TypeExpense, "40", true))
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, "60.00", balanceOf(t, store, "acc-1"))
}

// TestRandomOperationSequenceHoldsInvariant applies a random mix of
// creates, post/unpost toggles, updates, and deletes, then checks that
// the stored balance equals the sum of posted transactions after every
// committed step.
func TestRandomOperationSequenceHoldsInvariant(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "0")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	var ids []string
	checkInvariant := func() {
		t.Helper()
		txs, err := store.ListPosted(ctx)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, tx := range txs {
			if tx.AccountID == "acc-1" {
				sum = sum.Add(tx.SignedAmount())
			}
		}
		assert.Equal(t, sum.StringFixed(2), balanceOf(t, store, "acc-1"))
	}

	types := []models.TransactionType{models.TypeIncome, models.TypeExpense, models.TypeTransfer}
	for i := 0; i < 120; i++ {
		switch op := rng.Intn(4); {
		case op == 0 || len(ids) == 0:
			amount := decimal.New(int64(rng.Intn(100000)+1), -2)
			tx, err := svc.Create(ctx, models.CreateTransactionInput{
				AccountID:       "acc-1",
				Type:            types[rng.Intn(len(types))],
				Amount:          amount,
				TransactionDate: time.Date(2024, 1, 1+rng.Intn(28), 0, 0, 0, 0, time.UTC),
				IsPosted:        rng.Intn(2) == 0,
			})
			require.NoError(t, err)
			ids = append(ids, tx.ID)
		case op == 1:
			_, err := svc.SetPosted(ctx, ids[rng.Intn(len(ids))], rng.Intn(2) == 0)
			require.NoError(t, err)
		case op == 2:
			id := ids[rng.Intn(len(ids))]
			_, err := svc.Update(ctx, id, models.UpdateTransactionInput{
				AccountID:       "acc-1",
				Type:            types[rng.Intn(len(types))],
				Amount:          decimal.New(int64(rng.Intn(100000)+1), -2),
				TransactionDate: time.Date(2024, 2, 1+rng.Intn(28), 0, 0, 0, 0, time.UTC),
				IsPosted:        rng.Intn(2) == 0,
			})
			require.NoError(t, err)
		default:
			idx := rng.Intn(len(ids))
			require.NoError(t, svc.Delete(ctx, ids[idx]))
			ids = append(ids[:idx], ids[idx+1:]...)
		}
		checkInvariant()
	}
}
