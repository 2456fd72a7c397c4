package importer_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbook/ledger-engine/internal/config"
	"github.com/finbook/ledger-engine/internal/importer"
	"github.com/finbook/ledger-engine/internal/interfaces"
	"github.com/finbook/ledger-engine/internal/models"
	"github.com/finbook/ledger-engine/internal/storage"
	"github.com/finbook/ledger-engine/internal/storage/sqlite"
)

func newFixture(t *testing.T) (*importer.Service, interfaces.Store) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return importer.NewService(store, nil, config.NewLogger("error")), store
}

func seedAccount(t *testing.T, store interfaces.Store, id string, balance string) {
	t.Helper()
	err := store.CreateAccount(context.Background(), models.Account{
		ID:      id,
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

func row(account, date, amount, typ, desc string) models.ImportRow {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return models.ImportRow{
		AccountID:       account,
		TransactionDate: d,
		Amount:          decimal.RequireFromString(amount),
		Type:            models.TransactionType(typ),
		Description:     desc,
	}
}

func TestImportBatchIsIdempotent(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "100")
	ctx := context.Background()

	batch := []models.ImportRow{row("acc-1", "2024-01-01", "50", "expense", "Taxi")}

	first, err := svc.ImportBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Imported)
	assert.Equal(t, 0, first.Duplicates)
	assert.Equal(t, "50.00", balanceOf(t, store, "acc-1"))

	second, err := svc.ImportBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 1, second.Duplicates)
	// The balance moved exactly once.
	assert.Equal(t, "50.00", balanceOf(t, store, "acc-1"))
}

func TestImportMarksRowsPosted(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "0")

	result, err := svc.ImportBatch(context.Background(), []models.ImportRow{
		row("acc-1", "2024-01-01", "75", "income", "invoice 12"),
	})
	require.NoError(t, err)
	require.Len(t, result.Unique, 1)

	stored, err := store.GetTransaction(context.Background(), result.Unique[0].ID)
	require.NoError(t, err)
	assert.True(t, stored.IsPosted)
	assert.Equal(t, "75.00", balanceOf(t, store, "acc-1"))
}

func TestImportFiltersWithinBatchDuplicates(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "0")

	result, err := svc.ImportBatch(context.Background(), []models.ImportRow{
		row("acc-1", "2024-01-01", "50", "expense", "Taxi"),
		row("acc-1", "2024-01-02", "10", "expense", "Coffee"),
		row("acc-1", "2024-01-01", "50", "expense", "taxi."),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, "-60.00", balanceOf(t, store, "acc-1"))
}

func TestImportIsAllOrNothing(t *testing.T) {
	svc, store := newFixture(t)
	seedAccount(t, store, "acc-1", "0")
	ctx := context.Background()

	_, err := svc.ImportBatch(ctx, []models.ImportRow{
		row("acc-1", "2024-01-01", "50", "expense", "Taxi"),
		row("ghost", "2024-01-02", "10", "expense", "Coffee"),
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The valid first row must not have been committed either.
	txs, err := store.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Equal(t, "0.00", balanceOf(t, store, "acc-1"))
}

func TestImportEmptyBatch(t *testing.T) {
	svc, _ := newFixture(t)

	result, err := svc.ImportBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.Imported)
	assert.Zero(t, result.Duplicates)
}
