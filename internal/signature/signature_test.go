package signature

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/finbook/ledger-engine/internal/models"
)

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

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "TAXI Downtown", "taxi downtown"},
		{"trims", "  coffee  ", "coffee"},
		{"strips accents", "Café Brûlée", "cafe brulee"},
		{"strips punctuation", "A.C.M.E., Inc!", "acme inc"},
		{"collapses whitespace", "office\t supplies   order", "office supplies order"},
		{"truncates", "abcdefghij abcdefghij abcdefghij abcdefghij", "abcdefghij abcdefghij abcdefghij abcdefg"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestSignatureIgnoresCosmeticDifferences(t *testing.T) {
	base := row("acc-1", "2024-01-01", "50", "expense", "Taxi")

	variants := []models.ImportRow{
		row("acc-1", "2024-01-01", "50.00", "expense", "TAXI"),
		row("acc-1", "2024-01-01", "50", "expense", "  taxi.  "),
		row("acc-1", "2024-01-01", "50", "expense", "Taxí"),
	}
	for _, v := range variants {
		assert.Equal(t, OfRow(base), OfRow(v), "description %q", v.Description)
	}
}

func TestSignatureDistinguishesRealDifferences(t *testing.T) {
	base := row("acc-1", "2024-01-01", "50", "expense", "Taxi")

	assert.NotEqual(t, OfRow(base), OfRow(row("acc-2", "2024-01-01", "50", "expense", "Taxi")))
	assert.NotEqual(t, OfRow(base), OfRow(row("acc-1", "2024-01-02", "50", "expense", "Taxi")))
	assert.NotEqual(t, OfRow(base), OfRow(row("acc-1", "2024-01-01", "50.01", "expense", "Taxi")))
	assert.NotEqual(t, OfRow(base), OfRow(row("acc-1", "2024-01-01", "50", "income", "Taxi")))
	assert.NotEqual(t, OfRow(base), OfRow(row("acc-1", "2024-01-01", "50", "expense", "Bus")))
}

func TestSignatureUsesDateOnly(t *testing.T) {
	a := models.Transaction{
		AccountID:       "acc-1",
		TransactionDate: time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC),
		Amount:          decimal.NewFromInt(20),
		Type:            models.TypeExpense,
		Description:     "lunch",
	}
	b := a
	b.TransactionDate = time.Date(2024, 3, 5, 18, 45, 0, 0, time.UTC)

	assert.Equal(t, Of(a), Of(b))
}

func TestPartitionAgainstExistingPosted(t *testing.T) {
	existing := []models.Transaction{{
		AccountID:       "acc-1",
		TransactionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.NewFromInt(50),
		Type:            models.TypeExpense,
		Description:     "Taxi",
		IsPosted:        true,
	}}
	batch := []models.ImportRow{
		row("acc-1", "2024-01-01", "50", "expense", "taxi"),
		row("acc-1", "2024-01-01", "12", "expense", "Lunch"),
	}

	unique, duplicates := Partition(existing, batch)

	assert.Len(t, unique, 1)
	assert.Equal(t, "Lunch", unique[0].Description)
	assert.Len(t, duplicates, 1)
}

func TestPartitionWithinBatchKeepsFirstOccurrence(t *testing.T) {
	batch := []models.ImportRow{
		row("acc-1", "2024-01-01", "10", "expense", "coffee"),
		row("acc-1", "2024-01-02", "25", "expense", "books"),
		row("acc-1", "2024-01-03", "99", "income", "refund"),
		row("acc-1", "2024-01-04", "14", "expense", "lunch"),
		row("acc-1", "2024-01-02", "25", "expense", "Books!"),
	}

	unique, duplicates := Partition(nil, batch)

	assert.Len(t, unique, 4)
	assert.Equal(t, "books", unique[1].Description)
	assert.Len(t, duplicates, 1)
	assert.Equal(t, "Books!", duplicates[0].Description)
}

func TestPartitionEmptyBatch(t *testing.T) {
	unique, duplicates := Partition(nil, nil)
	assert.Empty(t, unique)
	assert.Empty(t, duplicates)
}
