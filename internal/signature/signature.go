// Package signature computes the canonical identity of an economic event
// so the same bank-statement line imported or submitted twice is
// recognized as one event.
package signature

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/finbook/ledger-engine/internal/models"
)

// maxDescLen caps the normalized description so trailing reference
// numbers appended by banks don't defeat deduplication.
const maxDescLen = 40

const punctuation = `.,;:!?'"()[]{}<>*#@$%&+=~^|/\-_`

// Of returns the signature of a stored transaction.
func Of(t models.Transaction) string {
	return compute(t.AccountID, t.TransactionDate, t.Amount, t.Type, t.Description)
}

// OfRow returns the signature of an incoming import candidate.
func OfRow(r models.ImportRow) string {
	return compute(r.AccountID, r.TransactionDate, r.Amount, r.Type, r.Description)
}

func compute(accountID string, date time.Time, amount decimal.Decimal, typ models.TransactionType, desc string) string {
	parts := []string{
		accountID,
		date.Format("2006-01-02"),
		amount.Abs().StringFixed(2),
		string(typ),
		Normalize(desc),
	}
	return strings.Join(parts, "|")
}

// Normalize folds a free-text description into its canonical form: trim,
// lowercase, strip diacritics, drop punctuation, collapse runs of
// whitespace to single spaces, and truncate to maxDescLen runes.
func Normalize(desc string) string {
	s := strings.ToLower(strings.TrimSpace(desc))
	s = stripDiacritics(s)
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(punctuation, r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxDescLen {
		s = strings.TrimSpace(string(r[:maxDescLen]))
	}
	return s
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Partition splits batch into rows not seen before and rows whose
// signature already exists — either among the posted transactions in
// existing, or earlier in the same batch. Batch order is preserved: when
// two rows in one batch collide, the first is unique and the later one is
// the duplicate.
func Partition(existing []models.Transaction, batch []models.ImportRow) (unique, duplicates []models.ImportRow) {
	seen := make(map[string]struct{}, len(existing)+len(batch))
	for _, t := range existing {
		seen[Of(t)] = struct{}{}
	}
	for _, row := range batch {
		sig := OfRow(row)
		if _, dup := seen[sig]; dup {
			duplicates = append(duplicates, row)
			continue
		}
		seen[sig] = struct{}{}
		unique = append(unique, row)
	}
	return unique, duplicates
}
