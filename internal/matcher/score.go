package matcher

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/finbook/ledger-engine/internal/models"
)

// Weights controls the composite match score. Each component contributes
// its weight (scaled for the band and date components); the maximum
// possible score is AmountExact + Category + Date.
type Weights struct {
	// AmountExact is awarded when transaction amount equals the line's
	// projected amount.
	AmountExact float64 `yaml:"amount_exact"`

	// AmountBandMin/Max bound the score for amounts inside the relative
	// tolerance band: a near-exact amount scores close to max, one at
	// the edge of the band scores min.
	AmountBandMin float64 `yaml:"amount_band_min"`
	AmountBandMax float64 `yaml:"amount_band_max"`

	// AmountTolerance is the relative band width (0.02 = 2%).
	AmountTolerance float64 `yaml:"amount_tolerance"`

	// Category is awarded on case-insensitive category equality.
	Category float64 `yaml:"category"`

	// Date is the maximum date-proximity contribution, scaled linearly
	// to zero across DateWindowDays.
	Date           float64 `yaml:"date"`
	DateWindowDays int     `yaml:"date_window_days"`

	// AutoLinkThreshold is the minimum score AutoLink accepts. At the
	// defaults an exact amount alone (0.60) is not enough; it needs the
	// category or a same-week date on top.
	AutoLinkThreshold float64 `yaml:"auto_link_threshold"`
}

// DefaultWeights are used when no weights file is configured. The split
// is deliberately amount-heavy: amounts come from bank statements and
// are trustworthy, categories and dates are human guesses.
func DefaultWeights() Weights {
	return Weights{
		AmountExact:       0.60,
		AmountBandMin:     0.30,
		AmountBandMax:     0.45,
		AmountTolerance:   0.02,
		Category:          0.25,
		Date:              0.15,
		DateWindowDays:    30,
		AutoLinkThreshold: 0.75,
	}
}

// LoadWeights reads a YAML weights file. Missing keys keep their
// defaults.
func LoadWeights(path string) (Weights, error) {
	w := DefaultWeights()
	data, err := os.ReadFile(path)
	if err != nil {
		return w, fmt.Errorf("read weights file: %w", err)
	}
	if err := yaml.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("parse weights file: %w", err)
	}
	return w, nil
}

// compatible reports whether a line of this kind can receive this
// transaction: expenses settle expense lines, income settles revenue
// lines. Transfers never match budget lines.
func compatible(t models.Transaction, line models.ProjectBudgetLine) bool {
	switch t.Type {
	case models.TypeExpense:
		return line.Kind == models.LineExpense
	case models.TypeIncome:
		return line.Kind == models.LineRevenue
	}
	return false
}

// Score rates how plausibly line is the planned counterpart of t.
// Incompatible kinds score zero outright.
func (w Weights) Score(t models.Transaction, line models.ProjectBudgetLine) float64 {
	if !compatible(t, line) {
		return 0
	}

	score := w.amountScore(t, line)
	if score == 0 {
		// A line whose amount is nowhere near is not a candidate no
		// matter how well category and date agree.
		return 0
	}

	if t.Category != "" && strings.EqualFold(t.Category, line.Category) {
		score += w.Category
	}
	score += w.dateScore(t, line)
	return score
}

func (w Weights) amountScore(t models.Transaction, line models.ProjectBudgetLine) float64 {
	if t.Amount.Equal(line.ProjectedAmount) {
		return w.AmountExact
	}
	if line.ProjectedAmount.IsZero() {
		return 0
	}
	relDiff, _ := t.Amount.Sub(line.ProjectedAmount).Abs().Div(line.ProjectedAmount.Abs()).Float64()
	if relDiff > w.AmountTolerance {
		return 0
	}
	frac := 1 - relDiff/w.AmountTolerance
	return w.AmountBandMin + (w.AmountBandMax-w.AmountBandMin)*frac
}

func (w Weights) dateScore(t models.Transaction, line models.ProjectBudgetLine) float64 {
	if w.DateWindowDays <= 0 || t.TransactionDate.IsZero() || line.TransactionDate.IsZero() {
		return 0
	}
	days := t.TransactionDate.Sub(line.TransactionDate).Hours() / 24
	if days < 0 {
		days = -days
	}
	window := float64(w.DateWindowDays)
	if days > window {
		return 0
	}
	return w.Date * (1 - days/window)
}
