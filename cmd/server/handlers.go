package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finbook/ledger-engine/internal/importer"
	"github.com/finbook/ledger-engine/internal/interfaces"
	"github.com/finbook/ledger-engine/internal/ledger"
	"github.com/finbook/ledger-engine/internal/matcher"
	"github.com/finbook/ledger-engine/internal/models"
	"github.com/finbook/ledger-engine/internal/reconcile"
	"github.com/finbook/ledger-engine/internal/storage"
)

type server struct {
	store     interfaces.Store
	ledger    *ledger.Service
	importer  *importer.Service
	matcher   *matcher.Service
	reconcile *reconcile.Service
	logger    zerolog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/accounts", s.handleAccounts)
	mux.HandleFunc("/accounts/balance", s.handleBalance)
	mux.HandleFunc("/transactions", s.handleTransactions)
	mux.HandleFunc("/transactions/post", s.handleSetPosted(true))
	mux.HandleFunc("/transactions/unpost", s.handleSetPosted(false))
	mux.HandleFunc("/transactions/import", s.handleImport)
	mux.HandleFunc("/adjustments", s.handleAdjustment)
	mux.HandleFunc("/lines", s.handleLines)
	mux.HandleFunc("/links", s.handleLink)
	mux.HandleFunc("/links/unlink", s.handleUnlink)
	mux.HandleFunc("/links/suggestions", s.handleSuggestions)
	mux.HandleFunc("/links/auto", s.handleAutoLink)
	mux.HandleFunc("/audit", s.handleAudit)
	return mux
}

// writeError maps core errors onto transport status codes; the core
// itself knows nothing about HTTP.
func (s *server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, matcher.ErrAlreadyLinked):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrDuplicateID):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

type accountRequest struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Balance decimal.Decimal `json:"balance"`
}

func (s *server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id is a mandatory field", http.StatusBadRequest)
		return
	}

	account := models.Account{
		ID:      req.ID,
		Name:    req.Name,
		Type:    models.AccountType(req.Type),
		Balance: req.Balance,
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		http.Error(w, "account_id is a mandatory field", http.StatusBadRequest)
		return
	}

	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		AccountID string          `json:"account_id"`
		Balance   decimal.Decimal `json:"balance"`
	}{account.ID, account.Balance})
}

type transactionRequest struct {
	AccountID       string          `json:"account_id"`
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Category        string          `json:"category"`
	Description     string          `json:"description"`
	TransactionDate string          `json:"transaction_date"`
	IsPlanned       bool            `json:"is_planned"`
	IsPosted        bool            `json:"is_posted"`
	ProjectID       string          `json:"project_id"`
}

func (req transactionRequest) validate() (time.Time, error) {
	if req.AccountID == "" {
		return time.Time{}, errors.New("account_id is a mandatory field")
	}
	if !models.ValidTransactionType(models.TransactionType(req.Type)) {
		return time.Time{}, errors.New("type must be income, expense, or transfer")
	}
	if !req.Amount.IsPositive() {
		return time.Time{}, errors.New("amount must be positive")
	}
	return parseDate(req.TransactionDate)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("transaction_date is a mandatory field")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.New("transaction_date must be YYYY-MM-DD or RFC3339")
	}
	return t, nil
}

func (s *server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req transactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		date, err := req.validate()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		tx, err := s.ledger.Create(r.Context(), models.CreateTransactionInput{
			AccountID:       req.AccountID,
			Type:            models.TransactionType(req.Type),
			Amount:          req.Amount,
			Category:        req.Category,
			Description:     req.Description,
			TransactionDate: date,
			IsPlanned:       req.IsPlanned,
			IsPosted:        req.IsPosted,
			ProjectID:       req.ProjectID,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, tx)

	case http.MethodPut:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is a mandatory field", http.StatusBadRequest)
			return
		}
		var req transactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		date, err := req.validate()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		tx, err := s.ledger.Update(r.Context(), id, models.UpdateTransactionInput{
			AccountID:       req.AccountID,
			Type:            models.TransactionType(req.Type),
			Amount:          req.Amount,
			Category:        req.Category,
			Description:     req.Description,
			TransactionDate: date,
			IsPlanned:       req.IsPlanned,
			IsPosted:        req.IsPosted,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tx)

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is a mandatory field", http.StatusBadRequest)
			return
		}
		if err := s.ledger.Delete(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *server) handleSetPosted(posted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is a mandatory field", http.StatusBadRequest)
			return
		}

		tx, err := s.ledger.SetPosted(r.Context(), id, posted)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tx)
	}
}

type importRequest struct {
	Rows []struct {
		AccountID   string          `json:"account_id"`
		Date        string          `json:"date"`
		Amount      decimal.Decimal `json:"amount"`
		Type        string          `json:"type"`
		Category    string          `json:"category"`
		Description string          `json:"description"`
	} `json:"rows"`
}

func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rows := make([]models.ImportRow, 0, len(req.Rows))
	for i, raw := range req.Rows {
		date, err := parseDate(raw.Date)
		if err != nil || raw.AccountID == "" || !raw.Amount.IsPositive() ||
			!models.ValidTransactionType(models.TransactionType(raw.Type)) {
			http.Error(w, fmt.Sprintf("invalid row %d", i), http.StatusBadRequest)
			return
		}
		rows = append(rows, models.ImportRow{
			AccountID:       raw.AccountID,
			TransactionDate: date,
			Amount:          raw.Amount,
			Type:            models.TransactionType(raw.Type),
			Category:        raw.Category,
			Description:     raw.Description,
		})
	}

	result, err := s.importer.ImportBatch(r.Context(), rows)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Imported   int `json:"imported"`
		Duplicates int `json:"duplicates"`
	}{result.Imported, result.Duplicates})
}

type adjustmentRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Actor     string          `json:"actor"`
}

func (s *server) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" || req.Reason == "" || req.Amount.IsZero() {
		http.Error(w, "account_id, amount, and reason are mandatory", http.StatusBadRequest)
		return
	}

	tx, err := s.ledger.RecordAdjustment(r.Context(), models.AdjustmentInput{
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		Actor:     req.Actor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

type lineRequest struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"project_id"`
	Kind            string          `json:"kind"`
	Description     string          `json:"description"`
	Category        string          `json:"category"`
	ProjectedAmount decimal.Decimal `json:"projected_amount"`
	TransactionDate string          `json:"transaction_date"`
}

func (s *server) handleLines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req lineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.ProjectID == "" {
		http.Error(w, "id and project_id are mandatory", http.StatusBadRequest)
		return
	}
	kind := models.LineKind(req.Kind)
	if kind != models.LineExpense && kind != models.LineRevenue {
		http.Error(w, "kind must be expense or revenue", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.TransactionDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	line := models.ProjectBudgetLine{
		ID:              req.ID,
		ProjectID:       req.ProjectID,
		Kind:            kind,
		Description:     req.Description,
		Category:        req.Category,
		ProjectedAmount: req.ProjectedAmount,
		TransactionDate: date,
	}
	if err := s.store.CreateLine(r.Context(), line); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

type linkRequest struct {
	TransactionID string `json:"transaction_id"`
	LineID        string `json:"line_id"`
	Actor         string `json:"actor"`
}

func (s *server) handleLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TransactionID == "" || req.LineID == "" {
		http.Error(w, "transaction_id and line_id are mandatory", http.StatusBadRequest)
		return
	}

	err := s.matcher.Link(r.Context(), models.LinkRequest{
		TransactionID: req.TransactionID,
		LineID:        req.LineID,
		Actor:         req.Actor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

func (s *server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TransactionID == "" {
		http.Error(w, "transaction_id is a mandatory field", http.StatusBadRequest)
		return
	}

	if err := s.matcher.Unlink(r.Context(), req.TransactionID, req.Actor); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
}

func (s *server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("transaction_id")
	if id == "" {
		http.Error(w, "transaction_id is a mandatory field", http.StatusBadRequest)
		return
	}

	matches, err := s.matcher.SuggestMatches(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *server) handleAutoLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		http.Error(w, "project_id is a mandatory field", http.StatusBadRequest)
		return
	}

	linked, skipped, err := s.matcher.AutoLink(r.Context(), projectID, r.URL.Query().Get("actor"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Linked  int `json:"linked"`
		Skipped int `json:"skipped"`
	}{linked, skipped})
}

func (s *server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	report, err := s.reconcile.RunAudit(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
