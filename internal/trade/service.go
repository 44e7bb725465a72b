// Package trade provides the HTTP handlers for accounts, funding, wagers,
// settings, and pairs.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hilotrade/wager-engine/internal/engine"
	"github.com/hilotrade/wager-engine/internal/feed"
	"github.com/hilotrade/wager-engine/internal/metrics"
	"github.com/hilotrade/wager-engine/internal/model"
	"github.com/hilotrade/wager-engine/internal/store"
	"github.com/hilotrade/wager-engine/internal/symbol"
)

// Service handles account, funding, and wager operations over HTTP. Wager
// admission itself is delegated to the engine, which serializes opens per
// account.
type Service struct {
	ledger store.Ledger
	engine *engine.Engine
	feed   feed.Feed
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(ledger store.Ledger, eng *engine.Engine, priceFeed feed.Feed, hub *WSHub) *Service {
	return &Service{
		ledger: ledger,
		engine: eng,
		feed:   priceFeed,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for account creation.
type CreateAccountRequest struct {
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	InitialBalance decimal.Decimal `json:"initial_balance"` // 0 → no starting funds
}

// FundingRequest is the JSON body for deposit/withdraw/bonus endpoints.
type FundingRequest struct {
	Amount decimal.Decimal `json:"amount"` // positive; the endpoint fixes the sign
	Note   string          `json:"note,omitempty"`
}

// StatusRequest is the JSON body for PUT .../status endpoints.
type StatusRequest struct {
	Status  string `json:"status,omitempty"`  // accounts: "active" or "banned"
	Enabled *bool  `json:"enabled,omitempty"` // pairs
}

// WagerRequest is the JSON body for POST /api/v1/wagers.
type WagerRequest struct {
	AccountID string          `json:"account_id"`
	Pair      string          `json:"pair"`      // e.g. "BTC/USD"
	Direction string          `json:"direction"` // "UP" or "DOWN"
	Stake     decimal.Decimal `json:"stake"`
	Duration  int             `json:"duration"` // seconds
}

// --- Account handlers ---

// CreateAccount handles POST /api/v1/accounts
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		writeError(w, "email is required", http.StatusBadRequest)
		return
	}
	if req.InitialBalance.IsNegative() {
		writeError(w, "initial_balance must not be negative", http.StatusBadRequest)
		return
	}

	acct := &model.Account{
		ID:               uuid.New().String(),
		Name:             req.Name,
		Email:            req.Email,
		Status:           model.StatusActive,
		AvailableBalance: req.InitialBalance,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.ledger.CreateAccount(r.Context(), acct); err != nil {
		if errors.Is(err, store.ErrDuplicateAccount) {
			writeError(w, "email already registered", http.StatusConflict)
			return
		}
		writeError(w, "failed to create account", http.StatusInternalServerError)
		return
	}

	slog.Info("account created", "id", acct.ID, "email", acct.Email)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(acct)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	acct, err := s.ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(acct)
}

// ListAccounts handles GET /api/v1/accounts
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.ListAccounts(r.Context())
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// SetAccountStatus handles PUT /api/v1/accounts/{accountID}/status
func (s *Service) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status != model.StatusActive && req.Status != model.StatusBanned {
		writeError(w, "status must be active or banned", http.StatusBadRequest)
		return
	}

	if err := s.ledger.SetAccountStatus(r.Context(), accountID, req.Status); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to update account status", http.StatusInternalServerError)
		return
	}

	slog.Info("account status changed", "id", accountID, "status", req.Status)
	w.WriteHeader(http.StatusNoContent)
}

// --- Funding handlers ---

// Deposit handles POST /api/v1/accounts/{accountID}/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	s.applyFunding(w, r, model.ChangeDeposit, false)
}

// Withdraw handles POST /api/v1/accounts/{accountID}/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.applyFunding(w, r, model.ChangeWithdrawal, true)
}

// Bonus handles POST /api/v1/accounts/{accountID}/bonus
func (s *Service) Bonus(w http.ResponseWriter, r *http.Request) {
	s.applyFunding(w, r, model.ChangeBonus, false)
}

func (s *Service) applyFunding(w http.ResponseWriter, r *http.Request, kind string, debit bool) {
	accountID := chi.URLParam(r, "accountID")

	var req FundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	amount := req.Amount
	if debit {
		amount = amount.Neg()
	}

	change := &model.BalanceChange{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Kind:      kind,
		Amount:    amount,
		Note:      req.Note,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.ledger.AdjustBalance(r.Context(), change); err != nil {
		switch {
		case errors.Is(err, store.ErrAccountNotFound):
			writeError(w, "account not found", http.StatusNotFound)
		case errors.Is(err, store.ErrInsufficientFunds):
			writeError(w, "insufficient balance", http.StatusConflict)
		default:
			writeError(w, "failed to adjust balance", http.StatusInternalServerError)
		}
		return
	}

	slog.Info("balance adjusted",
		"account", accountID,
		"kind", kind,
		"amount", amount.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(change)
}

// GetBalanceChanges handles GET /api/v1/accounts/{accountID}/changes
func (s *Service) GetBalanceChanges(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	changes, err := s.ledger.BalanceChanges(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load balance changes", http.StatusInternalServerError)
		return
	}
	if changes == nil {
		changes = []model.BalanceChange{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(changes)
}

// --- Wager handlers ---

// PlaceWager handles POST /api/v1/wagers
// Validates the request against current trade settings, debits the stake
// atomically, and returns the open wager.
func (s *Service) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req WagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}
	if _, err := symbol.Parse(req.Pair); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	settings, err := s.ledger.GetTradeSettings(ctx)
	if err != nil {
		writeError(w, "trade settings unavailable", http.StatusInternalServerError)
		return
	}

	wager, err := s.engine.OpenWager(ctx, *settings, engine.OpenRequest{
		AccountID: req.AccountID,
		Pair:      req.Pair,
		Direction: req.Direction,
		Stake:     req.Stake,
		Duration:  req.Duration,
	})
	if err != nil {
		reason, status := classifyRejection(err)
		metrics.WagerRejections.WithLabelValues(reason).Inc()
		writeError(w, err.Error(), status)
		return
	}

	metrics.WagersOpened.WithLabelValues(wager.Direction).Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "wager_opened",
			WagerID:   wager.ID,
			AccountID: wager.AccountID,
			Pair:      wager.Pair,
			Direction: wager.Direction,
			Stake:     wager.Stake.String(),
			Price:     wager.EntryPrice.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(wager)
}

// classifyRejection maps an engine rejection to a metrics label and HTTP
// status. Unknown errors are treated as internal.
func classifyRejection(err error) (string, int) {
	switch {
	case errors.Is(err, engine.ErrTradingDisabled):
		return "trading_disabled", http.StatusForbidden
	case errors.Is(err, engine.ErrPairDisabled):
		return "pair_disabled", http.StatusConflict
	case errors.Is(err, engine.ErrAccountSuspended):
		return "account_suspended", http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidDirection):
		return "invalid_direction", http.StatusBadRequest
	case errors.Is(err, engine.ErrInvalidStake):
		return "invalid_stake", http.StatusBadRequest
	case errors.Is(err, engine.ErrDurationNotAllowed):
		return "duration_not_allowed", http.StatusBadRequest
	case errors.Is(err, engine.ErrStakeOutOfBounds):
		return "stake_out_of_bounds", http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientBalance):
		return "insufficient_balance", http.StatusConflict
	case errors.Is(err, engine.ErrPriceUnavailable):
		return "price_unavailable", http.StatusServiceUnavailable
	case errors.Is(err, store.ErrAccountNotFound):
		return "account_not_found", http.StatusNotFound
	default:
		return "internal", http.StatusInternalServerError
	}
}

// GetOpenWagers handles GET /api/v1/accounts/{accountID}/wagers
// Returns the account's open wagers, newest first.
func (s *Service) GetOpenWagers(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	wagers, err := s.ledger.ListOpenWagers(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load open wagers", http.StatusInternalServerError)
		return
	}
	if wagers == nil {
		wagers = []model.OpenWager{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wagers)
}

// GetHistory handles GET /api/v1/accounts/{accountID}/history
// Returns resolved wagers, newest first. Optional ?limit=<n>.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	history, err := s.ledger.History(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []model.ResolvedWager{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// --- Settings handlers ---

// GetSettings handles GET /api/v1/settings
func (s *Service) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.ledger.GetTradeSettings(r.Context())
	if err != nil {
		writeError(w, "trade settings unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settings)
}

// UpdateSettings handles PUT /api/v1/settings
// Replaces the global trade settings. In-flight wagers keep the profit rate
// they were opened with.
func (s *Service) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.TradeSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if settings.ProfitPercentage.IsNegative() || settings.ProfitPercentage.GreaterThan(decimal.NewFromInt(100)) {
		writeError(w, "profit_percentage must be between 0 and 100", http.StatusBadRequest)
		return
	}
	if settings.MinStake.IsNegative() || settings.MaxStake.LessThan(settings.MinStake) {
		writeError(w, "stake bounds are invalid", http.StatusBadRequest)
		return
	}
	if len(settings.AllowedDurations) == 0 {
		writeError(w, "allowed_durations must not be empty", http.StatusBadRequest)
		return
	}
	for _, d := range settings.AllowedDurations {
		if d <= 0 {
			writeError(w, "allowed_durations must be positive", http.StatusBadRequest)
			return
		}
	}

	if err := s.ledger.SaveTradeSettings(r.Context(), &settings); err != nil {
		writeError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	slog.Info("trade settings updated",
		"trading_enabled", settings.TradingEnabled,
		"profit_percentage", settings.ProfitPercentage.String(),
		"min_stake", settings.MinStake.String(),
		"max_stake", settings.MaxStake.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settings)
}

// --- Pair handlers ---

// ListPairs handles GET /api/v1/pairs
func (s *Service) ListPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.ledger.ListPairs(r.Context())
	if err != nil {
		writeError(w, "failed to list pairs", http.StatusInternalServerError)
		return
	}
	if pairs == nil {
		pairs = []model.Pair{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pairs)
}

// SetPairStatus handles PUT /api/v1/pairs/{base}/{quote}/status
func (s *Service) SetPairStatus(w http.ResponseWriter, r *http.Request) {
	pair := chi.URLParam(r, "base") + "/" + chi.URLParam(r, "quote")

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Enabled == nil {
		writeError(w, "enabled is required", http.StatusBadRequest)
		return
	}

	if err := s.ledger.SetPairEnabled(r.Context(), pair, *req.Enabled); err != nil {
		if errors.Is(err, store.ErrPairNotFound) {
			writeError(w, "pair not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to update pair", http.StatusInternalServerError)
		return
	}

	slog.Info("pair status changed", "pair", pair, "enabled", *req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

// GetPrice handles GET /api/v1/prices/{base}/{quote}
// Returns the latest observed price for a pair, or 404 before the first
// upstream tick.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	pair := chi.URLParam(r, "base") + "/" + chi.URLParam(r, "quote")
	if _, err := symbol.Parse(pair); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	quote, err := s.feed.Latest(pair)
	if err != nil {
		writeError(w, "no price observation for "+pair, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(quote)
}

// OnResolved is the scheduler callback: broadcasts the resolution to
// WebSocket clients.
func (s *Service) OnResolved(rw model.ResolvedWager) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{
		Type:      "wager_resolved",
		WagerID:   rw.ID,
		AccountID: rw.AccountID,
		Pair:      rw.Pair,
		Direction: rw.Direction,
		Stake:     rw.Stake.String(),
		Outcome:   rw.Outcome,
		Payout:    rw.Payout.String(),
		Price:     rw.ExitPrice.String(),
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
