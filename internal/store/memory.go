package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/hilotrade/wager-engine/internal/model"
)

// MemoryLedger implements Ledger with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	open     map[string][]model.OpenWager     // accountID → open wagers, newest first
	history  map[string][]model.ResolvedWager // accountID → history, newest first
	changes  map[string][]model.BalanceChange // accountID → funding history, newest first
	settings *model.TradeSettings
	pairs    map[string]model.Pair
}

// NewMemoryLedger creates a new in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*model.Account),
		open:     make(map[string][]model.OpenWager),
		history:  make(map[string][]model.ResolvedWager),
		changes:  make(map[string][]model.BalanceChange),
		pairs:    make(map[string]model.Pair),
	}
}

func (s *MemoryLedger) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, a.ID)
	}
	for _, existing := range s.accounts {
		if existing.Email == a.Email {
			return fmt.Errorf("%w: %s", ErrDuplicateAccount, a.Email)
		}
	}

	// Store a copy to avoid external mutation.
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryLedger) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryLedger) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

func (s *MemoryLedger) SetAccountStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	a.Status = status
	return nil
}

func (s *MemoryLedger) AdjustBalance(_ context.Context, change *model.BalanceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[change.AccountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, change.AccountID)
	}

	newBalance := a.AvailableBalance.Add(change.Amount)
	if change.Amount.IsNegative() && newBalance.IsNegative() {
		return ErrInsufficientFunds
	}

	a.AvailableBalance = newBalance
	s.changes[change.AccountID] = append([]model.BalanceChange{*change}, s.changes[change.AccountID]...)
	return nil
}

func (s *MemoryLedger) BalanceChanges(_ context.Context, accountID string) ([]model.BalanceChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	changes := s.changes[accountID]
	out := make([]model.BalanceChange, len(changes))
	copy(out, changes)
	return out, nil
}

// PlaceWager debits the stake and prepends the wager under one lock, so the
// debit and the open record appear together or not at all.
func (s *MemoryLedger) PlaceWager(_ context.Context, w *model.OpenWager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[w.AccountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, w.AccountID)
	}
	if a.AvailableBalance.LessThan(w.Stake) {
		return ErrInsufficientFunds
	}

	a.AvailableBalance = a.AvailableBalance.Sub(w.Stake)
	s.open[w.AccountID] = append([]model.OpenWager{*w}, s.open[w.AccountID]...)
	return nil
}

func (s *MemoryLedger) ApplyResolutions(_ context.Context, accountID string, batch []model.Resolution) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}

	open := s.open[accountID]
	credit := decimal.Zero
	var applied []string

	for _, res := range batch {
		idx := -1
		for i, w := range open {
			if w.ID == res.WagerID {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue // already resolved elsewhere; no entry, no credit
		}
		open = append(open[:idx], open[idx+1:]...)
		s.history[accountID] = append([]model.ResolvedWager{res.Entry}, s.history[accountID]...)
		credit = credit.Add(res.Credit)
		applied = append(applied, res.WagerID)
	}

	s.open[accountID] = open
	a.AvailableBalance = a.AvailableBalance.Add(credit)
	return applied, nil
}

func (s *MemoryLedger) SetOpenWagers(_ context.Context, accountID string, wagers []model.OpenWager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	cp := make([]model.OpenWager, len(wagers))
	copy(cp, wagers)
	s.open[accountID] = cp
	return nil
}

func (s *MemoryLedger) ListOpenWagers(_ context.Context, accountID string) ([]model.OpenWager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := s.open[accountID]
	out := make([]model.OpenWager, len(open))
	copy(out, open)
	return out, nil
}

func (s *MemoryLedger) OpenWagersByAccount(_ context.Context) (map[string][]model.OpenWager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]model.OpenWager, len(s.open))
	for id, wagers := range s.open {
		if len(wagers) == 0 {
			continue
		}
		cp := make([]model.OpenWager, len(wagers))
		copy(cp, wagers)
		out[id] = cp
	}
	return out, nil
}

func (s *MemoryLedger) History(_ context.Context, accountID string, limit int) ([]model.ResolvedWager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.history[accountID]
	if limit > 0 && limit < len(history) {
		history = history[:limit]
	}
	out := make([]model.ResolvedWager, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemoryLedger) GetTradeSettings(_ context.Context) (*model.TradeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, ErrSettingsNotFound
	}
	cp := *s.settings
	cp.AllowedDurations = append([]int(nil), s.settings.AllowedDurations...)
	return &cp, nil
}

func (s *MemoryLedger) SaveTradeSettings(_ context.Context, settings *model.TradeSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *settings
	cp.AllowedDurations = append([]int(nil), settings.AllowedDurations...)
	s.settings = &cp
	return nil
}

func (s *MemoryLedger) ListPairs(_ context.Context) ([]model.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := make([]model.Pair, 0, len(s.pairs))
	for _, p := range s.pairs {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Symbol < pairs[j].Symbol })
	return pairs, nil
}

func (s *MemoryLedger) GetPair(_ context.Context, pair string) (*model.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pairs[pair]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPairNotFound, pair)
	}
	cp := p
	return &cp, nil
}

func (s *MemoryLedger) UpsertPair(_ context.Context, p model.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pairs[p.Symbol] = p
	return nil
}

func (s *MemoryLedger) SetPairEnabled(_ context.Context, pair string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pairs[pair]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPairNotFound, pair)
	}
	p.Enabled = enabled
	s.pairs[pair] = p
	return nil
}
