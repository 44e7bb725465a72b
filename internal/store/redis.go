package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hilotrade/wager-engine/internal/model"
)

// CachedLedger wraps a primary Ledger (PostgreSQL) with a Redis read-through
// cache for the read-mostly surfaces: account snapshots, trade settings, and
// the pair list. Writes go to the primary and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Wager-lifecycle reads (open wagers, history) are not cached: the scheduler
// needs the freshest open set every tick.
type CachedLedger struct {
	primary Ledger
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedLedger creates a cached wrapper around a primary ledger.
func NewCachedLedger(primary Ledger, rdb *redis.Client, ttl time.Duration) *CachedLedger {
	return &CachedLedger{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Accounts ---

func (s *CachedLedger) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cacheAccount(ctx, a)
	return nil
}

func (s *CachedLedger) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedLedger) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedLedger) SetAccountStatus(ctx context.Context, id, status string) error {
	if err := s.primary.SetAccountStatus(ctx, id, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(id))
	return nil
}

func (s *CachedLedger) AdjustBalance(ctx context.Context, change *model.BalanceChange) error {
	if err := s.primary.AdjustBalance(ctx, change); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(change.AccountID))
	return nil
}

func (s *CachedLedger) BalanceChanges(ctx context.Context, accountID string) ([]model.BalanceChange, error) {
	return s.primary.BalanceChanges(ctx, accountID)
}

// --- Wager lifecycle (balance-bearing writes invalidate the account) ---

func (s *CachedLedger) PlaceWager(ctx context.Context, w *model.OpenWager) error {
	if err := s.primary.PlaceWager(ctx, w); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(w.AccountID))
	return nil
}

func (s *CachedLedger) ApplyResolutions(ctx context.Context, accountID string, batch []model.Resolution) ([]string, error) {
	applied, err := s.primary.ApplyResolutions(ctx, accountID, batch)
	if err != nil {
		return applied, err
	}
	if len(applied) > 0 {
		s.rdb.Del(ctx, accountKey(accountID))
	}
	return applied, nil
}

func (s *CachedLedger) SetOpenWagers(ctx context.Context, accountID string, wagers []model.OpenWager) error {
	return s.primary.SetOpenWagers(ctx, accountID, wagers)
}

func (s *CachedLedger) ListOpenWagers(ctx context.Context, accountID string) ([]model.OpenWager, error) {
	return s.primary.ListOpenWagers(ctx, accountID)
}

func (s *CachedLedger) OpenWagersByAccount(ctx context.Context) (map[string][]model.OpenWager, error) {
	return s.primary.OpenWagersByAccount(ctx)
}

func (s *CachedLedger) History(ctx context.Context, accountID string, limit int) ([]model.ResolvedWager, error) {
	return s.primary.History(ctx, accountID, limit)
}

// --- Settings & pairs (read-mostly, cached) ---

func (s *CachedLedger) GetTradeSettings(ctx context.Context) (*model.TradeSettings, error) {
	data, err := s.rdb.Get(ctx, settingsKey()).Bytes()
	if err == nil {
		var st model.TradeSettings
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	st, err := s.primary.GetTradeSettings(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, settingsKey(), data, s.ttl)
	}
	return st, nil
}

func (s *CachedLedger) SaveTradeSettings(ctx context.Context, st *model.TradeSettings) error {
	if err := s.primary.SaveTradeSettings(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, settingsKey())
	return nil
}

func (s *CachedLedger) ListPairs(ctx context.Context) ([]model.Pair, error) {
	data, err := s.rdb.Get(ctx, pairsKey()).Bytes()
	if err == nil {
		var pairs []model.Pair
		if json.Unmarshal(data, &pairs) == nil {
			return pairs, nil
		}
	}

	pairs, err := s.primary.ListPairs(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(pairs); err == nil {
		s.rdb.Set(ctx, pairsKey(), data, s.ttl)
	}
	return pairs, nil
}

func (s *CachedLedger) GetPair(ctx context.Context, pair string) (*model.Pair, error) {
	return s.primary.GetPair(ctx, pair)
}

func (s *CachedLedger) UpsertPair(ctx context.Context, p model.Pair) error {
	if err := s.primary.UpsertPair(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, pairsKey())
	return nil
}

func (s *CachedLedger) SetPairEnabled(ctx context.Context, pair string, enabled bool) error {
	if err := s.primary.SetPairEnabled(ctx, pair, enabled); err != nil {
		return err
	}
	s.rdb.Del(ctx, pairsKey())
	return nil
}

// --- Cache helpers ---

func (s *CachedLedger) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.ID), data, s.ttl)
	}
}

func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
func settingsKey() string         { return "settings:trade" }
func pairsKey() string            { return "pairs:all" }
