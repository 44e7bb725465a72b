// Package engine implements the wager lifecycle: deciding whether a new
// higher/lower wager may be opened, computing its terms, and — at expiry —
// deciding win/lose and the resulting payout.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hilotrade/wager-engine/internal/feed"
	"github.com/hilotrade/wager-engine/internal/model"
	"github.com/hilotrade/wager-engine/internal/risk"
	"github.com/hilotrade/wager-engine/internal/store"
)

// Rejection reasons, one sentinel per precondition. Validation failures are
// never retried automatically; the wager is simply never created.
var (
	ErrTradingDisabled     = errors.New("engine: trading is disabled")
	ErrPairDisabled        = errors.New("engine: pair is not tradable")
	ErrAccountSuspended    = errors.New("engine: account is suspended")
	ErrInvalidDirection    = errors.New("engine: direction must be UP or DOWN")
	ErrInvalidStake        = errors.New("engine: stake must be a positive amount")
	ErrStakeOutOfBounds    = errors.New("engine: stake is outside the allowed bounds")
	ErrDurationNotAllowed  = errors.New("engine: duration is not permitted")
	ErrInsufficientBalance = errors.New("engine: insufficient balance")
	ErrPriceUnavailable    = errors.New("engine: no price observation for pair")
)

// OpenRequest is a wager intent submitted by a user.
type OpenRequest struct {
	AccountID string
	Pair      string
	Direction string
	Stake     decimal.Decimal
	Duration  int // seconds
}

// Engine validates wager intents against settings and the ledger, and
// computes resolution outcomes. Opens for the same account are serialized
// so a rapid repeated submission cannot double-debit before the first
// ledger write completes.
type Engine struct {
	ledger  store.Ledger
	feed    feed.Feed
	limiter *risk.ExposureLimiter

	locks sync.Map // accountID → *sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

// New creates a wager engine. Pass nil for limiter to disable exposure limits.
func New(ledger store.Ledger, priceFeed feed.Feed, limiter *risk.ExposureLimiter) *Engine {
	return &Engine{
		ledger:  ledger,
		feed:    priceFeed,
		limiter: limiter,
		now:     time.Now,
	}
}

// OpenWager validates the request against the given settings snapshot and,
// on acceptance, debits the stake and records the open wager as one atomic
// ledger update. Preconditions are checked in a fixed order and each failure
// returns its own rejection reason.
func (e *Engine) OpenWager(ctx context.Context, settings model.TradeSettings, req OpenRequest) (*model.OpenWager, error) {
	lock := e.accountLock(req.AccountID)
	lock.Lock()
	defer lock.Unlock()

	// 1. Global trading gate.
	if !settings.TradingEnabled {
		return nil, ErrTradingDisabled
	}

	// 2. Pair must be configured and enabled.
	pair, err := e.ledger.GetPair(ctx, req.Pair)
	if err != nil {
		if errors.Is(err, store.ErrPairNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPairDisabled, req.Pair)
		}
		return nil, err
	}
	if !pair.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrPairDisabled, req.Pair)
	}

	// 3. Account must exist and be in good standing.
	acct, err := e.ledger.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.Status == model.StatusBanned {
		return nil, ErrAccountSuspended
	}

	// 4. Stake must be a positive amount, direction and duration valid.
	if req.Direction != model.DirectionUp && req.Direction != model.DirectionDown {
		return nil, ErrInvalidDirection
	}
	if !req.Stake.IsPositive() {
		return nil, ErrInvalidStake
	}
	if !settings.DurationAllowed(req.Duration) {
		return nil, fmt.Errorf("%w: %ds", ErrDurationNotAllowed, req.Duration)
	}

	// 5. Stake bounds, inclusive on both ends.
	if req.Stake.LessThan(settings.MinStake) || req.Stake.GreaterThan(settings.MaxStake) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrStakeOutOfBounds, req.Stake, settings.MinStake, settings.MaxStake)
	}

	// 6. Balance must cover the stake. The ledger re-checks atomically at
	// write time; this pre-check produces the rejection reason.
	if acct.AvailableBalance.LessThan(req.Stake) {
		return nil, ErrInsufficientBalance
	}

	// Exposure limits on open stake (per pair and total).
	if e.limiter != nil {
		open, err := e.ledger.ListOpenWagers(ctx, req.AccountID)
		if err != nil {
			return nil, err
		}
		stakes := make(map[string]decimal.Decimal, len(open))
		for _, w := range open {
			stakes[w.Pair] = stakes[w.Pair].Add(w.Stake)
		}
		if err := e.limiter.CheckLimit(req.Pair, req.Stake, stakes); err != nil {
			return nil, err
		}
	}

	// Entry price is the latest observed trade price. No observation yet
	// means the wager cannot be priced and is rejected, never guessed.
	quote, err := e.feed.Latest(req.Pair)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, req.Pair)
	}

	now := e.now().UTC()
	wager := &model.OpenWager{
		ID:            uuid.New().String(),
		AccountID:     req.AccountID,
		Pair:          req.Pair,
		Direction:     req.Direction,
		Stake:         req.Stake,
		EntryPrice:    quote.Price,
		ProfitPercent: settings.ProfitPercentage, // frozen at open time
		PlacedAt:      now,
		ExpiresAt:     now.Add(time.Duration(req.Duration) * time.Second),
	}

	if err := e.ledger.PlaceWager(ctx, wager); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, ErrInsufficientBalance
		}
		return nil, err
	}

	slog.Info("wager opened",
		"wager_id", wager.ID,
		"account", wager.AccountID,
		"pair", wager.Pair,
		"direction", wager.Direction,
		"stake", wager.Stake.String(),
		"entry_price", wager.EntryPrice.String(),
		"expires_at", wager.ExpiresAt,
	)

	return wager, nil
}

// Resolve computes a wager's outcome against the exit price. Pure function:
// WIN iff the price moved strictly in the predicted direction; exact
// equality loses for both directions — ties never pay out. A win pays the
// stake back plus profit at the rate frozen into the wager at open time.
func Resolve(w model.OpenWager, exitPrice decimal.Decimal, at time.Time) model.ResolvedWager {
	win := (w.Direction == model.DirectionUp && exitPrice.GreaterThan(w.EntryPrice)) ||
		(w.Direction == model.DirectionDown && exitPrice.LessThan(w.EntryPrice))

	outcome := model.OutcomeLose
	payout := decimal.Zero
	if win {
		outcome = model.OutcomeWin
		payout = w.Stake.Add(w.Stake.Mul(w.ProfitPercent).Div(decimal.NewFromInt(100)))
	}

	return model.ResolvedWager{
		ID:            w.ID,
		AccountID:     w.AccountID,
		Pair:          w.Pair,
		Direction:     w.Direction,
		Stake:         w.Stake,
		EntryPrice:    w.EntryPrice,
		ExitPrice:     exitPrice,
		Outcome:       outcome,
		Payout:        payout,
		PlacedAt:      w.PlacedAt,
		ResolvedAt:    at.UTC(),
		ProfitPercent: w.ProfitPercent,
	}
}

func (e *Engine) accountLock(id string) *sync.Mutex {
	l, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}
