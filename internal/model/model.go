// Package model defines the core domain types shared across the wager engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wager directions.
const (
	DirectionUp   = "UP"
	DirectionDown = "DOWN"
)

// Wager outcomes.
const (
	OutcomeWin  = "WIN"
	OutcomeLose = "LOSE"
)

// Account statuses.
const (
	StatusActive = "active"
	StatusBanned = "banned"
)

// Kinds of balance change outside the wager lifecycle.
const (
	ChangeDeposit    = "deposit"
	ChangeWithdrawal = "withdrawal"
	ChangeBonus      = "bonus"
	ChangeAdjustment = "adjustment"
)

// Account holds a user's simulated balance and standing.
// AvailableBalance is only ever mutated through the ledger's atomic
// operations, never read-then-overwritten.
type Account struct {
	ID               string          `json:"id" db:"id"`
	Name             string          `json:"name" db:"name"`
	Email            string          `json:"email" db:"email"`
	Status           string          `json:"status" db:"status"` // "active" or "banned"
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// OpenWager is a timed higher/lower bet awaiting resolution. It exists only
// in the account's open set; it is never mutated in place and is removed
// exactly once, at resolution.
//
// ProfitPercent is frozen at open time so a settings change cannot
// retroactively reprice an in-flight wager.
type OpenWager struct {
	ID            string          `json:"id" db:"id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	Pair          string          `json:"pair" db:"pair"` // e.g. "BTC/USD"
	Direction     string          `json:"direction" db:"direction"`
	Stake         decimal.Decimal `json:"stake" db:"stake"`
	EntryPrice    decimal.Decimal `json:"entry_price" db:"entry_price"`
	ProfitPercent decimal.Decimal `json:"profit_percent" db:"profit_percent"`
	PlacedAt      time.Time       `json:"placed_at" db:"placed_at"`
	ExpiresAt     time.Time       `json:"expires_at" db:"expires_at"`
}

// ResolvedWager is the immutable history entry produced from an OpenWager
// plus the exit price observed at or after expiry. At most one is ever
// produced per open wager id.
type ResolvedWager struct {
	ID            string          `json:"id" db:"id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	Pair          string          `json:"pair" db:"pair"`
	Direction     string          `json:"direction" db:"direction"`
	Stake         decimal.Decimal `json:"stake" db:"stake"`
	EntryPrice    decimal.Decimal `json:"entry_price" db:"entry_price"`
	ExitPrice     decimal.Decimal `json:"exit_price" db:"exit_price"`
	Outcome       string          `json:"outcome" db:"outcome"` // "WIN" or "LOSE"
	Payout        decimal.Decimal `json:"payout" db:"payout"`   // stake + profit on WIN, zero on LOSE
	PlacedAt      time.Time       `json:"placed_at" db:"placed_at"`
	ResolvedAt    time.Time       `json:"resolved_at" db:"resolved_at"`
	ProfitPercent decimal.Decimal `json:"profit_percent" db:"profit_percent"`
}

// TradeSettings is the global configuration consulted on every wager decision.
type TradeSettings struct {
	TradingEnabled   bool            `json:"trading_enabled"`
	ProfitPercentage decimal.Decimal `json:"profit_percentage"` // 0–100
	MinStake         decimal.Decimal `json:"min_stake"`         // inclusive
	MaxStake         decimal.Decimal `json:"max_stake"`         // inclusive
	AllowedDurations []int           `json:"allowed_durations"` // seconds
}

// DurationAllowed reports whether the given duration in seconds is permitted.
func (s TradeSettings) DurationAllowed(seconds int) bool {
	for _, d := range s.AllowedDurations {
		if d == seconds {
			return true
		}
	}
	return false
}

// Pair is a tradable instrument and its upstream feed mapping.
type Pair struct {
	Symbol       string `json:"symbol" db:"symbol"`               // "BTC/USD"
	StreamSymbol string `json:"stream_symbol" db:"stream_symbol"` // Binance stream name, e.g. "btcusdt"
	Enabled      bool   `json:"enabled" db:"enabled"`
}

// BalanceChange is an immutable record of a balance mutation outside the
// wager lifecycle: deposits, withdrawals, bonuses, admin adjustments.
type BalanceChange struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Kind      string          `json:"kind" db:"kind"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // signed delta applied to the balance
	Note      string          `json:"note,omitempty" db:"note"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Resolution is one wager's outcome within a batch ledger update.
type Resolution struct {
	WagerID string
	Entry   ResolvedWager
	Credit  decimal.Decimal // payout to add to the balance; zero on LOSE
}
