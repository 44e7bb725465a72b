// Package risk implements open-exposure limits on wager placement.
//
// A user stacking many simultaneous wagers on the same pair has concentrated
// risk even when each individual stake is within bounds. This package caps
// the total stake at risk per pair and across all pairs for one account.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerPairLimitExceeded is returned when a wager would push the open
	// stake on a single pair beyond the per-pair maximum.
	ErrPerPairLimitExceeded = errors.New("risk: per-pair open exposure limit exceeded")

	// ErrTotalLimitExceeded is returned when a wager would push the aggregate
	// open stake across all pairs beyond the total maximum.
	ErrTotalLimitExceeded = errors.New("risk: total open exposure limit exceeded")
)

// ExposureLimiter enforces open-stake limits per account.
//
// A zero (or negative) limit disables the corresponding check, so the
// limiter can be configured pair-only, total-only, or off entirely.
type ExposureLimiter struct {
	// MaxPerPair is the maximum total open stake on any single pair.
	MaxPerPair decimal.Decimal

	// MaxTotal is the maximum aggregate open stake across all pairs.
	MaxTotal decimal.Decimal
}

// NewExposureLimiter creates a limiter with the given per-pair and total
// open-stake limits.
func NewExposureLimiter(maxPerPair, maxTotal decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{
		MaxPerPair: maxPerPair,
		MaxTotal:   maxTotal,
	}
}

// CheckLimit validates whether adding stake on targetPair respects the
// exposure limits, given the account's current open stake per pair.
// Limits are inclusive: landing exactly on a limit is allowed.
func (l *ExposureLimiter) CheckLimit(
	targetPair string,
	stake decimal.Decimal,
	openStakes map[string]decimal.Decimal,
) error {
	newOnPair := openStakes[targetPair].Add(stake)

	if l.MaxPerPair.IsPositive() && newOnPair.GreaterThan(l.MaxPerPair) {
		return ErrPerPairLimitExceeded
	}

	if l.MaxTotal.IsPositive() {
		total := newOnPair
		for pair, open := range openStakes {
			if pair == targetPair {
				continue // already counted via newOnPair above
			}
			total = total.Add(open)
		}
		if total.GreaterThan(l.MaxTotal) {
			return ErrTotalLimitExceeded
		}
	}

	return nil
}
