// Package symbol handles trading-pair parsing, validation, and mapping of
// internal pair symbols to upstream Binance stream names.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidPair = errors.New("symbol: invalid pair format")
	ErrUnknownPair = errors.New("symbol: no upstream stream for pair")
)

// pairRegex matches: {BASE}/{QUOTE}
// Example: BTC/USD
var pairRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})/([A-Z0-9]{2,10})$`)

// Pair is a parsed instrument identifier.
type Pair struct {
	Symbol string `json:"symbol"` // "BTC/USD"
	Base   string `json:"base"`   // "BTC"
	Quote  string `json:"quote"`  // "USD"
}

// streamSymbols maps internal pairs to Binance stream names. USD pairs trade
// against USDT upstream; stable pairs map to a USDC/USDT proxy stream.
var streamSymbols = map[string]string{
	"BTC/USD":  "btcusdt",
	"ETH/USD":  "ethusdt",
	"LTC/USD":  "ltcusdt",
	"BNB/USD":  "bnbusdt",
	"XRP/USD":  "xrpusdt",
	"ADA/USD":  "adausdt",
	"SOL/USD":  "solusdt",
	"USDT/USD": "usdcusdt",
	"USDC/USD": "usdcusdt",
}

// Parse parses and validates a pair symbol string.
// Format: {BASE}/{QUOTE}, both uppercase alphanumeric.
func Parse(s string) (*Pair, error) {
	matches := pairRegex.FindStringSubmatch(s)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected BASE/QUOTE, e.g. BTC/USD)", ErrInvalidPair, s)
	}
	return &Pair{
		Symbol: s,
		Base:   matches[1],
		Quote:  matches[2],
	}, nil
}

// StreamSymbol returns the Binance stream name for an internal pair symbol.
func StreamSymbol(pair string) (string, error) {
	if s, ok := streamSymbols[pair]; ok {
		return s, nil
	}
	// Fall back to {base}{quote} lowercased for pairs that trade directly.
	p, err := Parse(pair)
	if err != nil {
		return "", err
	}
	if p.Quote == "USD" {
		return "", fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return strings.ToLower(p.Base + p.Quote), nil
}

// KnownPairs returns all pairs with a configured upstream stream, in no
// particular order. Used to seed the pair table on first boot.
func KnownPairs() []Pair {
	pairs := make([]Pair, 0, len(streamSymbols))
	for sym := range streamSymbols {
		p, err := Parse(sym)
		if err != nil {
			continue
		}
		pairs = append(pairs, *p)
	}
	return pairs
}
