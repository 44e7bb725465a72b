// Package feed provides live price observation for trading pairs. The
// engine and scheduler only ever ask for the latest already-received price;
// nothing in this package blocks on the network to answer a query.
package feed

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when no price observation has arrived yet for
// a pair. Callers defer rather than fabricate a price.
var ErrUnavailable = errors.New("feed: no price observation for pair")

// Quote is the most recent observed price for a pair.
type Quote struct {
	Pair       string          `json:"pair"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Feed supplies the latest observed price per pair. Latest is non-blocking
// and reflects the most recent tick already received, never a fresh fetch.
type Feed interface {
	Latest(pair string) (Quote, error)
}
