package feed

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StaticFeed is a settable in-memory feed for development and tests.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStaticFeed creates an empty static feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{quotes: make(map[string]Quote)}
}

// Set records a price observation for a pair, stamped now.
func (f *StaticFeed) Set(pair string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[pair] = Quote{
		Pair:       pair,
		Price:      price,
		ObservedAt: time.Now().UTC(),
	}
}

// Clear removes a pair's observation so Latest reports ErrUnavailable again.
func (f *StaticFeed) Clear(pair string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.quotes, pair)
}

func (f *StaticFeed) Latest(pair string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[pair]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnavailable, pair)
	}
	return q, nil
}
