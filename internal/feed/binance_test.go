package feed

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hilotrade/wager-engine/internal/model"
)

func testPairs() []model.Pair {
	return []model.Pair{
		{Symbol: "BTC/USD", StreamSymbol: "btcusdt", Enabled: true},
		{Symbol: "USDT/USD", StreamSymbol: "usdcusdt", Enabled: true},
		{Symbol: "USDC/USD", StreamSymbol: "usdcusdt", Enabled: true},
	}
}

func TestBinanceFeed_UnavailableBeforeFirstTick(t *testing.T) {
	f := NewBinanceFeed("", testPairs())

	if _, err := f.Latest("BTC/USD"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestBinanceFeed_HandleMessageUpdatesQuote(t *testing.T) {
	f := NewBinanceFeed("", testPairs())

	msg := []byte(`{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1700000000000,"s":"BTCUSDT","c":"50123.45"}}`)
	f.handleMessage(msg)

	q, err := f.Latest("BTC/USD")
	if err != nil {
		t.Fatalf("expected quote, got %v", err)
	}
	if !q.Price.Equal(decimal.NewFromFloat(50123.45)) {
		t.Errorf("expected price 50123.45, got %s", q.Price)
	}
	if q.ObservedAt.IsZero() {
		t.Error("expected non-zero observation time")
	}
}

func TestBinanceFeed_SharedStreamPricesAllPairs(t *testing.T) {
	f := NewBinanceFeed("", testPairs())

	msg := []byte(`{"stream":"usdcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1700000000000,"s":"USDCUSDT","c":"1.0001"}}`)
	f.handleMessage(msg)

	for _, pair := range []string{"USDT/USD", "USDC/USD"} {
		q, err := f.Latest(pair)
		if err != nil {
			t.Fatalf("expected quote for %s, got %v", pair, err)
		}
		if !q.Price.Equal(decimal.NewFromFloat(1.0001)) {
			t.Errorf("%s: expected 1.0001, got %s", pair, q.Price)
		}
	}
}

func TestBinanceFeed_OnQuoteFiresPerPair(t *testing.T) {
	f := NewBinanceFeed("", testPairs())

	var got []Quote
	f.OnQuote(func(q Quote) {
		got = append(got, q)
	})

	msg := []byte(`{"stream":"usdcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1700000000000,"s":"USDCUSDT","c":"1.0001"}}`)
	f.handleMessage(msg)

	if len(got) != 2 {
		t.Fatalf("expected a callback per priced pair, got %d", len(got))
	}
	pairs := map[string]bool{}
	for _, q := range got {
		pairs[q.Pair] = true
		if !q.Price.Equal(decimal.NewFromFloat(1.0001)) {
			t.Errorf("%s: expected 1.0001, got %s", q.Pair, q.Price)
		}
	}
	if !pairs["USDT/USD"] || !pairs["USDC/USD"] {
		t.Errorf("expected both stable pairs, got %v", pairs)
	}
}

func TestBinanceFeed_IgnoresMalformedMessages(t *testing.T) {
	f := NewBinanceFeed("", testPairs())

	for _, msg := range []string{
		`not json`,
		`{}`,
		`{"stream":"btcusdt@miniTicker","data":{"s":"BTCUSDT","c":"not-a-number"}}`,
		`{"stream":"btcusdt@miniTicker","data":{"c":"100"}}`,
	} {
		f.handleMessage([]byte(msg))
	}

	if _, err := f.Latest("BTC/USD"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("malformed messages must not produce quotes, got %v", err)
	}
}

func TestStaticFeed_SetAndClear(t *testing.T) {
	f := NewStaticFeed()
	f.Set("BTC/USD", decimal.NewFromInt(50000))

	q, err := f.Latest("BTC/USD")
	if err != nil {
		t.Fatalf("expected quote, got %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("expected 50000, got %s", q.Price)
	}

	f.Clear("BTC/USD")
	if _, err := f.Latest("BTC/USD"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable after Clear, got %v", err)
	}
}
