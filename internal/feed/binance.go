package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/hilotrade/wager-engine/internal/model"
)

const (
	// DefaultBaseURL is the Binance combined-stream websocket endpoint.
	DefaultBaseURL = "wss://stream.binance.com:9443/stream"

	// DefaultReconnectDelay is the delay before attempting to reconnect.
	DefaultReconnectDelay = 5 * time.Second

	// readDeadline bounds how long a connection may stay silent before it
	// is considered dead. Binance pings roughly every 3 minutes.
	readDeadline = 5 * time.Minute
)

// BinanceFeed maintains the latest observed price per pair from Binance
// miniTicker streams. One websocket connection covers all subscribed pairs;
// the read pump updates an in-memory quote map that Latest serves from.
type BinanceFeed struct {
	baseURL        string
	reconnectDelay time.Duration

	// streamToPairs maps an upstream symbol (upper-case, e.g. "BTCUSDT")
	// to the internal pairs it prices. Several pairs can share one stream
	// (stable pairs proxy through USDC/USDT).
	streamToPairs map[string][]string
	streams       []string

	// onQuote, if set, is invoked for each updated quote after the map
	// write. Used for WebSocket price fan-out.
	onQuote func(Quote)

	mu     sync.RWMutex
	quotes map[string]Quote // internal pair symbol → latest quote
}

// OnQuote registers a callback invoked for every price observation.
// Must be called before Run.
func (f *BinanceFeed) OnQuote(fn func(Quote)) {
	f.onQuote = fn
}

// NewBinanceFeed creates a feed for the given pairs. Pairs without a stream
// symbol are skipped. baseURL may be empty to use the production endpoint.
func NewBinanceFeed(baseURL string, pairs []model.Pair) *BinanceFeed {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	f := &BinanceFeed{
		baseURL:        baseURL,
		reconnectDelay: DefaultReconnectDelay,
		streamToPairs:  make(map[string][]string),
		quotes:         make(map[string]Quote),
	}

	seen := make(map[string]bool)
	for _, p := range pairs {
		if p.StreamSymbol == "" {
			continue
		}
		upper := strings.ToUpper(p.StreamSymbol)
		f.streamToPairs[upper] = append(f.streamToPairs[upper], p.Symbol)
		if !seen[p.StreamSymbol] {
			seen[p.StreamSymbol] = true
			f.streams = append(f.streams, p.StreamSymbol+"@miniTicker")
		}
	}
	return f
}

// Latest returns the most recent observed quote for a pair. It never blocks:
// before the first tick arrives it reports ErrUnavailable.
func (f *BinanceFeed) Latest(pair string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[pair]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnavailable, pair)
	}
	return q, nil
}

// Run connects to the combined stream and keeps the quote map current,
// reconnecting with a fixed delay on failure, until ctx is cancelled.
// Must be called in a goroutine.
func (f *BinanceFeed) Run(ctx context.Context) {
	if len(f.streams) == 0 {
		slog.Warn("binance feed started with no streams")
		return
	}
	url := f.baseURL + "?streams=" + strings.Join(f.streams, "/")

	for {
		if err := f.connectAndRead(ctx, url); err != nil {
			slog.Error("binance feed disconnected", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *BinanceFeed) connectAndRead(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	slog.Info("binance feed connected", "streams", len(f.streams))

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		f.handleMessage(data)
	}
}

// streamEnvelope is the combined-stream wrapper: {"stream": ..., "data": {...}}.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// miniTicker is the fields of a Binance 24hrMiniTicker event we consume.
type miniTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"` // epoch millis
	Symbol    string `json:"s"` // upper-case, e.g. "BTCUSDT"
	Close     string `json:"c"` // latest trade price
}

func (f *BinanceFeed) handleMessage(data []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Data == nil {
		return
	}

	var tick miniTicker
	if err := json.Unmarshal(env.Data, &tick); err != nil || tick.Symbol == "" {
		return
	}

	price, err := decimal.NewFromString(tick.Close)
	if err != nil {
		return
	}

	observedAt := time.UnixMilli(tick.EventTime).UTC()
	if tick.EventTime == 0 {
		observedAt = time.Now().UTC()
	}

	pairs := f.streamToPairs[tick.Symbol]

	f.mu.Lock()
	for _, pair := range pairs {
		f.quotes[pair] = Quote{
			Pair:       pair,
			Price:      price,
			ObservedAt: observedAt,
		}
	}
	f.mu.Unlock()

	if f.onQuote != nil {
		for _, pair := range pairs {
			f.onQuote(Quote{Pair: pair, Price: price, ObservedAt: observedAt})
		}
	}
}
