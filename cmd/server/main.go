package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/hilotrade/wager-engine/internal/config"
	"github.com/hilotrade/wager-engine/internal/engine"
	"github.com/hilotrade/wager-engine/internal/feed"
	"github.com/hilotrade/wager-engine/internal/metrics"
	"github.com/hilotrade/wager-engine/internal/model"
	"github.com/hilotrade/wager-engine/internal/risk"
	"github.com/hilotrade/wager-engine/internal/scheduler"
	"github.com/hilotrade/wager-engine/internal/store"
	"github.com/hilotrade/wager-engine/internal/symbol"
	"github.com/hilotrade/wager-engine/internal/trade"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize ledger ---
	var ledger store.Ledger
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		ledger = store.NewPostgresLedger(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			ledger = store.NewCachedLedger(ledger, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory ledger (data will not persist)")
		ledger = store.NewMemoryLedger()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	seedDefaults(ledger)

	// --- Price feed ---
	pairs, err := ledger.ListPairs(context.Background())
	if err != nil {
		slog.Error("failed to load pairs", "err", err)
		os.Exit(1)
	}
	priceFeed := feed.NewBinanceFeed(cfg.BinanceWSURL, pairs)

	// --- Exposure limits ---
	var limiter *risk.ExposureLimiter
	if cfg.MaxStakePerPair.IsPositive() || cfg.MaxStakeTotal.IsPositive() {
		limiter = risk.NewExposureLimiter(cfg.MaxStakePerPair, cfg.MaxStakeTotal)
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	priceFeed.OnQuote(func(q feed.Quote) {
		wsHub.Broadcast(trade.WSMessage{
			Type:  "price",
			Pair:  q.Pair,
			Price: q.Price.String(),
		})
	})
	feedCtx, stopFeed := context.WithCancel(context.Background())
	go priceFeed.Run(feedCtx)

	// --- Engine, trade service, resolution scheduler ---
	eng := engine.New(ledger, priceFeed, limiter)
	tradeSvc := trade.NewService(ledger, eng, priceFeed, wsHub)

	sched := scheduler.New(ledger, priceFeed, cfg.ResolveInterval, tradeSvc.OnResolved)
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	go sched.Run(schedCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wager-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time wager and price updates.
		r.Get("/ws", wsHub.HandleWS)

		// Accounts and funding.
		r.Post("/accounts", tradeSvc.CreateAccount)
		r.Get("/accounts", tradeSvc.ListAccounts)
		r.Get("/accounts/{accountID}", tradeSvc.GetAccount)
		r.Put("/accounts/{accountID}/status", tradeSvc.SetAccountStatus)
		r.Post("/accounts/{accountID}/deposit", tradeSvc.Deposit)
		r.Post("/accounts/{accountID}/withdraw", tradeSvc.Withdraw)
		r.Post("/accounts/{accountID}/bonus", tradeSvc.Bonus)
		r.Get("/accounts/{accountID}/changes", tradeSvc.GetBalanceChanges)

		// Wager lifecycle.
		r.Post("/wagers", tradeSvc.PlaceWager)
		r.Get("/accounts/{accountID}/wagers", tradeSvc.GetOpenWagers)
		r.Get("/accounts/{accountID}/history", tradeSvc.GetHistory)

		// Settings and pairs.
		r.Get("/settings", tradeSvc.GetSettings)
		r.Put("/settings", tradeSvc.UpdateSettings)
		r.Get("/pairs", tradeSvc.ListPairs)
		r.Put("/pairs/{base}/{quote}/status", tradeSvc.SetPairStatus)

		// Prices.
		r.Get("/prices/{base}/{quote}", tradeSvc.GetPrice)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wager-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down wager-engine...")
	stopScheduler()
	stopFeed()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("wager-engine stopped")
}

// seedDefaults writes initial trade settings and the known pair set on
// first boot. Existing configuration is left untouched.
func seedDefaults(ledger store.Ledger) {
	ctx := context.Background()

	if _, err := ledger.GetTradeSettings(ctx); err != nil {
		if !errors.Is(err, store.ErrSettingsNotFound) {
			slog.Error("failed to read trade settings", "err", err)
			os.Exit(1)
		}
		settings := &model.TradeSettings{
			TradingEnabled:   true,
			ProfitPercentage: decimal.NewFromInt(85),
			MinStake:         decimal.NewFromInt(10),
			MaxStake:         decimal.NewFromInt(1000),
			AllowedDurations: []int{30, 60, 120, 300},
		}
		if err := ledger.SaveTradeSettings(ctx, settings); err != nil {
			slog.Error("failed to seed trade settings", "err", err)
			os.Exit(1)
		}
		slog.Info("seeded default trade settings")
	}

	existing, err := ledger.ListPairs(ctx)
	if err != nil {
		slog.Error("failed to list pairs", "err", err)
		os.Exit(1)
	}
	if len(existing) > 0 {
		return
	}
	for _, p := range symbol.KnownPairs() {
		stream, err := symbol.StreamSymbol(p.Symbol)
		if err != nil {
			continue
		}
		if err := ledger.UpsertPair(ctx, model.Pair{
			Symbol:       p.Symbol,
			StreamSymbol: stream,
			Enabled:      true,
		}); err != nil {
			slog.Error("failed to seed pair", "pair", p.Symbol, "err", err)
			os.Exit(1)
		}
	}
	slog.Info("seeded default pairs", "count", len(symbol.KnownPairs()))
}
