// Package scheduler drives wager resolution: a recurring scan detects
// expired open wagers and resolves each exactly once against the freshest
// observed price.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hilotrade/wager-engine/internal/engine"
	"github.com/hilotrade/wager-engine/internal/feed"
	"github.com/hilotrade/wager-engine/internal/metrics"
	"github.com/hilotrade/wager-engine/internal/model"
	"github.com/hilotrade/wager-engine/internal/store"
)

// DefaultInterval is the default tick period.
const DefaultInterval = time.Second

// Scheduler scans the ledger's open wagers on a fixed interval and applies
// expired ones in per-account batches, so several wagers expiring together
// produce one atomic balance change instead of several interleaved ones.
//
// A wager that fails to resolve on one tick (transient write failure,
// missing price) simply stays open and is retried on the next tick; the
// ledger's resolve-once guard makes retries safe.
type Scheduler struct {
	ledger   store.Ledger
	feed     feed.Feed
	interval time.Duration

	// onResolved, if set, is invoked for each batch entry after its
	// account's batch commits. Used for WebSocket fan-out.
	onResolved func(model.ResolvedWager)

	ticking atomic.Bool // guards against overlapping scans

	// now is swappable for tests.
	now func() time.Time
}

// New creates a scheduler. Pass nil for onResolved if no fan-out is needed;
// a non-positive interval falls back to DefaultInterval.
func New(ledger store.Ledger, priceFeed feed.Feed, interval time.Duration, onResolved func(model.ResolvedWager)) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		ledger:     ledger,
		feed:       priceFeed,
		interval:   interval,
		onResolved: onResolved,
		now:        time.Now,
	}
}

// Run ticks until ctx is cancelled. Must be called in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("resolution scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("resolution scheduler stopped")
			return
		case <-ticker.C:
			if !s.ticking.CompareAndSwap(false, true) {
				continue // previous scan still running
			}
			s.Tick(ctx)
			s.ticking.Store(false)
		}
	}
}

// Tick performs one resolution scan. Exported so tests can drive the
// scheduler without real time passing.
//
// Returns how many wagers were resolved and how many expired wagers were
// deferred (no price observation yet).
func (s *Scheduler) Tick(ctx context.Context) (resolved, deferred int) {
	start := time.Now()
	defer func() {
		metrics.SchedulerTickDuration.Observe(time.Since(start).Seconds())
	}()

	grouped, err := s.ledger.OpenWagersByAccount(ctx)
	if err != nil {
		slog.Error("scheduler: listing open wagers failed", "err", err)
		return 0, 0
	}

	now := s.now().UTC()
	totalOpen := 0

	// One feed lookup per pair per tick, shared across accounts.
	quotes := make(map[string]*feed.Quote)
	latest := func(pair string) *feed.Quote {
		if q, ok := quotes[pair]; ok {
			return q
		}
		q, err := s.feed.Latest(pair)
		if err != nil {
			quotes[pair] = nil // unavailable; remember for this tick
			return nil
		}
		quotes[pair] = &q
		metrics.FeedQuoteAge.WithLabelValues(pair).Set(now.Sub(q.ObservedAt).Seconds())
		return &q
	}

	for accountID, wagers := range grouped {
		totalOpen += len(wagers)

		var batch []model.Resolution
		for _, w := range wagers {
			if now.Before(w.ExpiresAt) {
				continue
			}
			quote := latest(w.Pair)
			if quote == nil {
				// Never fabricate a price: the wager stays open past its
				// nominal expiry until an observation arrives.
				deferred++
				metrics.ResolutionsDeferred.Inc()
				continue
			}

			entry := engine.Resolve(w, quote.Price, now)
			batch = append(batch, model.Resolution{
				WagerID: w.ID,
				Entry:   entry,
				Credit:  entry.Payout,
			})
		}

		if len(batch) == 0 {
			continue
		}

		applied, err := s.ledger.ApplyResolutions(ctx, accountID, batch)
		if err != nil {
			// Whole batch stays open; retried next tick.
			metrics.ResolutionBatchFailures.Inc()
			slog.Error("scheduler: resolution batch failed",
				"account", accountID, "wagers", len(batch), "err", err)
			continue
		}

		resolved += len(applied)
		totalOpen -= len(applied)

		// Entries skipped by the ledger (lost a race with another resolver)
		// were already reported there; only announce what applied here.
		appliedSet := make(map[string]bool, len(applied))
		for _, id := range applied {
			appliedSet[id] = true
		}

		for _, res := range batch {
			if !appliedSet[res.WagerID] {
				continue
			}
			metrics.WagersResolved.WithLabelValues(res.Entry.Outcome).Inc()
			slog.Info("wager resolved",
				"wager_id", res.Entry.ID,
				"account", accountID,
				"pair", res.Entry.Pair,
				"outcome", res.Entry.Outcome,
				"payout", res.Entry.Payout.String(),
				"exit_price", res.Entry.ExitPrice.String(),
			)
			if s.onResolved != nil {
				s.onResolved(res.Entry)
			}
		}
	}

	metrics.OpenWagers.Set(float64(totalOpen))
	return resolved, deferred
}
