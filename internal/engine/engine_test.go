package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hilotrade/wager-engine/internal/engine"
	"github.com/hilotrade/wager-engine/internal/feed"
	"github.com/hilotrade/wager-engine/internal/model"
	"github.com/hilotrade/wager-engine/internal/risk"
	"github.com/hilotrade/wager-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testSettings() model.TradeSettings {
	return model.TradeSettings{
		TradingEnabled:   true,
		ProfitPercentage: d(85),
		MinStake:         d(10),
		MaxStake:         d(1000),
		AllowedDurations: []int{30, 60, 120},
	}
}

// newTestEnv creates an engine over a memory ledger with one funded account
// and one enabled pair priced at 50000.
func newTestEnv(t *testing.T) (*engine.Engine, *store.MemoryLedger, *feed.StaticFeed) {
	t.Helper()
	ledger := store.NewMemoryLedger()
	err := ledger.CreateAccount(context.Background(), &model.Account{
		ID:               "u1",
		Name:             "Test User",
		Email:            "u1@example.com",
		Status:           model.StatusActive,
		AvailableBalance: d(500),
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	ledger.UpsertPair(context.Background(), model.Pair{
		Symbol: "BTC/USD", StreamSymbol: "btcusdt", Enabled: true,
	})

	pf := feed.NewStaticFeed()
	pf.Set("BTC/USD", d(50000))

	return engine.New(ledger, pf, nil), ledger, pf
}

func openReq(stake float64) engine.OpenRequest {
	return engine.OpenRequest{
		AccountID: "u1",
		Pair:      "BTC/USD",
		Direction: model.DirectionUp,
		Stake:     d(stake),
		Duration:  60,
	}
}

// --- OpenWager ---

func TestOpenWager_Accepted(t *testing.T) {
	e, ledger, _ := newTestEnv(t)
	ctx := context.Background()

	w, err := e.OpenWager(ctx, testSettings(), openReq(100))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if w.ID == "" {
		t.Error("expected generated id")
	}
	if !w.EntryPrice.Equal(d(50000)) {
		t.Errorf("expected entry price 50000, got %s", w.EntryPrice)
	}
	if !w.ProfitPercent.Equal(d(85)) {
		t.Errorf("profit rate should be frozen at open, got %s", w.ProfitPercent)
	}
	if !w.ExpiresAt.After(w.PlacedAt) {
		t.Error("expiry must be after placement")
	}
	if got := w.ExpiresAt.Sub(w.PlacedAt); got != time.Minute {
		t.Errorf("expected 60s duration, got %s", got)
	}

	a, _ := ledger.GetAccount(ctx, "u1")
	if !a.AvailableBalance.Equal(d(400)) {
		t.Errorf("expected balance 400 after debit, got %s", a.AvailableBalance)
	}
	open, _ := ledger.ListOpenWagers(ctx, "u1")
	if len(open) != 1 {
		t.Fatalf("expected 1 open wager, got %d", len(open))
	}
}

func TestOpenWager_TradingDisabled(t *testing.T) {
	e, _, _ := newTestEnv(t)

	s := testSettings()
	s.TradingEnabled = false

	_, err := e.OpenWager(context.Background(), s, openReq(100))
	if !errors.Is(err, engine.ErrTradingDisabled) {
		t.Errorf("expected ErrTradingDisabled, got %v", err)
	}
}

func TestOpenWager_PairDisabled(t *testing.T) {
	e, ledger, _ := newTestEnv(t)
	ctx := context.Background()
	ledger.SetPairEnabled(ctx, "BTC/USD", false)

	_, err := e.OpenWager(ctx, testSettings(), openReq(100))
	if !errors.Is(err, engine.ErrPairDisabled) {
		t.Errorf("expected ErrPairDisabled, got %v", err)
	}
}

func TestOpenWager_UnknownPairRejected(t *testing.T) {
	e, _, _ := newTestEnv(t)

	req := openReq(100)
	req.Pair = "DOGE/USD"

	_, err := e.OpenWager(context.Background(), testSettings(), req)
	if !errors.Is(err, engine.ErrPairDisabled) {
		t.Errorf("expected ErrPairDisabled for unknown pair, got %v", err)
	}
}

func TestOpenWager_SuspendedAccount(t *testing.T) {
	e, ledger, _ := newTestEnv(t)
	ctx := context.Background()
	ledger.SetAccountStatus(ctx, "u1", model.StatusBanned)

	_, err := e.OpenWager(ctx, testSettings(), openReq(100))
	if !errors.Is(err, engine.ErrAccountSuspended) {
		t.Errorf("expected ErrAccountSuspended, got %v", err)
	}
}

func TestOpenWager_InvalidDirection(t *testing.T) {
	e, _, _ := newTestEnv(t)

	req := openReq(100)
	req.Direction = "SIDEWAYS"

	_, err := e.OpenWager(context.Background(), testSettings(), req)
	if !errors.Is(err, engine.ErrInvalidDirection) {
		t.Errorf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestOpenWager_InvalidStake(t *testing.T) {
	e, _, _ := newTestEnv(t)

	for _, stake := range []float64{0, -50} {
		_, err := e.OpenWager(context.Background(), testSettings(), openReq(stake))
		if !errors.Is(err, engine.ErrInvalidStake) {
			t.Errorf("stake %v: expected ErrInvalidStake, got %v", stake, err)
		}
	}
}

func TestOpenWager_DurationNotAllowed(t *testing.T) {
	e, _, _ := newTestEnv(t)

	req := openReq(100)
	req.Duration = 45

	_, err := e.OpenWager(context.Background(), testSettings(), req)
	if !errors.Is(err, engine.ErrDurationNotAllowed) {
		t.Errorf("expected ErrDurationNotAllowed, got %v", err)
	}
}

func TestOpenWager_BoundsInclusive(t *testing.T) {
	e, _, _ := newTestEnv(t)
	ctx := context.Background()

	// Exactly at min and max are accepted.
	if _, err := e.OpenWager(ctx, testSettings(), openReq(10)); err != nil {
		t.Errorf("stake at minStake should be accepted, got %v", err)
	}
	// Top up so the max-stake open can clear the balance check.
	// (500 initial − 10 staked = 490 remaining; max stake is 1000.)
	e2, ledger2, _ := newTestEnv(t)
	ledger2.AdjustBalance(ctx, &model.BalanceChange{
		ID: "c1", AccountID: "u1", Kind: model.ChangeDeposit, Amount: d(600),
		CreatedAt: time.Now().UTC(),
	})
	if _, err := e2.OpenWager(ctx, testSettings(), openReq(1000)); err != nil {
		t.Errorf("stake at maxStake should be accepted, got %v", err)
	}

	// Just outside the bounds is rejected.
	e3, _, _ := newTestEnv(t)
	if _, err := e3.OpenWager(ctx, testSettings(), openReq(9.99)); !errors.Is(err, engine.ErrStakeOutOfBounds) {
		t.Errorf("below minStake: expected ErrStakeOutOfBounds, got %v", err)
	}
	if _, err := e3.OpenWager(ctx, testSettings(), openReq(1000.01)); !errors.Is(err, engine.ErrStakeOutOfBounds) {
		t.Errorf("above maxStake: expected ErrStakeOutOfBounds, got %v", err)
	}
}

func TestOpenWager_InsufficientBalance(t *testing.T) {
	e, ledger, _ := newTestEnv(t)
	ctx := context.Background()

	// Drain the account to 50.
	ledger.AdjustBalance(ctx, &model.BalanceChange{
		ID: "c1", AccountID: "u1", Kind: model.ChangeAdjustment, Amount: d(-450),
		CreatedAt: time.Now().UTC(),
	})

	_, err := e.OpenWager(ctx, testSettings(), openReq(100))
	if !errors.Is(err, engine.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	a, _ := ledger.GetAccount(ctx, "u1")
	if !a.AvailableBalance.Equal(d(50)) {
		t.Errorf("balance must be unchanged on rejection, got %s", a.AvailableBalance)
	}
	open, _ := ledger.ListOpenWagers(ctx, "u1")
	if len(open) != 0 {
		t.Errorf("no wager may be created on rejection, got %d", len(open))
	}
}

func TestOpenWager_PriceUnavailable(t *testing.T) {
	e, _, pf := newTestEnv(t)
	pf.Clear("BTC/USD")

	_, err := e.OpenWager(context.Background(), testSettings(), openReq(100))
	if !errors.Is(err, engine.ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestOpenWager_ExposureLimit(t *testing.T) {
	ledger := store.NewMemoryLedger()
	ctx := context.Background()
	ledger.CreateAccount(ctx, &model.Account{
		ID: "u1", Email: "u1@example.com", Status: model.StatusActive,
		AvailableBalance: d(5000), CreatedAt: time.Now().UTC(),
	})
	ledger.UpsertPair(ctx, model.Pair{Symbol: "BTC/USD", StreamSymbol: "btcusdt", Enabled: true})

	pf := feed.NewStaticFeed()
	pf.Set("BTC/USD", d(50000))

	limiter := risk.NewExposureLimiter(d(150), d(1000))
	e := engine.New(ledger, pf, limiter)

	if _, err := e.OpenWager(ctx, testSettings(), openReq(100)); err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	_, err := e.OpenWager(ctx, testSettings(), openReq(100))
	if !errors.Is(err, risk.ErrPerPairLimitExceeded) {
		t.Errorf("expected ErrPerPairLimitExceeded, got %v", err)
	}
}

// --- Resolve ---

func testWager(direction string, stake, entry float64) model.OpenWager {
	now := time.Now().UTC()
	return model.OpenWager{
		ID:            "w1",
		AccountID:     "u1",
		Pair:          "BTC/USD",
		Direction:     direction,
		Stake:         d(stake),
		EntryPrice:    d(entry),
		ProfitPercent: d(85),
		PlacedAt:      now.Add(-time.Minute),
		ExpiresAt:     now,
	}
}

func TestResolve_WinUp(t *testing.T) {
	w := testWager(model.DirectionUp, 100, 100.00)

	r := engine.Resolve(w, d(101.00), time.Now())

	if r.Outcome != model.OutcomeWin {
		t.Fatalf("expected WIN, got %s", r.Outcome)
	}
	// payout = stake + stake * 85% = 185.00
	if !r.Payout.Equal(d(185)) {
		t.Errorf("expected payout 185, got %s", r.Payout)
	}
}

func TestResolve_WinDown(t *testing.T) {
	w := testWager(model.DirectionDown, 50, 200.00)

	r := engine.Resolve(w, d(199.50), time.Now())

	if r.Outcome != model.OutcomeWin {
		t.Fatalf("expected WIN, got %s", r.Outcome)
	}
	if !r.Payout.Equal(d(92.5)) {
		t.Errorf("expected payout 92.5, got %s", r.Payout)
	}
}

func TestResolve_LosePaysNothing(t *testing.T) {
	w := testWager(model.DirectionUp, 100, 100.00)

	r := engine.Resolve(w, d(99.00), time.Now())

	if r.Outcome != model.OutcomeLose {
		t.Fatalf("expected LOSE, got %s", r.Outcome)
	}
	if !r.Payout.IsZero() {
		t.Errorf("losing payout must be zero, got %s", r.Payout)
	}
}

func TestResolve_TieLosesBothDirections(t *testing.T) {
	for _, direction := range []string{model.DirectionUp, model.DirectionDown} {
		w := testWager(direction, 100, 100.00)
		r := engine.Resolve(w, d(100.00), time.Now())

		if r.Outcome != model.OutcomeLose {
			t.Errorf("%s tie: expected LOSE, got %s", direction, r.Outcome)
		}
		if !r.Payout.IsZero() {
			t.Errorf("%s tie: payout must be zero, got %s", direction, r.Payout)
		}
	}
}

func TestResolve_UsesFrozenRate(t *testing.T) {
	w := testWager(model.DirectionUp, 100, 100.00)
	w.ProfitPercent = d(50) // rate captured at open, not today's settings

	r := engine.Resolve(w, d(101.00), time.Now())

	if !r.Payout.Equal(d(150)) {
		t.Errorf("expected payout 150 at the frozen 50%% rate, got %s", r.Payout)
	}
}

// No free money: balance after an open/resolve round trip equals
// initial − stake + payout.
func TestOpenResolve_BalanceConservation(t *testing.T) {
	e, ledger, _ := newTestEnv(t)
	ctx := context.Background()

	w, err := e.OpenWager(ctx, testSettings(), openReq(100))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	r := engine.Resolve(*w, d(50100), time.Now())
	applied, err := ledger.ApplyResolutions(ctx, "u1", []model.Resolution{{
		WagerID: w.ID, Entry: r, Credit: r.Payout,
	}})
	if err != nil || len(applied) != 1 {
		t.Fatalf("apply failed: applied=%v err=%v", applied, err)
	}

	a, _ := ledger.GetAccount(ctx, "u1")
	// 500 − 100 + 185 = 585
	if !a.AvailableBalance.Equal(d(585)) {
		t.Errorf("expected final balance 585, got %s", a.AvailableBalance)
	}
}
