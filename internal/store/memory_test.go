package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hilotrade/wager-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedAccount(t *testing.T, s *MemoryLedger, id string, balance float64) {
	t.Helper()
	err := s.CreateAccount(context.Background(), &model.Account{
		ID:               id,
		Name:             "Test User",
		Email:            id + "@example.com",
		Status:           model.StatusActive,
		AvailableBalance: d(balance),
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func openWager(id, accountID string, stake float64) *model.OpenWager {
	now := time.Now().UTC()
	return &model.OpenWager{
		ID:            id,
		AccountID:     accountID,
		Pair:          "BTC/USD",
		Direction:     model.DirectionUp,
		Stake:         d(stake),
		EntryPrice:    d(50000),
		ProfitPercent: d(85),
		PlacedAt:      now,
		ExpiresAt:     now.Add(time.Minute),
	}
}

func TestPlaceWager_DebitsAndRecords(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	seedAccount(t, s, "u1", 500)

	if err := s.PlaceWager(ctx, openWager("w1", "u1", 100)); err != nil {
		t.Fatalf("place wager failed: %v", err)
	}

	a, _ := s.GetAccount(ctx, "u1")
	if !a.AvailableBalance.Equal(d(400)) {
		t.Errorf("expected balance 400, got %s", a.AvailableBalance)
	}

	open, _ := s.ListOpenWagers(ctx, "u1")
	if len(open) != 1 || open[0].ID != "w1" {
		t.Fatalf("expected 1 open wager w1, got %v", open)
	}
}

func TestPlaceWager_InsufficientFundsLeavesNoTrace(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	seedAccount(t, s, "u1", 50)

	err := s.PlaceWager(ctx, openWager("w1", "u1", 100))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	a, _ := s.GetAccount(ctx, "u1")
	if !a.AvailableBalance.Equal(d(50)) {
		t.Errorf("balance should be unchanged, got %s", a.AvailableBalance)
	}
	open, _ := s.ListOpenWagers(ctx, "u1")
	if len(open) != 0 {
		t.Errorf("no wager should exist, got %d", len(open))
	}
}

func TestPlaceWager_NewestFirst(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	seedAccount(t, s, "u1", 500)

	s.PlaceWager(ctx, openWager("w1", "u1", 100))
	s.PlaceWager(ctx, openWager("w2", "u1", 100))

	open, _ := s.ListOpenWagers(ctx, "u1")
	if len(open) != 2 || open[0].ID != "w2" {
		t.Errorf("expected newest wager first, got %v", open)
	}
}

func TestApplyResolutions_CreditsAndMovesToHistory(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	seedAccount(t, s, "u1", 500)
	s.PlaceWager(ctx, openWager("w1", "u1", 100))

	applied, err := s.ApplyResolutions(ctx, "u1", []model.Resolution{{
		WagerID: "w1",
		Entry: model.ResolvedWager{
			ID: "w1", AccountID: "u1", Pair: "BTC/USD",
			Direction: model.DirectionUp, Stake: d(100),
			EntryPrice: d(50000), ExitPrice: d(50100),
			Outcome: model.OutcomeWin, Payout: d(185),
			ResolvedAt: time.Now().UTC(),
		},
		Credit: d(185),
	}})
	if err != nil {
		t.Fatalf("apply resolutions failed: %v", err)
	}
	if len(applied) != 1 || applied[0] != "w1" {
		t.Fatalf("expected applied [w1], got %v", applied)
	}

	a, _ := s.GetAccount(ctx, "u1")
	if !a.AvailableBalance.Equal(d(585)) {
		t.Errorf("expected balance 585, got %s", a.AvailableBalance)
	}

	open, _ := s.ListOpenWagers(ctx, "u1")
	if len(open) != 0 {
		t.Errorf("open set should be empty, got %d", len(open))
	}

	history, _ := s.History(ctx, "u1", 0)
	if len(history) != 1 || history[0].ID != "w1" {
		t.Fatalf("expected 1 history entry w1, got %v", history)
	}
}

func TestApplyResolutions_ResolveOnce(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	seedAccount(t, s, "u1", 500)
	s.PlaceWager(ctx, openWager("w1", "u1", 100))

	batch := []model.Resolution{{
		WagerID: "w1",
		Entry:   model.ResolvedWager{ID: "w1", AccountID: "u1", Outcome: model.OutcomeWin, Payout: d(185)},
		Credit:  d(185),
	}}

	if _, err := s.ApplyResolutions(ctx, "u1", batch); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	// Second application of the same batch must be a no-op.
	applied, err := s.ApplyResolutions(ctx, "u1", batch)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected nothing applied on replay, got %v", applied)
	}

	a, _ := s.GetAccount(ctx, "u1")
	if !a.AvailableBalance.Equal(d(585)) {
		t.Errorf("payout must not double-credit, balance = %s", a.AvailableBalance)
	}
	history, _ := s.History(ctx, "u1", 0)
	if len(history) != 1 {
		t.Errorf("expected single history entry, got %d", len(history))
	}
}

func TestAdjustBalance_RejectsOverdraw(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	seedAccount(t, s, "u1", 100)

	err := s.AdjustBalance(ctx, &model.BalanceChange{
		ID: "c1", AccountID: "u1", Kind: model.ChangeWithdrawal,
		Amount: d(-150), CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	changes, _ := s.BalanceChanges(ctx, "u1")
	if len(changes) != 0 {
		t.Errorf("failed withdrawal must leave no record, got %d", len(changes))
	}
}

func TestAdjustBalance_DepositRecorded(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	seedAccount(t, s, "u1", 100)

	err := s.AdjustBalance(ctx, &model.BalanceChange{
		ID: "c1", AccountID: "u1", Kind: model.ChangeDeposit,
		Amount: d(250), CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	a, _ := s.GetAccount(ctx, "u1")
	if !a.AvailableBalance.Equal(d(350)) {
		t.Errorf("expected balance 350, got %s", a.AvailableBalance)
	}
	changes, _ := s.BalanceChanges(ctx, "u1")
	if len(changes) != 1 || changes[0].Kind != model.ChangeDeposit {
		t.Errorf("expected one deposit record, got %v", changes)
	}
}

func TestOpenWagersByAccount_SkipsEmpty(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	seedAccount(t, s, "u1", 500)
	seedAccount(t, s, "u2", 500)
	s.PlaceWager(ctx, openWager("w1", "u1", 100))

	grouped, err := s.OpenWagersByAccount(ctx)
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if len(grouped) != 1 {
		t.Fatalf("expected 1 account with open wagers, got %d", len(grouped))
	}
	if len(grouped["u1"]) != 1 {
		t.Errorf("expected u1's wager, got %v", grouped)
	}
}

func TestTradeSettings_RoundTrip(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()

	if _, err := s.GetTradeSettings(ctx); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("expected ErrSettingsNotFound before seeding, got %v", err)
	}

	in := &model.TradeSettings{
		TradingEnabled:   true,
		ProfitPercentage: d(85),
		MinStake:         d(10),
		MaxStake:         d(1000),
		AllowedDurations: []int{30, 60, 120},
	}
	if err := s.SaveTradeSettings(ctx, in); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	out, err := s.GetTradeSettings(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !out.ProfitPercentage.Equal(d(85)) || !out.DurationAllowed(60) || out.DurationAllowed(90) {
		t.Errorf("settings did not round-trip: %+v", out)
	}
}

func TestSetOpenWagers_ReplacesWithoutTouchingBalance(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	seedAccount(t, s, "u1", 500)

	s.PlaceWager(ctx, openWager("w1", "u1", 100))
	s.PlaceWager(ctx, openWager("w2", "u1", 100))

	// Clear a stuck wager set wholesale; the balance stays as-is.
	if err := s.SetOpenWagers(ctx, "u1", nil); err != nil {
		t.Fatalf("set open wagers failed: %v", err)
	}

	open, _ := s.ListOpenWagers(ctx, "u1")
	if len(open) != 0 {
		t.Errorf("expected empty open set, got %d", len(open))
	}
	a, _ := s.GetAccount(ctx, "u1")
	if !a.AvailableBalance.Equal(d(300)) {
		t.Errorf("balance must not change, got %s", a.AvailableBalance)
	}
}

func TestPairs_ToggleEnabled(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()

	s.UpsertPair(ctx, model.Pair{Symbol: "BTC/USD", StreamSymbol: "btcusdt", Enabled: true})

	if err := s.SetPairEnabled(ctx, "BTC/USD", false); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	p, _ := s.GetPair(ctx, "BTC/USD")
	if p.Enabled {
		t.Error("pair should be disabled")
	}

	if err := s.SetPairEnabled(ctx, "DOGE/USD", true); !errors.Is(err, ErrPairNotFound) {
		t.Errorf("expected ErrPairNotFound, got %v", err)
	}
}
