// Package store defines the persistence interface for the wager engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/hilotrade/wager-engine/internal/model"
)

var (
	// ErrAccountNotFound is returned when the referenced account does not exist.
	ErrAccountNotFound = errors.New("store: account not found")

	// ErrDuplicateAccount is returned when creating an account whose email
	// is already registered.
	ErrDuplicateAccount = errors.New("store: account already exists")

	// ErrInsufficientFunds is returned when a debit would overdraw the balance.
	ErrInsufficientFunds = errors.New("store: insufficient funds")

	// ErrPairNotFound is returned when the referenced pair is not configured.
	ErrPairNotFound = errors.New("store: pair not found")

	// ErrSettingsNotFound is returned when trade settings have not been seeded.
	ErrSettingsNotFound = errors.New("store: trade settings not found")
)

// Ledger is the persistence interface. All multi-field updates (PlaceWager,
// ApplyResolutions, SetOpenWagers) are transactional: they apply fully or
// not at all. Balance mutations are atomic increments, never
// read-then-overwrite, so they stay correct under concurrent adjustments.
type Ledger interface {
	// --- Accounts ---

	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// ListAccounts returns all accounts.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// SetAccountStatus changes an account's standing ("active"/"banned").
	SetAccountStatus(ctx context.Context, id, status string) error

	// AdjustBalance atomically applies change.Amount to the balance and
	// records the change. Negative deltas that would overdraw the balance
	// fail with ErrInsufficientFunds and leave no record.
	AdjustBalance(ctx context.Context, change *model.BalanceChange) error

	// BalanceChanges returns an account's funding history, newest first.
	BalanceChanges(ctx context.Context, accountID string) ([]model.BalanceChange, error)

	// --- Wager lifecycle ---

	// PlaceWager debits the stake and adds the wager to the open set as one
	// atomic update. Fails whole with ErrInsufficientFunds if the balance
	// cannot cover the stake.
	PlaceWager(ctx context.Context, w *model.OpenWager) error

	// ApplyResolutions removes each batch wager from the open set, appends
	// its history entry (newest first), and credits the summed payouts, all
	// in one atomic update. Wagers already absent from the open set are
	// skipped without credit (resolve-once guard). Returns the ids of the
	// wagers actually applied.
	ApplyResolutions(ctx context.Context, accountID string, batch []model.Resolution) ([]string, error)

	// SetOpenWagers replaces an account's open set wholesale. Administrative
	// escape hatch for clearing stuck wagers; does not touch the balance.
	SetOpenWagers(ctx context.Context, accountID string, wagers []model.OpenWager) error

	// ListOpenWagers returns an account's open wagers, newest first.
	ListOpenWagers(ctx context.Context, accountID string) ([]model.OpenWager, error)

	// OpenWagersByAccount returns every open wager in the ledger, grouped
	// by account. Consumed by the resolution scheduler each tick.
	OpenWagersByAccount(ctx context.Context) (map[string][]model.OpenWager, error)

	// History returns an account's resolved wagers, newest first.
	// A non-positive limit returns everything.
	History(ctx context.Context, accountID string, limit int) ([]model.ResolvedWager, error)

	// --- Settings & pairs ---

	// GetTradeSettings returns the current global trade settings.
	GetTradeSettings(ctx context.Context) (*model.TradeSettings, error)

	// SaveTradeSettings replaces the global trade settings.
	SaveTradeSettings(ctx context.Context, s *model.TradeSettings) error

	// ListPairs returns all configured pairs.
	ListPairs(ctx context.Context) ([]model.Pair, error)

	// GetPair retrieves one pair by symbol.
	GetPair(ctx context.Context, pair string) (*model.Pair, error)

	// UpsertPair creates or replaces a pair configuration.
	UpsertPair(ctx context.Context, p model.Pair) error

	// SetPairEnabled toggles whether a pair accepts new wagers.
	SetPairEnabled(ctx context.Context, pair string, enabled bool) error
}
