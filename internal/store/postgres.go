package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hilotrade/wager-engine/internal/model"
)

// PostgresLedger implements Ledger using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Multi-field updates run inside a single transaction.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (s *PostgresLedger) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, email, status, available_balance, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		a.ID, a.Name, a.Email, a.Status, a.AvailableBalance.String(), a.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, a.Email)
	}
	return err
}

func (s *PostgresLedger) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, status, available_balance::TEXT, created_at
		 FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Email, &a.Status, &balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}

	a.AvailableBalance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresLedger) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, status, available_balance::TEXT, created_at
		 FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var balance string
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.Status, &balance, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.AvailableBalance, _ = decimal.NewFromString(balance)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresLedger) SetAccountStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return nil
}

func (s *PostgresLedger) AdjustBalance(ctx context.Context, change *model.BalanceChange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Atomic increment; the balance guard rejects overdraws in the same
	// statement so concurrent debits cannot race past the check.
	tag, err := tx.Exec(ctx,
		`UPDATE accounts
		 SET available_balance = available_balance + $2::NUMERIC
		 WHERE id = $1
		   AND ($2::NUMERIC >= 0 OR available_balance + $2::NUMERIC >= 0)`,
		change.AccountID, change.Amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetAccount(ctx, change.AccountID); err != nil {
			return err
		}
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO balance_changes (id, account_id, kind, amount, note, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		change.ID, change.AccountID, change.Kind, change.Amount.String(), change.Note, change.CreatedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresLedger) BalanceChanges(ctx context.Context, accountID string) ([]model.BalanceChange, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, kind, amount::TEXT, note, created_at
		 FROM balance_changes WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []model.BalanceChange
	for rows.Next() {
		var c model.BalanceChange
		var amount string
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Kind, &amount, &c.Note, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Amount, _ = decimal.NewFromString(amount)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// PlaceWager runs the stake debit and the open-wager insert in one
// transaction, so the ledger never shows a debit without its wager.
func (s *PostgresLedger) PlaceWager(ctx context.Context, w *model.OpenWager) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE accounts
		 SET available_balance = available_balance - $2::NUMERIC
		 WHERE id = $1 AND available_balance >= $2::NUMERIC`,
		w.AccountID, w.Stake.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetAccount(ctx, w.AccountID); err != nil {
			return err
		}
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO open_wagers
		   (id, account_id, pair, direction, stake, entry_price, profit_percent, placed_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		w.ID, w.AccountID, w.Pair, w.Direction,
		w.Stake.String(), w.EntryPrice.String(), w.ProfitPercent.String(),
		w.PlacedAt, w.ExpiresAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ApplyResolutions applies the whole batch in one transaction. The
// DELETE ... RETURNING guard makes resolution idempotent: a wager id no
// longer in the open set contributes neither a history row nor a credit.
func (s *PostgresLedger) ApplyResolutions(ctx context.Context, accountID string, batch []model.Resolution) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	credit := decimal.Zero
	var applied []string

	for _, res := range batch {
		tag, err := tx.Exec(ctx,
			`DELETE FROM open_wagers WHERE id = $1 AND account_id = $2`,
			res.WagerID, accountID)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			continue // already resolved; skip without credit
		}

		e := res.Entry
		_, err = tx.Exec(ctx,
			`INSERT INTO resolved_wagers
			   (id, account_id, pair, direction, stake, entry_price, exit_price,
			    outcome, payout, profit_percent, placed_at, resolved_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
			         $8, $9::NUMERIC, $10::NUMERIC, $11, $12)`,
			e.ID, e.AccountID, e.Pair, e.Direction,
			e.Stake.String(), e.EntryPrice.String(), e.ExitPrice.String(),
			e.Outcome, e.Payout.String(), e.ProfitPercent.String(),
			e.PlacedAt, e.ResolvedAt,
		)
		if err != nil {
			return nil, err
		}

		credit = credit.Add(res.Credit)
		applied = append(applied, res.WagerID)
	}

	if len(applied) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE accounts
			 SET available_balance = available_balance + $2::NUMERIC
			 WHERE id = $1`,
			accountID, credit.String(),
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *PostgresLedger) SetOpenWagers(ctx context.Context, accountID string, wagers []model.OpenWager) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM open_wagers WHERE account_id = $1`, accountID); err != nil {
		return err
	}

	for _, w := range wagers {
		_, err = tx.Exec(ctx,
			`INSERT INTO open_wagers
			   (id, account_id, pair, direction, stake, entry_price, profit_percent, placed_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
			w.ID, accountID, w.Pair, w.Direction,
			w.Stake.String(), w.EntryPrice.String(), w.ProfitPercent.String(),
			w.PlacedAt, w.ExpiresAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresLedger) ListOpenWagers(ctx context.Context, accountID string) ([]model.OpenWager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, pair, direction,
		        stake::TEXT, entry_price::TEXT, profit_percent::TEXT,
		        placed_at, expires_at
		 FROM open_wagers WHERE account_id = $1 ORDER BY placed_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOpenWagers(rows)
}

func (s *PostgresLedger) OpenWagersByAccount(ctx context.Context) (map[string][]model.OpenWager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, pair, direction,
		        stake::TEXT, entry_price::TEXT, profit_percent::TEXT,
		        placed_at, expires_at
		 FROM open_wagers ORDER BY account_id, placed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wagers, err := scanOpenWagers(rows)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]model.OpenWager)
	for _, w := range wagers {
		grouped[w.AccountID] = append(grouped[w.AccountID], w)
	}
	return grouped, nil
}

func (s *PostgresLedger) History(ctx context.Context, accountID string, limit int) ([]model.ResolvedWager, error) {
	q := `SELECT id, account_id, pair, direction,
	             stake::TEXT, entry_price::TEXT, exit_price::TEXT,
	             outcome, payout::TEXT, profit_percent::TEXT,
	             placed_at, resolved_at
	      FROM resolved_wagers WHERE account_id = $1 ORDER BY resolved_at DESC`
	args := []any{accountID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []model.ResolvedWager
	for rows.Next() {
		var e model.ResolvedWager
		var stake, entry, exit, payout, rate string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Pair, &e.Direction,
			&stake, &entry, &exit,
			&e.Outcome, &payout, &rate,
			&e.PlacedAt, &e.ResolvedAt); err != nil {
			return nil, err
		}
		e.Stake, _ = decimal.NewFromString(stake)
		e.EntryPrice, _ = decimal.NewFromString(entry)
		e.ExitPrice, _ = decimal.NewFromString(exit)
		e.Payout, _ = decimal.NewFromString(payout)
		e.ProfitPercent, _ = decimal.NewFromString(rate)
		history = append(history, e)
	}
	return history, rows.Err()
}

func (s *PostgresLedger) GetTradeSettings(ctx context.Context) (*model.TradeSettings, error) {
	var st model.TradeSettings
	var profit, minStake, maxStake string
	var durations []int32

	err := s.pool.QueryRow(ctx,
		`SELECT trading_enabled, profit_percentage::TEXT, min_stake::TEXT, max_stake::TEXT, allowed_durations
		 FROM trade_settings WHERE id = 1`).
		Scan(&st.TradingEnabled, &profit, &minStake, &maxStake, &durations)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trade settings: %w", err)
	}

	st.ProfitPercentage, _ = decimal.NewFromString(profit)
	st.MinStake, _ = decimal.NewFromString(minStake)
	st.MaxStake, _ = decimal.NewFromString(maxStake)
	st.AllowedDurations = make([]int, len(durations))
	for i, d := range durations {
		st.AllowedDurations[i] = int(d)
	}
	return &st, nil
}

func (s *PostgresLedger) SaveTradeSettings(ctx context.Context, st *model.TradeSettings) error {
	durations := make([]int32, len(st.AllowedDurations))
	for i, d := range st.AllowedDurations {
		durations[i] = int32(d)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO trade_settings (id, trading_enabled, profit_percentage, min_stake, max_stake, allowed_durations)
		 VALUES (1, $1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   trading_enabled = EXCLUDED.trading_enabled,
		   profit_percentage = EXCLUDED.profit_percentage,
		   min_stake = EXCLUDED.min_stake,
		   max_stake = EXCLUDED.max_stake,
		   allowed_durations = EXCLUDED.allowed_durations`,
		st.TradingEnabled, st.ProfitPercentage.String(),
		st.MinStake.String(), st.MaxStake.String(), durations,
	)
	return err
}

func (s *PostgresLedger) ListPairs(ctx context.Context) ([]model.Pair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, stream_symbol, enabled FROM pairs ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []model.Pair
	for rows.Next() {
		var p model.Pair
		if err := rows.Scan(&p.Symbol, &p.StreamSymbol, &p.Enabled); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (s *PostgresLedger) GetPair(ctx context.Context, pair string) (*model.Pair, error) {
	var p model.Pair
	err := s.pool.QueryRow(ctx,
		`SELECT symbol, stream_symbol, enabled FROM pairs WHERE symbol = $1`, pair).
		Scan(&p.Symbol, &p.StreamSymbol, &p.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPairNotFound, pair)
	}
	if err != nil {
		return nil, fmt.Errorf("get pair %s: %w", pair, err)
	}
	return &p, nil
}

func (s *PostgresLedger) UpsertPair(ctx context.Context, p model.Pair) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pairs (symbol, stream_symbol, enabled)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (symbol) DO UPDATE SET
		   stream_symbol = EXCLUDED.stream_symbol,
		   enabled = EXCLUDED.enabled`,
		p.Symbol, p.StreamSymbol, p.Enabled,
	)
	return err
}

func (s *PostgresLedger) SetPairEnabled(ctx context.Context, pair string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pairs SET enabled = $2 WHERE symbol = $1`, pair, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrPairNotFound, pair)
	}
	return nil
}

// scanOpenWagers reads pgx rows into OpenWager slices.
func scanOpenWagers(rows pgx.Rows) ([]model.OpenWager, error) {
	var wagers []model.OpenWager
	for rows.Next() {
		var w model.OpenWager
		var stake, entry, rate string

		if err := rows.Scan(&w.ID, &w.AccountID, &w.Pair, &w.Direction,
			&stake, &entry, &rate,
			&w.PlacedAt, &w.ExpiresAt); err != nil {
			return nil, err
		}

		w.Stake, _ = decimal.NewFromString(stake)
		w.EntryPrice, _ = decimal.NewFromString(entry)
		w.ProfitPercent, _ = decimal.NewFromString(rate)

		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
