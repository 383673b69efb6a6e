package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"futures-autopilot/internal/domain"
)

// SQLiteStore implements the position, strategy and health repositories.
// Monetary values are stored as their exact decimal strings.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME,
			price_precision INTEGER NOT NULL,
			quantity_precision INTEGER NOT NULL,
			min_qty TEXT NOT NULL,
			leverage INTEGER NOT NULL,
			margin_type TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			mark_price TEXT NOT NULL,
			liquidation_price TEXT NOT NULL,
			unrealized_pnl TEXT NOT NULL,
			position_amt TEXT NOT NULL,
			notional TEXT NOT NULL,
			original_notional TEXT NOT NULL,
			stop_loss_price TEXT NOT NULL,
			increase_floor_price TEXT NOT NULL,
			stop_order_id INTEGER,
			gain TEXT NOT NULL,
			highest_gain TEXT NOT NULL,
			active_level INTEGER NOT NULL,
			target_1 TEXT NOT NULL,
			target_2 TEXT NOT NULL,
			target_3 TEXT NOT NULL,
			target_4 TEXT NOT NULL,
			target_5 TEXT NOT NULL,
			reductions TEXT NOT NULL,
			candles TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol_side ON positions(symbol, side);`,
		`CREATE TABLE IF NOT EXISTS strategy (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			leverage INTEGER NOT NULL,
			margin_type TEXT NOT NULL,
			stop_loss_pct TEXT NOT NULL,
			tp1_threshold TEXT NOT NULL, tp1_fraction TEXT NOT NULL, tp1_cooldown_sec INTEGER NOT NULL,
			tp2_threshold TEXT NOT NULL, tp2_fraction TEXT NOT NULL, tp2_cooldown_sec INTEGER NOT NULL,
			tp3_threshold TEXT NOT NULL, tp3_fraction TEXT NOT NULL, tp3_cooldown_sec INTEGER NOT NULL,
			tp4_threshold TEXT NOT NULL, tp4_fraction TEXT NOT NULL, tp4_cooldown_sec INTEGER NOT NULL,
			tp5_threshold TEXT NOT NULL, tp5_fraction TEXT NOT NULL, tp5_cooldown_sec INTEGER NOT NULL,
			level_increase_enabled BOOLEAN NOT NULL,
			min_gain_before_increase_pct TEXT NOT NULL,
			reopen_if_better_sec INTEGER NOT NULL,
			reopen_price_adjustment_pct TEXT NOT NULL,
			bitcoin_only BOOLEAN NOT NULL,
			low_volatility_exclusions TEXT NOT NULL,
			long_enabled BOOLEAN NOT NULL,
			short_enabled BOOLEAN NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS health (
			side TEXT PRIMARY KEY,
			opening_trend_sum TEXT NOT NULL,
			high TEXT NOT NULL,
			low TEXT NOT NULL,
			current TEXT NOT NULL,
			drawdown TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS action_payloads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_id INTEGER NOT NULL,
			client_order_id TEXT NOT NULL,
			status TEXT NOT NULL,
			executed_qty TEXT NOT NULL,
			avg_price TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// PositionRepository implementation

func (s *SQLiteStore) SavePosition(ctx context.Context, p *domain.Position) error {
	reductions, err := json.Marshal(p.Reductions)
	if err != nil {
		return fmt.Errorf("marshal reductions: %w", err)
	}
	candles, err := json.Marshal(p.History)
	if err != nil {
		return fmt.Errorf("marshal candles: %w", err)
	}

	var closedAt any
	if p.ClosedAt != nil {
		closedAt = *p.ClosedAt
	}
	var stopOrderID any
	if p.StopOrderID != nil {
		stopOrderID = *p.StopOrderID
	}

	query := `INSERT INTO positions (
			id, symbol, side, opened_at, closed_at, price_precision, quantity_precision,
			min_qty, leverage, margin_type, entry_price, mark_price, liquidation_price,
			unrealized_pnl, position_amt, notional, original_notional, stop_loss_price,
			increase_floor_price, stop_order_id, gain, highest_gain, active_level,
			target_1, target_2, target_3, target_4, target_5, reductions, candles)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			closed_at=excluded.closed_at,
			mark_price=excluded.mark_price,
			liquidation_price=excluded.liquidation_price,
			unrealized_pnl=excluded.unrealized_pnl,
			position_amt=excluded.position_amt,
			notional=excluded.notional,
			stop_order_id=excluded.stop_order_id,
			gain=excluded.gain,
			highest_gain=excluded.highest_gain,
			active_level=excluded.active_level,
			reductions=excluded.reductions,
			candles=excluded.candles`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.Symbol, string(p.Side), p.OpenedAt, closedAt, p.PricePrecision, p.QuantityPrecision,
		p.MinQty.String(), p.Leverage, p.MarginType, p.EntryPrice.String(), p.MarkPrice.String(),
		p.LiquidationPrice.String(), p.UnrealizedPnL.String(), p.PositionAmt.String(),
		p.Notional.String(), p.OriginalNotional.String(), p.StopLossPrice.String(),
		p.IncreaseFloorPrice.String(), stopOrderID, p.Gain.String(), p.HighestGain.String(),
		p.ActiveLevel, p.Targets[0].String(), p.Targets[1].String(), p.Targets[2].String(),
		p.Targets[3].String(), p.Targets[4].String(), string(reductions), string(candles))
	return err
}

func (s *SQLiteStore) SaveActionPayload(ctx context.Context, kind, symbol string, side domain.Side, payload *domain.ExecutionPayload) error {
	if payload == nil {
		return nil
	}
	query := `INSERT INTO action_payloads (kind, symbol, side, order_id, client_order_id, status, executed_qty, avg_price, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		kind, symbol, string(side), payload.OrderID, payload.ClientOrderID, payload.Status,
		payload.ExecutedQty.String(), payload.AvgPrice.String(), time.Now().UTC())
	return err
}

// StrategyRepository implementation

const strategyColumns = `leverage, margin_type, stop_loss_pct,
	tp1_threshold, tp1_fraction, tp1_cooldown_sec,
	tp2_threshold, tp2_fraction, tp2_cooldown_sec,
	tp3_threshold, tp3_fraction, tp3_cooldown_sec,
	tp4_threshold, tp4_fraction, tp4_cooldown_sec,
	tp5_threshold, tp5_fraction, tp5_cooldown_sec,
	level_increase_enabled, min_gain_before_increase_pct,
	reopen_if_better_sec, reopen_price_adjustment_pct,
	bitcoin_only, low_volatility_exclusions, long_enabled, short_enabled, updated_at`

func (s *SQLiteStore) GetStrategy(ctx context.Context) (*domain.PositionStrategy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategy WHERE id = 1`)

	var (
		strat                        domain.PositionStrategy
		stopLoss, minGain, reopenAdj string
		thresholds, fractions        [domain.TargetLevels]string
		cooldownSec                  [domain.TargetLevels]int64
		reopenSec                    int64
		exclusions                   string
	)
	err := row.Scan(
		&strat.Leverage, &strat.MarginType, &stopLoss,
		&thresholds[0], &fractions[0], &cooldownSec[0],
		&thresholds[1], &fractions[1], &cooldownSec[1],
		&thresholds[2], &fractions[2], &cooldownSec[2],
		&thresholds[3], &fractions[3], &cooldownSec[3],
		&thresholds[4], &fractions[4], &cooldownSec[4],
		&strat.LevelIncreaseEnabled, &minGain,
		&reopenSec, &reopenAdj,
		&strat.BitcoinOnly, &exclusions, &strat.LongEnabled, &strat.ShortEnabled, &strat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if strat.StopLossPct, err = decimal.NewFromString(stopLoss); err != nil {
		return nil, fmt.Errorf("stop_loss_pct: %w", err)
	}
	if strat.MinGainBeforeIncreasePct, err = decimal.NewFromString(minGain); err != nil {
		return nil, fmt.Errorf("min_gain_before_increase_pct: %w", err)
	}
	if strat.ReopenPriceAdjustmentPct, err = decimal.NewFromString(reopenAdj); err != nil {
		return nil, fmt.Errorf("reopen_price_adjustment_pct: %w", err)
	}
	strat.ReopenIfBetter = time.Duration(reopenSec) * time.Second
	for i := range strat.Levels {
		if strat.Levels[i].ThresholdPct, err = decimal.NewFromString(thresholds[i]); err != nil {
			return nil, fmt.Errorf("tp%d_threshold: %w", i+1, err)
		}
		if strat.Levels[i].ReductionFraction, err = decimal.NewFromString(fractions[i]); err != nil {
			return nil, fmt.Errorf("tp%d_fraction: %w", i+1, err)
		}
		strat.Levels[i].Cooldown = time.Duration(cooldownSec[i]) * time.Second
	}
	if err := json.Unmarshal([]byte(exclusions), &strat.LowVolatilityExclusions); err != nil {
		return nil, fmt.Errorf("low_volatility_exclusions: %w", err)
	}

	return &strat, nil
}

func (s *SQLiteStore) CreateStrategy(ctx context.Context, strat *domain.PositionStrategy) error {
	return s.writeStrategy(ctx, strat, `INSERT INTO strategy (id, `+strategyColumns+`)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
}

func (s *SQLiteStore) UpdateStrategy(ctx context.Context, strat *domain.PositionStrategy) error {
	return s.writeStrategy(ctx, strat, `INSERT OR REPLACE INTO strategy (id, `+strategyColumns+`)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
}

func (s *SQLiteStore) writeStrategy(ctx context.Context, strat *domain.PositionStrategy, query string) error {
	exclusions := strat.LowVolatilityExclusions
	if exclusions == nil {
		exclusions = []string{}
	}
	exclusionsJSON, err := json.Marshal(exclusions)
	if err != nil {
		return fmt.Errorf("marshal exclusions: %w", err)
	}

	args := []any{strat.Leverage, strat.MarginType, strat.StopLossPct.String()}
	for _, lvl := range strat.Levels {
		args = append(args, lvl.ThresholdPct.String(), lvl.ReductionFraction.String(), int64(lvl.Cooldown/time.Second))
	}
	args = append(args,
		strat.LevelIncreaseEnabled, strat.MinGainBeforeIncreasePct.String(),
		int64(strat.ReopenIfBetter/time.Second), strat.ReopenPriceAdjustmentPct.String(),
		strat.BitcoinOnly, string(exclusionsJSON), strat.LongEnabled, strat.ShortEnabled, strat.UpdatedAt)

	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// HealthRepository implementation

func (s *SQLiteStore) GetHealth(ctx context.Context, side domain.Side) (*domain.HealthState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT side, opening_trend_sum, high, low, current, drawdown, updated_at FROM health WHERE side = ?`,
		string(side))

	var (
		h                                    domain.HealthState
		sideStr, opening, high, low, current string
		drawdown                             string
	)
	err := row.Scan(&sideStr, &opening, &high, &low, &current, &drawdown, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	h.Side = domain.Side(sideStr)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
		col string
	}{
		{&h.OpeningTrendSum, opening, "opening_trend_sum"},
		{&h.High, high, "high"},
		{&h.Low, low, "low"},
		{&h.Current, current, "current"},
		{&h.Drawdown, drawdown, "drawdown"},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("%s: %w", f.col, err)
		}
	}

	return &h, nil
}

func (s *SQLiteStore) CreateHealth(ctx context.Context, h *domain.HealthState) error {
	query := `INSERT INTO health (side, opening_trend_sum, high, low, current, drawdown, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		string(h.Side), h.OpeningTrendSum.String(), h.High.String(), h.Low.String(),
		h.Current.String(), h.Drawdown.String(), h.UpdatedAt)
	return err
}

func (s *SQLiteStore) UpdateHealth(ctx context.Context, h *domain.HealthState) error {
	query := `UPDATE health SET opening_trend_sum = ?, high = ?, low = ?, current = ?, drawdown = ?, updated_at = ?
			  WHERE side = ?`
	_, err := s.db.ExecContext(ctx, query,
		h.OpeningTrendSum.String(), h.High.String(), h.Low.String(),
		h.Current.String(), h.Drawdown.String(), h.UpdatedAt, string(h.Side))
	return err
}
