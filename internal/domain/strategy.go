package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TakeProfitLevel is one of five configured gain thresholds. ThresholdPct
// is a percentage gain from entry; ReductionFraction is the share of the
// current notional to close when the level is active.
type TakeProfitLevel struct {
	ThresholdPct      decimal.Decimal `json:"threshold_pct"`
	ReductionFraction decimal.Decimal `json:"reduction_fraction"`
	Cooldown          time.Duration   `json:"cooldown"`
}

// PositionStrategy is the versioned trading configuration. It is replaced
// atomically as a whole object; there are no partial field updates.
type PositionStrategy struct {
	Leverage   int    `json:"leverage"`
	MarginType string `json:"margin_type"`

	Levels      [TargetLevels]TakeProfitLevel `json:"levels"`
	StopLossPct decimal.Decimal               `json:"stop_loss_pct"`

	// Level increase policy: adding to a winning position is only safe once
	// the mark price has moved MinGainBeforeIncreasePct in its favor.
	LevelIncreaseEnabled     bool            `json:"level_increase_enabled"`
	MinGainBeforeIncreasePct decimal.Decimal `json:"min_gain_before_increase_pct"`

	// Re-open policy: after a close, a new position on the same side must
	// beat the adjusted close price until the window expires.
	ReopenIfBetter           time.Duration   `json:"reopen_if_better"`
	ReopenPriceAdjustmentPct decimal.Decimal `json:"reopen_price_adjustment_pct"`

	BitcoinOnly             bool     `json:"bitcoin_only"`
	LowVolatilityExclusions []string `json:"low_volatility_exclusions"`

	LongEnabled  bool `json:"long_enabled"`
	ShortEnabled bool `json:"short_enabled"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SideEnabled reports whether the strategy allows opening the given side.
func (s *PositionStrategy) SideEnabled(side Side) bool {
	if side == SideLong {
		return s.LongEnabled
	}
	return s.ShortEnabled
}

// Validate checks the invariants a strategy must hold before it can be
// applied. Errors name the offending field.
func (s *PositionStrategy) Validate() error {
	if s.Leverage < 1 || s.Leverage > 125 {
		return fmt.Errorf("leverage: must be between 1 and 125, got %d", s.Leverage)
	}
	if s.StopLossPct.LessThanOrEqual(decimal.Zero) || s.StopLossPct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("stop_loss_pct: must be in (0, 100), got %s", s.StopLossPct)
	}
	for i, lvl := range s.Levels {
		if lvl.ThresholdPct.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("levels[%d].threshold_pct: must be positive, got %s", i+1, lvl.ThresholdPct)
		}
		if lvl.ReductionFraction.LessThanOrEqual(decimal.Zero) || lvl.ReductionFraction.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("levels[%d].reduction_fraction: must be in (0, 1], got %s", i+1, lvl.ReductionFraction)
		}
		if lvl.Cooldown < 0 {
			return fmt.Errorf("levels[%d].cooldown: must not be negative", i+1)
		}
		if i > 0 && !lvl.ThresholdPct.GreaterThan(s.Levels[i-1].ThresholdPct) {
			return fmt.Errorf("levels[%d].threshold_pct: must be strictly greater than level %d (%s)", i+1, i, s.Levels[i-1].ThresholdPct)
		}
	}
	if s.LevelIncreaseEnabled && s.MinGainBeforeIncreasePct.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("min_gain_before_increase_pct: must be positive when level increase is enabled")
	}
	if s.ReopenIfBetter < 0 {
		return fmt.Errorf("reopen_if_better: must not be negative")
	}
	if s.ReopenPriceAdjustmentPct.IsNegative() {
		return fmt.Errorf("reopen_price_adjustment_pct: must not be negative")
	}
	return nil
}

// DefaultStrategy is the built-in configuration persisted on first start.
func DefaultStrategy() *PositionStrategy {
	level := func(threshold, fraction string, cooldown time.Duration) TakeProfitLevel {
		return TakeProfitLevel{
			ThresholdPct:      decimal.RequireFromString(threshold),
			ReductionFraction: decimal.RequireFromString(fraction),
			Cooldown:          cooldown,
		}
	}
	return &PositionStrategy{
		Leverage:   10,
		MarginType: "isolated",
		Levels: [TargetLevels]TakeProfitLevel{
			level("0.30", "0.05", 10*time.Minute),
			level("0.60", "0.10", 10*time.Minute),
			level("1.00", "0.15", 15*time.Minute),
			level("1.60", "0.20", 15*time.Minute),
			level("2.50", "0.25", 20*time.Minute),
		},
		StopLossPct:              decimal.RequireFromString("1.50"),
		LevelIncreaseEnabled:     false,
		MinGainBeforeIncreasePct: decimal.RequireFromString("0.20"),
		ReopenIfBetter:           0,
		ReopenPriceAdjustmentPct: decimal.RequireFromString("0.05"),
		BitcoinOnly:              true,
		LongEnabled:              true,
		ShortEnabled:             true,
		UpdatedAt:                time.Now().UTC(),
	}
}
