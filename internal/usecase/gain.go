package usecase

import (
	"github.com/shopspring/decimal"

	"futures-autopilot/internal/dec"
	"futures-autopilot/internal/domain"
)

// CalculateGain returns the directional percentage move of the mark price
// relative to entry. The result is positive when the move favors the side:
// LONG gains on a rise, SHORT gains on a fall.
func CalculateGain(side domain.Side, entry, mark decimal.Decimal) decimal.Decimal {
	if side == domain.SideShort {
		return dec.PercentChange(mark, entry)
	}
	return dec.PercentChange(entry, mark)
}

// ActiveTargetLevel returns the highest level (1-based) whose threshold the
// gain has reached, or 0 when the gain is still below level 1.
func ActiveTargetLevel(gain decimal.Decimal, levels [domain.TargetLevels]domain.TakeProfitLevel) int {
	active := 0
	for i, lvl := range levels {
		if gain.GreaterThanOrEqual(lvl.ThresholdPct) {
			active = i + 1
		}
	}
	return active
}
