package usecase

import (
	"github.com/shopspring/decimal"

	"futures-autopilot/internal/dec"
	"futures-autopilot/internal/domain"
)

// dustThresholdPct: once at most 20% of the original notional remains, the
// whole position is closed instead of leaving a chunk too small to reduce.
var dustThresholdPct = decimal.NewFromInt(20)

// ReductionFraction decides what fraction of the current notional to close
// at an active take-profit level. The result is always executable on the
// venue: either the configured fraction when it clears the minimum
// tradeable notional, the smallest fraction that does, or 1 (full close)
// when only dust would remain.
func ReductionFraction(currentNotional, originalNotional, price, minQty decimal.Decimal, level domain.TakeProfitLevel) decimal.Decimal {
	if originalNotional.IsZero() {
		return dec.One
	}

	remainingPct := currentNotional.Div(originalNotional).Mul(dec.Hundred)
	if remainingPct.LessThanOrEqual(dustThresholdPct) {
		return dec.One
	}

	minNotional := minQty.Mul(price)
	raw := currentNotional.Mul(level.ReductionFraction)
	if raw.GreaterThan(minNotional) {
		return level.ReductionFraction
	}

	// The configured chunk would be rejected; take the smallest fraction of
	// the original notional that still clears the floor.
	return dec.RoundUp(minNotional.Div(originalNotional), 2)
}
