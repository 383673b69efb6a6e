// Package dec holds the fixed-point helpers shared by all price, size and
// PNL math. Binary floating point is never used for monetary values.
package dec

import "github.com/shopspring/decimal"

var (
	Hundred = decimal.NewFromInt(100)
	One     = decimal.NewFromInt(1)
)

// PercentChange returns the percentage move from one value to another,
// (to-from)/from*100. A zero base yields zero rather than dividing.
func PercentChange(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Div(from).Mul(Hundred)
}

// ApplyPercent returns base moved by pct percent. Negative pct moves down.
func ApplyPercent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(One.Add(pct.Div(Hundred)))
}

// RoundDown truncates toward zero at the given number of decimal places.
// This is the default for all monetary outputs.
func RoundDown(v decimal.Decimal, places int32) decimal.Decimal {
	return v.RoundDown(places)
}

// RoundUp rounds away from zero, used on cost-side calculations where
// truncation would understate what the venue charges.
func RoundUp(v decimal.Decimal, places int32) decimal.Decimal {
	return v.RoundUp(places)
}

// Clamp limits v to the [lo, hi] interval.
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
