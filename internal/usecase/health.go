package usecase

import (
	"time"

	"github.com/shopspring/decimal"

	"futures-autopilot/internal/dec"
	"futures-autopilot/internal/domain"
)

// Factor weights. They sum to exactly 100, so a fully neutral snapshot
// scores 50 and a fully aligned one scores 100.
var (
	weightTrendSum     = decimal.NewFromInt(20)
	weightTrendState   = decimal.NewFromInt(20)
	weightTimeframe    = decimal.NewFromInt(10) // each of 30m, 2h, 4h, 1d
	weightOpenInterest = decimal.NewFromInt(10)
	weightLongShort    = decimal.NewFromInt(10)
)

var (
	scoreStrongAgainst = decimal.Zero
	scoreAgainst       = decimal.RequireFromString("0.25")
	scoreNeutral       = decimal.RequireFromString("0.5")
	scoreFor           = decimal.RequireFromString("0.75")
	scoreStrongFor     = decimal.NewFromInt(1)
)

// trendSumTarget is the saturation point of the aggregated trend signal.
var trendSumTarget = decimal.NewFromInt(95)

// HealthScore computes the weighted composite (0..100) estimating whether
// market conditions still favor holding the side. Every factor degrades to
// the neutral 0.5 when its underlying signal is neutral; a snapshot is
// required but individual signals are not.
func HealthScore(side domain.Side, openingTrendSum decimal.Decimal, snap domain.MarketSnapshot) decimal.Decimal {
	total := trendSumScore(side, openingTrendSum, snap.TrendSum).Mul(weightTrendSum)
	total = total.Add(ordinalScore(side, int(snap.Trend)).Mul(weightTrendState))
	total = total.Add(ordinalScore(side, int(snap.TA30m)).Mul(weightTimeframe))
	total = total.Add(ordinalScore(side, int(snap.TA2h)).Mul(weightTimeframe))
	total = total.Add(ordinalScore(side, int(snap.TA4h)).Mul(weightTimeframe))
	total = total.Add(ordinalScore(side, int(snap.TA1d)).Mul(weightTimeframe))
	total = total.Add(directionScore(side, snap.OpenInterest).Mul(weightOpenInterest))
	total = total.Add(directionScore(side, snap.LongShortRatio).Mul(weightLongShort))
	return total
}

// trendSumScore measures how far the trend sum has traveled from its value
// at position open toward the side's saturation point (+95 for LONG, -95
// for SHORT). No movement is neutral 0.5; progress scores above it and
// regression below, bucketed into eleven steps of 0.1.
func trendSumScore(side domain.Side, opening, current decimal.Decimal) decimal.Decimal {
	target := trendSumTarget
	if side == domain.SideShort {
		target = trendSumTarget.Neg()
	}
	span := target.Sub(opening)
	if span.IsZero() {
		// Opened at saturation: any hold is as good as it gets.
		return scoreStrongFor
	}
	progress := dec.Clamp(current.Sub(opening).Div(span), dec.One.Neg(), dec.One)
	score := scoreNeutral.Add(progress.Div(decimal.NewFromInt(2)))
	return score.Mul(decimal.NewFromInt(10)).Floor().Div(decimal.NewFromInt(10))
}

// ordinalScore maps a -2..+2 verdict onto 0/0.25/0.5/0.75/1 from the
// side's perspective.
func ordinalScore(side domain.Side, ordinal int) decimal.Decimal {
	if side == domain.SideShort {
		ordinal = -ordinal
	}
	switch {
	case ordinal >= 2:
		return scoreStrongFor
	case ordinal == 1:
		return scoreFor
	case ordinal == -1:
		return scoreAgainst
	case ordinal <= -2:
		return scoreStrongAgainst
	default:
		return scoreNeutral
	}
}

func directionScore(side domain.Side, d domain.Direction) decimal.Decimal {
	aligned := domain.DirectionUp
	if side == domain.SideShort {
		aligned = domain.DirectionDown
	}
	switch d {
	case aligned:
		return scoreStrongFor
	case domain.DirectionFlat:
		return scoreNeutral
	default:
		return scoreStrongAgainst
	}
}

// AdvanceHealth folds a freshly computed score into the side's health
// state. The first computation pins high, low and current to the score;
// afterwards high and low are monotone and the drawdown is the percent
// change from high to current while below the high.
func AdvanceHealth(prev *domain.HealthState, side domain.Side, openingTrendSum, score decimal.Decimal, now time.Time) *domain.HealthState {
	if prev == nil {
		return &domain.HealthState{
			Side:            side,
			OpeningTrendSum: openingTrendSum,
			High:            score,
			Low:             score,
			Current:         score,
			Drawdown:        decimal.Zero,
			UpdatedAt:       now,
		}
	}
	next := *prev
	next.Current = score
	if score.GreaterThan(next.High) {
		next.High = score
	}
	if score.LessThan(next.Low) {
		next.Low = score
	}
	if next.High.GreaterThan(score) {
		next.Drawdown = dec.PercentChange(next.High, score)
	} else {
		next.Drawdown = decimal.Zero
	}
	next.UpdatedAt = now
	return &next
}
