package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrendState is the ordinal short-horizon trend verdict.
type TrendState int

const (
	TrendStrongBearish TrendState = -2
	TrendBearish       TrendState = -1
	TrendNeutral       TrendState = 0
	TrendBullish       TrendState = 1
	TrendStrongBullish TrendState = 2
)

// Favors reports whether the trend points the same way as the side.
func (t TrendState) Favors(side Side) bool {
	if side == SideLong {
		return t > TrendNeutral
	}
	return t < TrendNeutral
}

// Verdict is a per-timeframe technical-analysis conclusion on the same
// -2..+2 scale as TrendState.
type Verdict int

const (
	VerdictStrongBearish Verdict = -2
	VerdictBearish       Verdict = -1
	VerdictNeutral       Verdict = 0
	VerdictBullish       Verdict = 1
	VerdictStrongBullish Verdict = 2
)

// Direction is a simple rising/flat/falling classification used for open
// interest and the long/short ratio.
type Direction int

const (
	DirectionDown Direction = -1
	DirectionFlat Direction = 0
	DirectionUp   Direction = 1
)

// MarketSnapshot is the latest value of the push-based market-state feed.
// Readers treat it as a plain value; a missing snapshot means neutral
// scoring, never an error inside the evaluator.
type MarketSnapshot struct {
	WindowState string
	Trend       TrendState
	// TrendSum is the aggregated trend signal in the -100..+100 band.
	TrendSum decimal.Decimal

	TA30m Verdict
	TA2h  Verdict
	TA4h  Verdict
	TA1d  Verdict

	OpenInterest   Direction
	LongShortRatio Direction

	UpdatedAt time.Time
}

// Prediction is the non-neutral open signal: 1 long, -1 short, 0 none.
type Prediction int

const (
	PredictLong    Prediction = 1
	PredictNeutral Prediction = 0
	PredictShort   Prediction = -1
)

// Side maps a non-neutral prediction to the position side it opens.
func (p Prediction) Side() (Side, bool) {
	switch p {
	case PredictLong:
		return SideLong, true
	case PredictShort:
		return SideShort, true
	default:
		return "", false
	}
}

// Kline is one closed exchange candle used by the market feed.
type Kline struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// HealthState scores how well market conditions still support the active
// position of one side. Reset whenever that side re-opens.
type HealthState struct {
	Side            Side
	OpeningTrendSum decimal.Decimal
	High            decimal.Decimal
	Low             decimal.Decimal
	Current         decimal.Decimal
	Drawdown        decimal.Decimal // percent below High, 0 when at the high
	UpdatedAt       time.Time
}
