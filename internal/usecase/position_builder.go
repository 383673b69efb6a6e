package usecase

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"futures-autopilot/internal/dec"
	"futures-autopilot/internal/domain"
)

// CandleBucket is the fixed duration of one rolling OHLC bucket.
const CandleBucket = 15 * time.Minute

// BuildRecord assembles a fresh position record from an exchange snapshot.
// The five take-profit target prices and the stop-loss price are derived
// here, once, from the rounded entry price; they are never recomputed.
// Deterministic apart from the generated id.
func BuildRecord(snap domain.PositionSnapshot, coin domain.Coin, strat *domain.PositionStrategy, now time.Time) *domain.Position {
	entry := dec.RoundDown(snap.EntryPrice, coin.PricePrecision)

	p := &domain.Position{
		ID:                uuid.NewString(),
		Symbol:            snap.Symbol,
		Side:              snap.Side,
		OpenedAt:          now,
		PricePrecision:    coin.PricePrecision,
		QuantityPrecision: coin.QuantityPrecision,
		MinQty:            coin.MinQty,
		Leverage:          snap.Leverage,
		MarginType:        snap.MarginType,
		EntryPrice:        entry,
		MarkPrice:         snap.MarkPrice,
		LiquidationPrice:  snap.LiquidationPrice,
		UnrealizedPnL:     snap.UnrealizedPnL,
		IsolatedWallet:    snap.IsolatedWallet,
		IsolatedMargin:    snap.IsolatedMargin,
		PositionAmt:       snap.PositionAmt,
		Notional:          snap.Notional.Abs(),
		OriginalNotional:  snap.Notional.Abs(),
	}

	for i, lvl := range strat.Levels {
		p.Targets[i] = targetPrice(snap.Side, entry, lvl.ThresholdPct, coin.PricePrecision)
	}
	p.StopLossPrice = targetPrice(snap.Side.Opposite(), entry, strat.StopLossPct, coin.PricePrecision)
	if strat.LevelIncreaseEnabled {
		p.IncreaseFloorPrice = targetPrice(snap.Side, entry, strat.MinGainBeforeIncreasePct, coin.PricePrecision)
	}

	return p
}

// targetPrice moves entry by pct percent in the favorable direction of the
// side, rounded down to the coin's price precision.
func targetPrice(side domain.Side, entry, pct decimal.Decimal, precision int32) decimal.Decimal {
	if side == domain.SideShort {
		pct = pct.Neg()
	}
	return dec.RoundDown(dec.ApplyPercent(entry, pct), precision)
}

// NewCandlestick opens a bucket with O=H=L=C set to the current samples.
func NewCandlestick(openTime time.Time, mark, gain decimal.Decimal, duration time.Duration) *domain.ActiveCandlestick {
	return &domain.ActiveCandlestick{
		OpenTime:  openTime,
		CloseTime: openTime.Add(duration),
		Mark:      domain.OHLC{Open: mark, High: mark, Low: mark, Close: mark},
		Gain:      domain.OHLC{Open: gain, High: gain, Low: gain, Close: gain},
	}
}

// UpdateCandlestick folds the current mark and gain samples into the open
// bucket. Open stays fixed; High/Low stretch; Close follows the sample.
func UpdateCandlestick(c *domain.ActiveCandlestick, mark, gain decimal.Decimal) {
	c.Mark = updateSeries(c.Mark, mark)
	c.Gain = updateSeries(c.Gain, gain)
}

func updateSeries(s domain.OHLC, current decimal.Decimal) domain.OHLC {
	if current.GreaterThan(s.High) {
		s.High = current
	}
	if current.LessThan(s.Low) {
		s.Low = current
	}
	s.Close = current
	return s
}

// FlushCandlestick freezes an open bucket into its immutable record.
func FlushCandlestick(c *domain.ActiveCandlestick) domain.CandlestickRecord {
	return domain.CandlestickRecord{
		OpenTime:  c.OpenTime,
		CloseTime: c.CloseTime,
		Mark:      c.Mark,
		Gain:      c.Gain,
	}
}
