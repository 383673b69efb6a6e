package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-autopilot/internal/domain"
)

func testCoin() domain.Coin {
	return domain.Coin{
		Symbol:            "BTCUSDT",
		PricePrecision:    2,
		QuantityPrecision: 3,
		MinQty:            d("0.001"),
	}
}

func longSnapshot() domain.PositionSnapshot {
	return domain.PositionSnapshot{
		Symbol:           "BTCUSDT",
		Side:             domain.SideLong,
		EntryPrice:       d("100"),
		MarkPrice:        d("100"),
		LiquidationPrice: d("90.5"),
		PositionAmt:      d("1"),
		Notional:         d("100"),
		Leverage:         10,
		MarginType:       "isolated",
	}
}

func TestBuildRecordDerivesTargetsOnce(t *testing.T) {
	strat := domain.DefaultStrategy()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	p := BuildRecord(longSnapshot(), testCoin(), strat, now)

	require.NotEmpty(t, p.ID)
	assert.True(t, p.Targets[0].Equal(d("100.3")), "target 1 = %s", p.Targets[0])
	assert.True(t, p.Targets[1].Equal(d("100.6")), "target 2 = %s", p.Targets[1])
	assert.True(t, p.Targets[2].Equal(d("101")), "target 3 = %s", p.Targets[2])
	assert.True(t, p.Targets[3].Equal(d("101.6")), "target 4 = %s", p.Targets[3])
	assert.True(t, p.Targets[4].Equal(d("102.5")), "target 5 = %s", p.Targets[4])
	assert.True(t, p.StopLossPrice.Equal(d("98.5")), "stop = %s", p.StopLossPrice)
	assert.True(t, p.OriginalNotional.Equal(d("100")))
	assert.True(t, p.IncreaseFloorPrice.IsZero(), "increase floor off by default")
}

func TestBuildRecordShortMirrorsDirections(t *testing.T) {
	strat := domain.DefaultStrategy()
	snap := longSnapshot()
	snap.Side = domain.SideShort
	snap.PositionAmt = d("-1")
	snap.Notional = d("-100")

	p := BuildRecord(snap, testCoin(), strat, time.Now())

	assert.True(t, p.Targets[0].Equal(d("99.7")), "short target 1 = %s", p.Targets[0])
	assert.True(t, p.StopLossPrice.Equal(d("101.5")), "short stop = %s", p.StopLossPrice)
	assert.True(t, p.Notional.Equal(d("100")), "notional stored unsigned")
	assert.True(t, p.Quantity().Equal(d("1")))
}

func TestBuildRecordIncreaseFloor(t *testing.T) {
	strat := domain.DefaultStrategy()
	strat.LevelIncreaseEnabled = true
	strat.MinGainBeforeIncreasePct = d("0.20")

	p := BuildRecord(longSnapshot(), testCoin(), strat, time.Now())
	assert.True(t, p.IncreaseFloorPrice.Equal(d("100.2")), "floor = %s", p.IncreaseFloorPrice)
}

func TestCandlestickLifecycle(t *testing.T) {
	open := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCandlestick(open, d("100"), d("0"), CandleBucket)

	require.Equal(t, open.Add(15*time.Minute), c.CloseTime)
	assert.True(t, c.Mark.Open.Equal(d("100")))
	assert.True(t, c.Mark.High.Equal(d("100")))

	UpdateCandlestick(c, d("101"), d("1"))
	UpdateCandlestick(c, d("99"), d("-1"))
	UpdateCandlestick(c, d("100.5"), d("0.5"))

	assert.True(t, c.Mark.Open.Equal(d("100")), "open never moves")
	assert.True(t, c.Mark.High.Equal(d("101")))
	assert.True(t, c.Mark.Low.Equal(d("99")))
	assert.True(t, c.Mark.Close.Equal(d("100.5")))
	assert.True(t, c.Gain.High.Equal(d("1")))
	assert.True(t, c.Gain.Low.Equal(d("-1")))

	rec := FlushCandlestick(c)
	assert.Equal(t, c.OpenTime, rec.OpenTime)
	assert.True(t, rec.Mark.Close.Equal(d("100.5")))
}
