package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-autopilot/internal/dec"
	"futures-autopilot/internal/domain"
)

// DefaultMarketRefreshInterval paces the market snapshot rebuild.
const DefaultMarketRefreshInterval = time.Minute

const (
	smaWindow     = 20
	slopeWindow   = 10
	seriesPeriod  = "15m"
	seriesSamples = 4
)

// Verdict cut-offs on the close-vs-SMA distance, in percent.
var (
	strongVerdictPct = decimal.NewFromFloat(1.0)
	weakVerdictPct   = decimal.NewFromFloat(0.25)
	// flatBandPct absorbs noise when classifying series direction.
	flatBandPct = decimal.NewFromFloat(0.10)
)

// Prediction fires only on a decisive aggregate trend.
var predictionTrendSumGate = decimal.NewFromInt(40)

// MarketFeed rebuilds the market snapshot from exchange series and pushes
// it into the market and prediction cells. Mark-price ticks from the
// stream refresh the newest close between rebuilds.
type MarketFeed struct {
	data       domain.MarketDataProvider
	market     *MarketCell
	prediction *PredictionCell
	logger     *zap.Logger

	symbol string
	now    func() time.Time

	mu       sync.Mutex
	lastMark decimal.Decimal
}

func NewMarketFeed(data domain.MarketDataProvider, market *MarketCell, prediction *PredictionCell, symbol string, logger *zap.Logger) *MarketFeed {
	return &MarketFeed{
		data:       data,
		market:     market,
		prediction: prediction,
		logger:     logger,
		symbol:     symbol,
		now:        time.Now,
	}
}

// OnMark records the latest streamed mark price. It replaces the newest
// kline close in the next rebuild so verdicts track the live price.
func (f *MarketFeed) OnMark(symbol string, mark decimal.Decimal) {
	if symbol != f.symbol {
		return
	}
	f.mu.Lock()
	f.lastMark = mark
	f.mu.Unlock()
}

// Run rebuilds the snapshot on a fixed interval until the context ends.
func (f *MarketFeed) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := f.Refresh(ctx); err != nil {
		f.logger.Error("initial market refresh failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Refresh(ctx); err != nil {
				f.logger.Error("market refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh fetches every series, derives the snapshot, and publishes it.
// A failed fetch leaves the previous snapshot in place.
func (f *MarketFeed) Refresh(ctx context.Context) error {
	snap := domain.MarketSnapshot{UpdatedAt: f.now()}

	verdicts := []struct {
		interval string
		dst      *domain.Verdict
	}{
		{"30m", &snap.TA30m},
		{"2h", &snap.TA2h},
		{"4h", &snap.TA4h},
		{"1d", &snap.TA1d},
	}
	for _, v := range verdicts {
		klines, err := f.data.Klines(ctx, f.symbol, v.interval, smaWindow+slopeWindow)
		if err != nil {
			return fmt.Errorf("klines %s: %w", v.interval, err)
		}
		closes := f.closesWithLiveMark(klines)
		if len(closes) < smaWindow {
			return fmt.Errorf("klines %s: %d closes, need %d", v.interval, len(closes), smaWindow)
		}
		*v.dst = taVerdict(closes)
		if v.interval == "30m" {
			snap.Trend = trendState(closes)
		}
	}

	snap.TrendSum = trendSum(snap)
	snap.WindowState = windowState(snap.Trend)

	oi, err := f.data.OpenInterestHistory(ctx, f.symbol, seriesPeriod, seriesSamples)
	if err != nil {
		return fmt.Errorf("open interest: %w", err)
	}
	snap.OpenInterest = seriesDirection(oi)

	lsr, err := f.data.LongShortRatio(ctx, f.symbol, seriesPeriod, seriesSamples)
	if err != nil {
		return fmt.Errorf("long/short ratio: %w", err)
	}
	snap.LongShortRatio = seriesDirection(lsr)

	f.market.Update(snap)
	f.prediction.Update(predict(snap))

	f.logger.Debug("market snapshot refreshed",
		zap.String("symbol", f.symbol),
		zap.Int("trend", int(snap.Trend)),
		zap.String("trend_sum", snap.TrendSum.String()))
	return nil
}

func (f *MarketFeed) closesWithLiveMark(klines []domain.Kline) []decimal.Decimal {
	closes := make([]decimal.Decimal, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	f.mu.Lock()
	mark := f.lastMark
	f.mu.Unlock()
	if !mark.IsZero() && len(closes) > 0 {
		closes[len(closes)-1] = mark
	}
	return closes
}

// taVerdict classifies the latest close against the 20-sample SMA.
func taVerdict(closes []decimal.Decimal) domain.Verdict {
	last := closes[len(closes)-1]
	avg := sma(closes, smaWindow)
	diff := dec.PercentChange(avg, last)

	switch {
	case diff.GreaterThanOrEqual(strongVerdictPct):
		return domain.VerdictStrongBullish
	case diff.GreaterThanOrEqual(weakVerdictPct):
		return domain.VerdictBullish
	case diff.LessThanOrEqual(strongVerdictPct.Neg()):
		return domain.VerdictStrongBearish
	case diff.LessThanOrEqual(weakVerdictPct.Neg()):
		return domain.VerdictBearish
	default:
		return domain.VerdictNeutral
	}
}

// trendState compares the two most recent 10-sample SMA windows, so it
// reacts faster than the verdicts but on the same cut-offs.
func trendState(closes []decimal.Decimal) domain.TrendState {
	if len(closes) < 2*slopeWindow {
		return domain.TrendNeutral
	}
	recent := sma(closes, slopeWindow)
	prior := sma(closes[:len(closes)-slopeWindow], slopeWindow)
	diff := dec.PercentChange(prior, recent)

	switch {
	case diff.GreaterThanOrEqual(strongVerdictPct):
		return domain.TrendStrongBullish
	case diff.GreaterThanOrEqual(weakVerdictPct):
		return domain.TrendBullish
	case diff.LessThanOrEqual(strongVerdictPct.Neg()):
		return domain.TrendStrongBearish
	case diff.LessThanOrEqual(weakVerdictPct.Neg()):
		return domain.TrendBearish
	default:
		return domain.TrendNeutral
	}
}

// sma averages the last n samples.
func sma(series []decimal.Decimal, n int) decimal.Decimal {
	if len(series) < n {
		n = len(series)
	}
	total := decimal.Zero
	for _, v := range series[len(series)-n:] {
		total = total.Add(v)
	}
	return total.Div(decimal.NewFromInt(int64(n)))
}

// trendSum maps the trend and timeframe verdicts onto the -100..+100 band.
// The trend counts double; a full sweep of strong verdicts saturates it.
func trendSum(snap domain.MarketSnapshot) decimal.Decimal {
	total := 2*int(snap.Trend) + int(snap.TA30m) + int(snap.TA2h) + int(snap.TA4h) + int(snap.TA1d)
	const maxTotal = 12
	return decimal.NewFromInt(int64(total)).
		Div(decimal.NewFromInt(maxTotal)).
		Mul(dec.Hundred).
		Round(2)
}

func windowState(t domain.TrendState) string {
	switch {
	case t > domain.TrendNeutral:
		return "bullish"
	case t < domain.TrendNeutral:
		return "bearish"
	default:
		return "neutral"
	}
}

// seriesDirection compares the newest sample against the oldest in the
// fetched window, with a flat band to absorb noise.
func seriesDirection(series []decimal.Decimal) domain.Direction {
	if len(series) < 2 {
		return domain.DirectionFlat
	}
	diff := dec.PercentChange(series[0], series[len(series)-1])
	switch {
	case diff.GreaterThan(flatBandPct):
		return domain.DirectionUp
	case diff.LessThan(flatBandPct.Neg()):
		return domain.DirectionDown
	default:
		return domain.DirectionFlat
	}
}

// predict emits an open signal only when the aggregate trend is decisive
// and the short-horizon trend agrees.
func predict(snap domain.MarketSnapshot) domain.Prediction {
	switch {
	case snap.TrendSum.GreaterThanOrEqual(predictionTrendSumGate) && snap.Trend > domain.TrendNeutral:
		return domain.PredictLong
	case snap.TrendSum.LessThanOrEqual(predictionTrendSumGate.Neg()) && snap.Trend < domain.TrendNeutral:
		return domain.PredictShort
	default:
		return domain.PredictNeutral
	}
}
