package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"futures-autopilot/internal/domain"
)

func neutralSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Trend:          domain.TrendNeutral,
		TrendSum:       d("0"),
		TA30m:          domain.VerdictNeutral,
		TA2h:           domain.VerdictNeutral,
		TA4h:           domain.VerdictNeutral,
		TA1d:           domain.VerdictNeutral,
		OpenInterest:   domain.DirectionFlat,
		LongShortRatio: domain.DirectionFlat,
	}
}

func TestHealthScoreNeutralAtOpen(t *testing.T) {
	// Every factor sits at 0.5, the trend-sum trajectory included: no
	// movement since open is neutral, not hostile.
	score := HealthScore(domain.SideLong, d("0"), neutralSnapshot())
	assert.True(t, score.Equal(d("50")), "score = %s", score)
}

func TestHealthScoreFullyAligned(t *testing.T) {
	snap := domain.MarketSnapshot{
		Trend:          domain.TrendStrongBullish,
		TrendSum:       d("95"),
		TA30m:          domain.VerdictStrongBullish,
		TA2h:           domain.VerdictStrongBullish,
		TA4h:           domain.VerdictStrongBullish,
		TA1d:           domain.VerdictStrongBullish,
		OpenInterest:   domain.DirectionUp,
		LongShortRatio: domain.DirectionUp,
	}
	score := HealthScore(domain.SideLong, d("0"), snap)
	assert.True(t, score.Equal(d("100")), "score = %s", score)

	// The same snapshot is maximally hostile to a SHORT: every factor
	// scores zero, including the trajectory toward -95.
	score = HealthScore(domain.SideShort, d("0"), snap)
	assert.True(t, score.IsZero(), "short score = %s", score)
}

func TestHealthScoreShortMirrors(t *testing.T) {
	snap := neutralSnapshot()
	snap.Trend = domain.TrendStrongBearish
	snap.TA30m = domain.VerdictBearish
	snap.OpenInterest = domain.DirectionDown
	snap.TrendSum = d("-47.5")

	// trajectory: 47.5 of 95 toward -95 -> 0.5+0.25 bucketed to 0.7 -> 14
	// trend: strong aligned -> 20; TA30m: aligned -> 7.5; others 0.5*10*3
	// OI aligned -> 10; LSR flat -> 5
	score := HealthScore(domain.SideShort, d("0"), snap)
	assert.True(t, score.Equal(d("71.5")), "score = %s", score)
}

func TestTrendSumScoreBuckets(t *testing.T) {
	cases := []struct {
		current string
		want    string
	}{
		{"0", "0.5"},    // no movement is neutral
		{"18.9", "0.5"}, // below the first bucket edge above neutral
		{"19", "0.6"},
		{"47.5", "0.7"},
		{"94", "0.9"},
		{"95", "1"},
		{"150", "1"},     // clamped past saturation
		{"-47.5", "0.2"}, // regression scores below neutral
		{"-95", "0"},
		{"-150", "0"}, // clamped past full regression
	}
	for _, tc := range cases {
		got := trendSumScore(domain.SideLong, d("0"), d(tc.current))
		if !got.Equal(d(tc.want)) {
			t.Errorf("trendSumScore(0 -> %s) = %s, want %s", tc.current, got, tc.want)
		}
	}
}

func TestTrendSumScoreOpensAtSaturation(t *testing.T) {
	got := trendSumScore(domain.SideLong, d("95"), d("95"))
	assert.True(t, got.Equal(d("1")))
}

func TestAdvanceHealth(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	h := AdvanceHealth(nil, domain.SideLong, d("10"), d("60"), now)
	assert.True(t, h.High.Equal(d("60")))
	assert.True(t, h.Low.Equal(d("60")))
	assert.True(t, h.Drawdown.IsZero())

	h = AdvanceHealth(h, domain.SideLong, d("10"), d("80"), now.Add(time.Minute))
	assert.True(t, h.High.Equal(d("80")))
	assert.True(t, h.Low.Equal(d("60")), "low survives a rally")
	assert.True(t, h.Drawdown.IsZero())

	h = AdvanceHealth(h, domain.SideLong, d("10"), d("60"), now.Add(2*time.Minute))
	assert.True(t, h.High.Equal(d("80")), "high is monotone")
	assert.True(t, h.Current.Equal(d("60")))
	assert.True(t, h.Drawdown.Equal(d("-25")), "drawdown = %s", h.Drawdown)

	h = AdvanceHealth(h, domain.SideLong, d("10"), d("80"), now.Add(3*time.Minute))
	assert.True(t, h.Drawdown.IsZero(), "back at the high clears drawdown")
}
