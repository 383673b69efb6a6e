package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sides lists the two position slots in a fixed order so reconciliation
// always visits LONG before SHORT.
var Sides = [2]Side{SideLong, SideShort}

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderSide is the execution direction of an order, independent of the
// position slot it acts on (closing a LONG is a SELL).
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// CloseOrderSide returns the order side that reduces a position.
func CloseOrderSide(s Side) OrderSide {
	if s == SideLong {
		return OrderSell
	}
	return OrderBuy
}

// OpenOrderSide returns the order side that grows a position.
func OpenOrderSide(s Side) OrderSide {
	if s == SideLong {
		return OrderBuy
	}
	return OrderSell
}

// PositionSnapshot is the exchange-reported view of one position slot.
// All monetary values are decimals parsed from the wire strings.
type PositionSnapshot struct {
	Symbol           string
	Side             Side
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	LiquidationPrice decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	IsolatedWallet   decimal.Decimal
	IsolatedMargin   decimal.Decimal
	PositionAmt      decimal.Decimal // signed, negative for shorts
	Notional         decimal.Decimal
	Leverage         int
	MarginType       string
}

// Coin carries the venue metadata needed to round prices and quantities.
type Coin struct {
	Symbol            string
	PricePrecision    int32
	QuantityPrecision int32
	MinQty            decimal.Decimal
}

// ExecutionPayload is what the exchange returns for an accepted order.
// A nil payload with a nil error is a valid "nothing returned" outcome.
type ExecutionPayload struct {
	OrderID       int64           `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Status        string          `json:"status"`
	ExecutedQty   decimal.Decimal `json:"executed_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
}

// ReductionEntry records one partial close taken at a take-profit level.
type ReductionEntry struct {
	At              time.Time       `json:"at"`
	NextEligibleAt  time.Time       `json:"next_eligible_at"`
	ChunkFraction   decimal.Decimal `json:"chunk_fraction"`
	GainAtReduction decimal.Decimal `json:"gain_at_reduction"`
}

// OHLC is one four-point series of a candlestick bucket.
type OHLC struct {
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// ActiveCandlestick is the open bucket rolling up mark-price and gain
// samples between polls. It is flushed into a CandlestickRecord when a
// poll timestamp passes CloseTime.
type ActiveCandlestick struct {
	OpenTime  time.Time
	CloseTime time.Time
	Mark      OHLC
	Gain      OHLC
}

// CandlestickRecord is an immutable, closed bucket.
type CandlestickRecord struct {
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Mark      OHLC      `json:"mark"`
	Gain      OHLC      `json:"gain"`
}

// TargetLevels is the number of configured take-profit levels.
const TargetLevels = 5

// Position is the locally tracked record of one exchange position.
// Target prices and the stop-loss price are derived once at open time and
// never recomputed. Gain fields are refreshed on every poll.
type Position struct {
	ID                string
	Symbol            string
	Side              Side
	OpenedAt          time.Time
	ClosedAt          *time.Time
	PricePrecision    int32
	QuantityPrecision int32
	MinQty            decimal.Decimal
	Leverage          int
	MarginType        string

	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	LiquidationPrice decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	IsolatedWallet   decimal.Decimal
	IsolatedMargin   decimal.Decimal
	PositionAmt      decimal.Decimal
	Notional         decimal.Decimal
	OriginalNotional decimal.Decimal

	Targets       [TargetLevels]decimal.Decimal
	StopLossPrice decimal.Decimal
	// IncreaseFloorPrice is the mark price the position must hold before
	// adding to it is considered safe. Zero when level increase is off.
	IncreaseFloorPrice decimal.Decimal
	// StopOrderID references the protective stop order on the exchange.
	// Nil while creation is pending or after it failed permanently.
	StopOrderID *int64

	Gain        decimal.Decimal
	HighestGain decimal.Decimal
	ActiveLevel int // 1..5, 0 when gain is below level 1

	Reductions [TargetLevels][]ReductionEntry
	History    []CandlestickRecord
	Candle     *ActiveCandlestick
}

// Quantity returns the unsigned position size.
func (p *Position) Quantity() decimal.Decimal {
	return p.PositionAmt.Abs()
}

// LastReduction returns the most recent reduction entry for a level
// (1-based), or nil when the level has never been reduced.
func (p *Position) LastReduction(level int) *ReductionEntry {
	if level < 1 || level > TargetLevels {
		return nil
	}
	entries := p.Reductions[level-1]
	if len(entries) == 0 {
		return nil
	}
	return &entries[len(entries)-1]
}

// PositionInteraction blocks re-opening a worse-priced position on the same
// side until ExpiresAt. Only written when the re-open policy is enabled.
type PositionInteraction struct {
	Side      Side
	Price     decimal.Decimal // last entry price, adjusted by the re-open policy
	ExpiresAt time.Time
}
