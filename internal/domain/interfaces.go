package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

// Exchange defines the futures venue operations the bot depends on.
type Exchange interface {
	// GetActivePositions returns every non-flat position slot in one call.
	GetActivePositions(ctx context.Context) ([]PositionSnapshot, error)
	// Order places a market order, or a stop-market order when stopPrice is
	// non-nil. A nil payload with a nil error means the venue acknowledged
	// the order without returning a body.
	Order(ctx context.Context, symbol string, positionSide Side, actionSide OrderSide, quantity decimal.Decimal, stopPrice *decimal.Decimal) (*ExecutionPayload, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, marginType string) error
}

// MarketDataProvider serves the public market series the feed derives its
// snapshot from. Series are returned oldest first.
type MarketDataProvider interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	OpenInterestHistory(ctx context.Context, symbol, period string, limit int) ([]decimal.Decimal, error)
	LongShortRatio(ctx context.Context, symbol, period string, limit int) ([]decimal.Decimal, error)
}

// CoinProvider resolves venue metadata for installed instruments.
type CoinProvider interface {
	InstalledCoin(ctx context.Context, symbol string) (*Coin, error)
	InstalledCoinAndPrice(ctx context.Context, symbol string) (*Coin, decimal.Decimal, error)
}

// PositionRepository persists position records and the order payload log.
type PositionRepository interface {
	SavePosition(ctx context.Context, p *Position) error
	SaveActionPayload(ctx context.Context, kind, symbol string, side Side, payload *ExecutionPayload) error
}

// StrategyRepository stores the single strategy row.
type StrategyRepository interface {
	GetStrategy(ctx context.Context) (*PositionStrategy, error)
	CreateStrategy(ctx context.Context, s *PositionStrategy) error
	UpdateStrategy(ctx context.Context, s *PositionStrategy) error
}

// HealthRepository stores one health row per side.
type HealthRepository interface {
	GetHealth(ctx context.Context, side Side) (*HealthState, error)
	CreateHealth(ctx context.Context, h *HealthState) error
	UpdateHealth(ctx context.Context, h *HealthState) error
}

// NotificationKind labels outbound alerts.
type NotificationKind string

const (
	NotifyPositionOpened NotificationKind = "position_opened"
	NotifyPositionClosed NotificationKind = "position_closed"
	NotifyTargetReached  NotificationKind = "target_reached"
	NotifyStopLossHit    NotificationKind = "stop_loss_hit"
	NotifyLiquidation    NotificationKind = "liquidation_proximity"
	NotifyConfigDrift    NotificationKind = "config_drift"
	NotifyUnprotected    NotificationKind = "unprotected_position"
)

// Notification is one outbound alert message.
type Notification struct {
	Kind    NotificationKind
	Symbol  string
	Side    Side
	Message string
	Price   decimal.Decimal
	At      time.Time
}

// Notifier is the fire-and-forget broadcast channel. Senders log errors
// and move on; delivery failures never affect position state.
type Notifier interface {
	Send(n Notification) error
}
