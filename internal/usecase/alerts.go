package usecase

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-autopilot/internal/dec"
	"futures-autopilot/internal/domain"
)

// Per-kind cooldowns between repeated alerts for the same side.
const (
	targetAlertCooldown      = 5 * time.Minute
	stopLossAlertCooldown    = 120 * time.Minute
	liquidationAlertCooldown = 3 * time.Minute
)

// liquidationWarnDistancePct: warn once the mark price is within this
// percentage of the liquidation price.
var liquidationWarnDistancePct = decimal.NewFromInt(5)

type alertKey struct {
	side domain.Side
	kind domain.NotificationKind
}

// AlertThrottle rate-limits price alerts per side and kind. Delivery is
// fire-and-forget: sink errors are logged, never propagated.
type AlertThrottle struct {
	notifier domain.Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[alertKey]time.Time
}

func NewAlertThrottle(notifier domain.Notifier, logger *zap.Logger) *AlertThrottle {
	return &AlertThrottle{
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		last:     make(map[alertKey]time.Time),
	}
}

// Check compares the position's current mark price against its stored
// thresholds and fires at most one alert per kind per cooldown window.
func (a *AlertThrottle) Check(p *domain.Position) {
	mark := p.MarkPrice

	if reached(p.Side, mark, p.Targets[0]) {
		msg := fmt.Sprintf("%s %s reached target 1 at %s (gain %s%%, level %d)",
			p.Symbol, p.Side, mark, p.Gain, p.ActiveLevel)
		a.fire(p, domain.NotifyTargetReached, targetAlertCooldown, msg)
	} else if !p.IncreaseFloorPrice.IsZero() && reached(p.Side, mark, p.IncreaseFloorPrice) {
		msg := fmt.Sprintf("%s %s above increase floor %s, adding is safe",
			p.Symbol, p.Side, p.IncreaseFloorPrice)
		a.fire(p, domain.NotifyTargetReached, targetAlertCooldown, msg)
	}

	if reached(p.Side.Opposite(), mark, p.StopLossPrice) {
		msg := fmt.Sprintf("%s %s breached stop loss %s at %s",
			p.Symbol, p.Side, p.StopLossPrice, mark)
		a.fire(p, domain.NotifyStopLossHit, stopLossAlertCooldown, msg)
	}

	if !p.LiquidationPrice.IsZero() && !mark.IsZero() {
		distance := mark.Sub(p.LiquidationPrice).Abs().Div(mark).Mul(dec.Hundred)
		if distance.LessThanOrEqual(liquidationWarnDistancePct) {
			msg := fmt.Sprintf("%s %s is %s%% from liquidation (mark %s, liq %s)",
				p.Symbol, p.Side, distance.Round(2), mark, p.LiquidationPrice)
			a.fire(p, domain.NotifyLiquidation, liquidationAlertCooldown, msg)
		}
	}
}

// reached reports whether the mark price has crossed the threshold in the
// favorable direction of the side.
func reached(side domain.Side, mark, threshold decimal.Decimal) bool {
	if threshold.IsZero() {
		return false
	}
	if side == domain.SideShort {
		return mark.LessThanOrEqual(threshold)
	}
	return mark.GreaterThanOrEqual(threshold)
}

func (a *AlertThrottle) fire(p *domain.Position, kind domain.NotificationKind, cooldown time.Duration, msg string) {
	key := alertKey{side: p.Side, kind: kind}
	now := a.now()

	a.mu.Lock()
	if at, ok := a.last[key]; ok && now.Sub(at) < cooldown {
		a.mu.Unlock()
		return
	}
	a.last[key] = now
	a.mu.Unlock()

	err := a.notifier.Send(domain.Notification{
		Kind:    kind,
		Symbol:  p.Symbol,
		Side:    p.Side,
		Message: msg,
		Price:   p.MarkPrice,
		At:      now,
	})
	if err != nil {
		a.logger.Warn("alert delivery failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// Reset clears the throttle history of one side after its position closes.
func (a *AlertThrottle) Reset(side domain.Side) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.last {
		if key.side == side {
			delete(a.last, key)
		}
	}
}
