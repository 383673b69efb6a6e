package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"futures-autopilot/internal/dec"
	"futures-autopilot/internal/domain"
)

// DefaultReconcileInterval paces the poll-diff-react cycle.
const DefaultReconcileInterval = 1600 * time.Millisecond

// defaultStopOrderDelays are the waits between protective stop order
// attempts after the first one fails.
var defaultStopOrderDelays = []time.Duration{3 * time.Second, 5 * time.Second, 7 * time.Second}

// PositionService owns all local mutable position state and drives the
// per-side lifecycle: none -> opening -> active -> reducing -> closed.
// Nothing outside this service mutates the active/interaction/health maps.
type PositionService struct {
	exchange   domain.Exchange
	coins      domain.CoinProvider
	positions  domain.PositionRepository
	healthRepo domain.HealthRepository
	strategy   *StrategyService
	market     *MarketCell
	notifier   domain.Notifier
	alerts     *AlertThrottle
	logger     *zap.Logger

	now             func() time.Time
	sleep           func(time.Duration)
	stopOrderDelays []time.Duration

	running atomic.Bool

	mu           sync.RWMutex
	active       map[domain.Side]*domain.Position
	interactions map[domain.Side]*domain.PositionInteraction
	health       map[domain.Side]*domain.HealthState
}

func NewPositionService(
	exchange domain.Exchange,
	coins domain.CoinProvider,
	positions domain.PositionRepository,
	healthRepo domain.HealthRepository,
	strategy *StrategyService,
	market *MarketCell,
	notifier domain.Notifier,
	logger *zap.Logger,
) *PositionService {
	return &PositionService{
		exchange:        exchange,
		coins:           coins,
		positions:       positions,
		healthRepo:      healthRepo,
		strategy:        strategy,
		market:          market,
		notifier:        notifier,
		alerts:          NewAlertThrottle(notifier, logger),
		logger:          logger,
		now:             time.Now,
		sleep:           time.Sleep,
		stopOrderDelays: defaultStopOrderDelays,
		active:          make(map[domain.Side]*domain.Position),
		interactions:    make(map[domain.Side]*domain.PositionInteraction),
		health:          make(map[domain.Side]*domain.HealthState),
	}
}

// Run drives reconciliation on a fixed interval until the context ends.
// A slow tick delays the next one; ticks never overlap.
func (s *PositionService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				s.logger.Error("reconcile tick failed", zap.Error(err))
			}
		}
	}
}

// Reconcile runs one poll-diff-react cycle: fetch every exchange-reported
// position in one call, classify each side as new/changed/closed, run the
// handlers, and join their errors. The two sides' open/change handlers run
// concurrently so a slow or retrying side never delays the other; close
// handlers run after both finish.
func (s *PositionService) Reconcile(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("reconciliation already in flight, skipping tick")
		return nil
	}
	defer s.running.Store(false)

	snaps, err := s.exchange.GetActivePositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch active positions: %w", err)
	}

	reported := make(map[domain.Side]domain.PositionSnapshot, 2)
	for _, snap := range snaps {
		if snap.PositionAmt.IsZero() {
			continue
		}
		reported[snap.Side] = snap
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, side := range domain.Sides {
		snap, ok := reported[side]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(side domain.Side, snap domain.PositionSnapshot) {
			defer wg.Done()
			var err error
			if s.tracked(side) {
				err = s.handleChanged(ctx, snap)
			} else {
				err = s.handleNew(ctx, snap)
			}
			if err != nil {
				s.logger.Error("position handler failed",
					zap.String("side", string(side)), zap.Error(err))
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", side, err))
				errMu.Unlock()
			}
		}(side, snap)
	}
	wg.Wait()

	for _, side := range domain.Sides {
		if _, ok := reported[side]; ok || !s.tracked(side) {
			continue
		}
		if err := s.handleClosed(ctx, side); err != nil {
			s.logger.Error("close handler failed",
				zap.String("side", string(side)), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", side, err))
		}
	}

	return errors.Join(errs...)
}

func (s *PositionService) tracked(side domain.Side) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[side]
	return ok
}

// ActivePosition returns a copy of the tracked position for a side.
func (s *PositionService) ActivePosition(side domain.Side) (domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.active[side]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Interaction returns the re-open guard recorded for a side, if any.
func (s *PositionService) Interaction(side domain.Side) (domain.PositionInteraction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.interactions[side]
	if !ok {
		return domain.PositionInteraction{}, false
	}
	return *i, true
}

// handleNew builds the full local record for a position the exchange
// reports but memory does not hold, places its protective stop order, and
// announces it. A stop order that fails every attempt leaves the position
// open and unprotected; that is surfaced by notification, not by error.
func (s *PositionService) handleNew(ctx context.Context, snap domain.PositionSnapshot) error {
	strat := s.strategy.Get()
	coin, err := s.coins.InstalledCoin(ctx, snap.Symbol)
	if err != nil {
		return fmt.Errorf("coin metadata for %s: %w", snap.Symbol, err)
	}

	now := s.now()
	p := BuildRecord(snap, *coin, &strat, now)
	p.Gain = CalculateGain(p.Side, p.EntryPrice, p.MarkPrice)
	p.HighestGain = p.Gain
	p.ActiveLevel = ActiveTargetLevel(p.Gain, strat.Levels)
	p.Candle = NewCandlestick(now, p.MarkPrice, p.Gain, CandleBucket)

	s.placeProtectiveStop(ctx, p)

	if snap.Leverage != strat.Leverage || !strings.EqualFold(snap.MarginType, strat.MarginType) {
		s.send(domain.Notification{
			Kind:   domain.NotifyConfigDrift,
			Symbol: p.Symbol,
			Side:   p.Side,
			Message: fmt.Sprintf("%s %s opened with %dx %s, strategy wants %dx %s",
				p.Symbol, p.Side, snap.Leverage, snap.MarginType, strat.Leverage, strat.MarginType),
			Price: p.EntryPrice,
			At:    now,
		})
	}

	s.mu.Lock()
	if strat.ReopenIfBetter > 0 {
		s.interactions[p.Side] = &domain.PositionInteraction{
			Side: p.Side,
			// A later entry must beat this adjusted price to be allowed.
			Price:     targetPrice(p.Side.Opposite(), p.EntryPrice, strat.ReopenPriceAdjustmentPct, p.PricePrecision),
			ExpiresAt: now.Add(strat.ReopenIfBetter),
		}
	}
	s.active[p.Side] = p
	s.mu.Unlock()

	if msnap, ok := s.market.Snapshot(); ok {
		h := AdvanceHealth(nil, p.Side, msnap.TrendSum, HealthScore(p.Side, msnap.TrendSum, msnap), now)
		s.mu.Lock()
		s.health[p.Side] = h
		s.mu.Unlock()
		s.persistHealth(ctx, h)
	}

	s.send(domain.Notification{
		Kind:   domain.NotifyPositionOpened,
		Symbol: p.Symbol,
		Side:   p.Side,
		Message: fmt.Sprintf("%s %s opened at %s (%dx %s, notional %s)",
			p.Symbol, p.Side, p.EntryPrice, p.Leverage, p.MarginType, p.Notional),
		Price: p.EntryPrice,
		At:    now,
	})
	s.logger.Info("position opened",
		zap.String("symbol", p.Symbol),
		zap.String("side", string(p.Side)),
		zap.String("entry", p.EntryPrice.String()),
		zap.String("stop", p.StopLossPrice.String()))
	return nil
}

// placeProtectiveStop tries the stop order up to four times in total.
// Exhaustion is non-fatal: the failure is logged and notified and the
// position stays tracked without protection.
func (s *PositionService) placeProtectiveStop(ctx context.Context, p *domain.Position) {
	stopPrice := p.StopLossPrice
	err := withRetry(s.stopOrderDelays, s.sleep, func() error {
		payload, err := s.exchange.Order(ctx, p.Symbol, p.Side, domain.CloseOrderSide(p.Side), p.Quantity(), &stopPrice)
		if err != nil {
			return err
		}
		if payload != nil {
			id := payload.OrderID
			p.StopOrderID = &id
			if err := s.positions.SaveActionPayload(ctx, "stop_loss", p.Symbol, p.Side, payload); err != nil {
				s.logger.Warn("stop order payload not persisted", zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("stop order creation exhausted retries, position is unprotected",
			zap.String("symbol", p.Symbol),
			zap.String("side", string(p.Side)),
			zap.Error(err))
		s.send(domain.Notification{
			Kind:   domain.NotifyUnprotected,
			Symbol: p.Symbol,
			Side:   p.Side,
			Message: fmt.Sprintf("%s %s has no stop loss order after %d attempts: %v",
				p.Symbol, p.Side, len(s.stopOrderDelays)+1, err),
			Price: p.MarkPrice,
			At:    s.now(),
		})
	}
}

// handleChanged refreshes every exchange-sourced field, recomputes gain and
// health, rolls the candlestick, and evaluates the close conditions in
// order: stop-loss breach first, then an eligible take-profit reduction.
// Field updates happen under the write lock so ActivePosition copies are
// never torn mid-mutation.
func (s *PositionService) handleChanged(ctx context.Context, snap domain.PositionSnapshot) error {
	strat := s.strategy.Get()
	now := s.now()

	s.mu.Lock()
	p := s.active[snap.Side]

	p.MarkPrice = snap.MarkPrice
	p.LiquidationPrice = snap.LiquidationPrice
	p.UnrealizedPnL = snap.UnrealizedPnL
	p.IsolatedWallet = snap.IsolatedWallet
	p.IsolatedMargin = snap.IsolatedMargin
	p.PositionAmt = snap.PositionAmt
	p.Notional = snap.Notional.Abs()
	p.Leverage = snap.Leverage
	p.MarginType = snap.MarginType

	p.Gain = CalculateGain(p.Side, p.EntryPrice, p.MarkPrice)
	if p.Gain.GreaterThan(p.HighestGain) {
		p.HighestGain = p.Gain
	}
	p.ActiveLevel = ActiveTargetLevel(p.Gain, strat.Levels)

	s.rollCandle(p, now)
	s.mu.Unlock()

	s.refreshHealth(ctx, p.Side, now)
	s.alerts.Check(p)

	if reached(p.Side.Opposite(), p.MarkPrice, p.StopLossPrice) {
		return s.closeOnExchange(ctx, p, "stop loss breach")
	}

	if p.ActiveLevel > 0 {
		msnap, ok := s.market.Snapshot()
		if ok && msnap.Trend.Favors(p.Side) && s.reductionEligible(p, p.ActiveLevel, now) {
			return s.reducePosition(ctx, p, p.ActiveLevel, strat.Levels[p.ActiveLevel-1], now)
		}
	}
	return nil
}

// refreshHealth recomputes the side's health from the latest market
// snapshot and persists it. No snapshot yet means no computation; the
// tick proceeds regardless.
func (s *PositionService) refreshHealth(ctx context.Context, side domain.Side, now time.Time) {
	msnap, ok := s.market.Snapshot()
	if !ok {
		s.logger.Debug("no market snapshot, health not recomputed", zap.String("side", string(side)))
		return
	}

	s.mu.RLock()
	prev := s.health[side]
	s.mu.RUnlock()

	opening := msnap.TrendSum
	if prev != nil {
		opening = prev.OpeningTrendSum
	}
	h := AdvanceHealth(prev, side, opening, HealthScore(side, opening, msnap), now)

	s.mu.Lock()
	s.health[side] = h
	s.mu.Unlock()
	s.persistHealth(ctx, h)
}

func (s *PositionService) persistHealth(ctx context.Context, h *domain.HealthState) {
	_, err := s.healthRepo.GetHealth(ctx, h.Side)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		err = s.healthRepo.CreateHealth(ctx, h)
	case err == nil:
		err = s.healthRepo.UpdateHealth(ctx, h)
	}
	if err != nil {
		s.logger.Warn("health state not persisted", zap.String("side", string(h.Side)), zap.Error(err))
	}
}

// Health returns a copy of the in-memory health state for a side.
func (s *PositionService) Health(side domain.Side) (domain.HealthState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.health[side]
	if !ok {
		return domain.HealthState{}, false
	}
	return *h, true
}

// rollCandle updates the open bucket, flushing it into history first when
// the poll timestamp has passed its close time.
func (s *PositionService) rollCandle(p *domain.Position, now time.Time) {
	if p.Candle == nil {
		p.Candle = NewCandlestick(now, p.MarkPrice, p.Gain, CandleBucket)
		return
	}
	if !now.Before(p.Candle.CloseTime) {
		p.History = append(p.History, FlushCandlestick(p.Candle))
		p.Candle = NewCandlestick(p.Candle.CloseTime, p.MarkPrice, p.Gain, CandleBucket)
		return
	}
	UpdateCandlestick(p.Candle, p.MarkPrice, p.Gain)
}

// reductionEligible: only the currently active level's cooldown gates a
// reduction. Levels skipped by a fast gain move do not.
func (s *PositionService) reductionEligible(p *domain.Position, level int, now time.Time) bool {
	last := p.LastReduction(level)
	return last == nil || !now.Before(last.NextEligibleAt)
}

// reducePosition submits a partial close sized by the reduction algorithm
// and appends the level's reduction record. The record is appended only
// after the order is accepted, so a failed order leaves no phantom entry.
func (s *PositionService) reducePosition(ctx context.Context, p *domain.Position, level int, cfg domain.TakeProfitLevel, now time.Time) error {
	fraction := ReductionFraction(p.Notional, p.OriginalNotional, p.MarkPrice, p.MinQty, cfg)

	qty := p.Quantity()
	if fraction.LessThan(dec.One) {
		qty = dec.RoundDown(p.Quantity().Mul(fraction), p.QuantityPrecision)
	}
	if qty.IsZero() {
		return nil
	}

	payload, err := s.exchange.Order(ctx, p.Symbol, p.Side, domain.CloseOrderSide(p.Side), qty, nil)
	if err != nil {
		return fmt.Errorf("reduction order at level %d: %w", level, err)
	}
	if payload != nil {
		if err := s.positions.SaveActionPayload(ctx, "reduce", p.Symbol, p.Side, payload); err != nil {
			s.logger.Warn("reduction payload not persisted", zap.Error(err))
		}
	}

	s.mu.Lock()
	p.Reductions[level-1] = append(p.Reductions[level-1], domain.ReductionEntry{
		At:              now,
		NextEligibleAt:  now.Add(cfg.Cooldown),
		ChunkFraction:   fraction,
		GainAtReduction: p.Gain,
	})
	s.mu.Unlock()

	s.logger.Info("position reduced",
		zap.String("symbol", p.Symbol),
		zap.String("side", string(p.Side)),
		zap.Int("level", level),
		zap.String("fraction", fraction.String()),
		zap.String("gain", p.Gain.String()))
	return nil
}

// closeOnExchange submits a full close. Local state is untouched here; the
// next tick observes the exchange no longer reporting the side and runs
// the close handler.
func (s *PositionService) closeOnExchange(ctx context.Context, p *domain.Position, reason string) error {
	payload, err := s.exchange.Order(ctx, p.Symbol, p.Side, domain.CloseOrderSide(p.Side), p.Quantity(), nil)
	if err != nil {
		return fmt.Errorf("close order (%s): %w", reason, err)
	}
	if payload != nil {
		if err := s.positions.SaveActionPayload(ctx, "close", p.Symbol, p.Side, payload); err != nil {
			s.logger.Warn("close payload not persisted", zap.Error(err))
		}
	}
	s.logger.Info("position close submitted",
		zap.String("symbol", p.Symbol),
		zap.String("side", string(p.Side)),
		zap.String("reason", reason),
		zap.String("gain", p.Gain.String()))
	return nil
}

// handleClosed finalizes a side the exchange stopped reporting: flush the
// open candle, persist the full record, notify, then clear the slot. The
// slot survives a failed persist so the close is retried next tick.
func (s *PositionService) handleClosed(ctx context.Context, side domain.Side) error {
	now := s.now()

	s.mu.Lock()
	p := s.active[side]
	if p.Candle != nil {
		p.History = append(p.History, FlushCandlestick(p.Candle))
		p.Candle = nil
	}
	if p.ClosedAt == nil {
		closedAt := now
		p.ClosedAt = &closedAt
	}
	s.mu.Unlock()

	if err := s.positions.SavePosition(ctx, p); err != nil {
		return fmt.Errorf("persist closed position: %w", err)
	}

	s.send(domain.Notification{
		Kind:   domain.NotifyPositionClosed,
		Symbol: p.Symbol,
		Side:   side,
		Message: fmt.Sprintf("%s %s closed, gain %s%% (highest %s%%)",
			p.Symbol, side, p.Gain, p.HighestGain),
		Price: p.MarkPrice,
		At:    now,
	})

	s.mu.Lock()
	delete(s.active, side)
	delete(s.health, side)
	s.mu.Unlock()
	s.alerts.Reset(side)

	s.logger.Info("position closed",
		zap.String("symbol", p.Symbol),
		zap.String("side", string(side)),
		zap.String("gain", p.Gain.String()),
		zap.String("highest_gain", p.HighestGain.String()))
	return nil
}

func (s *PositionService) send(n domain.Notification) {
	if err := s.notifier.Send(n); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}
