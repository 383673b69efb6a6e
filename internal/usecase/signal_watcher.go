package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-autopilot/internal/dec"
	"futures-autopilot/internal/domain"
)

// SignalWatcher opens positions when the prediction feed produces a
// non-neutral signal. It never opens a second position on a side the
// reconciliation loop already tracks, and honors the re-open guard: after
// a close, a new entry on the same side must beat the adjusted close price
// until the guard expires.
type SignalWatcher struct {
	exchange   domain.Exchange
	coins      domain.CoinProvider
	repo       domain.PositionRepository
	strategy   *StrategyService
	positions  *PositionService
	prediction *PredictionCell
	logger     *zap.Logger

	symbol string
	// marginQuote is the quote-currency margin committed per entry; the
	// ordered quantity is marginQuote * leverage / price.
	marginQuote decimal.Decimal
	now         func() time.Time
}

func NewSignalWatcher(
	exchange domain.Exchange,
	coins domain.CoinProvider,
	repo domain.PositionRepository,
	strategy *StrategyService,
	positions *PositionService,
	prediction *PredictionCell,
	symbol string,
	marginQuote decimal.Decimal,
	logger *zap.Logger,
) *SignalWatcher {
	return &SignalWatcher{
		exchange:    exchange,
		coins:       coins,
		repo:        repo,
		strategy:    strategy,
		positions:   positions,
		prediction:  prediction,
		logger:      logger,
		symbol:      symbol,
		marginQuote: marginQuote,
		now:         time.Now,
	}
}

// Run polls the prediction cell until the context ends.
func (w *SignalWatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.TryOpen(ctx); err != nil {
				w.logger.Error("signal entry failed", zap.Error(err))
			}
		}
	}
}

// TryOpen opens one position when every gate passes. An absent prediction
// snapshot blocks opening; it is not an error.
func (w *SignalWatcher) TryOpen(ctx context.Context) error {
	pred, ok := w.prediction.Snapshot()
	if !ok {
		return nil
	}
	side, ok := pred.Side()
	if !ok {
		return nil
	}

	strat := w.strategy.Get()
	if !strat.SideEnabled(side) {
		return nil
	}
	if strat.BitcoinOnly && !strings.HasPrefix(w.symbol, "BTC") {
		return nil
	}
	if slices.Contains(strat.LowVolatilityExclusions, w.symbol) {
		return nil
	}
	if _, open := w.positions.ActivePosition(side); open {
		return nil
	}

	coin, price, err := w.coins.InstalledCoinAndPrice(ctx, w.symbol)
	if err != nil {
		return fmt.Errorf("coin and price for %s: %w", w.symbol, err)
	}

	now := w.now()
	if guard, ok := w.positions.Interaction(side); ok && now.Before(guard.ExpiresAt) {
		if !betterEntry(side, price, guard.Price) {
			w.logger.Debug("re-open guard active, entry price not better",
				zap.String("side", string(side)),
				zap.String("price", price.String()),
				zap.String("guard", guard.Price.String()))
			return nil
		}
	}

	qty := dec.RoundDown(
		w.marginQuote.Mul(decimal.NewFromInt(int64(strat.Leverage))).Div(price),
		coin.QuantityPrecision)
	if qty.LessThan(coin.MinQty) {
		w.logger.Warn("entry quantity below venue minimum",
			zap.String("qty", qty.String()),
			zap.String("min_qty", coin.MinQty.String()))
		return nil
	}

	// The venue rejects these when already configured; that is fine.
	if err := w.exchange.SetMarginType(ctx, w.symbol, strat.MarginType); err != nil {
		w.logger.Debug("set margin type", zap.Error(err))
	}
	if err := w.exchange.SetLeverage(ctx, w.symbol, strat.Leverage); err != nil {
		w.logger.Debug("set leverage", zap.Error(err))
	}

	payload, err := w.exchange.Order(ctx, w.symbol, side, domain.OpenOrderSide(side), qty, nil)
	if err != nil {
		return fmt.Errorf("open order %s %s: %w", w.symbol, side, err)
	}
	if payload != nil {
		if err := w.repo.SaveActionPayload(ctx, "open", w.symbol, side, payload); err != nil {
			w.logger.Warn("open payload not persisted", zap.Error(err))
		}
	}

	w.logger.Info("signal entry submitted",
		zap.String("symbol", w.symbol),
		zap.String("side", string(side)),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()))
	return nil
}

// betterEntry: a LONG wants to re-enter cheaper than the guard price, a
// SHORT wants to re-enter higher.
func betterEntry(side domain.Side, price, guard decimal.Decimal) bool {
	if side == domain.SideShort {
		return price.GreaterThan(guard)
	}
	return price.LessThan(guard)
}
