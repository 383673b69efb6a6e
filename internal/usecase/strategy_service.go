package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"futures-autopilot/internal/domain"
)

// StrategyService owns the single in-memory strategy. It loads the stored
// row once at startup (persisting the built-in default when absent) and
// replaces the whole object atomically on update.
type StrategyService struct {
	repo   domain.StrategyRepository
	logger *zap.Logger

	mu      sync.RWMutex
	current *domain.PositionStrategy
}

func NewStrategyService(ctx context.Context, repo domain.StrategyRepository, logger *zap.Logger) (*StrategyService, error) {
	s := &StrategyService{repo: repo, logger: logger}

	strat, err := repo.GetStrategy(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		strat = domain.DefaultStrategy()
		if err := repo.CreateStrategy(ctx, strat); err != nil {
			return nil, fmt.Errorf("persist default strategy: %w", err)
		}
		logger.Info("persisted default strategy", zap.Int("leverage", strat.Leverage))
	case err != nil:
		return nil, fmt.Errorf("load strategy: %w", err)
	}

	s.current = strat
	return s, nil
}

// Get returns a copy of the current strategy, safe for concurrent callers.
func (s *StrategyService) Get() domain.PositionStrategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.current
}

// Update validates the replacement strategy and applies it to storage and
// memory as one whole object. Invalid strategies are rejected untouched.
func (s *StrategyService) Update(ctx context.Context, next domain.PositionStrategy) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid strategy: %w", err)
	}
	next.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateStrategy(ctx, &next); err != nil {
		return fmt.Errorf("persist strategy: %w", err)
	}

	s.mu.Lock()
	s.current = &next
	s.mu.Unlock()

	s.logger.Info("strategy updated",
		zap.Int("leverage", next.Leverage),
		zap.String("stop_loss_pct", next.StopLossPct.String()))
	return nil
}
