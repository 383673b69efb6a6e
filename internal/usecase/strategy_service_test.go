package usecase

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"futures-autopilot/internal/domain"
)

func TestStrategyServicePersistsDefaultOnFirstStart(t *testing.T) {
	repo := &mockStrategyRepo{}
	svc, err := NewStrategyService(context.Background(), repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStrategyService: %v", err)
	}

	if repo.created != 1 {
		t.Fatalf("default strategy must be persisted once, created %d times", repo.created)
	}

	strat := svc.Get()
	if strat.Leverage != 10 || strat.MarginType != "isolated" {
		t.Fatalf("unexpected default: %dx %s", strat.Leverage, strat.MarginType)
	}
	if !strat.Levels[0].ThresholdPct.Equal(d("0.30")) {
		t.Fatalf("level 1 threshold = %s", strat.Levels[0].ThresholdPct)
	}
}

func TestStrategyServiceLoadsStoredRow(t *testing.T) {
	stored := domain.DefaultStrategy()
	stored.Leverage = 25
	repo := &mockStrategyRepo{stored: stored}

	svc, err := NewStrategyService(context.Background(), repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStrategyService: %v", err)
	}
	if repo.created != 0 {
		t.Fatal("stored row must not be overwritten")
	}
	if svc.Get().Leverage != 25 {
		t.Fatalf("leverage = %d, want 25", svc.Get().Leverage)
	}
}

func TestStrategyServiceRejectsInvalidUpdate(t *testing.T) {
	repo := &mockStrategyRepo{stored: domain.DefaultStrategy()}
	svc, err := NewStrategyService(context.Background(), repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStrategyService: %v", err)
	}

	next := svc.Get()
	next.Leverage = 0
	err = svc.Update(context.Background(), next)
	if err == nil {
		t.Fatal("invalid strategy must be rejected")
	}
	if !strings.Contains(err.Error(), "leverage") {
		t.Fatalf("error must name the field, got %v", err)
	}
	if repo.updated != 0 {
		t.Fatal("rejected update must not touch storage")
	}
	if svc.Get().Leverage != 10 {
		t.Fatal("rejected update must leave the current strategy intact")
	}
}

func TestStrategyServiceAtomicReplace(t *testing.T) {
	repo := &mockStrategyRepo{stored: domain.DefaultStrategy()}
	svc, err := NewStrategyService(context.Background(), repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStrategyService: %v", err)
	}

	next := svc.Get()
	next.Leverage = 20
	next.StopLossPct = d("2.00")
	if err := svc.Update(context.Background(), next); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got := svc.Get()
	if got.Leverage != 20 || !got.StopLossPct.Equal(d("2.00")) {
		t.Fatalf("replacement not applied: %dx stop %s", got.Leverage, got.StopLossPct)
	}
	if repo.updated != 1 {
		t.Fatalf("storage updated %d times, want 1", repo.updated)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt must be stamped")
	}
}

func TestStrategyValidationOrdering(t *testing.T) {
	strat := domain.DefaultStrategy()
	strat.Levels[2].ThresholdPct = strat.Levels[1].ThresholdPct
	err := strat.Validate()
	if err == nil || !strings.Contains(err.Error(), "levels[3]") {
		t.Fatalf("non-increasing thresholds must name the level, got %v", err)
	}
}
