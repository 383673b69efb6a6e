package usecase

import (
	"sync"

	"futures-autopilot/internal/domain"
)

// MarketCell holds the latest market-state snapshot pushed by the feed.
// Readers never block; the boolean reports whether a snapshot has arrived
// at all yet.
type MarketCell struct {
	mu   sync.RWMutex
	snap domain.MarketSnapshot
	ok   bool
}

func (c *MarketCell) Update(s domain.MarketSnapshot) {
	c.mu.Lock()
	c.snap = s
	c.ok = true
	c.mu.Unlock()
}

func (c *MarketCell) Snapshot() (domain.MarketSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap, c.ok
}

// PredictionCell holds the latest open signal the same way.
type PredictionCell struct {
	mu   sync.RWMutex
	pred domain.Prediction
	ok   bool
}

func (c *PredictionCell) Update(p domain.Prediction) {
	c.mu.Lock()
	c.pred = p
	c.ok = true
	c.mu.Unlock()
}

func (c *PredictionCell) Snapshot() (domain.Prediction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pred, c.ok
}
