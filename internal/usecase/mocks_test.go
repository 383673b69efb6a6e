package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"futures-autopilot/internal/domain"
)

type orderCall struct {
	symbol       string
	positionSide domain.Side
	actionSide   domain.OrderSide
	quantity     decimal.Decimal
	stopPrice    *decimal.Decimal
}

type mockExchange struct {
	mu        sync.Mutex
	snapshots []domain.PositionSnapshot
	snapErr   error
	orderFn   func(call orderCall) (*domain.ExecutionPayload, error)
	orders    []orderCall

	leverageCalls   int
	marginTypeCalls int
}

func (m *mockExchange) GetActivePositions(ctx context.Context) ([]domain.PositionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots, m.snapErr
}

func (m *mockExchange) Order(ctx context.Context, symbol string, positionSide domain.Side, actionSide domain.OrderSide, quantity decimal.Decimal, stopPrice *decimal.Decimal) (*domain.ExecutionPayload, error) {
	call := orderCall{symbol, positionSide, actionSide, quantity, stopPrice}
	m.mu.Lock()
	m.orders = append(m.orders, call)
	fn := m.orderFn
	m.mu.Unlock()
	if fn != nil {
		return fn(call)
	}
	return &domain.ExecutionPayload{OrderID: int64(len(m.orders)), Status: "FILLED"}, nil
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leverageCalls++
	return nil
}

func (m *mockExchange) SetMarginType(ctx context.Context, symbol string, marginType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marginTypeCalls++
	return nil
}

func (m *mockExchange) setSnapshots(snaps ...domain.PositionSnapshot) {
	m.mu.Lock()
	m.snapshots = snaps
	m.mu.Unlock()
}

func (m *mockExchange) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type mockCoinProvider struct {
	coin  *domain.Coin
	price decimal.Decimal
	err   error
}

func (m *mockCoinProvider) InstalledCoin(ctx context.Context, symbol string) (*domain.Coin, error) {
	if m.err != nil {
		return nil, m.err
	}
	c := *m.coin
	return &c, nil
}

func (m *mockCoinProvider) InstalledCoinAndPrice(ctx context.Context, symbol string) (*domain.Coin, decimal.Decimal, error) {
	if m.err != nil {
		return nil, decimal.Zero, m.err
	}
	c := *m.coin
	return &c, m.price, nil
}

type payloadRecord struct {
	kind string
	side domain.Side
}

type mockPositionRepo struct {
	mu       sync.Mutex
	saved    []*domain.Position
	saveErr  error
	payloads []payloadRecord
}

func (m *mockPositionRepo) SavePosition(ctx context.Context, p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *p
	m.saved = append(m.saved, &cp)
	return nil
}

func (m *mockPositionRepo) SaveActionPayload(ctx context.Context, kind, symbol string, side domain.Side, payload *domain.ExecutionPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payloadRecord{kind: kind, side: side})
	return nil
}

func (m *mockPositionRepo) payloadKinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, len(m.payloads))
	for i, p := range m.payloads {
		kinds[i] = p.kind
	}
	return kinds
}

type mockStrategyRepo struct {
	mu      sync.Mutex
	stored  *domain.PositionStrategy
	getErr  error
	created int
	updated int
}

func (m *mockStrategyRepo) GetStrategy(ctx context.Context) (*domain.PositionStrategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.stored == nil {
		return nil, domain.ErrNotFound
	}
	cp := *m.stored
	return &cp, nil
}

func (m *mockStrategyRepo) CreateStrategy(ctx context.Context, s *domain.PositionStrategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.stored = &cp
	m.created++
	return nil
}

func (m *mockStrategyRepo) UpdateStrategy(ctx context.Context, s *domain.PositionStrategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.stored = &cp
	m.updated++
	return nil
}

type mockHealthRepo struct {
	mu     sync.Mutex
	states map[domain.Side]*domain.HealthState
}

func newMockHealthRepo() *mockHealthRepo {
	return &mockHealthRepo{states: make(map[domain.Side]*domain.HealthState)}
}

func (m *mockHealthRepo) GetHealth(ctx context.Context, side domain.Side) (*domain.HealthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.states[side]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *mockHealthRepo) CreateHealth(ctx context.Context, h *domain.HealthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.states[h.Side] = &cp
	return nil
}

func (m *mockHealthRepo) UpdateHealth(ctx context.Context, h *domain.HealthState) error {
	return m.CreateHealth(ctx, h)
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (m *mockNotifier) Send(n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockNotifier) kinds() []domain.NotificationKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]domain.NotificationKind, len(m.sent))
	for i, n := range m.sent {
		kinds[i] = n.Kind
	}
	return kinds
}

func (m *mockNotifier) hasKind(kind domain.NotificationKind) bool {
	for _, k := range m.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type mockMarketData struct {
	klines map[string][]domain.Kline
	oi     []decimal.Decimal
	lsr    []decimal.Decimal
	err    error
}

func (m *mockMarketData) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.klines[interval], nil
}

func (m *mockMarketData) OpenInterestHistory(ctx context.Context, symbol, period string, limit int) ([]decimal.Decimal, error) {
	return m.oi, m.err
}

func (m *mockMarketData) LongShortRatio(ctx context.Context, symbol, period string, limit int) ([]decimal.Decimal, error) {
	return m.lsr, m.err
}

// fakeClock is a settable time source for services with injectable now.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
