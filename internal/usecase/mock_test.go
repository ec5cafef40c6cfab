package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vitos/crypto_trade_spot/internal/domain"
)

type mockGateway struct {
	mu sync.Mutex

	NotReady    bool
	prices      map[string]float64
	balances    map[string]float64
	closes      map[string][]float64
	lots        map[string]*domain.LotSizeRule
	OrderStatus domain.OrderStatus
	AvgPrice    float64
	OrderErr    error
	BarsErr     error
	BarsPanic   bool

	// orderGate, when set, holds PlaceOrder after the order reached the
	// exchange until the gate is closed or ctx is done.
	orderGate chan struct{}
	orderSent chan struct{}

	orders        []domain.OrderRequest
	lastBarsLimit int
	barsCalls     int
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		prices:      make(map[string]float64),
		balances:    make(map[string]float64),
		closes:      make(map[string][]float64),
		lots:        make(map[string]*domain.LotSizeRule),
		OrderStatus: domain.OrderStatusFilled,
	}
}

func (m *mockGateway) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *mockGateway) SetBalance(asset string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = amount
}

func (m *mockGateway) SetCloses(symbol string, closes []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes[symbol] = closes
}

func (m *mockGateway) SetLotSize(symbol string, step, minQty float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[symbol] = &domain.LotSizeRule{Symbol: symbol, StepSize: step, MinQty: minQty}
}

func (m *mockGateway) SetOrderStatus(status domain.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OrderStatus = status
}

// HoldOrders makes PlaceOrder block once the order is sent. The returned
// channel receives once per order sent; closing release lets orders complete.
func (m *mockGateway) HoldOrders() (sent <-chan struct{}, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderGate = make(chan struct{})
	m.orderSent = make(chan struct{}, 16)
	gate := m.orderGate
	var once sync.Once
	return m.orderSent, func() { once.Do(func() { close(gate) }) }
}

func (m *mockGateway) SetBarsPanic(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BarsPanic = v
}

func (m *mockGateway) BarsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.barsCalls
}

func (m *mockGateway) Orders() []domain.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OrderRequest(nil), m.orders...)
}

func (m *mockGateway) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.NotReady
}

func (m *mockGateway) GetTicker(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: ticker %s", domain.ErrNoData, symbol)
	}
	return p, nil
}

func (m *mockGateway) GetBalance(ctx context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[asset], nil
}

func (m *mockGateway) GetHistoricalBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBarsLimit = limit
	m.barsCalls++
	if m.BarsPanic {
		panic("bars feed exploded")
	}
	if m.BarsErr != nil {
		return nil, m.BarsErr
	}
	closes := m.closes[symbol]
	if len(closes) > limit {
		closes = closes[len(closes)-limit:]
	}
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{Time: int64(i), Open: c, High: c, Low: c, Close: c}
	}
	return out, nil
}

func (m *mockGateway) GetLotSizeRule(ctx context.Context, symbol string) (*domain.LotSizeRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.lots[symbol]; ok {
		cp := *r
		return &cp, nil
	}
	return &domain.LotSizeRule{Symbol: symbol, StepSize: 0.001, MinQty: 0.001}, nil
}

func (m *mockGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	m.mu.Lock()
	m.orders = append(m.orders, req)
	gate, sent := m.orderGate, m.orderSent
	m.mu.Unlock()

	if gate != nil {
		sent <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OrderErr != nil {
		return nil, m.OrderErr
	}
	res := &domain.OrderResult{
		OrderID: fmt.Sprintf("mock-%d", len(m.orders)),
		Symbol:  req.Symbol,
		Side:    req.Side,
		Status:  m.OrderStatus,
	}
	if res.Status == domain.OrderStatusFilled {
		res.ExecutedQty = req.Quantity
		res.AvgPrice = m.AvgPrice
	}
	return res, nil
}

type mockFactory struct {
	mu       sync.Mutex
	gw       *mockGateway
	connects int
}

func (f *mockFactory) Connect(ctx context.Context, settings *domain.Settings) domain.Gateway {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.gw
}

type memPositions struct {
	mu        sync.Mutex
	positions domain.Positions
	SaveErr   error
}

func newMemPositions() *memPositions {
	return &memPositions{positions: make(domain.Positions)}
}

func (r *memPositions) LoadPositions(ctx context.Context) (domain.Positions, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positions.Clone(), nil
}

func (r *memPositions) SavePositions(ctx context.Context, positions domain.Positions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.positions = positions.Clone()
	return nil
}

func (r *memPositions) Get(symbol string) (*domain.Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[symbol]
	return p, ok
}

type memTrades struct {
	mu     sync.Mutex
	trades []*domain.TradeRecord
}

func (r *memTrades) AppendTrade(ctx context.Context, trade *domain.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *trade
	r.trades = append(r.trades, &cp)
	return nil
}

func (r *memTrades) ListTrades(ctx context.Context) ([]*domain.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.TradeRecord, len(r.trades))
	copy(out, r.trades)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *memTrades) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

type memSettings struct {
	mu        sync.Mutex
	settings  domain.Settings
	LoadErr   error
	loadFails int
}

func newMemSettings() *memSettings {
	return &memSettings{settings: domain.DefaultSettings()}
}

func (r *memSettings) Update(fn func(s *domain.Settings)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.settings)
}

func (r *memSettings) SetLoadErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LoadErr = err
}

func (r *memSettings) LoadFails() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadFails
}

func (r *memSettings) Load(ctx context.Context) (*domain.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.LoadErr != nil {
		r.loadFails++
		return nil, r.LoadErr
	}
	cp := r.settings.Clone()
	return &cp, nil
}

func (r *memSettings) SaveStrategy(ctx context.Context, settings *domain.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	creds, testMode := r.settings.Credentials, r.settings.TestMode
	r.settings = settings.Clone()
	r.settings.Credentials, r.settings.TestMode = creds, testMode
	return nil
}

func (r *memSettings) SaveCredentials(ctx context.Context, creds domain.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings.Credentials = creds
	return nil
}

func (r *memSettings) SaveTestMode(ctx context.Context, testMode bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings.TestMode = testMode
	return nil
}

var errDisk = errors.New("disk full")
