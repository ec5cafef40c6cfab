package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_spot/internal/domain"
	"go.uber.org/zap"
)

const (
	BinanceLiveURL    = "https://api.binance.com"
	BinanceTestnetURL = "https://testnet.binance.vision"
)

type BinanceConfig struct {
	LiveURL    string
	TestnetURL string
	Timeout    time.Duration
}

// BinanceFactory connects spot gateways for the mode and credentials in the settings.
// Lot-size rules are cached across gateways per endpoint.
type BinanceFactory struct {
	cfg    BinanceConfig
	logger *zap.Logger

	mu   sync.Mutex
	lots map[string]*domain.LotSizeRule // baseURL|symbol -> rule
}

func NewBinanceFactory(cfg BinanceConfig, logger *zap.Logger) *BinanceFactory {
	if cfg.LiveURL == "" {
		cfg.LiveURL = BinanceLiveURL
	}
	if cfg.TestnetURL == "" {
		cfg.TestnetURL = BinanceTestnetURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &BinanceFactory{
		cfg:    cfg,
		logger: logger,
		lots:   make(map[string]*domain.LotSizeRule),
	}
}

// Connect validates the credentials with an account call. It never fails;
// problems yield a gateway that is not ready.
func (f *BinanceFactory) Connect(ctx context.Context, settings *domain.Settings) domain.Gateway {
	baseURL := f.cfg.LiveURL
	if settings.TestMode {
		baseURL = f.cfg.TestnetURL
	}
	gw := &BinanceGateway{
		factory:  f,
		baseURL:  baseURL,
		simulate: settings.TestMode,
		logger:   f.logger,
	}

	key, secret := settings.Credentials.Active(settings.TestMode)
	if key == "" || secret == "" {
		f.logger.Warn("API keys missing, exchange client not initialised", zap.String("mode", settings.Mode()))
		return gw
	}

	client := binance.NewClient(key, secret)
	client.BaseURL = baseURL
	client.HTTPClient = &http.Client{Timeout: f.cfg.Timeout}
	gw.client = client

	if _, err := client.NewGetAccountService().Do(ctx); err != nil {
		f.logger.Error("Binance account check failed", zap.String("mode", settings.Mode()), zap.Error(err))
		return gw
	}
	gw.ready = true
	f.logger.Debug("Binance client ready", zap.String("mode", settings.Mode()), zap.String("endpoint", baseURL))
	return gw
}

func (f *BinanceFactory) cachedLot(baseURL, symbol string) (*domain.LotSizeRule, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.lots[baseURL+"|"+symbol]
	return r, ok
}

func (f *BinanceFactory) storeLot(baseURL string, rule *domain.LotSizeRule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lots[baseURL+"|"+rule.Symbol] = rule
}

// BinanceGateway is a spot gateway. In test mode market data comes from the
// testnet and orders are simulated as immediately filled.
type BinanceGateway struct {
	factory  *BinanceFactory
	client   *binance.Client
	baseURL  string
	simulate bool
	ready    bool
	logger   *zap.Logger
}

func (g *BinanceGateway) Ready() bool {
	return g.ready
}

func (g *BinanceGateway) GetTicker(ctx context.Context, symbol string) (float64, error) {
	if !g.ready {
		return 0, domain.ErrGatewayNotReady
	}
	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol != "" && p.Symbol != symbol {
			continue
		}
		return parseFloat(p.Price)
	}
	return 0, fmt.Errorf("%w: ticker %s", domain.ErrNoData, symbol)
}

// GetBalance returns the free balance of asset; an asset not held is 0.
func (g *BinanceGateway) GetBalance(ctx context.Context, asset string) (float64, error) {
	if !g.ready {
		return 0, domain.ErrGatewayNotReady
	}
	acc, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("account: %w", err)
	}
	for _, b := range acc.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return parseFloat(b.Free)
		}
	}
	return 0, nil
}

func (g *BinanceGateway) GetHistoricalBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	if !g.ready {
		return nil, domain.ErrGatewayNotReady
	}
	klines, err := g.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		c := domain.Candle{Time: k.OpenTime}
		for _, f := range []struct {
			dst *float64
			src string
		}{{&c.Open, k.Open}, {&c.High, k.High}, {&c.Low, k.Low}, {&c.Close, k.Close}, {&c.Volume, k.Volume}} {
			v, err := parseFloat(f.src)
			if err != nil {
				return nil, fmt.Errorf("kline %s at %d: %w", symbol, k.OpenTime, err)
			}
			*f.dst = v
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (g *BinanceGateway) GetLotSizeRule(ctx context.Context, symbol string) (*domain.LotSizeRule, error) {
	if !g.ready {
		return nil, domain.ErrGatewayNotReady
	}
	if r, ok := g.factory.cachedLot(g.baseURL, symbol); ok {
		cp := *r
		return &cp, nil
	}

	info, err := g.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info %s: %w", symbol, err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		lot := s.LotSizeFilter()
		if lot == nil {
			break
		}
		step, err := parseFloat(lot.StepSize)
		if err != nil {
			return nil, fmt.Errorf("lot size %s: %w", symbol, err)
		}
		minQty, err := parseFloat(lot.MinQuantity)
		if err != nil {
			return nil, fmt.Errorf("lot size %s: %w", symbol, err)
		}
		rule := &domain.LotSizeRule{Symbol: symbol, StepSize: step, MinQty: minQty}
		g.factory.storeLot(g.baseURL, rule)
		cp := *rule
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: lot size for %s", domain.ErrNoData, symbol)
}

func (g *BinanceGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if !g.ready {
		return nil, domain.ErrGatewayNotReady
	}
	if req.Type == "" {
		req.Type = domain.OrderTypeMarket
	}
	qty := decimal.NewFromFloat(req.Quantity).String()

	if g.simulate {
		g.logger.Info("TEST ORDER",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.String("qty", qty))
		return &domain.OrderResult{
			OrderID:     "test_" + uuid.NewString(),
			Symbol:      req.Symbol,
			Side:        req.Side,
			Status:      domain.OrderStatusFilled,
			ExecutedQty: req.Quantity,
			Simulated:   true,
		}, nil
	}

	g.logger.Info("Sending order",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("qty", qty))
	resp, err := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderType(req.Type)).
		Quantity(qty).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("create order %s %s: %w", req.Side, req.Symbol, err)
	}

	res := &domain.OrderResult{
		OrderID: fmt.Sprintf("%d", resp.OrderID),
		Symbol:  resp.Symbol,
		Side:    req.Side,
		Status:  domain.OrderStatus(resp.Status),
	}
	// Unparseable amounts stay 0; the executor then falls back to the
	// requested quantity and the ticker price.
	executed, err := decimal.NewFromString(resp.ExecutedQuantity)
	if err != nil {
		g.logger.Error("Unparseable executed quantity in order response",
			zap.String("order_id", res.OrderID),
			zap.String("executed_qty", resp.ExecutedQuantity),
			zap.Error(err))
	}
	quote, err := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	if err != nil {
		g.logger.Error("Unparseable quote quantity in order response",
			zap.String("order_id", res.OrderID),
			zap.String("quote_qty", resp.CummulativeQuoteQuantity),
			zap.Error(err))
	}
	res.ExecutedQty = executed.InexactFloat64()
	if executed.IsPositive() && quote.IsPositive() {
		res.AvgPrice = quote.Div(executed).InexactFloat64()
	}
	g.logger.Info("Order accepted",
		zap.String("order_id", res.OrderID),
		zap.String("status", string(res.Status)),
		zap.Float64("executed_qty", res.ExecutedQty),
		zap.Float64("avg_price", res.AvgPrice))
	return res, nil
}

func parseFloat(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}
