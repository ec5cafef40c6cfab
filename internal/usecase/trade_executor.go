package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/vitos/crypto_trade_spot/internal/domain"
	"go.uber.org/zap"
)

// ManualOrder is an operator-submitted market order.
type ManualOrder struct {
	Symbol     string      `json:"symbol"`
	Side       domain.Side `json:"side"`
	Quantity   float64     `json:"quantity"`
	TakeProfit float64     `json:"tp_price"`
	StopLoss   float64     `json:"sl_price"`
}

type TradeExecutor struct {
	book       *PositionBook
	quoteAsset string
	metrics    Metrics
	notifier   domain.Notifier
	logger     *zap.Logger
}

func NewTradeExecutor(book *PositionBook, quoteAsset string, metrics Metrics, notifier domain.Notifier, logger *zap.Logger) *TradeExecutor {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &TradeExecutor{
		book:       book,
		quoteAsset: quoteAsset,
		metrics:    metrics,
		notifier:   notifier,
		logger:     logger,
	}
}

// Execute sizes and places a strategy or TP/SL order.
// BUY spends TradeAmountPercent of the free quote balance; SELL closes the whole position.
func (e *TradeExecutor) Execute(ctx context.Context, gw domain.Gateway, settings *domain.Settings, symbol string, side domain.Side, reason string) (*domain.TradeRecord, error) {
	e.logger.Info("Executing order",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("reason", reason),
		zap.String("mode", settings.Mode()))

	price, err := gw.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get price for %s: %w", symbol, err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("get price for %s: %w", symbol, domain.ErrNoData)
	}

	var raw float64
	switch side {
	case domain.SideBuy:
		balance, err := gw.GetBalance(ctx, e.quoteAsset)
		if err != nil {
			return nil, fmt.Errorf("get %s balance: %w", e.quoteAsset, err)
		}
		raw = balance * (settings.TradeAmountPercent / 100) / price
	case domain.SideSell:
		pos, ok, err := e.book.Get(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrPositionNotFound, symbol)
		}
		raw = pos.Quantity
	default:
		return nil, fmt.Errorf("invalid side: %s", side)
	}

	qty, err := e.adjust(ctx, gw, symbol, raw)
	if err != nil {
		e.metrics.ObserveOrder(settings.Mode(), side, OrderSkipped)
		return nil, err
	}

	return e.place(ctx, gw, settings, Fill{
		Symbol:           symbol,
		Side:             side,
		Quantity:         qty,
		Price:            price,
		Reason:           reason,
		DefaultTPPercent: settings.DefaultTPPercent,
		DefaultSLPercent: settings.DefaultSLPercent,
	})
}

// ExecuteManual places an operator order. Position updates follow the same rules as Execute.
func (e *TradeExecutor) ExecuteManual(ctx context.Context, gw domain.Gateway, settings *domain.Settings, order ManualOrder) (*domain.TradeRecord, error) {
	if order.Symbol == "" || order.Quantity <= 0 || !order.Side.Valid() {
		return nil, fmt.Errorf("%w: symbol=%q side=%q qty=%f", domain.ErrInvalidOrder, order.Symbol, order.Side, order.Quantity)
	}

	price, err := gw.GetTicker(ctx, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("get price for %s: %w", order.Symbol, err)
	}

	qty, err := e.adjust(ctx, gw, order.Symbol, order.Quantity)
	if err != nil {
		e.metrics.ObserveOrder(settings.Mode(), order.Side, OrderSkipped)
		return nil, err
	}

	return e.place(ctx, gw, settings, Fill{
		Symbol:           order.Symbol,
		Side:             order.Side,
		Quantity:         qty,
		Price:            price,
		Reason:           domain.ReasonManual,
		TakeProfit:       order.TakeProfit,
		StopLoss:         order.StopLoss,
		DefaultTPPercent: settings.DefaultTPPercent,
		DefaultSLPercent: settings.DefaultSLPercent,
	})
}

func (e *TradeExecutor) adjust(ctx context.Context, gw domain.Gateway, symbol string, raw float64) (float64, error) {
	rule, err := gw.GetLotSizeRule(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("get lot size for %s: %w", symbol, err)
	}
	qty := rule.Adjust(raw)
	if qty <= 0 {
		e.logger.Warn("Order quantity below exchange minimum, order cancelled",
			zap.String("symbol", symbol),
			zap.Float64("requested_qty", raw),
			zap.Float64("step_size", rule.StepSize),
			zap.Float64("min_qty", rule.MinQty))
		return 0, fmt.Errorf("%w: %s qty=%f min=%f", domain.ErrOrderSkipped, symbol, raw, rule.MinQty)
	}
	return qty, nil
}

// place sends a market order and records it only when the exchange reports FILLED.
// fill.Price is the pre-order reference price.
//
// From the order call on, ctx cancellation is ignored: the exchange may fill
// an order whose request was aborted, and that fill must reach the ledger.
// The gateway's HTTP timeout still bounds each call.
func (e *TradeExecutor) place(ctx context.Context, gw domain.Gateway, settings *domain.Settings, fill Fill) (*domain.TradeRecord, error) {
	ctx = context.WithoutCancel(ctx)
	mode := settings.Mode()
	res, err := gw.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:   fill.Symbol,
		Side:     fill.Side,
		Type:     domain.OrderTypeMarket,
		Quantity: fill.Quantity,
	})
	if err != nil {
		e.metrics.ObserveOrder(mode, fill.Side, OrderFailed)
		e.logger.Error("Order failed",
			zap.String("symbol", fill.Symbol),
			zap.String("side", string(fill.Side)),
			zap.Float64("qty", fill.Quantity),
			zap.Error(err))
		return nil, fmt.Errorf("place %s order for %s: %w", fill.Side, fill.Symbol, err)
	}
	if !res.Filled() {
		e.metrics.ObserveOrder(mode, fill.Side, OrderNotFilled)
		e.logger.Error("Order not filled",
			zap.String("symbol", fill.Symbol),
			zap.String("side", string(fill.Side)),
			zap.String("status", string(res.Status)),
			zap.String("order_id", res.OrderID))
		return nil, fmt.Errorf("%w: %s %s status=%s", domain.ErrOrderNotFilled, fill.Side, fill.Symbol, res.Status)
	}
	e.metrics.ObserveOrder(mode, fill.Side, OrderFilled)

	if res.ExecutedQty > 0 {
		fill.Quantity = res.ExecutedQty
	}
	fill.Price = e.fillPrice(ctx, gw, fill.Symbol, res, fill.Price)

	record, err := e.book.RecordFill(ctx, fill)
	if err != nil {
		return record, err
	}

	e.logger.Info("Trade recorded",
		zap.String("trade_id", record.ID),
		zap.String("symbol", record.Symbol),
		zap.String("side", string(record.Side)),
		zap.Float64("qty", record.Quantity),
		zap.Float64("price", record.Price),
		zap.String("reason", record.Reason))

	text := fmt.Sprintf("[%s] %s %s %g @ %g (%s)", mode, record.Side, record.Symbol, record.Quantity, record.Price, record.Reason)
	if err := e.notifier.Notify(ctx, text); err != nil {
		e.logger.Warn("Notification failed", zap.Error(err))
	}
	return record, nil
}

// fillPrice prefers the exchange's average execution price, then a fresh ticker.
func (e *TradeExecutor) fillPrice(ctx context.Context, gw domain.Gateway, symbol string, res *domain.OrderResult, ref float64) float64 {
	if res.AvgPrice > 0 {
		return res.AvgPrice
	}
	price, err := gw.GetTicker(ctx, symbol)
	if err != nil || price <= 0 {
		if !errors.Is(err, context.Canceled) {
			e.logger.Warn("Using pre-order price for fill", zap.String("symbol", symbol), zap.Error(err))
		}
		return ref
	}
	return price
}
