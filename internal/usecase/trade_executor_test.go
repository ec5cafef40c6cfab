package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_spot/internal/domain"
	"github.com/vitos/crypto_trade_spot/internal/usecase"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	texts []string
}

func (n *recordingNotifier) Notify(ctx context.Context, text string) error {
	n.texts = append(n.texts, text)
	return nil
}

func newExecutor(t *testing.T) (*usecase.TradeExecutor, *mockGateway, *memPositions, *memTrades) {
	t.Helper()
	book, positions, trades := newBook(t)
	gw := newMockGateway()
	return usecase.NewTradeExecutor(book, "USDT", nil, nil, zap.NewNop()), gw, positions, trades
}

func testSettings() *domain.Settings {
	s := domain.DefaultSettings()
	return &s
}

func TestTradeExecutor_BuySizesFromQuoteBalance(t *testing.T) {
	ex, gw, positions, _ := newExecutor(t)
	gw.SetBalance("USDT", 1000)
	gw.SetPrice("BTCUSDT", 100)

	rec, err := ex.Execute(context.Background(), gw, testSettings(), "BTCUSDT", domain.SideBuy, domain.ReasonStrategy)
	require.NoError(t, err)
	assert.Equal(t, 2.5, rec.Quantity)
	assert.Equal(t, 100.0, rec.Price)

	orders := gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderTypeMarket, orders[0].Type)
	assert.Equal(t, 2.5, orders[0].Quantity)

	pos, ok := positions.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 2.5, pos.Quantity)
}

func TestTradeExecutor_BuyFloorsToStep(t *testing.T) {
	ex, gw, _, _ := newExecutor(t)
	gw.SetBalance("USDT", 100)
	gw.SetPrice("ETHUSDT", 3)
	gw.SetLotSize("ETHUSDT", 0.1, 0.1)

	// 100 * 25% / 3 = 8.333...
	rec, err := ex.Execute(context.Background(), gw, testSettings(), "ETHUSDT", domain.SideBuy, domain.ReasonStrategy)
	require.NoError(t, err)
	assert.InDelta(t, 8.3, rec.Quantity, 1e-9)
}

func TestTradeExecutor_BelowMinimumIsSkipped(t *testing.T) {
	ex, gw, positions, trades := newExecutor(t)
	gw.SetBalance("USDT", 10)
	gw.SetPrice("BTCUSDT", 60000)
	gw.SetLotSize("BTCUSDT", 0.00001, 0.001)

	_, err := ex.Execute(context.Background(), gw, testSettings(), "BTCUSDT", domain.SideBuy, domain.ReasonStrategy)
	assert.ErrorIs(t, err, domain.ErrOrderSkipped)
	assert.Empty(t, gw.Orders())
	assert.Equal(t, 0, trades.Len())
	_, ok := positions.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestTradeExecutor_NotFilledChangesNothing(t *testing.T) {
	ex, gw, positions, trades := newExecutor(t)
	gw.SetBalance("USDT", 1000)
	gw.SetPrice("BTCUSDT", 100)
	gw.SetOrderStatus(domain.OrderStatusExpired)

	_, err := ex.Execute(context.Background(), gw, testSettings(), "BTCUSDT", domain.SideBuy, domain.ReasonStrategy)
	assert.ErrorIs(t, err, domain.ErrOrderNotFilled)
	assert.Len(t, gw.Orders(), 1)
	assert.Equal(t, 0, trades.Len())
	_, ok := positions.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestTradeExecutor_SellUsesRecordedQuantityAndAvgPrice(t *testing.T) {
	ex, gw, positions, trades := newExecutor(t)
	ctx := context.Background()
	gw.SetBalance("USDT", 1000)
	gw.SetPrice("BTCUSDT", 100)

	_, err := ex.Execute(ctx, gw, testSettings(), "BTCUSDT", domain.SideBuy, domain.ReasonStrategy)
	require.NoError(t, err)

	gw.SetPrice("BTCUSDT", 103)
	gw.AvgPrice = 102.5
	rec, err := ex.Execute(ctx, gw, testSettings(), "BTCUSDT", domain.SideSell, domain.ReasonTakeProfit)
	require.NoError(t, err)
	assert.Equal(t, 2.5, rec.Quantity)
	assert.Equal(t, 102.5, rec.Price)
	assert.Equal(t, domain.ReasonTakeProfit, rec.Reason)

	_, ok := positions.Get("BTCUSDT")
	assert.False(t, ok)
	assert.Equal(t, 2, trades.Len())
}

func TestTradeExecutor_SellWithoutPosition(t *testing.T) {
	ex, gw, _, _ := newExecutor(t)
	gw.SetPrice("BTCUSDT", 100)

	_, err := ex.Execute(context.Background(), gw, testSettings(), "BTCUSDT", domain.SideSell, domain.ReasonStopLoss)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
	assert.Empty(t, gw.Orders())
}

func TestTradeExecutor_ExecuteManual(t *testing.T) {
	book, positions, _ := newBook(t)
	notifier := &recordingNotifier{}
	ex := usecase.NewTradeExecutor(book, "USDT", nil, notifier, zap.NewNop())
	gw := newMockGateway()
	gw.SetPrice("SOLUSDT", 20)
	ctx := context.Background()

	_, err := ex.ExecuteManual(ctx, gw, testSettings(), usecase.ManualOrder{Symbol: "SOLUSDT", Side: "HOLD", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = ex.ExecuteManual(ctx, gw, testSettings(), usecase.ManualOrder{Symbol: "SOLUSDT", Side: domain.SideBuy})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	rec, err := ex.ExecuteManual(ctx, gw, testSettings(), usecase.ManualOrder{
		Symbol:     "SOLUSDT",
		Side:       domain.SideBuy,
		Quantity:   1.23456,
		TakeProfit: 30,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.234, rec.Quantity, 1e-9)
	assert.Equal(t, domain.ReasonManual, rec.Reason)

	pos, ok := positions.Get("SOLUSDT")
	require.True(t, ok)
	assert.Equal(t, 30.0, pos.TakeProfit)
	assert.InDelta(t, 19.8, pos.StopLoss, 1e-9)
	assert.True(t, pos.ManualTargets)
	require.Len(t, notifier.texts, 1)
	assert.Contains(t, notifier.texts[0], "SOLUSDT")
}

func TestTradeExecutor_CancelledCallerStillRecordsSentOrder(t *testing.T) {
	ex, gw, positions, trades := newExecutor(t)
	gw.SetPrice("BTCUSDT", 100)
	sent, release := gw.HoldOrders()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		rec *domain.TradeRecord
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := ex.ExecuteManual(ctx, gw, testSettings(), usecase.ManualOrder{Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 1})
		done <- result{rec, err}
	}()

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("order was not sent")
	}
	cancel()
	release()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 1.0, res.rec.Quantity)
	assert.Equal(t, 1, trades.Len())
	_, ok := positions.Get("BTCUSDT")
	assert.True(t, ok)
}
