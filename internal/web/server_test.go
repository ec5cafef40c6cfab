package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_spot/internal/domain"
	"github.com/vitos/crypto_trade_spot/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_spot/internal/usecase"
	"github.com/vitos/crypto_trade_spot/internal/web"
	"go.uber.org/zap"
)

type fakeBot struct {
	running  bool
	settings domain.Settings
	manual   []usecase.ManualOrder
	tradeErr error
	closeRes usecase.CloseAllResult
	testMode *bool
	creds    domain.Credentials
	panicOn  string
	startErr error
}

func newFakeBot() *fakeBot {
	s := domain.DefaultSettings()
	s.Credentials = domain.Credentials{TestAPIKey: "tk", TestAPISecret: "super-secret"}
	return &fakeBot{settings: s}
}

func (b *fakeBot) Start(ctx context.Context) error {
	if b.startErr != nil {
		return b.startErr
	}
	if b.running {
		return domain.ErrAlreadyRunning
	}
	b.running = true
	return nil
}

func (b *fakeBot) Stop(ctx context.Context) error {
	if !b.running {
		return domain.ErrNotRunning
	}
	b.running = false
	return nil
}

func (b *fakeBot) IsRunning() bool { return b.running }

func (b *fakeBot) Status(ctx context.Context) (*usecase.StatusSnapshot, error) {
	if b.panicOn == "status" {
		panic("boom")
	}
	return &usecase.StatusSnapshot{
		Running:     b.running,
		Ready:       true,
		Mode:        b.settings.Mode(),
		Balances:    map[string]float64{"USDT": 1000},
		Prices:      map[string]float64{"BTCUSDT": 60000},
		TargetPairs: b.settings.TargetPairs,
	}, nil
}

func (b *fakeBot) Positions(ctx context.Context) (domain.Positions, error) {
	return domain.Positions{"BTCUSDT": {Symbol: "BTCUSDT", Quantity: 0.01, EntryPrice: 60000, TakeProfit: 61200, StopLoss: 59400}}, nil
}

func (b *fakeBot) Trades(ctx context.Context) ([]*domain.TradeRecord, error) {
	return nil, nil
}

func (b *fakeBot) Performance(ctx context.Context) (*usecase.Performance, error) {
	return usecase.ComputePerformance(nil, 0.1), nil
}

func (b *fakeBot) ManualTrade(ctx context.Context, order usecase.ManualOrder) (*domain.TradeRecord, error) {
	if b.tradeErr != nil {
		return nil, b.tradeErr
	}
	b.manual = append(b.manual, order)
	return &domain.TradeRecord{ID: "t1", Symbol: order.Symbol, Side: order.Side, Quantity: order.Quantity, Price: 100}, nil
}

func (b *fakeBot) UpdateTargets(ctx context.Context, symbol string, upd usecase.TargetUpdate) (*domain.Position, error) {
	if symbol != "BTCUSDT" {
		return nil, domain.ErrPositionNotFound
	}
	pos := &domain.Position{Symbol: symbol, Quantity: 1}
	if upd.TakeProfit != nil {
		pos.TakeProfit = *upd.TakeProfit
	}
	return pos, nil
}

func (b *fakeBot) CloseAll(ctx context.Context) (*usecase.CloseAllResult, error) {
	res := b.closeRes
	return &res, nil
}

func (b *fakeBot) GetSettings(ctx context.Context) (*domain.Settings, error) {
	s := b.settings.Clone()
	return &s, nil
}

func (b *fakeBot) UpdateStrategy(ctx context.Context, upd usecase.StrategyUpdate) (*domain.Settings, error) {
	if upd.FastEMAPeriod != nil {
		b.settings.FastEMAPeriod = *upd.FastEMAPeriod
	}
	if err := b.settings.Validate(); err != nil {
		return nil, err
	}
	return b.GetSettings(ctx)
}

func (b *fakeBot) AddPair(ctx context.Context, symbol string) error {
	b.settings.TargetPairs = append(b.settings.TargetPairs, strings.ToUpper(symbol))
	return nil
}

func (b *fakeBot) RemovePair(ctx context.Context, symbol string) error {
	return domain.ErrInvalidSettings
}

func (b *fakeBot) SaveCredentials(ctx context.Context, creds domain.Credentials) error {
	b.creds = creds
	return nil
}

func (b *fakeBot) SetTestMode(ctx context.Context, testMode bool) error {
	b.testMode = &testMode
	return nil
}

func (b *fakeBot) Reconcile(ctx context.Context) (domain.Positions, error) {
	return b.Positions(ctx)
}

func newTestServer(bot web.BotHandle, logs web.LogSource) *web.Server {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bot_running 1\n"))
	})
	return web.NewServer(0, bot, logs, metrics, zap.NewNop())
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, web.Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp web.Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestServer_StartStop(t *testing.T) {
	bot := newFakeBot()
	h := newTestServer(bot, nil).Handler()

	rec, resp := do(t, h, "POST", "/api/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, web.StatusSuccess, resp.Status)

	rec, resp = do(t, h, "POST", "/api/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, web.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "already running")

	rec, _ = do(t, h, "POST", "/api/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, "POST", "/api/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, h, "GET", "/api/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StartWhileStoppingConflicts(t *testing.T) {
	bot := newFakeBot()
	bot.startErr = domain.ErrStopping
	h := newTestServer(bot, nil).Handler()

	rec, resp := do(t, h, "POST", "/api/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, resp.Message, "still stopping")
}

func TestServer_StatusAndLists(t *testing.T) {
	h := newTestServer(newFakeBot(), nil).Handler()

	rec, _ := do(t, h, "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st usecase.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "test", st.Mode)
	assert.Equal(t, 60000.0, st.Prices["BTCUSDT"])

	rec, _ = do(t, h, "GET", "/api/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tp_price":61200`)

	rec, _ = do(t, h, "GET", "/api/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec, _ = do(t, h, "GET", "/api/performance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"win_rate":0`)
}

func TestServer_ManualTrade(t *testing.T) {
	bot := newFakeBot()
	h := newTestServer(bot, nil).Handler()

	rec, resp := do(t, h, "POST", "/api/manual_trade", `{"symbol":"ETHUSDT","side":"BUY","quantity":0.5,"tp_price":4000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, web.StatusSuccess, resp.Status)
	require.Len(t, bot.manual, 1)
	assert.Equal(t, 4000.0, bot.manual[0].TakeProfit)

	rec, _ = do(t, h, "POST", "/api/manual_trade", `{"symbol":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bot.tradeErr = domain.ErrGatewayNotReady
	rec, resp = do(t, h, "POST", "/api/manual_trade", `{"symbol":"ETHUSDT","side":"BUY","quantity":0.5}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, web.StatusError, resp.Status)

	bot.tradeErr = domain.ErrOrderSkipped
	rec, _ = do(t, h, "POST", "/api/manual_trade", `{"symbol":"ETHUSDT","side":"BUY","quantity":0.0000001}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_UpdateTargets(t *testing.T) {
	h := newTestServer(newFakeBot(), nil).Handler()

	rec, resp := do(t, h, "POST", "/api/positions/update", `{"symbol":"BTCUSDT","tp_price":65000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, resp.Message, "BTCUSDT")

	rec, _ = do(t, h, "POST", "/api/positions/update", `{"symbol":"XRPUSDT","sl_price":0.4}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CloseAllMessages(t *testing.T) {
	bot := newFakeBot()
	h := newTestServer(bot, nil).Handler()

	_, resp := do(t, h, "POST", "/api/close_all_positions", "")
	assert.Equal(t, "No open positions", resp.Message)

	bot.closeRes = usecase.CloseAllResult{Closed: 2, Failed: 1}
	_, resp = do(t, h, "POST", "/api/close_all_positions", "")
	assert.Equal(t, web.StatusSuccess, resp.Status)
	assert.Equal(t, "2 positions closed. 1 positions could not be closed.", resp.Message)
}

func TestServer_SettingsHideSecrets(t *testing.T) {
	bot := newFakeBot()
	h := newTestServer(bot, nil).Handler()

	rec, _ := do(t, h, "GET", "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "super-secret")
	assert.Contains(t, body, `"has_test_api_keys":true`)
	assert.Contains(t, body, `"has_live_api_keys":false`)
	assert.Contains(t, body, `"IS_TEST_MODE":true`)
	assert.Contains(t, body, `"TARGET_PAIRS":["BTCUSDT","ETHUSDT"]`)

	rec, _ = do(t, h, "POST", "/api/settings/strategy", `{"fast_ema":40}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, "POST", "/api/settings/api_keys", `{"live_api_key":"lk","live_api_secret":"ls"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lk", bot.creds.LiveAPIKey)
}

func TestServer_TradeModeRequiresBoolean(t *testing.T) {
	bot := newFakeBot()
	h := newTestServer(bot, nil).Handler()

	rec, _ := do(t, h, "POST", "/api/settings/trade_mode", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, h, "POST", "/api/settings/trade_mode", `{"test_mode":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, bot.testMode)

	rec, resp := do(t, h, "POST", "/api/settings/trade_mode", `{"test_mode":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, bot.testMode)
	assert.False(t, *bot.testMode)
	assert.Equal(t, "Switched to live mode", resp.Message)
}

func TestServer_Pairs(t *testing.T) {
	bot := newFakeBot()
	h := newTestServer(bot, nil).Handler()

	rec, _ := do(t, h, "POST", "/api/add_pair", `{"pair":"solusdt"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, bot.settings.TargetPairs, "SOLUSDT")

	rec, _ = do(t, h, "POST", "/api/remove_pair", `{"pair":"XRPUSDT"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RecoversFromPanics(t *testing.T) {
	bot := newFakeBot()
	bot.panicOn = "status"
	h := newTestServer(bot, nil).Handler()

	rec, resp := do(t, h, "GET", "/api/status", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, web.StatusError, resp.Status)
}

func TestServer_Metrics(t *testing.T) {
	h := newTestServer(newFakeBot(), nil).Handler()
	rec, _ := do(t, h, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bot_running 1")
}

func TestServer_LogStream(t *testing.T) {
	hub := logger.NewHub(10)
	_, _ = hub.Write([]byte("2024-01-01 00:00:00\tINFO\tBot started\n"))

	srv := httptest.NewServer(newTestServer(newFakeBot(), hub).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/logs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "Bot started")

	// The backlog arrives after Subscribe, so new lines are not missed.
	_, _ = hub.Write([]byte("2024-01-01 00:00:01\tINFO\tBUY signal\n"))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "BUY signal")
}
