package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vitos/crypto_trade_spot/internal/domain"
	"github.com/vitos/crypto_trade_spot/internal/usecase"
	"go.uber.org/zap"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the envelope of every command endpoint.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// SettingsView is the settings document plus mode and which keys are present.
// Secrets never leave the process.
type SettingsView struct {
	*domain.Settings
	TestMode       bool `json:"IS_TEST_MODE"`
	HasLiveAPIKeys bool `json:"has_live_api_keys"`
	HasTestAPIKeys bool `json:"has_test_api_keys"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) ok(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Message: message, Data: data})
}

// fail maps domain errors to HTTP codes and always answers with the envelope.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalidSettings),
		errors.Is(err, domain.ErrInvalidPeriods),
		errors.Is(err, domain.ErrInvalidOrder):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrPositionNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyRunning), errors.Is(err, domain.ErrNotRunning),
		errors.Is(err, domain.ErrStopping):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrOrderSkipped):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrGatewayNotReady):
		code = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrOrderNotFilled), errors.Is(err, domain.ErrNoData):
		code = http.StatusBadGateway
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error(message, zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.logger.Warn(message, zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, Response{Status: StatusError, Message: fmt.Sprintf("%s: %v", message, err)})
}

var errBadRequest = errors.New("bad request")

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.bot.Start(r.Context()); err != nil {
		s.fail(w, r, "Bot could not be started", err)
		return
	}
	s.ok(w, "Bot started", nil)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.stopTimeout)
	defer cancel()
	if err := s.bot.Stop(ctx); err != nil {
		s.fail(w, r, "Bot could not be stopped", err)
		return
	}
	s.ok(w, "Bot stopped", nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.bot.Status(r.Context())
	if err != nil {
		s.fail(w, r, "Failed to get status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.bot.Positions(r.Context())
	if err != nil {
		s.fail(w, r, "Failed to list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.bot.Trades(r.Context())
	if err != nil {
		s.fail(w, r, "Failed to list trades", err)
		return
	}
	if trades == nil {
		trades = []*domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.bot.Performance(r.Context())
	if err != nil {
		s.fail(w, r, "Failed to compute performance", err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

type targetsRequest struct {
	Symbol     string   `json:"symbol"`
	TakeProfit *float64 `json:"tp_price"`
	StopLoss   *float64 `json:"sl_price"`
}

func (s *Server) handleUpdateTargets(w http.ResponseWriter, r *http.Request) {
	var req targetsRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, "Invalid request", err)
		return
	}
	pos, err := s.bot.UpdateTargets(r.Context(), req.Symbol, usecase.TargetUpdate{TakeProfit: req.TakeProfit, StopLoss: req.StopLoss})
	if err != nil {
		s.fail(w, r, "Failed to update TP/SL", err)
		return
	}
	s.ok(w, fmt.Sprintf("%s TP/SL updated", pos.Symbol), pos)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	positions, err := s.bot.Reconcile(r.Context())
	if err != nil {
		s.fail(w, r, "Failed to rebuild positions", err)
		return
	}
	s.ok(w, fmt.Sprintf("%d positions rebuilt from the trade ledger", len(positions)), positions)
}

func (s *Server) handleManualTrade(w http.ResponseWriter, r *http.Request) {
	var order usecase.ManualOrder
	if err := decode(w, r, &order); err != nil {
		s.fail(w, r, "Invalid order", err)
		return
	}
	rec, err := s.bot.ManualTrade(r.Context(), order)
	if err != nil {
		s.fail(w, r, "Order not executed", err)
		return
	}
	s.ok(w, fmt.Sprintf("%s %s executed", rec.Side, rec.Symbol), rec)
}

func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.bot.CloseAll(r.Context())
	if err != nil {
		s.fail(w, r, "Failed to close positions", err)
		return
	}
	if res.Closed == 0 && res.Failed == 0 {
		s.ok(w, "No open positions", res)
		return
	}
	msg := fmt.Sprintf("%d positions closed.", res.Closed)
	if res.Failed > 0 {
		msg += fmt.Sprintf(" %d positions could not be closed.", res.Failed)
	}
	s.ok(w, msg, res)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.bot.GetSettings(r.Context())
	if err != nil {
		s.fail(w, r, "Failed to load settings", err)
		return
	}
	c := settings.Credentials
	writeJSON(w, http.StatusOK, SettingsView{
		Settings:       settings,
		TestMode:       settings.TestMode,
		HasLiveAPIKeys: c.LiveAPIKey != "" && c.LiveAPISecret != "",
		HasTestAPIKeys: c.TestAPIKey != "" && c.TestAPISecret != "",
	})
}

func (s *Server) handleSaveStrategy(w http.ResponseWriter, r *http.Request) {
	var upd usecase.StrategyUpdate
	if err := decode(w, r, &upd); err != nil {
		s.fail(w, r, "Invalid settings", err)
		return
	}
	settings, err := s.bot.UpdateStrategy(r.Context(), upd)
	if err != nil {
		s.fail(w, r, "Settings not saved", err)
		return
	}
	s.ok(w, "Strategy settings saved", settings)
}

type apiKeysRequest struct {
	LiveAPIKey    string `json:"live_api_key"`
	LiveAPISecret string `json:"live_api_secret"`
	TestAPIKey    string `json:"test_api_key"`
	TestAPISecret string `json:"test_api_secret"`
}

func (s *Server) handleSaveAPIKeys(w http.ResponseWriter, r *http.Request) {
	var req apiKeysRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, "Invalid API keys", err)
		return
	}
	err := s.bot.SaveCredentials(r.Context(), domain.Credentials{
		LiveAPIKey:    req.LiveAPIKey,
		LiveAPISecret: req.LiveAPISecret,
		TestAPIKey:    req.TestAPIKey,
		TestAPISecret: req.TestAPISecret,
	})
	if err != nil {
		s.fail(w, r, "API keys not saved", err)
		return
	}
	s.ok(w, "API keys saved", nil)
}

func (s *Server) handleTradeMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TestMode *bool `json:"test_mode"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, "Invalid mode", err)
		return
	}
	if req.TestMode == nil {
		s.fail(w, r, "Invalid mode", fmt.Errorf("%w: test_mode must be a boolean", errBadRequest))
		return
	}
	if err := s.bot.SetTestMode(r.Context(), *req.TestMode); err != nil {
		s.fail(w, r, "Mode not saved", err)
		return
	}
	if *req.TestMode {
		s.ok(w, "Switched to test mode", nil)
		return
	}
	s.ok(w, "Switched to live mode", nil)
}

type pairRequest struct {
	Pair string `json:"pair"`
}

func (s *Server) handleAddPair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, "Invalid pair", err)
		return
	}
	if err := s.bot.AddPair(r.Context(), req.Pair); err != nil {
		s.fail(w, r, "Pair not added", err)
		return
	}
	s.ok(w, fmt.Sprintf("%s added", req.Pair), nil)
}

func (s *Server) handleRemovePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, "Invalid pair", err)
		return
	}
	if err := s.bot.RemovePair(r.Context(), req.Pair); err != nil {
		s.fail(w, r, "Pair not removed", err)
		return
	}
	s.ok(w, fmt.Sprintf("%s removed", req.Pair), nil)
}
