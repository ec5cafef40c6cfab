package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_spot/internal/domain"
	"go.uber.org/zap"
)

type LoopConfig struct {
	Interval      time.Duration
	ErrorCooldown time.Duration
	KlineInterval string
	QuoteAsset    string
}

func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Interval:      30 * time.Second,
		ErrorCooldown: 30 * time.Second,
		KlineInterval: "1h",
		QuoteAsset:    "USDT",
	}
}

// StatusSnapshot is what the dashboard polls.
type StatusSnapshot struct {
	Running     bool               `json:"running"`
	Ready       bool               `json:"ready"`
	Mode        string             `json:"mode"`
	Balances    map[string]float64 `json:"balances"`
	Prices      map[string]float64 `json:"prices"`
	TargetPairs []string           `json:"target_pairs"`
}

// StrategyUpdate carries the strategy fields an operator may change. Nil fields are kept.
type StrategyUpdate struct {
	FastEMAPeriod      *int     `json:"fast_ema"`
	SlowEMAPeriod      *int     `json:"slow_ema"`
	TradeAmountPercent *float64 `json:"trade_percent"`
	DefaultTPPercent   *float64 `json:"default_tp"`
	DefaultSLPercent   *float64 `json:"default_sl"`
	FeePercent         *float64 `json:"fee_percent"`
}

type CloseAllResult struct {
	Closed int `json:"closed"`
	Failed int `json:"failed"`
}

// BotService runs the trading loop and serves the operator commands.
type BotService struct {
	settings domain.SettingsRepository
	gateways domain.GatewayFactory
	book     *PositionBook
	executor *TradeExecutor
	metrics  Metrics
	logger   *zap.Logger
	cfg      LoopConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	gateway domain.Gateway
}

func NewBotService(
	settings domain.SettingsRepository,
	gateways domain.GatewayFactory,
	book *PositionBook,
	executor *TradeExecutor,
	metrics Metrics,
	logger *zap.Logger,
	cfg LoopConfig,
) *BotService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &BotService{
		settings: settings,
		gateways: gateways,
		book:     book,
		executor: executor,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

func (s *BotService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start validates the configuration, connects and launches the loop.
// The loop outlives ctx; only Stop ends it.
func (s *BotService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return domain.ErrAlreadyRunning
	}
	// The previous loop may still be finishing an order after Stop returned early.
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return domain.ErrStopping
		}
	}

	settings, err := s.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	s.gateway = s.gateways.Connect(ctx, settings)
	if !s.gateway.Ready() {
		s.logger.Warn("Exchange gateway not ready at start; the loop will keep retrying",
			zap.String("mode", settings.Mode()))
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.metrics.SetRunning(true)

	s.logger.Info("Bot started",
		zap.String("mode", settings.Mode()),
		zap.Strings("pairs", settings.TargetPairs),
		zap.Int("fast_ema", settings.FastEMAPeriod),
		zap.Int("slow_ema", settings.SlowEMAPeriod))

	go s.run(loopCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for it to exit, bounded by ctx.
// A command already handed to the position book still completes.
func (s *BotService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return domain.ErrNotRunning
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	s.metrics.SetRunning(false)
	select {
	case <-done:
		s.logger.Info("Bot stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for loop exit: %w", ctx.Err())
	}
}

func (s *BotService) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		wait := s.cfg.Interval
		if err := s.safeIteration(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.ObserveIteration(IterationError)
			s.logger.Error("Iteration failed, backing off",
				zap.Duration("cooldown", s.cfg.ErrorCooldown),
				zap.Error(err))
			wait = s.cfg.ErrorCooldown
		}
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

func (s *BotService) safeIteration(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panic: %v", r)
		}
	}()
	return s.iteration(ctx)
}

func (s *BotService) iteration(ctx context.Context) error {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	evaluator, err := NewSignalEvaluator(settings.FastEMAPeriod, settings.SlowEMAPeriod)
	if err != nil {
		return err
	}

	gw := s.gateways.Connect(ctx, settings)
	s.setGateway(gw)
	if !gw.Ready() {
		s.metrics.ObserveIteration(IterationNotReady)
		s.logger.Warn("Exchange gateway not ready, skipping iteration", zap.String("mode", settings.Mode()))
		return nil
	}

	s.sweepTargets(ctx, gw, settings)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.scanEntries(ctx, gw, settings, evaluator)

	s.metrics.ObserveIteration(IterationOK)
	return nil
}

// CheckTargets returns the exit reason for pos at price, or "" to hold.
// Take-profit is checked first; a zero target is disabled.
func CheckTargets(pos *domain.Position, price float64) string {
	if pos.TakeProfit > 0 && price >= pos.TakeProfit {
		return domain.ReasonTakeProfit
	}
	if pos.StopLoss > 0 && price <= pos.StopLoss {
		return domain.ReasonStopLoss
	}
	return ""
}

func (s *BotService) sweepTargets(ctx context.Context, gw domain.Gateway, settings *domain.Settings) {
	positions, err := s.book.Snapshot(ctx)
	if err != nil {
		s.logger.Error("Failed to load positions for TP/SL check", zap.Error(err))
		return
	}
	s.metrics.SetOpenPositions(len(positions))

	for _, symbol := range positions.Symbols() {
		if ctx.Err() != nil {
			return
		}
		pos := positions[symbol]
		price, err := gw.GetTicker(ctx, symbol)
		if err != nil {
			s.logger.Warn("No price for open position", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		reason := CheckTargets(pos, price)
		if reason == "" {
			continue
		}
		s.metrics.ObserveTrigger(reason)
		s.logger.Info("Exit target reached",
			zap.String("symbol", symbol),
			zap.String("reason", reason),
			zap.Float64("price", price),
			zap.Float64("tp", pos.TakeProfit),
			zap.Float64("sl", pos.StopLoss))
		if _, err := s.executor.Execute(ctx, gw, settings, symbol, domain.SideSell, reason); err != nil {
			s.logger.Error("Exit order failed; position kept", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func (s *BotService) scanEntries(ctx context.Context, gw domain.Gateway, settings *domain.Settings, evaluator *SignalEvaluator) {
	positions, err := s.book.Snapshot(ctx)
	if err != nil {
		s.logger.Error("Failed to load positions for entry scan", zap.Error(err))
		return
	}

	for _, symbol := range settings.TargetPairs {
		if ctx.Err() != nil {
			return
		}
		if _, held := positions[symbol]; held {
			continue
		}
		signal, err := evaluator.Analyze(ctx, gw, symbol, s.cfg.KlineInterval)
		if err != nil {
			s.logger.Warn("Signal analysis failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		s.metrics.ObserveSignal(symbol, signal)
		if signal != SignalBuy {
			continue
		}
		s.logger.Info("BUY signal", zap.String("symbol", symbol))
		if _, err := s.executor.Execute(ctx, gw, settings, symbol, domain.SideBuy, domain.ReasonStrategy); err != nil {
			s.logger.Warn("Entry order not placed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func (s *BotService) setGateway(gw domain.Gateway) {
	s.mu.Lock()
	s.gateway = gw
	s.mu.Unlock()
}

// ensureGateway returns the loop's gateway when it is ready, else connects a fresh one.
func (s *BotService) ensureGateway(ctx context.Context, settings *domain.Settings) (domain.Gateway, error) {
	s.mu.Lock()
	gw := s.gateway
	s.mu.Unlock()
	if gw != nil && gw.Ready() {
		return gw, nil
	}
	gw = s.gateways.Connect(ctx, settings)
	if !gw.Ready() {
		return nil, domain.ErrGatewayNotReady
	}
	s.setGateway(gw)
	return gw, nil
}

func (s *BotService) Status(ctx context.Context) (*StatusSnapshot, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	st := &StatusSnapshot{
		Running:     s.IsRunning(),
		Mode:        settings.Mode(),
		Balances:    map[string]float64{s.cfg.QuoteAsset: 0},
		Prices:      make(map[string]float64),
		TargetPairs: settings.TargetPairs,
	}

	gw, err := s.ensureGateway(ctx, settings)
	if err != nil {
		return st, nil
	}
	st.Ready = true

	assets := []string{s.cfg.QuoteAsset}
	for _, pair := range settings.TargetPairs {
		if base := domain.BaseAsset(pair, s.cfg.QuoteAsset); base != pair {
			assets = append(assets, base)
		}
	}
	for _, asset := range assets {
		bal, err := gw.GetBalance(ctx, asset)
		if err != nil {
			s.logger.Warn("Balance unavailable", zap.String("asset", asset), zap.Error(err))
			continue
		}
		st.Balances[asset] = bal
	}
	for _, pair := range settings.TargetPairs {
		price, err := gw.GetTicker(ctx, pair)
		if err != nil {
			s.logger.Warn("Price unavailable", zap.String("symbol", pair), zap.Error(err))
			continue
		}
		st.Prices[pair] = price
	}
	return st, nil
}

func (s *BotService) Positions(ctx context.Context) (domain.Positions, error) {
	return s.book.Snapshot(ctx)
}

// Trades returns the ledger newest first.
func (s *BotService) Trades(ctx context.Context) ([]*domain.TradeRecord, error) {
	trades, err := s.book.Trades(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.TradeRecord, len(trades))
	copy(out, trades)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (s *BotService) Performance(ctx context.Context) (*Performance, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	trades, err := s.book.Trades(ctx)
	if err != nil {
		return nil, err
	}
	return ComputePerformance(trades, settings.FeePercent), nil
}

func (s *BotService) ManualTrade(ctx context.Context, order ManualOrder) (*domain.TradeRecord, error) {
	order.Symbol = strings.ToUpper(strings.TrimSpace(order.Symbol))
	order.Side = domain.Side(strings.ToUpper(string(order.Side)))

	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	gw, err := s.ensureGateway(ctx, settings)
	if err != nil {
		return nil, err
	}
	return s.executor.ExecuteManual(ctx, gw, settings, order)
}

func (s *BotService) UpdateTargets(ctx context.Context, symbol string, upd TargetUpdate) (*domain.Position, error) {
	return s.book.UpdateTargets(ctx, strings.ToUpper(symbol), upd)
}

// CloseAll sells every open position one by one. Failures are counted, not fatal,
// and a position whose sell did not fill stays recorded.
func (s *BotService) CloseAll(ctx context.Context) (*CloseAllResult, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	positions, err := s.book.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	res := &CloseAllResult{}
	if len(positions) == 0 {
		return res, nil
	}
	gw, err := s.ensureGateway(ctx, settings)
	if err != nil {
		return nil, err
	}

	for _, symbol := range positions.Symbols() {
		if _, err := s.executor.Execute(ctx, gw, settings, symbol, domain.SideSell, domain.ReasonCloseAll); err != nil {
			res.Failed++
			s.logger.Error("Close failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		res.Closed++
	}
	s.logger.Info("Close all finished", zap.Int("closed", res.Closed), zap.Int("failed", res.Failed))
	return res, nil
}

func (s *BotService) GetSettings(ctx context.Context) (*domain.Settings, error) {
	return s.settings.Load(ctx)
}

func (s *BotService) UpdateStrategy(ctx context.Context, upd StrategyUpdate) (*domain.Settings, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if upd.FastEMAPeriod != nil {
		settings.FastEMAPeriod = *upd.FastEMAPeriod
	}
	if upd.SlowEMAPeriod != nil {
		settings.SlowEMAPeriod = *upd.SlowEMAPeriod
	}
	if upd.TradeAmountPercent != nil {
		settings.TradeAmountPercent = *upd.TradeAmountPercent
	}
	if upd.DefaultTPPercent != nil {
		settings.DefaultTPPercent = *upd.DefaultTPPercent
	}
	if upd.DefaultSLPercent != nil {
		settings.DefaultSLPercent = *upd.DefaultSLPercent
	}
	if upd.FeePercent != nil {
		settings.FeePercent = *upd.FeePercent
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := s.settings.SaveStrategy(ctx, settings); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return settings, nil
}

// AddPair adds symbol to the target pairs after checking the exchange quotes it.
func (s *BotService) AddPair(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if symbol == "" || settings.HasPair(symbol) {
		return fmt.Errorf("%w: pair %q is empty or already configured", domain.ErrInvalidSettings, symbol)
	}
	gw, err := s.ensureGateway(ctx, settings)
	if err != nil {
		return err
	}
	if _, err := gw.GetTicker(ctx, symbol); err != nil {
		return fmt.Errorf("%s not found on exchange: %w", symbol, err)
	}
	settings.TargetPairs = append(settings.TargetPairs, symbol)
	if err := s.settings.SaveStrategy(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.logger.Info("Pair added", zap.String("symbol", symbol))
	return nil
}

func (s *BotService) RemovePair(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	kept := settings.TargetPairs[:0]
	for _, p := range settings.TargetPairs {
		if p != symbol {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(settings.TargetPairs) {
		return fmt.Errorf("%w: pair %q not configured", domain.ErrInvalidSettings, symbol)
	}
	settings.TargetPairs = kept
	if err := s.settings.SaveStrategy(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.logger.Info("Pair removed", zap.String("symbol", symbol))
	return nil
}

// SaveCredentials stores new API keys. The running loop picks them up next iteration.
func (s *BotService) SaveCredentials(ctx context.Context, creds domain.Credentials) error {
	if err := s.settings.SaveCredentials(ctx, creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	s.setGateway(nil)
	return nil
}

func (s *BotService) SetTestMode(ctx context.Context, testMode bool) error {
	if err := s.settings.SaveTestMode(ctx, testMode); err != nil {
		return fmt.Errorf("save trade mode: %w", err)
	}
	s.setGateway(nil)
	mode := "live"
	if testMode {
		mode = "test"
	}
	s.logger.Info("Trade mode changed", zap.String("mode", mode))
	return nil
}

// Reconcile rebuilds the position store from the trade ledger.
func (s *BotService) Reconcile(ctx context.Context) (domain.Positions, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return s.book.Reconcile(ctx, settings.DefaultTPPercent, settings.DefaultSLPercent)
}

// sleepCtx waits d or until ctx is done. It reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// IsConfigError reports whether err means the operator must fix the settings.
func IsConfigError(err error) bool {
	return errors.Is(err, domain.ErrInvalidPeriods) || errors.Is(err, domain.ErrInvalidSettings)
}
