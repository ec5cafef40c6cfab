package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/crypto_trade_spot/internal/domain"
	"github.com/vitos/crypto_trade_spot/internal/usecase"
	"go.uber.org/zap"
)

// BotHandle is the operator surface of the bot.
type BotHandle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	Status(ctx context.Context) (*usecase.StatusSnapshot, error)
	Positions(ctx context.Context) (domain.Positions, error)
	Trades(ctx context.Context) ([]*domain.TradeRecord, error)
	Performance(ctx context.Context) (*usecase.Performance, error)
	ManualTrade(ctx context.Context, order usecase.ManualOrder) (*domain.TradeRecord, error)
	UpdateTargets(ctx context.Context, symbol string, upd usecase.TargetUpdate) (*domain.Position, error)
	CloseAll(ctx context.Context) (*usecase.CloseAllResult, error)
	GetSettings(ctx context.Context) (*domain.Settings, error)
	UpdateStrategy(ctx context.Context, upd usecase.StrategyUpdate) (*domain.Settings, error)
	AddPair(ctx context.Context, symbol string) error
	RemovePair(ctx context.Context, symbol string) error
	SaveCredentials(ctx context.Context, creds domain.Credentials) error
	SetTestMode(ctx context.Context, testMode bool) error
	Reconcile(ctx context.Context) (domain.Positions, error)
}

// LogSource streams activity log lines.
type LogSource interface {
	Subscribe() (recent []string, lines <-chan string, cancel func())
}

type Server struct {
	router  *http.ServeMux
	server  *http.Server
	bot     BotHandle
	logs    LogSource
	metrics http.Handler
	logger  *zap.Logger

	stopTimeout time.Duration
}

func NewServer(
	port int,
	bot BotHandle,
	logs LogSource,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:      http.NewServeMux(),
		bot:         bot,
		logs:        logs,
		metrics:     metrics,
		logger:      logger,
		stopTimeout: 45 * time.Second,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.recoverer(s.router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes() {
	// Control
	s.router.HandleFunc("POST /api/start", s.handleStart)
	s.router.HandleFunc("POST /api/stop", s.handleStop)

	// Status
	s.router.HandleFunc("GET /api/status", s.handleStatus)
	s.router.HandleFunc("GET /api/logs", s.handleLogs)

	// Positions and trades
	s.router.HandleFunc("GET /api/positions", s.handlePositions)
	s.router.HandleFunc("POST /api/positions/update", s.handleUpdateTargets)
	s.router.HandleFunc("POST /api/positions/reconcile", s.handleReconcile)
	s.router.HandleFunc("GET /api/trades", s.handleTrades)
	s.router.HandleFunc("GET /api/performance", s.handlePerformance)
	s.router.HandleFunc("POST /api/manual_trade", s.handleManualTrade)
	s.router.HandleFunc("POST /api/close_all_positions", s.handleCloseAll)

	// Settings
	s.router.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.router.HandleFunc("POST /api/settings/strategy", s.handleSaveStrategy)
	s.router.HandleFunc("POST /api/settings/api_keys", s.handleSaveAPIKeys)
	s.router.HandleFunc("POST /api/settings/trade_mode", s.handleTradeMode)
	s.router.HandleFunc("POST /api/add_pair", s.handleAddPair)
	s.router.HandleFunc("POST /api/remove_pair", s.handleRemovePair)

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Handler panic", zap.String("path", r.URL.Path), zap.Any("panic", rec))
				writeJSON(w, http.StatusInternalServerError, Response{Status: StatusError, Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
