package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/crypto_trade_spot/internal/config"
	"github.com/vitos/crypto_trade_spot/internal/domain"
	"github.com/vitos/crypto_trade_spot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_spot/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_spot/internal/infrastructure/metrics"
	"github.com/vitos/crypto_trade_spot/internal/infrastructure/notify"
	"github.com/vitos/crypto_trade_spot/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_spot/internal/usecase"
	"github.com/vitos/crypto_trade_spot/internal/web"
	"go.uber.org/zap"
)

type store interface {
	domain.PositionRepository
	domain.TradeRepository
}

func main() {
	// 1. Load Config
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger (console, rotating activity file, live stream)
	hub := logger.NewHub(100)
	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}, hub)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	var positions store
	switch cfg.Storage.Driver {
	case "sqlite":
		sq, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatal("Failed to init sqlite", zap.Error(err))
		}
		defer sq.Close()
		positions = sq
	default:
		js, err := storage.NewJSONStore(cfg.Storage.PositionsFile, cfg.Storage.TradesFile)
		if err != nil {
			log.Fatal("Failed to init json store", zap.Error(err))
		}
		positions = js
	}
	settings := storage.NewSettingsStore(cfg.Storage.SettingsFile, cfg.Storage.EnvFile, log)

	// 4. Init Exchange (Binance spot)
	gateways := exchange.NewBinanceFactory(exchange.BinanceConfig{
		LiveURL:    cfg.Exchange.LiveURL,
		TestnetURL: cfg.Exchange.TestnetURL,
		Timeout:    cfg.Exchange.Timeout,
	}, log)

	// 5. Init Metrics
	prom := metrics.NewPrometheus()

	// 6. Init Notifier
	var notifier domain.Notifier
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		}, log)
		if err != nil {
			log.Error("Telegram disabled", zap.Error(err))
		} else {
			defer tg.Close()
			notifier = tg
		}
	}

	// 7. Init Trading Core
	book := usecase.NewPositionBook(positions, positions, log)
	defer book.Close()
	executor := usecase.NewTradeExecutor(book, cfg.Trading.QuoteAsset, prom, notifier, log)
	bot := usecase.NewBotService(settings, gateways, book, executor, prom, log, usecase.LoopConfig{
		Interval:      cfg.Trading.LoopInterval,
		ErrorCooldown: cfg.Trading.ErrorCooldown,
		KlineInterval: cfg.Trading.KlineInterval,
		QuoteAsset:    cfg.Trading.QuoteAsset,
	})

	// 8. Auto Start
	if cfg.Trading.AutoStart {
		if err := bot.Start(context.Background()); err != nil {
			log.Error("Auto start failed", zap.Error(err))
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 9. Start Server
	server := web.NewServer(cfg.Server.Port, bot, hub, prom.Handler(), log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 10. Wait for Shutdown
	<-stop

	log.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	if bot.IsRunning() {
		if err := bot.Stop(ctx); err != nil {
			log.Error("Bot stop failed", zap.Error(err))
		}
	}
}
