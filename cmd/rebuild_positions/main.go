package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vitos/crypto_trade_spot/internal/config"
	"github.com/vitos/crypto_trade_spot/internal/domain"
	"github.com/vitos/crypto_trade_spot/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_spot/internal/usecase"
	"go.uber.org/zap"
)

// rebuild_positions replays the trade ledger into the position store. Run it
// with the bot stopped.
func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var (
		positions domain.PositionRepository
		trades    domain.TradeRepository
	)
	if cfg.Storage.Driver == "sqlite" {
		store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			fmt.Printf("Failed to init sqlite: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		positions, trades = store, store
	} else {
		store, err := storage.NewJSONStore(cfg.Storage.PositionsFile, cfg.Storage.TradesFile)
		if err != nil {
			fmt.Printf("Failed to init json store: %v\n", err)
			os.Exit(1)
		}
		positions, trades = store, store
	}

	ctx := context.Background()
	settings, err := storage.NewSettingsStore(cfg.Storage.SettingsFile, cfg.Storage.EnvFile, zap.NewNop()).Load(ctx)
	if err != nil {
		fmt.Printf("Failed to load settings: %v\n", err)
		os.Exit(1)
	}

	book := usecase.NewPositionBook(positions, trades, zap.NewNop())
	defer book.Close()

	rebuilt, err := book.Reconcile(ctx, settings.DefaultTPPercent, settings.DefaultSLPercent)
	if err != nil {
		fmt.Printf("Failed to rebuild positions: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Rebuilt %d positions:\n", len(rebuilt))
	for _, symbol := range rebuilt.Symbols() {
		p := rebuilt[symbol]
		fmt.Printf("- %s qty=%f entry=%f tp=%f sl=%f\n", symbol, p.Quantity, p.EntryPrice, p.TakeProfit, p.StopLoss)
	}
}
