package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vitos/crypto_trade_spot/internal/config"
	"github.com/vitos/crypto_trade_spot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_spot/internal/infrastructure/storage"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	settings, err := storage.NewSettingsStore(cfg.Storage.SettingsFile, cfg.Storage.EnvFile, zap.NewNop()).Load(ctx)
	if err != nil {
		fmt.Printf("Failed to load settings: %v\n", err)
		os.Exit(1)
	}

	factory := exchange.NewBinanceFactory(exchange.BinanceConfig{
		LiveURL:    cfg.Exchange.LiveURL,
		TestnetURL: cfg.Exchange.TestnetURL,
		Timeout:    cfg.Exchange.Timeout,
	}, zap.NewNop())

	fmt.Printf("Testing Binance interaction (%s mode)...\n", settings.Mode())
	if key, _ := settings.Credentials.Active(settings.TestMode); len(key) >= 4 {
		fmt.Printf("API Key: %s...\n", key[:4])
	}

	// 2. Check Credentials
	gw := factory.Connect(ctx, settings)
	if !gw.Ready() {
		fmt.Printf("❌ Exchange client not ready (missing or rejected API keys)\n")
		os.Exit(1)
	}
	fmt.Printf("✅ Account reachable\n")

	// 3. Check Balance
	if bal, err := gw.GetBalance(ctx, cfg.Trading.QuoteAsset); err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
	} else {
		fmt.Printf("✅ %s balance: %f\n", cfg.Trading.QuoteAsset, bal)
	}

	// 4. Check Market Data per pair
	for _, pair := range settings.TargetPairs {
		price, err := gw.GetTicker(ctx, pair)
		if err != nil {
			fmt.Printf("❌ %s price: %v\n", pair, err)
			continue
		}
		lot, err := gw.GetLotSizeRule(ctx, pair)
		if err != nil {
			fmt.Printf("❌ %s lot size: %v\n", pair, err)
			continue
		}
		fmt.Printf("✅ %s price=%f step=%g min_qty=%g\n", pair, price, lot.StepSize, lot.MinQty)
	}
}
