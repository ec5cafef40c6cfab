package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the static process configuration. Strategy settings live in the
// settings document and may change at runtime; this does not.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"logging"`
	Storage struct {
		Driver        string `yaml:"driver"` // json | sqlite
		PositionsFile string `yaml:"positions_file"`
		TradesFile    string `yaml:"trades_file"`
		SQLitePath    string `yaml:"sqlite_path"`
		SettingsFile  string `yaml:"settings_file"`
		EnvFile       string `yaml:"env_file"`
	} `yaml:"storage"`
	Exchange struct {
		LiveURL    string        `yaml:"live_url"`
		TestnetURL string        `yaml:"testnet_url"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"exchange"`
	Trading struct {
		QuoteAsset    string        `yaml:"quote_asset"`
		KlineInterval string        `yaml:"kline_interval"`
		LoopInterval  time.Duration `yaml:"loop_interval"`
		ErrorCooldown time.Duration `yaml:"error_cooldown"`
		AutoStart     bool          `yaml:"auto_start"`
	} `yaml:"trading"`
	Telegram struct {
		Enabled bool   `yaml:"enabled"`
		Token   string `yaml:"token"`
		ChatID  int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
}

func Default() *Config {
	var c Config
	c.Server.Port = 5000
	c.Logging.Level = "info"
	c.Logging.File = "logs/activity.log"
	c.Logging.MaxSizeMB = 5
	c.Logging.MaxBackups = 2
	c.Storage.Driver = "json"
	c.Storage.PositionsFile = "data/positions.json"
	c.Storage.TradesFile = "data/trades.json"
	c.Storage.SQLitePath = "data/bot.db"
	c.Storage.SettingsFile = "data/settings.json"
	c.Storage.EnvFile = ".env"
	c.Exchange.LiveURL = "https://api.binance.com"
	c.Exchange.TestnetURL = "https://testnet.binance.vision"
	c.Exchange.Timeout = 10 * time.Second
	c.Trading.QuoteAsset = "USDT"
	c.Trading.KlineInterval = "1h"
	c.Trading.LoopInterval = 30 * time.Second
	c.Trading.ErrorCooldown = 30 * time.Second
	return &c
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Trading.LoopInterval <= 0 || c.Trading.ErrorCooldown <= 0 {
		return fmt.Errorf("loop interval and error cooldown must be positive")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram enabled without token or chat_id")
	}
	return nil
}
