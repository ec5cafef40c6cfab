package domain

import (
	"fmt"
	"strings"
)

// Settings is the operator-tunable snapshot read at the start of every loop iteration.
type Settings struct {
	TargetPairs        []string `json:"TARGET_PAIRS"`
	TradeAmountPercent float64  `json:"TRADE_AMOUNT_PERCENT"`
	FastEMAPeriod      int      `json:"FAST_EMA_PERIOD"`
	SlowEMAPeriod      int      `json:"SLOW_EMA_PERIOD"`
	DefaultTPPercent   float64  `json:"DEFAULT_TP_PERCENT"`
	DefaultSLPercent   float64  `json:"DEFAULT_SL_PERCENT"`
	FeePercent         float64  `json:"BINANCE_FEE_PERCENT"`

	// Loaded from the env file, never written to the settings document.
	TestMode    bool        `json:"-"`
	Credentials Credentials `json:"-"`
}

type Credentials struct {
	LiveAPIKey    string
	LiveAPISecret string
	TestAPIKey    string
	TestAPISecret string
}

// Active returns the key pair for the given mode.
func (c Credentials) Active(testMode bool) (key, secret string) {
	if testMode {
		return c.TestAPIKey, c.TestAPISecret
	}
	return c.LiveAPIKey, c.LiveAPISecret
}

func DefaultSettings() Settings {
	return Settings{
		TargetPairs:        []string{"BTCUSDT", "ETHUSDT"},
		TradeAmountPercent: 25.0,
		FastEMAPeriod:      12,
		SlowEMAPeriod:      26,
		DefaultTPPercent:   2.0,
		DefaultSLPercent:   1.0,
		FeePercent:         0.1,
		TestMode:           true,
	}
}

func (s *Settings) Validate() error {
	if s.FastEMAPeriod < 1 || s.SlowEMAPeriod <= s.FastEMAPeriod {
		return fmt.Errorf("%w: fast=%d slow=%d", ErrInvalidPeriods, s.FastEMAPeriod, s.SlowEMAPeriod)
	}
	if s.TradeAmountPercent <= 0 || s.TradeAmountPercent > 100 {
		return fmt.Errorf("%w: trade amount percent %.2f out of (0, 100]", ErrInvalidSettings, s.TradeAmountPercent)
	}
	if s.DefaultTPPercent < 0 || s.DefaultSLPercent < 0 || s.DefaultSLPercent >= 100 {
		return fmt.Errorf("%w: tp=%.2f%% sl=%.2f%%", ErrInvalidSettings, s.DefaultTPPercent, s.DefaultSLPercent)
	}
	if s.FeePercent < 0 {
		return fmt.Errorf("%w: negative fee percent", ErrInvalidSettings)
	}
	return nil
}

// Mode names the trading mode for logs and metrics.
func (s *Settings) Mode() string {
	if s.TestMode {
		return "test"
	}
	return "live"
}

// HasPair reports whether symbol is a configured target pair.
func (s *Settings) HasPair(symbol string) bool {
	for _, p := range s.TargetPairs {
		if strings.EqualFold(p, symbol) {
			return true
		}
	}
	return false
}

func (s Settings) Clone() Settings {
	cp := s
	cp.TargetPairs = append([]string(nil), s.TargetPairs...)
	return cp
}
