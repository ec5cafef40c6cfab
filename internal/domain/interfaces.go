package domain

import "context"

// Gateway is the capability surface the bot needs from a spot exchange.
type Gateway interface {
	Ready() bool
	GetTicker(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context, asset string) (float64, error)
	GetHistoricalBars(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetLotSizeRule(ctx context.Context, symbol string) (*LotSizeRule, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// GatewayFactory builds a gateway from the credentials and mode in settings.
// It never fails; an unusable gateway reports Ready() == false.
type GatewayFactory interface {
	Connect(ctx context.Context, settings *Settings) Gateway
}

// PositionRepository persists the whole position map at once.
type PositionRepository interface {
	LoadPositions(ctx context.Context) (Positions, error)
	SavePositions(ctx context.Context, positions Positions) error
}

// TradeRepository is the append-only trade ledger.
type TradeRepository interface {
	AppendTrade(ctx context.Context, trade *TradeRecord) error
	ListTrades(ctx context.Context) ([]*TradeRecord, error)
}

// SettingsRepository loads and stores the operator settings and credentials.
type SettingsRepository interface {
	Load(ctx context.Context) (*Settings, error)
	SaveStrategy(ctx context.Context, settings *Settings) error
	SaveCredentials(ctx context.Context, creds Credentials) error
	SaveTestMode(ctx context.Context, testMode bool) error
}

// Notifier delivers short human-readable alerts (fills, TP/SL).
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
