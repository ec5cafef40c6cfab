package domain

import "github.com/shopspring/decimal"

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Closes extracts closing prices, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// LotSizeRule is the exchange quantisation rule for order quantities.
type LotSizeRule struct {
	Symbol   string  `json:"symbol"`
	StepSize float64 `json:"step_size"`
	MinQty   float64 `json:"min_qty"`
}

// Adjust floors qty to a multiple of StepSize. Zero means the order must not be sent.
func (r LotSizeRule) Adjust(qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	q := decimal.NewFromFloat(qty)
	if r.StepSize > 0 {
		step := decimal.NewFromFloat(r.StepSize)
		q = q.Div(step).Floor().Mul(step)
	}
	if q.LessThan(decimal.NewFromFloat(r.MinQty)) || !q.IsPositive() {
		return 0
	}
	return q.InexactFloat64()
}

// BaseAsset strips the quote suffix from a spot symbol ("BTCUSDT" -> "BTC").
func BaseAsset(symbol, quote string) string {
	if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
		return symbol[:len(symbol)-len(quote)]
	}
	return symbol
}
