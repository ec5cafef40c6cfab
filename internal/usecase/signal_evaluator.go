package usecase

import (
	"context"
	"fmt"

	"github.com/vitos/crypto_trade_spot/internal/domain"
)

type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// extraBars is fetched on top of the slow period so the EMA seed has washed out.
const extraBars = 100

// SignalEvaluator implements the fast/slow EMA crossover rule.
type SignalEvaluator struct {
	fast int
	slow int
}

func NewSignalEvaluator(fast, slow int) (*SignalEvaluator, error) {
	if fast < 1 || slow <= fast {
		return nil, fmt.Errorf("%w: fast=%d slow=%d", domain.ErrInvalidPeriods, fast, slow)
	}
	return &SignalEvaluator{fast: fast, slow: slow}, nil
}

func (e *SignalEvaluator) SlowPeriod() int { return e.slow }

// Evaluate looks at the last two bars of both EMAs. Fewer than slow closes is HOLD.
func (e *SignalEvaluator) Evaluate(closes []float64) Signal {
	if len(closes) < e.slow || len(closes) < 2 {
		return SignalHold
	}

	fast := EMA(closes, e.fast)
	slow := EMA(closes, e.slow)
	n := len(closes)
	prevFast, curFast := fast[n-2], fast[n-1]
	prevSlow, curSlow := slow[n-2], slow[n-1]

	if prevFast <= prevSlow && curFast > curSlow {
		return SignalBuy
	}
	if prevFast >= prevSlow && curFast < curSlow {
		return SignalSell
	}
	return SignalHold
}

// Analyze fetches recent bars for symbol and evaluates them.
// Missing data is HOLD, not an error.
func (e *SignalEvaluator) Analyze(ctx context.Context, gw domain.Gateway, symbol, interval string) (Signal, error) {
	bars, err := gw.GetHistoricalBars(ctx, symbol, interval, e.slow+extraBars)
	if err != nil {
		return SignalHold, fmt.Errorf("get bars for %s: %w", symbol, err)
	}
	return e.Evaluate(domain.Closes(bars)), nil
}

// EMA returns the exponential moving average with span period, seeded with the first value.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}
