package usecase

import (
	"context"

	"github.com/vitos/crypto_trade_spot/internal/domain"
)

// Metrics receives trading events. Implemented by infrastructure/metrics.
type Metrics interface {
	ObserveIteration(outcome string)
	ObserveSignal(symbol string, signal Signal)
	ObserveOrder(mode string, side domain.Side, result string)
	ObserveTrigger(reason string)
	SetOpenPositions(n int)
	SetRunning(running bool)
}

// Iteration outcomes.
const (
	IterationOK       = "ok"
	IterationNotReady = "not_ready"
	IterationError    = "error"
)

// Order results.
const (
	OrderFilled    = "filled"
	OrderNotFilled = "not_filled"
	OrderFailed    = "failed"
	OrderSkipped   = "skipped"
)

type noopMetrics struct{}

func (noopMetrics) ObserveIteration(string)                  {}
func (noopMetrics) ObserveSignal(string, Signal)             {}
func (noopMetrics) ObserveOrder(string, domain.Side, string) {}
func (noopMetrics) ObserveTrigger(string)                    {}
func (noopMetrics) SetOpenPositions(int)                     {}
func (noopMetrics) SetRunning(bool)                          {}

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, text string) error { return nil }
