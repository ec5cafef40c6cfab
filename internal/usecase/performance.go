package usecase

import (
	"math"
	"sort"
	"time"

	"github.com/vitos/crypto_trade_spot/internal/domain"
)

// StartingEquity is the notional balance the equity curve starts from.
const StartingEquity = 10000.0

type PerformanceSummary struct {
	TotalPnL    float64 `json:"total_pnl"`
	WinRate     float64 `json:"win_rate"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	TotalTrades int     `json:"total_trades"`
}

type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

type Performance struct {
	Summary PerformanceSummary `json:"summary"`
	Equity  []EquityPoint      `json:"equity"`
}

type costBasis struct {
	qty  float64
	cost float64
}

// ComputePerformance replays the ledger. Every fill pays feePercent of its notional;
// a SELL against a held quantity realises PnL at the running average cost and counts
// as a win when that PnL is positive.
func ComputePerformance(trades []*domain.TradeRecord, feePercent float64) *Performance {
	sorted := make([]*domain.TradeRecord, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	fee := feePercent / 100
	held := make(map[string]*costBasis)
	perf := &Performance{Equity: make([]EquityPoint, 0, len(sorted))}
	var pnl float64

	for _, t := range sorted {
		value := t.Quantity * t.Price
		switch t.Side {
		case domain.SideBuy:
			b, ok := held[t.Symbol]
			if !ok {
				b = &costBasis{}
				held[t.Symbol] = b
			}
			b.qty += t.Quantity
			b.cost += value
			pnl -= value * fee
		case domain.SideSell:
			b, ok := held[t.Symbol]
			if !ok || b.qty <= 0 {
				break
			}
			avg := b.cost / b.qty
			tradePnL := (t.Price - avg) * t.Quantity
			pnl += tradePnL - value*fee
			if tradePnL > 0 {
				perf.Summary.Wins++
			} else {
				perf.Summary.Losses++
			}
			b.qty -= t.Quantity
			b.cost -= t.Quantity * avg
		}
		perf.Equity = append(perf.Equity, EquityPoint{Time: t.Timestamp, Equity: StartingEquity + pnl})
	}

	s := &perf.Summary
	s.TotalTrades = s.Wins + s.Losses
	if s.TotalTrades > 0 {
		s.WinRate = round2(float64(s.Wins) / float64(s.TotalTrades) * 100)
	}
	s.TotalPnL = round2(pnl)
	return perf
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
