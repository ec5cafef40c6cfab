package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_trade_spot/internal/domain"
	"go.uber.org/zap"
)

var ErrBookClosed = errors.New("position book closed")

// Fill is a confirmed execution to be recorded.
type Fill struct {
	Symbol   string
	Side     domain.Side
	Quantity float64
	Price    float64
	Reason   string

	// Optional operator overrides (0 = not given).
	TakeProfit float64
	StopLoss   float64

	DefaultTPPercent float64
	DefaultSLPercent float64
}

// TargetUpdate edits TP/SL of an open position. Nil leaves the value unchanged.
type TargetUpdate struct {
	TakeProfit *float64
	StopLoss   *float64
}

// PositionBook is the single writer of the position store and the trade ledger.
// Every command runs on one goroutine, so read-modify-write cycles never interleave.
type PositionBook struct {
	positions domain.PositionRepository
	trades    domain.TradeRepository
	logger    *zap.Logger
	timeNow   func() time.Time

	reqs chan func()
	quit chan struct{}
	done chan struct{}
}

func NewPositionBook(positions domain.PositionRepository, trades domain.TradeRepository, logger *zap.Logger) *PositionBook {
	b := &PositionBook{
		positions: positions,
		trades:    trades,
		logger:    logger,
		timeNow:   time.Now,
		reqs:      make(chan func()),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *PositionBook) loop() {
	defer close(b.done)
	for {
		select {
		case fn := <-b.reqs:
			fn()
		case <-b.quit:
			return
		}
	}
}

// Close stops the actor after the command in progress finishes.
func (b *PositionBook) Close() {
	select {
	case <-b.quit:
	default:
		close(b.quit)
	}
	<-b.done
}

// do hands fn to the actor. ctx only bounds the wait for the actor to pick the
// command up; once accepted the command runs to completion uncancelled.
func (b *PositionBook) do(ctx context.Context, fn func(ctx context.Context) error) error {
	errc := make(chan error, 1)
	runCtx := context.WithoutCancel(ctx)
	cmd := func() { errc <- fn(runCtx) }

	select {
	case b.reqs <- cmd:
	case <-b.quit:
		return ErrBookClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

func (b *PositionBook) Snapshot(ctx context.Context) (domain.Positions, error) {
	var out domain.Positions
	err := b.do(ctx, func(ctx context.Context) error {
		positions, err := b.positions.LoadPositions(ctx)
		if err != nil {
			return fmt.Errorf("load positions: %w", err)
		}
		out = positions.Clone()
		return nil
	})
	return out, err
}

func (b *PositionBook) Get(ctx context.Context, symbol string) (*domain.Position, bool, error) {
	positions, err := b.Snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	pos, ok := positions[symbol]
	return pos, ok, nil
}

// RecordFill appends the trade to the ledger, then applies it to the positions.
// A failure after the ledger write leaves the ledger ahead; Reconcile repairs that.
func (b *PositionBook) RecordFill(ctx context.Context, fill Fill) (*domain.TradeRecord, error) {
	if !fill.Side.Valid() || fill.Quantity <= 0 {
		return nil, fmt.Errorf("invalid fill: side=%s qty=%f", fill.Side, fill.Quantity)
	}

	var record *domain.TradeRecord
	err := b.do(ctx, func(ctx context.Context) error {
		now := b.timeNow()
		rec := &domain.TradeRecord{
			ID:        uuid.NewString(),
			Timestamp: now,
			Symbol:    fill.Symbol,
			Side:      fill.Side,
			Quantity:  fill.Quantity,
			Price:     fill.Price,
			Reason:    fill.Reason,
		}
		if err := b.trades.AppendTrade(ctx, rec); err != nil {
			return fmt.Errorf("append trade: %w", err)
		}
		record = rec

		positions, err := b.positions.LoadPositions(ctx)
		if err != nil {
			return fmt.Errorf("load positions: %w", err)
		}
		applyFill(positions, fill, now)
		if err := b.positions.SavePositions(ctx, positions); err != nil {
			return fmt.Errorf("save positions: %w", err)
		}
		return nil
	})
	if err != nil && record != nil {
		b.logger.Error("Trade recorded but position update failed; reconcile from ledger",
			zap.String("symbol", fill.Symbol),
			zap.String("trade_id", record.ID),
			zap.Error(err))
	}
	return record, err
}

func (b *PositionBook) UpdateTargets(ctx context.Context, symbol string, upd TargetUpdate) (*domain.Position, error) {
	var out *domain.Position
	err := b.do(ctx, func(ctx context.Context) error {
		positions, err := b.positions.LoadPositions(ctx)
		if err != nil {
			return fmt.Errorf("load positions: %w", err)
		}
		pos, ok := positions[symbol]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrPositionNotFound, symbol)
		}
		if upd.TakeProfit != nil {
			pos.TakeProfit = *upd.TakeProfit
		}
		if upd.StopLoss != nil {
			pos.StopLoss = *upd.StopLoss
		}
		pos.ManualTargets = true
		pos.UpdatedAt = b.timeNow()
		if err := b.positions.SavePositions(ctx, positions); err != nil {
			return fmt.Errorf("save positions: %w", err)
		}
		cp := *pos
		out = &cp
		return nil
	})
	return out, err
}

// Reconcile rebuilds the position store by replaying the ledger. Targets of
// positions that survive are kept; new ones get the default percentages.
func (b *PositionBook) Reconcile(ctx context.Context, defaultTPPercent, defaultSLPercent float64) (domain.Positions, error) {
	var out domain.Positions
	err := b.do(ctx, func(ctx context.Context) error {
		trades, err := b.trades.ListTrades(ctx)
		if err != nil {
			return fmt.Errorf("list trades: %w", err)
		}
		current, err := b.positions.LoadPositions(ctx)
		if err != nil {
			return fmt.Errorf("load positions: %w", err)
		}

		rebuilt := RebuildPositions(trades, defaultTPPercent, defaultSLPercent)
		for symbol, pos := range rebuilt {
			if prev, ok := current[symbol]; ok {
				pos.TakeProfit = prev.TakeProfit
				pos.StopLoss = prev.StopLoss
				pos.ManualTargets = prev.ManualTargets
			}
		}
		if err := b.positions.SavePositions(ctx, rebuilt); err != nil {
			return fmt.Errorf("save positions: %w", err)
		}
		out = rebuilt.Clone()
		return nil
	})
	return out, err
}

// RebuildPositions replays trades in timestamp order with the same rules as live fills.
func RebuildPositions(trades []*domain.TradeRecord, defaultTPPercent, defaultSLPercent float64) domain.Positions {
	sorted := make([]*domain.TradeRecord, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	positions := make(domain.Positions)
	for _, t := range sorted {
		applyFill(positions, Fill{
			Symbol:           t.Symbol,
			Side:             t.Side,
			Quantity:         t.Quantity,
			Price:            t.Price,
			DefaultTPPercent: defaultTPPercent,
			DefaultSLPercent: defaultSLPercent,
		}, t.Timestamp)
	}
	return positions
}

func applyFill(positions domain.Positions, fill Fill, now time.Time) {
	if fill.Side == domain.SideSell {
		delete(positions, fill.Symbol)
		return
	}

	prev, hasPrev := positions[fill.Symbol]
	pos := &domain.Position{Symbol: fill.Symbol, OpenedAt: now}
	var prevQty, prevCost float64
	if hasPrev {
		*pos = *prev
		prevQty = prev.Quantity
		prevCost = prev.Quantity * prev.EntryPrice
	}

	pos.Quantity = prevQty + fill.Quantity
	pos.EntryPrice = (prevCost + fill.Quantity*fill.Price) / pos.Quantity
	pos.UpdatedAt = now

	defaultTP := pos.EntryPrice * (1 + fill.DefaultTPPercent/100)
	defaultSL := pos.EntryPrice * (1 - fill.DefaultSLPercent/100)

	switch {
	case fill.TakeProfit > 0 || fill.StopLoss > 0:
		pos.TakeProfit = pickTarget(fill.TakeProfit, prev, hasPrev, func(p *domain.Position) float64 { return p.TakeProfit }, defaultTP)
		pos.StopLoss = pickTarget(fill.StopLoss, prev, hasPrev, func(p *domain.Position) float64 { return p.StopLoss }, defaultSL)
		pos.ManualTargets = true
	case hasPrev && prev.ManualTargets:
		// operator targets survive averaging in
	default:
		pos.TakeProfit = defaultTP
		pos.StopLoss = defaultSL
		pos.ManualTargets = false
	}

	positions[fill.Symbol] = pos
}

// pickTarget prefers the override, then a target already on the position, then the default.
func pickTarget(override float64, prev *domain.Position, hasPrev bool, get func(*domain.Position) float64, def float64) float64 {
	if override > 0 {
		return override
	}
	if hasPrev && get(prev) > 0 {
		return get(prev)
	}
	return def
}

// Trades returns the ledger, oldest first.
func (b *PositionBook) Trades(ctx context.Context) ([]*domain.TradeRecord, error) {
	var out []*domain.TradeRecord
	err := b.do(ctx, func(ctx context.Context) error {
		trades, err := b.trades.ListTrades(ctx)
		if err != nil {
			return fmt.Errorf("list trades: %w", err)
		}
		out = trades
		return nil
	})
	return out, err
}
