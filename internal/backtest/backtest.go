// Package backtest replays tick streams through the live execution
// loop. The loop, book, and decision function are the very same code
// the live engine runs; only the exchange and clock are substituted,
// so a backtest and a live session given identical inputs produce
// identical trade logs.
package backtest

import (
	"context"
	"fmt"

	"gridbot/internal/core"
	"gridbot/internal/engine"
	"gridbot/internal/exchange/sim"
	"gridbot/internal/grid"

	"github.com/shopspring/decimal"
)

// Tick is one replayed price point.
type Tick struct {
	Timestamp int64
	Price     decimal.Decimal
}

// Config describes one symbol's replay.
type Config struct {
	Symbol         string
	Params         grid.Params
	OpeningBalance decimal.Decimal
	MaxDrawdown    decimal.Decimal
	MaxPositions   int
}

// Result is the outcome of a replay.
type Result struct {
	Trades        []core.TradeRecord
	RealizedPnL   decimal.Decimal
	FinalEquity   decimal.Decimal
	LongExposure  decimal.Decimal
	ShortExposure decimal.Decimal
	Halted        bool
	StopReason    core.StopReason
	Ticks         int
}

// Run replays the tick stream through a fresh loop.
func Run(ctx context.Context, cfg Config, ticks []Tick, logger core.ILogger) (*Result, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if len(ticks) == 0 {
		return nil, fmt.Errorf("empty tick stream")
	}

	exchange := sim.New()
	ledger := engine.NewLedger(cfg.OpeningBalance)
	book := grid.NewBook(cfg.Symbol, cfg.Params)

	var current int64
	loop := grid.NewLoop(grid.LoopConfig{
		Symbol:       cfg.Symbol,
		Params:       cfg.Params,
		MaxDrawdown:  cfg.MaxDrawdown,
		MaxPositions: cfg.MaxPositions,
	}, book, ledger, exchange, nil, logger, nil, func() int64 {
		return current
	})

	for _, tick := range ticks {
		current = tick.Timestamp
		if err := loop.ProcessTick(ctx, tick.Price); err != nil {
			break
		}
		if loop.Halted() {
			break
		}
	}

	lastPrice := ticks[len(ticks)-1].Price
	return &Result{
		Trades:        book.Trades(),
		RealizedPnL:   book.RealizedPnL(),
		FinalEquity:   loop.Equity(lastPrice),
		LongExposure:  book.Exposure(core.SideLong),
		ShortExposure: book.Exposure(core.SideShort),
		Halted:        loop.Halted(),
		StopReason:    loop.StopReason(),
		Ticks:         len(ticks),
	}, nil
}

// TicksFromCandles derives one tick per candle at its close.
func TicksFromCandles(candles []core.Candle) []Tick {
	ticks := make([]Tick, 0, len(candles))
	for _, c := range candles {
		ticks = append(ticks, Tick{
			Timestamp: c.OpenTime,
			Price:     decimal.NewFromFloat(c.Close),
		})
	}
	return ticks
}

// Preview replays the most recent N days of hourly candles against the
// current grid parameters.
func Preview(ctx context.Context, md core.IMarketData, cfg Config, days int, logger core.ILogger) (*Result, error) {
	if days <= 0 {
		days = 30
	}
	candles, err := md.OHLCV(ctx, cfg.Symbol, "1h", days*24)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch preview candles: %w", err)
	}
	return Run(ctx, cfg, TicksFromCandles(candles), logger)
}
