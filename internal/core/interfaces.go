// Package core defines the domain types and interfaces shared across the engine.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IExchange is the abstract venue the engine trades against.
// Implementations normalize the venue's error taxonomy to the
// apperrors sentinel set; every call is context-aware.
type IExchange interface {
	GetName() string

	LoadMarkets(ctx context.Context) ([]Market, error)
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchTickers(ctx context.Context) ([]*Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchBalance(ctx context.Context, asset string) (*Balance, error)
	FetchPositions(ctx context.Context, symbol string) ([]Position, error)

	CreateOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error

	// WatchTickers starts a streaming ticker subscription; returns an
	// error if the venue has no streaming transport.
	WatchTickers(ctx context.Context, symbols []string, callback func(*Ticker)) error
	StopStreams() error
}

// IMarketData serves prices and candles with stream-first caching.
// Subscribers receive every price update for their symbol; slow
// consumers are the subscriber's problem, the provider never blocks.
type IMarketData interface {
	Start(ctx context.Context, symbols []string) error
	Stop() error
	Subscribe(symbol string, fn func(price decimal.Decimal))
	Unsubscribe(symbol string)
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Ticker(ctx context.Context, symbol string) (*Ticker, error)
	Tickers(ctx context.Context) ([]*Ticker, error)
	OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	Markets(ctx context.Context) ([]Market, error)
	Healthy() bool
}

// ILedger owns the engine-wide cash balance. Every credit/debit is
// serialized; reads may be briefly stale for status reporting.
type ILedger interface {
	Available() decimal.Decimal
	Debit(amount decimal.Decimal) bool
	Credit(amount decimal.Decimal)
}

// IRankingView is the read-only view of the ranker the rotator observes.
type IRankingView interface {
	Rankings(ctx context.Context) ([]CoinRank, error)
	ScoreOf(symbol string) (*CoinScore, bool)
}

// IStateStore persists engine state snapshots and append-only history.
type IStateStore interface {
	SaveSymbolState(ctx context.Context, symbol string, data []byte) error
	LoadSymbolState(ctx context.Context, symbol string) ([]byte, error)
	AppendTrade(ctx context.Context, rec *TradeRecord) error
	AppendRotation(ctx context.Context, sig *RotationSignal) error
	Close() error
}

// IHealthMonitor tracks component liveness.
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger is the structured logging facade backed by zap.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// Clock abstracts time for the rotator's cooldown and week-reset logic.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
