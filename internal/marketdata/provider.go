// Package marketdata serves prices, tickers, and candles with a
// stream-first cache over the exchange adapter.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

const (
	streamFreshness = 60 * time.Second
	tickerTTL       = 5 * time.Second
	ohlcvTTL        = 60 * time.Second
	marketsTTL      = time.Hour
)

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

type cachedTicker struct {
	ticker *core.Ticker
	at     time.Time
}

type cachedCandles struct {
	candles []core.Candle
	at      time.Time
}

// Provider implements core.IMarketData. Ticks arrive over the
// exchange's streaming transport when available; readers fall back to
// REST with short TTL caches when the stream is cold.
type Provider struct {
	exchange core.IExchange
	logger   core.ILogger

	mu          sync.RWMutex
	streamLast  map[string]cachedPrice
	tickerCache map[string]cachedTicker
	ohlcvCache  map[string]cachedCandles
	subscribers map[string]func(decimal.Decimal)

	tickersAll   []*core.Ticker
	tickersAllAt time.Time
	markets      []core.Market
	marketsAt    time.Time

	streaming bool
	started   bool
}

// NewProvider creates a provider over the given exchange.
func NewProvider(exchange core.IExchange, logger core.ILogger) *Provider {
	return &Provider{
		exchange:    exchange,
		logger:      logger,
		streamLast:  make(map[string]cachedPrice),
		tickerCache: make(map[string]cachedTicker),
		ohlcvCache:  make(map[string]cachedCandles),
		subscribers: make(map[string]func(decimal.Decimal)),
	}
}

// Start opens the streaming subscription for the given symbols. A
// venue without streaming degrades to pull-only; that is not an error.
func (p *Provider) Start(ctx context.Context, symbols []string) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("market data provider already started")
	}
	p.started = true
	p.mu.Unlock()

	err := p.exchange.WatchTickers(ctx, symbols, p.onStreamTicker)
	if err != nil {
		p.logger.Warn("Streaming unavailable, running pull-only", "error", err)
		return nil
	}

	p.mu.Lock()
	p.streaming = true
	p.mu.Unlock()
	p.logger.Info("Market data stream started", "symbols", len(symbols))
	return nil
}

// Stop tears down the stream.
func (p *Provider) Stop() error {
	p.mu.Lock()
	p.started = false
	p.streaming = false
	p.mu.Unlock()
	return p.exchange.StopStreams()
}

func (p *Provider) onStreamTicker(t *core.Ticker) {
	if t == nil || !t.LastPrice.IsPositive() {
		return
	}

	p.mu.Lock()
	p.streamLast[t.Symbol] = cachedPrice{price: t.LastPrice, at: time.Now()}
	p.tickerCache[t.Symbol] = cachedTicker{ticker: t, at: time.Now()}
	fn := p.subscribers[t.Symbol]
	p.mu.Unlock()

	if fn != nil {
		fn(t.LastPrice)
	}
}

// Subscribe registers a per-symbol price callback. One subscriber per
// symbol; a second registration replaces the first.
func (p *Provider) Subscribe(symbol string, fn func(price decimal.Decimal)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[symbol] = fn
}

// Unsubscribe removes a symbol's callback.
func (p *Provider) Unsubscribe(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribers, symbol)
}

// LastPrice serves from the stream cache when fresh, falling back to a
// REST ticker.
func (p *Provider) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.RLock()
	cached, ok := p.streamLast[symbol]
	p.mu.RUnlock()
	if ok && time.Since(cached.at) < streamFreshness {
		return cached.price, nil
	}

	t, err := p.Ticker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return t.LastPrice, nil
}

// Ticker fetches one symbol's 24 h snapshot with a short TTL cache.
func (p *Provider) Ticker(ctx context.Context, symbol string) (*core.Ticker, error) {
	p.mu.RLock()
	cached, ok := p.tickerCache[symbol]
	p.mu.RUnlock()
	if ok && time.Since(cached.at) < tickerTTL {
		return cached.ticker, nil
	}

	t, err := p.exchange.FetchTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.tickerCache[symbol] = cachedTicker{ticker: t, at: time.Now()}
	p.mu.Unlock()
	return t, nil
}

// Tickers fetches the whole venue's snapshots in one batch call and
// warms the per-symbol cache.
func (p *Provider) Tickers(ctx context.Context) ([]*core.Ticker, error) {
	p.mu.RLock()
	if p.tickersAll != nil && time.Since(p.tickersAllAt) < tickerTTL {
		out := p.tickersAll
		p.mu.RUnlock()
		return out, nil
	}
	p.mu.RUnlock()

	tickers, err := p.exchange.FetchTickers(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p.mu.Lock()
	p.tickersAll = tickers
	p.tickersAllAt = now
	for _, t := range tickers {
		p.tickerCache[t.Symbol] = cachedTicker{ticker: t, at: now}
	}
	p.mu.Unlock()
	return tickers, nil
}

// OHLCV fetches candles with a one-minute cache keyed by the full
// request shape.
func (p *Provider) OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	key := fmt.Sprintf("%s/%s/%d", symbol, timeframe, limit)

	p.mu.RLock()
	cached, ok := p.ohlcvCache[key]
	p.mu.RUnlock()
	if ok && time.Since(cached.at) < ohlcvTTL {
		return cached.candles, nil
	}

	candles, err := p.exchange.FetchOHLCV(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.ohlcvCache[key] = cachedCandles{candles: candles, at: time.Now()}
	p.mu.Unlock()
	return candles, nil
}

// Markets lists the venue's contracts with an hour-long cache.
func (p *Provider) Markets(ctx context.Context) ([]core.Market, error) {
	p.mu.RLock()
	if p.markets != nil && time.Since(p.marketsAt) < marketsTTL {
		out := p.markets
		p.mu.RUnlock()
		return out, nil
	}
	p.mu.RUnlock()

	markets, err := p.exchange.LoadMarkets(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.markets = markets
	p.marketsAt = time.Now()
	p.mu.Unlock()
	return markets, nil
}

// Healthy reports stream liveness. A pull-only provider is healthy by
// definition; a streaming one must have seen a tick within the
// freshness window.
func (p *Provider) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.streaming {
		return true
	}
	newest := time.Time{}
	for _, c := range p.streamLast {
		if c.at.After(newest) {
			newest = c.at
		}
	}
	return newest.IsZero() || time.Since(newest) < streamFreshness
}
