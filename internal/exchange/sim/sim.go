// Package sim provides an in-memory exchange that fills every order
// instantly at the requested price. The backtester and the preview run
// the live execution loop against it.
package sim

import (
	"context"
	"fmt"
	"sync"

	"gridbot/internal/core"
)

// Exchange implements core.IExchange with instant fills and no
// network. Candles and tickers are whatever the caller loads into it.
type Exchange struct {
	mu      sync.Mutex
	nextID  int64
	orders  []*core.Order
	candles map[string][]core.Candle
	tickers map[string]*core.Ticker
}

// New creates an empty simulated exchange.
func New() *Exchange {
	return &Exchange{
		candles: make(map[string][]core.Candle),
		tickers: make(map[string]*core.Ticker),
	}
}

func (e *Exchange) GetName() string { return "sim" }

// LoadCandles seeds OHLCV history for a symbol and timeframe.
func (e *Exchange) LoadCandles(symbol, timeframe string, candles []core.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles[symbol+"/"+timeframe] = candles
}

// SetTicker seeds a ticker snapshot.
func (e *Exchange) SetTicker(t *core.Ticker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickers[t.Symbol] = t
}

// Orders returns every order placed so far.
func (e *Exchange) Orders() []*core.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*core.Order, len(e.orders))
	copy(out, e.orders)
	return out
}

func (e *Exchange) LoadMarkets(context.Context) ([]core.Market, error) { return nil, nil }

func (e *Exchange) FetchTicker(_ context.Context, symbol string) (*core.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("no ticker loaded for %s", symbol)
	}
	return t, nil
}

func (e *Exchange) FetchTickers(context.Context) ([]*core.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*core.Ticker, 0, len(e.tickers))
	for _, t := range e.tickers {
		out = append(out, t)
	}
	return out, nil
}

func (e *Exchange) FetchOHLCV(_ context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	candles, ok := e.candles[symbol+"/"+timeframe]
	if !ok {
		return nil, fmt.Errorf("no candles loaded for %s %s", symbol, timeframe)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (e *Exchange) FetchBalance(_ context.Context, asset string) (*core.Balance, error) {
	return &core.Balance{Asset: asset}, nil
}

func (e *Exchange) FetchPositions(context.Context, string) ([]core.Position, error) {
	return nil, nil
}

// CreateOrder fills immediately at the requested price.
func (e *Exchange) CreateOrder(_ context.Context, req *core.OrderRequest) (*core.Order, error) {
	if !req.Qty.IsPositive() {
		return nil, fmt.Errorf("non-positive quantity %s", req.Qty)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	order := &core.Order{
		OrderID:       e.nextID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Qty:           req.Qty,
		FilledQty:     req.Qty,
		AvgFillPrice:  req.Price,
		Status:        "FILLED",
	}
	e.orders = append(e.orders, order)
	return order, nil
}

func (e *Exchange) CancelOrder(context.Context, string, int64) error { return nil }

func (e *Exchange) WatchTickers(context.Context, []string, func(*core.Ticker)) error {
	return fmt.Errorf("sim exchange has no streaming transport")
}

func (e *Exchange) StopStreams() error { return nil }

var _ core.IExchange = (*Exchange)(nil)
