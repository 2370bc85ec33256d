package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"gridbot/internal/core"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExchange struct {
	tickerCalls  int
	tickersCalls int
	ohlcvCalls   int
	marketCalls  int

	streamCallback func(*core.Ticker)
	watchErr       error
}

func (c *countingExchange) GetName() string { return "counting" }

func (c *countingExchange) LoadMarkets(context.Context) ([]core.Market, error) {
	c.marketCalls++
	return []core.Market{{Symbol: "XRPUSDC", Active: true}}, nil
}

func (c *countingExchange) FetchTicker(_ context.Context, symbol string) (*core.Ticker, error) {
	c.tickerCalls++
	return &core.Ticker{Symbol: symbol, LastPrice: decimal.NewFromInt(100)}, nil
}

func (c *countingExchange) FetchTickers(context.Context) ([]*core.Ticker, error) {
	c.tickersCalls++
	return []*core.Ticker{
		{Symbol: "XRPUSDC", LastPrice: decimal.NewFromInt(100)},
		{Symbol: "DOGEUSDC", LastPrice: decimal.NewFromFloat(0.2)},
	}, nil
}

func (c *countingExchange) FetchOHLCV(context.Context, string, string, int) ([]core.Candle, error) {
	c.ohlcvCalls++
	return []core.Candle{{Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000}}, nil
}

func (c *countingExchange) FetchBalance(context.Context, string) (*core.Balance, error) {
	return nil, nil
}

func (c *countingExchange) FetchPositions(context.Context, string) ([]core.Position, error) {
	return nil, nil
}

func (c *countingExchange) CreateOrder(context.Context, *core.OrderRequest) (*core.Order, error) {
	return nil, nil
}

func (c *countingExchange) CancelOrder(context.Context, string, int64) error { return nil }

func (c *countingExchange) WatchTickers(_ context.Context, _ []string, cb func(*core.Ticker)) error {
	if c.watchErr != nil {
		return c.watchErr
	}
	c.streamCallback = cb
	return nil
}

func (c *countingExchange) StopStreams() error { return nil }

func TestTickerCacheAvoidsRepeatFetches(t *testing.T) {
	exch := &countingExchange{}
	p := NewProvider(exch, logging.NewNop())

	for i := 0; i < 5; i++ {
		_, err := p.Ticker(context.Background(), "XRPUSDC")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, exch.tickerCalls)
}

func TestOHLCVCacheKeyedByRequestShape(t *testing.T) {
	exch := &countingExchange{}
	p := NewProvider(exch, logging.NewNop())

	_, err := p.OHLCV(context.Background(), "XRPUSDC", "1h", 168)
	require.NoError(t, err)
	_, err = p.OHLCV(context.Background(), "XRPUSDC", "1h", 168)
	require.NoError(t, err)
	_, err = p.OHLCV(context.Background(), "XRPUSDC", "1d", 30)
	require.NoError(t, err)

	assert.Equal(t, 2, exch.ohlcvCalls)
}

func TestBatchTickersWarmPerSymbolCache(t *testing.T) {
	exch := &countingExchange{}
	p := NewProvider(exch, logging.NewNop())

	_, err := p.Tickers(context.Background())
	require.NoError(t, err)

	_, err = p.Ticker(context.Background(), "DOGEUSDC")
	require.NoError(t, err)

	assert.Equal(t, 1, exch.tickersCalls)
	assert.Equal(t, 0, exch.tickerCalls)
}

func TestStreamServesLastPriceAndFansOut(t *testing.T) {
	exch := &countingExchange{}
	p := NewProvider(exch, logging.NewNop())
	require.NoError(t, p.Start(context.Background(), []string{"XRPUSDC"}))

	var received decimal.Decimal
	p.Subscribe("XRPUSDC", func(price decimal.Decimal) { received = price })

	exch.streamCallback(&core.Ticker{
		Symbol:    "XRPUSDC",
		LastPrice: decimal.RequireFromString("2.34"),
		Timestamp: time.Now(),
	})

	assert.True(t, received.Equal(decimal.RequireFromString("2.34")))

	price, err := p.LastPrice(context.Background(), "XRPUSDC")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("2.34")))
	assert.Equal(t, 0, exch.tickerCalls, "fresh stream price must not hit REST")
}

func TestPullOnlyWhenStreamingUnavailable(t *testing.T) {
	exch := &countingExchange{watchErr: errors.New("no stream transport")}
	p := NewProvider(exch, logging.NewNop())

	require.NoError(t, p.Start(context.Background(), []string{"XRPUSDC"}))
	assert.True(t, p.Healthy())

	price, err := p.LastPrice(context.Background(), "XRPUSDC")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, exch.tickerCalls)
}

func TestMarketsCached(t *testing.T) {
	exch := &countingExchange{}
	p := NewProvider(exch, logging.NewNop())

	_, err := p.Markets(context.Background())
	require.NoError(t, err)
	_, err = p.Markets(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, exch.marketCalls)
}
