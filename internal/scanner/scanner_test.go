package scanner

import (
	"context"
	"sync"
	"testing"

	"gridbot/internal/core"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVenue struct {
	mu          sync.Mutex
	markets     []core.Market
	candles     map[string][]core.Candle
	volumes     map[string]float64
	scanFetches int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		candles: make(map[string][]core.Candle),
		volumes: make(map[string]float64),
	}
}

func (f *fakeVenue) addSymbol(symbol string, dailyAmpPct, volume float64) {
	f.markets = append(f.markets, core.Market{
		Symbol: symbol, Base: symbol[:3], Quote: "USDC", Active: true,
	})
	f.volumes[symbol] = volume

	// 30 flat days whose range is dailyAmpPct of the open.
	candles := make([]core.Candle, 30)
	for i := range candles {
		open := 100.0
		span := open * dailyAmpPct / 100
		candles[i] = core.Candle{
			OpenTime: int64(i) * 86400000,
			Open:     open,
			High:     open + span/2,
			Low:      open - span/2,
			Close:    open,
			Volume:   volume,
		}
	}
	f.candles[symbol] = candles
}

func (f *fakeVenue) Start(context.Context, []string) error   { return nil }
func (f *fakeVenue) Stop() error                             { return nil }
func (f *fakeVenue) Subscribe(string, func(decimal.Decimal)) {}
func (f *fakeVenue) Unsubscribe(string)                      {}
func (f *fakeVenue) Healthy() bool                           { return true }

func (f *fakeVenue) LastPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeVenue) Ticker(_ context.Context, symbol string) (*core.Ticker, error) {
	return &core.Ticker{Symbol: symbol, QuoteVolume: f.volumes[symbol]}, nil
}

func (f *fakeVenue) Tickers(context.Context) ([]*core.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.Ticker
	for sym, vol := range f.volumes {
		out = append(out, &core.Ticker{Symbol: sym, QuoteVolume: vol})
	}
	return out, nil
}

func (f *fakeVenue) OHLCV(_ context.Context, symbol, _ string, _ int) ([]core.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanFetches++
	return f.candles[symbol], nil
}

func (f *fakeVenue) Markets(context.Context) ([]core.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markets, nil
}

func TestAmplitudeFilterKeepsMidBandOnly(t *testing.T) {
	venue := newFakeVenue()
	venue.addSymbol("AAAUSDC", 1, 10e6)  // too quiet
	venue.addSymbol("BBBUSDC", 4, 10e6)  // just right
	venue.addSymbol("CCCUSDC", 12, 10e6) // too wild

	s := New(venue, Config{
		MinAmplitude: 3,
		MaxAmplitude: 10,
	}, logging.NewNop(), nil)

	candidates, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "BBBUSDC", candidates[0].Symbol)
	assert.InDelta(t, 4, candidates[0].AvgAmplitude, 0.01)
}

func TestVolumeFilter(t *testing.T) {
	venue := newFakeVenue()
	venue.addSymbol("BIGUSDC", 4, 100e6)
	venue.addSymbol("THNUSDC", 4, 1e6)

	s := New(venue, Config{MinVolume24h: 10e6}, logging.NewNop(), nil)

	candidates, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "BIGUSDC", candidates[0].Symbol)
}

func TestBlocklistExcludesSymbols(t *testing.T) {
	venue := newFakeVenue()
	venue.addSymbol("AAAUSDC", 4, 10e6)
	venue.addSymbol("BADUSDC", 4, 10e6)

	s := New(venue, Config{Blocklist: []string{"BADUSDC"}}, logging.NewNop(), nil)

	candidates, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "AAAUSDC", candidates[0].Symbol)
}

func TestScanCacheServesRepeatCalls(t *testing.T) {
	venue := newFakeVenue()
	venue.addSymbol("AAAUSDC", 4, 10e6)

	s := New(venue, Config{}, logging.NewNop(), nil)

	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	fetchesAfterFirst := venue.scanFetches

	_, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fetchesAfterFirst, venue.scanFetches)

	s.Invalidate()
	_, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Greater(t, venue.scanFetches, fetchesAfterFirst)
}

func TestTopNOrderedBySuitability(t *testing.T) {
	venue := newFakeVenue()
	venue.addSymbol("AAAUSDC", 3.2, 10e6)
	venue.addSymbol("BBBUSDC", 5.5, 10e6) // amplitude sweet spot
	venue.addSymbol("CCCUSDC", 7.9, 10e6)

	s := New(venue, Config{TopN: 2}, logging.NewNop(), nil)

	candidates, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "BBBUSDC", candidates[0].Symbol)
	assert.GreaterOrEqual(t, candidates[0].Suitability, candidates[1].Suitability)
}

func TestAmplitudeStats(t *testing.T) {
	candles := []core.Candle{
		{Open: 100, High: 104, Low: 100, Close: 102},
		{Open: 100, High: 102, Low: 98, Close: 99},
	}
	amp, change := AmplitudeStats(candles)
	assert.InDelta(t, 4, amp, 1e-9)            // (4% + 4%) / 2
	assert.InDelta(t, 1, change, 1e-9)         // +2% + -1%
}

func TestTrendScorePenalizesDrift(t *testing.T) {
	assert.Greater(t, Suitability(5.5, 0), Suitability(5.5, 40))
}
