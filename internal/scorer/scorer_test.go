package scorer

import (
	"context"
	"sync"
	"testing"
	"time"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarketData struct {
	mu         sync.Mutex
	candles    map[string][]core.Candle
	volumes    map[string]float64
	ohlcvCalls int
}

func newFakeMarketData() *fakeMarketData {
	return &fakeMarketData{
		candles: make(map[string][]core.Candle),
		volumes: make(map[string]float64),
	}
}

func (f *fakeMarketData) Start(context.Context, []string) error        { return nil }
func (f *fakeMarketData) Stop() error                                  { return nil }
func (f *fakeMarketData) Subscribe(string, func(decimal.Decimal))      {}
func (f *fakeMarketData) Unsubscribe(string)                           {}
func (f *fakeMarketData) Healthy() bool                                { return true }
func (f *fakeMarketData) LastPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeMarketData) Ticker(_ context.Context, symbol string) (*core.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &core.Ticker{Symbol: symbol, LastPrice: decimal.NewFromInt(100), QuoteVolume: f.volumes[symbol]}, nil
}

func (f *fakeMarketData) Tickers(context.Context) ([]*core.Ticker, error) { return nil, nil }

func (f *fakeMarketData) Markets(context.Context) ([]core.Market, error) { return nil, nil }

func (f *fakeMarketData) OHLCV(_ context.Context, symbol, _ string, _ int) ([]core.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ohlcvCalls++
	return f.candles[symbol], nil
}

func TestFlatMarketScore(t *testing.T) {
	score := Compute("FLATUSDC", flatCandles(168, 100, 1000), 0)

	assert.InDelta(t, 0, score.ATRPct, 1e-9)
	assert.InDelta(t, 0.5, score.Hurst, 0.05)
	assert.InDelta(t, 0, score.ADX, 1e-9)
	assert.InDelta(t, 50, score.MeanRevertScore, 1e-9)
	assert.InDelta(t, 0, score.VolatilityScore, 1e-9)
	assert.InDelta(t, 0, score.LiquidityScore, 1e-9)

	// Dead price, steady volume, no trend: mid-band composite.
	assert.Greater(t, score.FinalScore, 30.0)
	assert.Less(t, score.FinalScore, 55.0)
}

func TestFinalScoreIsNormalizedWeightedSum(t *testing.T) {
	cases := []*core.CoinScore{
		{VolatilityScore: 100, LiquidityScore: 100, MeanRevertScore: 100, MomentumScore: 100, StabilityScore: 100},
		{VolatilityScore: 13, LiquidityScore: 87, MeanRevertScore: 42, MomentumScore: 61, StabilityScore: 29},
		{},
	}

	for _, s := range cases {
		want := s.VolatilityScore*0.15 + s.LiquidityScore*0.20 +
			s.MeanRevertScore*0.40 + s.MomentumScore*0.15 + s.StabilityScore*0.10
		assert.InDelta(t, want, Composite(s), 1e-6)
	}
}

func TestComputeSetsCompositeFinalScore(t *testing.T) {
	score := Compute("XRPUSDC", flatCandles(168, 100, 1000), 200e6)
	assert.InDelta(t, Composite(score), score.FinalScore, 1e-9)
	assert.InDelta(t, 85, score.LiquidityScore, 1e-9) // 200M sits in the 80-100 band
}

func TestScoreCachesWithinTTL(t *testing.T) {
	md := newFakeMarketData()
	md.candles["XRPUSDC"] = flatCandles(168, 100, 1000)

	s := New(md, logging.NewNop(), nil)

	_, err := s.Score(context.Background(), "XRPUSDC")
	require.NoError(t, err)
	_, err = s.Score(context.Background(), "XRPUSDC")
	require.NoError(t, err)

	assert.Equal(t, 1, md.ohlcvCalls)
}

func TestScoreCacheExpires(t *testing.T) {
	md := newFakeMarketData()
	md.candles["XRPUSDC"] = flatCandles(168, 100, 1000)

	s := New(md, logging.NewNop(), nil)
	s.SetCacheTTL(time.Nanosecond)

	_, err := s.Score(context.Background(), "XRPUSDC")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = s.Score(context.Background(), "XRPUSDC")
	require.NoError(t, err)

	assert.Equal(t, 2, md.ohlcvCalls)
}

func TestScoreInsufficientHistoryReturnsSentinel(t *testing.T) {
	md := newFakeMarketData()
	md.candles["NEWUSDC"] = flatCandles(10, 100, 1000)

	s := New(md, logging.NewNop(), nil)

	score, err := s.Score(context.Background(), "NEWUSDC")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientData)
	require.NotNil(t, score)
	assert.Equal(t, "NEWUSDC", score.Symbol)
	assert.Zero(t, score.FinalScore)
}

func TestScoreAllToleratesPartialFailures(t *testing.T) {
	md := newFakeMarketData()
	md.candles["GOODUSDC"] = flatCandles(168, 100, 1000)
	md.candles["THINUSDC"] = flatCandles(5, 100, 1000)

	s := New(md, logging.NewNop(), nil)

	results := s.ScoreAll(context.Background(), []string{"GOODUSDC", "THINUSDC"})
	require.Len(t, results, 2)

	assert.Equal(t, "GOODUSDC", results[0].Symbol)
	assert.Greater(t, results[0].FinalScore, 0.0)
	assert.Equal(t, "THINUSDC", results[1].Symbol)
	assert.Zero(t, results[1].FinalScore)
}
