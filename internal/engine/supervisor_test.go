package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/grid"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instantFillExchange struct {
	mu     sync.Mutex
	orders []*core.OrderRequest
}

func (f *instantFillExchange) GetName() string                                    { return "fake" }
func (f *instantFillExchange) LoadMarkets(context.Context) ([]core.Market, error) { return nil, nil }
func (f *instantFillExchange) FetchTicker(context.Context, string) (*core.Ticker, error) {
	return nil, nil
}
func (f *instantFillExchange) FetchTickers(context.Context) ([]*core.Ticker, error) {
	return nil, nil
}
func (f *instantFillExchange) FetchOHLCV(context.Context, string, string, int) ([]core.Candle, error) {
	return nil, nil
}
func (f *instantFillExchange) FetchBalance(context.Context, string) (*core.Balance, error) {
	return nil, nil
}
func (f *instantFillExchange) FetchPositions(context.Context, string) ([]core.Position, error) {
	return nil, nil
}
func (f *instantFillExchange) CreateOrder(_ context.Context, req *core.OrderRequest) (*core.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	return &core.Order{Symbol: req.Symbol, Side: req.Side, Price: req.Price, Qty: req.Qty, FilledQty: req.Qty, Status: "FILLED"}, nil
}
func (f *instantFillExchange) CancelOrder(context.Context, string, int64) error { return nil }
func (f *instantFillExchange) WatchTickers(context.Context, []string, func(*core.Ticker)) error {
	return nil
}
func (f *instantFillExchange) StopStreams() error { return nil }

// fakeFeed hand-delivers prices to subscribers.
type fakeFeed struct {
	mu   sync.Mutex
	subs map[string]func(decimal.Decimal)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[string]func(decimal.Decimal))}
}

func (f *fakeFeed) Start(context.Context, []string) error { return nil }
func (f *fakeFeed) Stop() error                           { return nil }
func (f *fakeFeed) Subscribe(symbol string, fn func(decimal.Decimal)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[symbol] = fn
}
func (f *fakeFeed) Unsubscribe(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, symbol)
}
func (f *fakeFeed) LastPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeFeed) Ticker(context.Context, string) (*core.Ticker, error) { return nil, nil }
func (f *fakeFeed) Tickers(context.Context) ([]*core.Ticker, error)      { return nil, nil }
func (f *fakeFeed) OHLCV(context.Context, string, string, int) ([]core.Candle, error) {
	return nil, nil
}
func (f *fakeFeed) Markets(context.Context) ([]core.Market, error) { return nil, nil }
func (f *fakeFeed) Healthy() bool                                  { return true }

func (f *fakeFeed) push(symbol string, price string) {
	f.mu.Lock()
	fn := f.subs[symbol]
	f.mu.Unlock()
	if fn != nil {
		fn(decimal.RequireFromString(price))
	}
}

func gridParams() grid.Params {
	return grid.Params{
		BaseQty:             decimal.NewFromInt(10),
		TakeProfitSpacing:   decimal.NewFromFloat(0.01),
		GridSpacing:         decimal.NewFromFloat(0.01),
		Leverage:            1,
		ThresholdMultiplier: decimal.NewFromInt(20),
		LimitMultiplier:     decimal.NewFromInt(5),
	}
}

// pushAndWait delivers a price and blocks until the worker has
// processed it, so a follow-up push cannot coalesce over it in the
// capacity-1 tick channel.
func pushAndWait(t *testing.T, sup *Supervisor, feed *fakeFeed, symbol, price string) {
	t.Helper()
	feed.push(symbol, price)
	want := decimal.RequireFromString(price)
	require.Eventually(t, func() bool {
		for _, st := range sup.Status() {
			if st.Symbol == symbol && st.LastPrice.Equal(want) {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "worker never processed tick %s @ %s", symbol, price)
}

func newTestSupervisor() (*Supervisor, *fakeFeed, *instantFillExchange) {
	feed := newFakeFeed()
	exch := &instantFillExchange{}
	sup := NewSupervisor(
		exch, feed, NewLedger(decimal.NewFromInt(100000)), nil,
		logging.NewNop(), nil,
		decimal.NewFromFloat(0.5), 50,
	)
	return sup, feed, exch
}

func TestStartSymbolRejectsDuplicates(t *testing.T) {
	sup, _, _ := newTestSupervisor()
	defer sup.StopAll()

	require.NoError(t, sup.StartSymbol(context.Background(), "XRPUSDC", gridParams()))
	assert.Error(t, sup.StartSymbol(context.Background(), "XRPUSDC", gridParams()))
}

func TestWorkerProcessesTicksFromFeed(t *testing.T) {
	sup, feed, exch := newTestSupervisor()
	defer sup.StopAll()

	require.NoError(t, sup.StartSymbol(context.Background(), "XRPUSDC", gridParams()))

	pushAndWait(t, sup, feed, "XRPUSDC", "100")
	pushAndWait(t, sup, feed, "XRPUSDC", "99")

	assert.Eventually(t, func() bool {
		exch.mu.Lock()
		defer exch.mu.Unlock()
		return len(exch.orders) >= 1
	}, 2*time.Second, 10*time.Millisecond, "entry order never placed")

	statuses := sup.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "XRPUSDC", statuses[0].Symbol)
	assert.True(t, statuses[0].Running)
}

func TestStopSymbolRemovesWorker(t *testing.T) {
	sup, feed, _ := newTestSupervisor()
	defer sup.StopAll()

	require.NoError(t, sup.StartSymbol(context.Background(), "XRPUSDC", gridParams()))
	require.NoError(t, sup.StopSymbol("XRPUSDC"))
	assert.Error(t, sup.StopSymbol("XRPUSDC"))
	assert.Empty(t, sup.Status())

	// The feed no longer has a subscriber; pushing is harmless.
	feed.push("XRPUSDC", "100")
}

func TestWorkerFailureDoesNotAffectPeers(t *testing.T) {
	sup, feed, exch := newTestSupervisor()
	defer sup.StopAll()

	require.NoError(t, sup.StartSymbol(context.Background(), "AAAUSDC", gridParams()))
	require.NoError(t, sup.StartSymbol(context.Background(), "BBBUSDC", gridParams()))

	// Drive AAA into a drawdown halt while BBB keeps trading.
	pushAndWait(t, sup, feed, "AAAUSDC", "100")
	pushAndWait(t, sup, feed, "AAAUSDC", "99")
	assert.Eventually(t, func() bool {
		exch.mu.Lock()
		defer exch.mu.Unlock()
		return len(exch.orders) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	pushAndWait(t, sup, feed, "BBBUSDC", "100")
	pushAndWait(t, sup, feed, "BBBUSDC", "99")
	assert.Eventually(t, func() bool {
		for _, st := range sup.Status() {
			if st.Symbol == "BBBUSDC" && st.LongExposure.IsPositive() {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "peer worker stopped trading")
}

func TestHeartbeatAggregatesWorkers(t *testing.T) {
	sup, feed, _ := newTestSupervisor()
	defer sup.StopAll()

	hb := sup.Heartbeat()
	assert.Equal(t, "idle", hb.Status)
	assert.False(t, hb.IsTrading)

	require.NoError(t, sup.StartSymbol(context.Background(), "XRPUSDC", gridParams()))
	pushAndWait(t, sup, feed, "XRPUSDC", "100")
	pushAndWait(t, sup, feed, "XRPUSDC", "99")

	assert.Eventually(t, func() bool {
		hb := sup.Heartbeat()
		return hb.IsTrading && len(hb.Symbols) == 1 && len(hb.Positions) > 0
	}, 2*time.Second, 10*time.Millisecond, "heartbeat never reported an open position")

	hb = sup.Heartbeat()
	assert.Equal(t, "running", hb.Status)
	assert.True(t, hb.AvailableBalance.IsPositive())

	require.NotEmpty(t, hb.Positions)
	pos := hb.Positions[0]
	assert.Equal(t, "XRPUSDC", pos.Symbol)
	assert.Equal(t, core.SideLong, pos.Side)
	assert.True(t, pos.Qty.IsPositive())
	assert.True(t, pos.EntryPrice.IsPositive())
	assert.True(t, pos.MarkPrice.IsPositive())
}

func TestRestartDelaySchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{6, 160 * time.Second},
		{7, 5 * time.Minute},
		{20, 5 * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, restartDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestRestartBudgetPruning(t *testing.T) {
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

	// Restarts older than an hour fall out of the window.
	ts := []time.Time{
		now.Add(-2 * time.Hour),
		now.Add(-61 * time.Minute),
		now.Add(-59 * time.Minute),
		now.Add(-time.Minute),
	}
	kept := pruneOlderThan(ts, now.Add(-time.Hour))
	require.Len(t, kept, 2)
	assert.Equal(t, now.Add(-59*time.Minute), kept[0])
	assert.Equal(t, now.Add(-time.Minute), kept[1])

	// Exactly the budget within the hour is still allowed; one more
	// exceeds it.
	ts = nil
	for i := 0; i < maxRestartsPerHour; i++ {
		ts = append(ts, now.Add(-time.Duration(i)*time.Minute))
	}
	ts = pruneOlderThan(ts, now.Add(-time.Hour))
	assert.False(t, len(ts) > maxRestartsPerHour)

	ts = append(ts, now)
	ts = pruneOlderThan(ts, now.Add(-time.Hour))
	assert.True(t, len(ts) > maxRestartsPerHour)
}

func TestHeartbeatReporterKeepsLatest(t *testing.T) {
	sup, _, _ := newTestSupervisor()
	defer sup.StopAll()

	rep := NewHeartbeatReporter(sup, logging.NewNop(), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go rep.Run(ctx)

	assert.Eventually(t, func() bool {
		return rep.Latest().Timestamp > 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
}
