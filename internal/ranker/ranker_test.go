package ranker

import (
	"context"
	"testing"
	"time"

	"gridbot/internal/core"
	"gridbot/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// scriptedScorer serves a fixed score per symbol and counts calls.
type scriptedScorer struct {
	scores map[string]float64
	calls  int
}

func (s *scriptedScorer) ScoreAll(_ context.Context, symbols []string) []*core.CoinScore {
	s.calls++
	out := make([]*core.CoinScore, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, &core.CoinScore{Symbol: sym, FinalScore: s.scores[sym]})
	}
	return out
}

func newTestRanker(scores map[string]float64) (*Ranker, *scriptedScorer, *fakeClock) {
	sc := &scriptedScorer{scores: scores}
	clock := &fakeClock{now: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}
	r := New(sc, clock, logging.NewNop())
	symbols := make([]string, 0, len(scores))
	for sym := range scores {
		symbols = append(symbols, sym)
	}
	r.SetUniverse(symbols)
	return r, sc, clock
}

func TestRankingsOrderAndRanks(t *testing.T) {
	r, _, _ := newTestRanker(map[string]float64{
		"AAAUSDC": 62, "BBBUSDC": 85, "CCCUSDC": 74,
	})

	table, err := r.Rankings(context.Background())
	require.NoError(t, err)
	require.Len(t, table, 3)

	assert.Equal(t, []string{"BBBUSDC", "CCCUSDC", "AAAUSDC"},
		[]string{table[0].Symbol, table[1].Symbol, table[2].Symbol})
	assert.Equal(t, 1, table[0].Rank)
	assert.Equal(t, 3, table[2].Rank)
}

func TestRankingsCacheWithinInterval(t *testing.T) {
	r, sc, clock := newTestRanker(map[string]float64{"AAAUSDC": 70})

	_, err := r.Rankings(context.Background())
	require.NoError(t, err)
	_, err = r.Rankings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sc.calls)

	clock.advance(16 * time.Minute)
	_, err = r.Rankings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sc.calls)
}

func TestTrendFromConsecutiveRefreshes(t *testing.T) {
	r, sc, clock := newTestRanker(map[string]float64{"AAAUSDC": 70})

	_, err := r.Rankings(context.Background())
	require.NoError(t, err)

	// +5 is a rise, then a move inside the ±2 band is flat.
	sc.scores["AAAUSDC"] = 75
	clock.advance(16 * time.Minute)
	table, err := r.Rankings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.TrendUp, table[0].Trend)

	sc.scores["AAAUSDC"] = 76
	clock.advance(16 * time.Minute)
	table, err = r.Rankings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.TrendFlat, table[0].Trend)

	sc.scores["AAAUSDC"] = 60
	clock.advance(16 * time.Minute)
	table, err = r.Rankings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.TrendDown, table[0].Trend)
}

func TestActionLadder(t *testing.T) {
	cases := []struct {
		name  string
		score float64
		rank  int
		trend core.Trend
		want  core.Action
	}{
		{"top rank high score", 85, 1, core.TrendFlat, core.ActionHold},
		{"top rank but falling", 85, 1, core.TrendDown, core.ActionWatch},
		{"high score low rank", 85, 4, core.TrendFlat, core.ActionMonitor},
		{"rising mid score", 72, 3, core.TrendUp, core.ActionWatch},
		{"mid score no momentum", 72, 3, core.TrendFlat, core.ActionMonitor},
		{"mediocre", 55, 8, core.TrendFlat, core.ActionMonitor},
		{"poor", 42, 9, core.TrendUp, core.ActionAvoid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, actionFor(tc.score, tc.rank, tc.trend))
		})
	}
}

func TestScoreChange24h(t *testing.T) {
	r, sc, clock := newTestRanker(map[string]float64{"AAAUSDC": 70})

	_, err := r.Rankings(context.Background())
	require.NoError(t, err)

	sc.scores["AAAUSDC"] = 78
	clock.advance(24 * time.Hour)
	table, err := r.Rankings(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 8, table[0].ScoreChange24h, 1e-9)
}

func TestHistoryPrunedToSevenDays(t *testing.T) {
	r, sc, clock := newTestRanker(map[string]float64{"AAAUSDC": 70})

	_, err := r.Rankings(context.Background())
	require.NoError(t, err)

	sc.scores["AAAUSDC"] = 90
	clock.advance(8 * 24 * time.Hour)
	_, err = r.Rankings(context.Background())
	require.NoError(t, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.history["AAAUSDC"], 1)
	assert.InDelta(t, 90, r.history["AAAUSDC"][0].score.FinalScore, 1e-9)
}

func TestScoreOf(t *testing.T) {
	r, _, _ := newTestRanker(map[string]float64{"AAAUSDC": 70})

	_, ok := r.ScoreOf("AAAUSDC")
	assert.False(t, ok)

	_, err := r.Rankings(context.Background())
	require.NoError(t, err)

	score, ok := r.ScoreOf("AAAUSDC")
	require.True(t, ok)
	assert.InDelta(t, 70, score.FinalScore, 1e-9)
}

func TestSetUniverseInvalidatesCache(t *testing.T) {
	r, sc, _ := newTestRanker(map[string]float64{"AAAUSDC": 70})

	_, err := r.Rankings(context.Background())
	require.NoError(t, err)

	sc.scores["BBBUSDC"] = 80
	r.SetUniverse([]string{"AAAUSDC", "BBBUSDC"})

	table, err := r.Rankings(context.Background())
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, "BBBUSDC", table[0].Symbol)
}
