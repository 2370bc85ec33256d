// Package ranker turns raw composite scores into a ranked table with
// trend direction and a recommended action per symbol.
package ranker

import (
	"context"
	"sort"
	"sync"
	"time"

	"gridbot/internal/core"
)

const (
	historyWindow     = 7 * 24 * time.Hour
	trendThreshold    = 2.0
	defaultUpdateTTL  = 15 * time.Minute
	holdScoreFloor    = 80.0
	watchScoreFloor   = 70.0
	monitorScoreFloor = 50.0
)

type scoreEntry struct {
	score *core.CoinScore
	at    time.Time
}

// ScoreBatcher is the slice of the scorer the ranker needs.
type ScoreBatcher interface {
	ScoreAll(ctx context.Context, symbols []string) []*core.CoinScore
}

// Ranker maintains a 7-day score history per symbol and serves ranked
// snapshots with a TTL cache. It is the single writer of the history;
// the rotator only reads.
type Ranker struct {
	scorer ScoreBatcher
	clock  core.Clock
	logger core.ILogger
	ttl    time.Duration

	mu       sync.Mutex
	symbols  []string
	history  map[string][]scoreEntry
	cached   []core.CoinRank
	cachedAt time.Time
}

var _ core.IRankingView = (*Ranker)(nil)

// New creates a ranker over the given scorer.
func New(sc ScoreBatcher, clock core.Clock, logger core.ILogger) *Ranker {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Ranker{
		scorer:  sc,
		clock:   clock,
		logger:  logger,
		ttl:     defaultUpdateTTL,
		history: make(map[string][]scoreEntry),
	}
}

// SetUpdateInterval overrides the ranking cache lifetime.
func (r *Ranker) SetUpdateInterval(ttl time.Duration) { r.ttl = ttl }

// SetUniverse replaces the set of symbols to rank and invalidates the
// cached table.
func (r *Ranker) SetUniverse(symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.symbols = append([]string(nil), symbols...)
	r.cached = nil
}

// Rankings returns the ranked table, refreshing scores when the cache
// has expired.
func (r *Ranker) Rankings(ctx context.Context) ([]core.CoinRank, error) {
	r.mu.Lock()
	if r.cached != nil && r.clock.Now().Sub(r.cachedAt) < r.ttl {
		out := r.cached
		r.mu.Unlock()
		return out, nil
	}
	symbols := append([]string(nil), r.symbols...)
	r.mu.Unlock()

	scores := r.scorer.ScoreAll(ctx, symbols)
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range scores {
		if s == nil {
			continue
		}
		r.history[s.Symbol] = pruneHistory(append(r.history[s.Symbol], scoreEntry{score: s, at: now}), now)
	}

	ranked := make([]*core.CoinScore, 0, len(scores))
	for _, s := range scores {
		if s != nil {
			ranked = append(ranked, s)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].FinalScore != ranked[j].FinalScore {
			return ranked[i].FinalScore > ranked[j].FinalScore
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})

	table := make([]core.CoinRank, 0, len(ranked))
	for i, s := range ranked {
		rank := i + 1
		trend := r.trendOf(s.Symbol)
		table = append(table, core.CoinRank{
			Rank:           rank,
			Symbol:         s.Symbol,
			Score:          s.FinalScore,
			Trend:          trend,
			Action:         actionFor(s.FinalScore, rank, trend),
			ScoreChange24h: r.change24h(s.Symbol, now),
		})
	}

	r.cached = table
	r.cachedAt = now
	r.logger.Info("Ranking table refreshed", "symbols", len(table))
	return table, nil
}

// ScoreOf returns the most recent score for a symbol.
func (r *Ranker) ScoreOf(symbol string) (*core.CoinScore, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hist := r.history[symbol]
	if len(hist) == 0 {
		return nil, false
	}
	return hist[len(hist)-1].score, true
}

// trendOf compares the two most recent history entries.
func (r *Ranker) trendOf(symbol string) core.Trend {
	hist := r.history[symbol]
	if len(hist) < 2 {
		return core.TrendFlat
	}
	diff := hist[len(hist)-1].score.FinalScore - hist[len(hist)-2].score.FinalScore
	switch {
	case diff > trendThreshold:
		return core.TrendUp
	case diff < -trendThreshold:
		return core.TrendDown
	default:
		return core.TrendFlat
	}
}

// change24h is the score delta against the entry closest to 24 h ago.
func (r *Ranker) change24h(symbol string, now time.Time) float64 {
	hist := r.history[symbol]
	if len(hist) < 2 {
		return 0
	}

	target := now.Add(-24 * time.Hour)
	best := hist[0]
	bestDist := absDuration(hist[0].at.Sub(target))
	for _, e := range hist[1:] {
		if d := absDuration(e.at.Sub(target)); d < bestDist {
			best = e
			bestDist = d
		}
	}
	return hist[len(hist)-1].score.FinalScore - best.score.FinalScore
}

// actionFor applies the recommendation ladder. Rank is 1-based.
func actionFor(score float64, rank int, trend core.Trend) core.Action {
	switch {
	case score >= holdScoreFloor && rank < 3:
		if trend == core.TrendDown {
			return core.ActionWatch
		}
		return core.ActionHold
	case score >= watchScoreFloor && trend == core.TrendUp && rank < 5:
		return core.ActionWatch
	case score >= monitorScoreFloor:
		return core.ActionMonitor
	default:
		return core.ActionAvoid
	}
}

func pruneHistory(hist []scoreEntry, now time.Time) []scoreEntry {
	cutoff := now.Add(-historyWindow)
	out := hist[:0]
	for _, e := range hist {
		if e.at.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
