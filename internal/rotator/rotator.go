// Package rotator decides when a running grid should move from its
// current symbol to a better-ranked one. Every gate errs on the side
// of staying put: rotation costs a full unwind and re-entry.
package rotator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/pkg/telemetry"
)

const (
	defaultCooldown     = 24 * time.Hour
	defaultMaxPerWeek   = 2
	defaultGapThreshold = 15.0
	defaultRejectionTTL = 12 * time.Hour

	slippageBase        = 0.0005
	dimensionDeltaFloor = 10.0
)

// Config tunes the rotation gates.
type Config struct {
	Cooldown          time.Duration
	MaxPerWeek        int
	ScoreGapThreshold float64
	RejectionTTL      time.Duration
}

// HaltedLister reports symbols whose workers are halted and must not
// be rotation targets.
type HaltedLister interface {
	HaltedSymbols() []string
}

// Rotator evaluates rotation opportunities against the ranking table.
type Rotator struct {
	rankings core.IRankingView
	halted   HaltedLister
	store    core.IStateStore
	clock    core.Clock
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder
	cfg      Config

	mu                sync.Mutex
	lastRotation      time.Time
	weekAnchor        time.Time
	rotationsThisWeek int
	rejections        map[string]time.Time
}

// New creates a rotator. halted and store may be nil.
func New(rankings core.IRankingView, halted HaltedLister, store core.IStateStore,
	clock core.Clock, logger core.ILogger, metrics *telemetry.MetricsHolder, cfg Config) *Rotator {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.MaxPerWeek <= 0 {
		cfg.MaxPerWeek = defaultMaxPerWeek
	}
	if cfg.ScoreGapThreshold <= 0 {
		cfg.ScoreGapThreshold = defaultGapThreshold
	}
	if cfg.RejectionTTL <= 0 {
		cfg.RejectionTTL = defaultRejectionTTL
	}
	return &Rotator{
		rankings:   rankings,
		halted:     halted,
		store:      store,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
		rejections: make(map[string]time.Time),
	}
}

// Evaluate checks whether the grid on current should rotate to a
// better symbol. A nil signal with nil error means "stay".
func (r *Rotator) Evaluate(ctx context.Context, current string) (*core.RotationSignal, error) {
	now := r.clock.Now()

	r.mu.Lock()
	r.resetWeekLocked(now)
	if !r.lastRotation.IsZero() && now.Sub(r.lastRotation) < r.cfg.Cooldown {
		r.mu.Unlock()
		return nil, nil
	}
	if r.rotationsThisWeek >= r.cfg.MaxPerWeek {
		r.mu.Unlock()
		return nil, nil
	}
	r.mu.Unlock()

	table, err := r.rankings.Rankings(ctx)
	if err != nil {
		return nil, err
	}

	var currentRow *core.CoinRank
	for i := range table {
		if table[i].Symbol == current {
			currentRow = &table[i]
			break
		}
	}
	if currentRow == nil {
		r.logger.Debug("Current symbol absent from ranking table", "symbol", current)
		return nil, nil
	}
	if currentRow.Rank == 1 {
		return nil, nil
	}

	target := r.bestTarget(table, current)
	if target == nil {
		return nil, nil
	}

	gap := target.Score - currentRow.Score
	if gap < r.cfg.ScoreGapThreshold {
		return nil, nil
	}

	r.mu.Lock()
	rejectedAt, rejected := r.rejections[rejectionKey(current, target.Symbol)]
	r.mu.Unlock()
	if rejected && now.Sub(rejectedAt) < r.cfg.RejectionTTL {
		return nil, nil
	}

	fromScore, _ := r.rankings.ScoreOf(current)
	toScore, _ := r.rankings.ScoreOf(target.Symbol)

	sig := &core.RotationSignal{
		FromSymbol:        current,
		ToSymbol:          target.Symbol,
		ScoreDiff:         gap,
		Reason:            buildReason(fromScore, toScore, target.Trend, gap),
		EstimatedSlippage: EstimateSlippage(toScore),
		Timestamp:         now,
	}
	if fromScore != nil {
		sig.FromScore = fromScore.FinalScore
	}
	if toScore != nil {
		sig.ToScore = toScore.FinalScore
	}

	r.logger.Info("Rotation signal",
		"from", sig.FromSymbol, "to", sig.ToSymbol,
		"gap", sig.ScoreDiff, "reason", sig.Reason)
	return sig, nil
}

// RecordRotation marks a signal as acted upon: it arms the cooldown,
// counts against the weekly cap, and is persisted when a store is set.
func (r *Rotator) RecordRotation(ctx context.Context, sig *core.RotationSignal) error {
	now := r.clock.Now()

	r.mu.Lock()
	r.resetWeekLocked(now)
	r.lastRotation = now
	r.rotationsThisWeek++
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RotationsTotal.Add(ctx, 1)
	}
	if r.store != nil {
		if err := r.store.AppendRotation(ctx, sig); err != nil {
			return fmt.Errorf("persisting rotation: %w", err)
		}
	}
	return nil
}

// RecordRejection remembers that the operator declined this pair so it
// is not re-proposed immediately.
func (r *Rotator) RecordRejection(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections[rejectionKey(from, to)] = r.clock.Now()
}

// RotationsThisWeek reports the count against the weekly cap.
func (r *Rotator) RotationsThisWeek() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetWeekLocked(r.clock.Now())
	return r.rotationsThisWeek
}

// bestTarget is the highest-ranked symbol that is not the current one
// and not halted.
func (r *Rotator) bestTarget(table []core.CoinRank, current string) *core.CoinRank {
	halted := make(map[string]struct{})
	if r.halted != nil {
		for _, s := range r.halted.HaltedSymbols() {
			halted[s] = struct{}{}
		}
	}
	for i := range table {
		if table[i].Symbol == current {
			continue
		}
		if _, ok := halted[table[i].Symbol]; ok {
			continue
		}
		return &table[i]
	}
	return nil
}

// resetWeekLocked zeroes the weekly counter when the Monday boundary
// has passed. Caller holds r.mu.
func (r *Rotator) resetWeekLocked(now time.Time) {
	anchor := weekStart(now)
	if !anchor.Equal(r.weekAnchor) {
		r.weekAnchor = anchor
		r.rotationsThisWeek = 0
	}
}

// weekStart returns Monday 00:00 of t's week in t's location.
func weekStart(t time.Time) time.Time {
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -daysSinceMonday).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func rejectionKey(from, to string) string { return from + "->" + to }

// EstimateSlippage guesses round-trip slippage for entering the target:
// a flat base, widened for thin books and fast tape.
func EstimateSlippage(target *core.CoinScore) float64 {
	s := slippageBase
	if target == nil {
		return s
	}
	switch {
	case target.LiquidityScore < 50:
		s *= 2
	case target.LiquidityScore < 70:
		s *= 1.5
	}
	if target.ATRPct > 0.05 {
		s *= 1.2
	}
	return s
}

// buildReason assembles a human-readable justification from the
// per-dimension score deltas that matter.
func buildReason(from, to *core.CoinScore, trend core.Trend, gap float64) string {
	parts := []string{fmt.Sprintf("score gap %.1f", gap)}

	if from != nil && to != nil {
		dims := []struct {
			name     string
			from, to float64
		}{
			{"volatility", from.VolatilityScore, to.VolatilityScore},
			{"liquidity", from.LiquidityScore, to.LiquidityScore},
			{"mean_reversion", from.MeanRevertScore, to.MeanRevertScore},
			{"momentum", from.MomentumScore, to.MomentumScore},
			{"stability", from.StabilityScore, to.StabilityScore},
		}
		for _, d := range dims {
			if delta := d.to - d.from; delta > dimensionDeltaFloor {
				parts = append(parts, fmt.Sprintf("better %s (+%.0f)", d.name, delta))
			}
		}
	}

	if trend == core.TrendUp {
		parts = append(parts, "target trending up")
	}
	return strings.Join(parts, ", ")
}
