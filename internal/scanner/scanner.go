// Package scanner enumerates a venue's perpetual universe and ranks
// symbols by grid suitability from daily amplitude statistics.
package scanner

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/pkg/concurrency"
	"gridbot/pkg/telemetry"

	"golang.org/x/time/rate"
)

const (
	resultCacheTTL = 4 * time.Hour
	batchSpacing   = 200 * time.Millisecond
)

// Config tunes the scan.
type Config struct {
	QuoteAsset     string
	Days           int
	MinAmplitude   float64
	MaxAmplitude   float64
	MaxTotalChange float64
	MinVolume24h   float64
	BatchSize      int
	TopN           int
	Blocklist      []string
}

// Candidate is one surviving symbol with its amplitude statistics.
type Candidate struct {
	Symbol       string  `json:"symbol"`
	AvgAmplitude float64 `json:"avg_amplitude"`
	TotalChange  float64 `json:"total_change"`
	Volume24h    float64 `json:"volume_24h"`
	Suitability  float64 `json:"suitability"`
}

// Scanner walks the universe in rate-limited batches and keeps a
// four-hour result cache.
type Scanner struct {
	md      core.IMarketData
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
	cfg     Config
	limiter *rate.Limiter

	mu       sync.Mutex
	cached   []Candidate
	cachedAt time.Time
}

// New creates a scanner with sane defaults for missing config.
func New(md core.IMarketData, cfg Config, logger core.ILogger, metrics *telemetry.MetricsHolder) *Scanner {
	if cfg.Days <= 0 {
		cfg.Days = 30
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 15
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDC"
	}
	return &Scanner{
		md:      md,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(batchSpacing), 1),
	}
}

// Scan returns the top candidates, serving the cache when fresh.
func (s *Scanner) Scan(ctx context.Context) ([]Candidate, error) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.cachedAt) < resultCacheTTL {
		out := s.cached
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	start := time.Now()
	candidates, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ScanDuration.Record(ctx, time.Since(start).Seconds())
	}

	s.mu.Lock()
	s.cached = candidates
	s.cachedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("Universe scan complete",
		"candidates", len(candidates), "elapsed", time.Since(start))
	return candidates, nil
}

// Invalidate drops the cache; the next Scan hits the venue.
func (s *Scanner) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

func (s *Scanner) scan(ctx context.Context) ([]Candidate, error) {
	symbols, err := s.universe(ctx)
	if err != nil {
		return nil, err
	}

	tickers, err := s.md.Tickers(ctx)
	if err != nil {
		return nil, err
	}
	volumes := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		volumes[t.Symbol] = t.QuoteVolume
	}

	var (
		mu         sync.Mutex
		candidates []Candidate
	)
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "scanner",
		MaxWorkers: s.cfg.BatchSize,
	}, s.logger)
	defer pool.Stop()

	for start := 0; start < len(symbols); start += s.cfg.BatchSize {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		end := start + s.cfg.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		var wg sync.WaitGroup
		for _, symbol := range symbols[start:end] {
			symbol := symbol
			wg.Add(1)
			pool.Submit(func() {
				defer wg.Done()
				cand, ok := s.evaluate(ctx, symbol, volumes[symbol])
				if !ok {
					return
				}
				mu.Lock()
				candidates = append(candidates, cand)
				mu.Unlock()
			})
		}
		wg.Wait()
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Suitability != candidates[j].Suitability {
			return candidates[i].Suitability > candidates[j].Suitability
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})
	if len(candidates) > s.cfg.TopN {
		candidates = candidates[:s.cfg.TopN]
	}
	return candidates, nil
}

// universe lists active perpetuals in the configured quote asset,
// minus the blocklist.
func (s *Scanner) universe(ctx context.Context) ([]string, error) {
	markets, err := s.md.Markets(ctx)
	if err != nil {
		return nil, err
	}

	blocked := make(map[string]struct{}, len(s.cfg.Blocklist))
	for _, b := range s.cfg.Blocklist {
		blocked[strings.ToUpper(b)] = struct{}{}
	}

	var out []string
	for _, m := range markets {
		if !m.Active || m.Quote != s.cfg.QuoteAsset {
			continue
		}
		if _, ok := blocked[strings.ToUpper(m.Symbol)]; ok {
			continue
		}
		if _, ok := blocked[strings.ToUpper(m.Base)]; ok {
			continue
		}
		out = append(out, m.Symbol)
	}
	sort.Strings(out)
	return out, nil
}

// evaluate computes amplitude statistics over daily candles and
// applies the filters.
func (s *Scanner) evaluate(ctx context.Context, symbol string, volume24h float64) (Candidate, bool) {
	candles, err := s.md.OHLCV(ctx, symbol, "1d", s.cfg.Days)
	if err != nil {
		s.logger.Debug("Skipping symbol, candles unavailable", "symbol", symbol, "error", err)
		return Candidate{}, false
	}
	if len(candles) == 0 {
		return Candidate{}, false
	}

	avgAmp, totalChange := AmplitudeStats(candles)

	if avgAmp < s.cfg.MinAmplitude {
		return Candidate{}, false
	}
	if s.cfg.MaxAmplitude > 0 && avgAmp > s.cfg.MaxAmplitude {
		return Candidate{}, false
	}
	if s.cfg.MaxTotalChange > 0 && math.Abs(totalChange) > s.cfg.MaxTotalChange {
		return Candidate{}, false
	}
	if volume24h < s.cfg.MinVolume24h {
		return Candidate{}, false
	}

	return Candidate{
		Symbol:       symbol,
		AvgAmplitude: avgAmp,
		TotalChange:  totalChange,
		Volume24h:    volume24h,
		Suitability:  Suitability(avgAmp, totalChange),
	}, true
}

// AmplitudeStats returns the mean daily amplitude percentage and the
// summed per-day change percentage.
func AmplitudeStats(candles []core.Candle) (avgAmplitude, totalChange float64) {
	var ampSum float64
	var n int
	for _, c := range candles {
		if c.Open <= 0 {
			continue
		}
		ampSum += (c.High - c.Low) / c.Open * 100
		totalChange += (c.Close - c.Open) / c.Open * 100
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return ampSum / float64(n), totalChange
}

// Suitability blends amplitude quality with trend absence:
// 0.6·amplitude + 0.4·trend.
func Suitability(avgAmplitude, totalChange float64) float64 {
	return 0.6*amplitudeScore(avgAmplitude) + 0.4*trendScore(totalChange)
}

// amplitudeScore peaks in the 3-8% daily range band.
func amplitudeScore(amp float64) float64 {
	switch {
	case amp <= 0:
		return 0
	case amp < 3:
		return amp / 3 * 80
	case amp <= 8:
		return 80 + (1-math.Abs(amp-5.5)/2.5)*20
	default:
		return clamp(80-(amp-8)*8, 0, 80)
	}
}

// trendScore rewards a flat month: the less net drift, the better a
// symmetric grid fares.
func trendScore(totalChange float64) float64 {
	return clamp(100-math.Abs(totalChange), 0, 100)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
