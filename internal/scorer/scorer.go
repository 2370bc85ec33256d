package scorer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/pkg/concurrency"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/telemetry"
)

// Composite weights. Normalized at use so a tweak that breaks the
// sum-to-one property cannot skew the scale.
const (
	weightVolatility = 0.15
	weightLiquidity  = 0.20
	weightMeanRevert = 0.40
	weightMomentum   = 0.15
	weightStability  = 0.10
)

const (
	defaultCandleCount = 168 // hourly, one week
	minCandles         = 50
	defaultCacheTTL    = 15 * time.Minute
	batchWorkers       = 8
)

type cachedScore struct {
	score *core.CoinScore
	at    time.Time
}

// Scorer computes composite grid-suitability scores with a per-symbol
// TTL cache. Batch scoring prefetches tickers in one call and fans the
// per-symbol work out over a bounded pool.
type Scorer struct {
	md      core.IMarketData
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cachedScore
}

// New creates a scorer. metrics may be nil.
func New(md core.IMarketData, logger core.ILogger, metrics *telemetry.MetricsHolder) *Scorer {
	return &Scorer{
		md:      md,
		logger:  logger,
		metrics: metrics,
		ttl:     defaultCacheTTL,
		cache:   make(map[string]cachedScore),
	}
}

// SetCacheTTL overrides the score cache lifetime.
func (s *Scorer) SetCacheTTL(ttl time.Duration) { s.ttl = ttl }

// Score computes (or serves from cache) one symbol's composite score.
// Symbols with under 50 candles of history get the sentinel empty
// score and ErrInsufficientData.
func (s *Scorer) Score(ctx context.Context, symbol string) (*core.CoinScore, error) {
	s.mu.Lock()
	if c, ok := s.cache[symbol]; ok && time.Since(c.at) < s.ttl {
		s.mu.Unlock()
		return c.score, nil
	}
	s.mu.Unlock()

	candles, err := s.md.OHLCV(ctx, symbol, "1h", defaultCandleCount)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", symbol, err)
	}
	if len(candles) < minCandles {
		return emptyScore(symbol), fmt.Errorf("%w: %s has %d candles, need %d",
			apperrors.ErrInsufficientData, symbol, len(candles), minCandles)
	}

	var volume24h float64
	if ticker, err := s.md.Ticker(ctx, symbol); err == nil {
		volume24h = ticker.QuoteVolume
	} else {
		s.logger.Debug("Ticker unavailable, liquidity scores zero", "symbol", symbol, "error", err)
	}

	score := Compute(symbol, candles, volume24h)

	s.mu.Lock()
	s.cache[symbol] = cachedScore{score: score, at: time.Now()}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ScoreComputeTotal.Add(ctx, 1)
	}
	return score, nil
}

// ScoreAll scores a batch. The ticker cache is warmed with one batch
// call first; symbols that fail to score come back as empty sentinels
// rather than failing the batch.
func (s *Scorer) ScoreAll(ctx context.Context, symbols []string) []*core.CoinScore {
	if _, err := s.md.Tickers(ctx); err != nil {
		s.logger.Warn("Batch ticker prefetch failed", "error", err)
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "scorer",
		MaxWorkers: batchWorkers,
	}, s.logger)
	defer pool.Stop()

	results := make([]*core.CoinScore, len(symbols))
	var wg sync.WaitGroup
	for i, symbol := range symbols {
		i, symbol := i, symbol
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			score, err := s.Score(ctx, symbol)
			if err != nil {
				s.logger.Debug("Scoring failed", "symbol", symbol, "error", err)
				if score == nil {
					score = emptyScore(symbol)
				}
			}
			results[i] = score
		})
	}
	wg.Wait()

	return results
}

func emptyScore(symbol string) *core.CoinScore {
	return &core.CoinScore{Symbol: symbol, Timestamp: time.Now()}
}

// Compute derives the full score from raw inputs. Pure; the cache and
// transport live in Score.
func Compute(symbol string, candles []core.Candle, volume24h float64) *core.CoinScore {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	atrPct := ATRPct(candles)
	hurst := Hurst(closes)
	adfP := ADFPValue(closes)
	adx := ADX(candles)
	volCV := VolumeCV(candles)

	volatility := scoreATR(atrPct)
	liquidity := scoreLiquidity(volume24h)
	momentum := scoreADX(adx)
	adfScore := scoreADF(adfP)
	stability := 0.6*scoreVolumeCV(volCV) + 0.4*adfScore
	meanRevert := scoreMeanReversion(hurst, adfP)

	score := &core.CoinScore{
		Symbol:          symbol,
		VolatilityScore: volatility,
		LiquidityScore:  liquidity,
		MeanRevertScore: meanRevert,
		MomentumScore:   momentum,
		StabilityScore:  stability,
		Timestamp:       time.Now(),
		ATRPct:          atrPct,
		Volume24h:       volume24h,
		Hurst:           hurst,
		ADX:             adx,
		VolumeCV:        volCV,
		ADFPValue:       adfP,
	}
	score.FinalScore = Composite(score)
	return score
}

// Composite is the weighted sum of the component scores with the
// weights normalized to one.
func Composite(s *core.CoinScore) float64 {
	total := weightVolatility + weightLiquidity + weightMeanRevert + weightMomentum + weightStability
	return (s.VolatilityScore*weightVolatility +
		s.LiquidityScore*weightLiquidity +
		s.MeanRevertScore*weightMeanRevert +
		s.MomentumScore*weightMomentum +
		s.StabilityScore*weightStability) / total
}

// scoreATR prefers ATR% in the [0.02, 0.05] band: enough movement to
// harvest, not enough to blow through the grid.
func scoreATR(atrPct float64) float64 {
	switch {
	case atrPct <= 0:
		return 0
	case atrPct < 0.02:
		return atrPct / 0.02 * 80
	case atrPct <= 0.05:
		mid := 0.035
		return 100 - 20*math.Abs(atrPct-mid)/0.015
	default:
		return clamp(80*(1-(atrPct-0.05)/0.05), 0, 80)
	}
}

// scoreLiquidity maps 24 h quote volume to [0,100].
func scoreLiquidity(volume24h float64) float64 {
	const m = 1e6
	switch {
	case volume24h <= 0:
		return 0
	case volume24h < 50*m:
		return volume24h / (50 * m) * 60
	case volume24h < 100*m:
		return 60 + (volume24h-50*m)/(50*m)*20
	case volume24h < 500*m:
		return 80 + (volume24h-100*m)/(400*m)*20
	default:
		return 100
	}
}

// scoreHurst rewards mean reversion: the lower the exponent below 0.5,
// the better; trending series decay toward zero.
func scoreHurst(h float64) float64 {
	switch {
	case h < 0.4:
		return 80 + (0.4-h)/0.4*15
	case h < 0.5:
		return 60 + (0.5-h)/0.1*20
	default:
		return clamp(50*(1-(h-0.5)/0.5), 0, 50)
	}
}

// scoreMeanReversion adds an up-to-+10 stationarity bonus on top of
// the Hurst component when the ADF test rejects a unit root.
func scoreMeanReversion(hurst, adfP float64) float64 {
	score := scoreHurst(hurst)
	switch {
	case adfP <= 0.01:
		score += 10
	case adfP <= 0.05:
		score += 5
	}
	return clamp(score, 0, 100)
}

// scoreADX rewards the absence of trend.
func scoreADX(adx float64) float64 {
	switch {
	case adx < 0:
		return 100
	case adx < 20:
		return 80 + (20-adx)/20*20
	case adx <= 25:
		return 60 + (25-adx)/5*20
	default:
		return clamp(60-(adx-25)*2, 0, 60)
	}
}

// scoreADF maps the coarse p buckets to scores.
func scoreADF(p float64) float64 {
	switch {
	case p <= 0.01:
		return 100
	case p <= 0.05:
		return 85
	case p <= 0.10:
		return 70
	case p <= 0.20:
		return 50
	default:
		return 20
	}
}

// scoreVolumeCV rewards steady volume.
func scoreVolumeCV(cv float64) float64 {
	return clamp(100-80*cv, 0, 100)
}
