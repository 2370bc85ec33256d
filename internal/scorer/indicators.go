// Package scorer computes per-symbol grid-suitability scores from
// OHLCV history and 24 h volume: ATR%, Hurst exponent, ADF p-value,
// ADX, and volume CV, combined into a weighted composite.
package scorer

import (
	"math"

	"gridbot/internal/core"
)

const wilderPeriod = 14

// ATRPct computes the Wilder-smoothed average true range over the
// default 14 periods, as a fraction of the last close.
func ATRPct(candles []core.Candle) float64 {
	if len(candles) < wilderPeriod+1 {
		return 0
	}

	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trs = append(trs, trueRange(candles[i], candles[i-1].Close))
	}

	// Seed with the simple mean, then Wilder-smooth the rest.
	atr := mean(trs[:wilderPeriod])
	for _, tr := range trs[wilderPeriod:] {
		atr = (atr*(wilderPeriod-1) + tr) / wilderPeriod
	}

	lastClose := candles[len(candles)-1].Close
	if lastClose <= 0 {
		return 0
	}
	return atr / lastClose
}

func trueRange(c core.Candle, prevClose float64) float64 {
	tr := c.High - c.Low
	if hc := math.Abs(c.High - prevClose); hc > tr {
		tr = hc
	}
	if lc := math.Abs(c.Low - prevClose); lc > tr {
		tr = lc
	}
	return tr
}

// Hurst estimates the Hurst exponent of the close series by rescaled
// range analysis over lags 2..20 of log-returns. 0.5 is a random walk;
// below 0.5 mean-reverts. Degenerate series return 0.5.
func Hurst(closes []float64) float64 {
	if len(closes) < 21 {
		return 0.5
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			return 0.5
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}

	var logLags, logRS []float64
	for lag := 2; lag <= 20 && lag < len(returns); lag++ {
		rs := rescaledRange(returns, lag)
		if rs <= 0 {
			continue
		}
		logLags = append(logLags, math.Log(float64(lag)))
		logRS = append(logRS, math.Log(rs))
	}
	if len(logLags) < 3 {
		return 0.5
	}

	h, ok := olsSlope(logLags, logRS)
	if !ok {
		return 0.5
	}
	return clamp(h, 0, 1)
}

// rescaledRange averages R/S over consecutive windows of the lag size.
func rescaledRange(returns []float64, lag int) float64 {
	var total float64
	var windows int

	for start := 0; start+lag <= len(returns); start += lag {
		window := returns[start : start+lag]
		m := mean(window)
		sd := stddev(window, m)
		if sd == 0 {
			continue
		}

		// Range of the mean-deviation cumulative sum.
		var cum, minCum, maxCum float64
		for _, r := range window {
			cum += r - m
			if cum < minCum {
				minCum = cum
			}
			if cum > maxCum {
				maxCum = cum
			}
		}
		total += (maxCum - minCum) / sd
		windows++
	}

	if windows == 0 {
		return 0
	}
	return total / float64(windows)
}

// ADF critical values for the no-trend specification, large sample.
var adfCriticalValues = []struct {
	t float64
	p float64
}{
	{-3.43, 0.01},
	{-2.86, 0.05},
	{-2.57, 0.10},
	{-2.22, 0.20},
}

// ADFPValue runs a simplified augmented Dickey-Fuller test: Δy is
// regressed on the lagged level and the t-statistic of the level
// coefficient is bucketed against the standard critical values.
// Returns one of 0.01, 0.05, 0.10, 0.20, 0.50 (smaller means more
// stationary).
func ADFPValue(closes []float64) float64 {
	n := len(closes) - 1
	if n < 20 {
		return 0.50
	}

	lagged := closes[:n]
	deltas := make([]float64, n)
	for i := 0; i < n; i++ {
		deltas[i] = closes[i+1] - closes[i]
	}

	beta, tStat, ok := olsWithTStat(lagged, deltas)
	if !ok || beta >= 0 {
		return 0.50
	}

	for _, cv := range adfCriticalValues {
		if tStat <= cv.t {
			return cv.p
		}
	}
	return 0.50
}

// ADX computes the Wilder average directional index over 14 periods.
// Flat series yield 0.
func ADX(candles []core.Candle) float64 {
	if len(candles) < 2*wilderPeriod+1 {
		return 0
	}

	var trs, plusDMs, minusDMs []float64
	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		up := cur.High - prev.High
		down := prev.Low - cur.Low

		var plusDM, minusDM float64
		if up > down && up > 0 {
			plusDM = up
		}
		if down > up && down > 0 {
			minusDM = down
		}
		trs = append(trs, trueRange(cur, prev.Close))
		plusDMs = append(plusDMs, plusDM)
		minusDMs = append(minusDMs, minusDM)
	}

	smTR := sum(trs[:wilderPeriod])
	smPlus := sum(plusDMs[:wilderPeriod])
	smMinus := sum(minusDMs[:wilderPeriod])

	var dxs []float64
	for i := wilderPeriod; i < len(trs); i++ {
		smTR = smTR - smTR/wilderPeriod + trs[i]
		smPlus = smPlus - smPlus/wilderPeriod + plusDMs[i]
		smMinus = smMinus - smMinus/wilderPeriod + minusDMs[i]

		if smTR == 0 {
			dxs = append(dxs, 0)
			continue
		}
		plusDI := 100 * smPlus / smTR
		minusDI := 100 * smMinus / smTR
		if plusDI+minusDI == 0 {
			dxs = append(dxs, 0)
			continue
		}
		dxs = append(dxs, 100*math.Abs(plusDI-minusDI)/(plusDI+minusDI))
	}
	if len(dxs) < wilderPeriod {
		return 0
	}

	adx := mean(dxs[:wilderPeriod])
	for _, dx := range dxs[wilderPeriod:] {
		adx = (adx*(wilderPeriod-1) + dx) / wilderPeriod
	}
	return adx
}

// VolumeCV is the coefficient of variation of per-candle quote volume.
func VolumeCV(candles []core.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	vols := make([]float64, len(candles))
	for i, c := range candles {
		vols[i] = c.Volume
	}
	m := mean(vols)
	if m == 0 {
		return 0
	}
	return stddev(vols, m) / m
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return sum(xs) / float64(len(xs))
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func stddev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// olsSlope fits y = a + b·x and returns b.
func olsSlope(xs, ys []float64) (float64, bool) {
	mx := mean(xs)
	my := mean(ys)

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - mx
		sxx += dx * dx
		sxy += dx * (ys[i] - my)
	}
	if sxx == 0 {
		return 0, false
	}
	return sxy / sxx, true
}

// olsWithTStat fits y = a + b·x and returns b with its t-statistic.
func olsWithTStat(xs, ys []float64) (beta, tStat float64, ok bool) {
	n := len(xs)
	if n < 3 {
		return 0, 0, false
	}

	mx := mean(xs)
	my := mean(ys)

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - mx
		sxx += dx * dx
		sxy += dx * (ys[i] - my)
	}
	if sxx == 0 {
		return 0, 0, false
	}

	beta = sxy / sxx
	alpha := my - beta*mx

	var sse float64
	for i := range xs {
		resid := ys[i] - alpha - beta*xs[i]
		sse += resid * resid
	}
	se2 := sse / float64(n-2)
	if se2 <= 0 {
		return 0, 0, false
	}

	tStat = beta / math.Sqrt(se2/sxx)
	return beta, tStat, true
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
