// Package indicators provides shared technical indicator calculations
// over domain.Candle series. All functions are stateless and
// deterministic: given the same candle slice, they return the same
// result. Used by the scanner's pre-filter and deep-analysis phases.
package indicators

import (
	"math"

	"github.com/ridgeline-systems/perpctl/internal/domain"
)

// ATR computes the Average True Range over the given period.
// True Range = max(high-low, |high-prevClose|, |low-prevClose|).
// Returns the simple average of the last `period` true ranges.
// Falls back to the last candle's range if insufficient data.
func ATR(candles []domain.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) < period+1 {
		last := candles[len(candles)-1]
		return last.High - last.Low
	}

	var totalTR float64
	for i := len(candles) - period; i < len(candles); i++ {
		curr := candles[i]
		prev := candles[i-1]

		tr1 := curr.High - curr.Low
		tr2 := math.Abs(curr.High - prev.Close)
		tr3 := math.Abs(curr.Low - prev.Close)

		totalTR += math.Max(tr1, math.Max(tr2, tr3))
	}

	return totalTR / float64(period)
}

// EMA computes the Exponential Moving Average of closing prices with
// smoothing factor 2/(period+1), seeded by the SMA of the first `period`
// closes. Returns 0 if there is insufficient data.
func EMA(candles []domain.Candle, period int) float64 {
	if len(candles) < period {
		return 0
	}

	k := 2.0 / float64(period+1)

	var sum float64
	for i := 0; i < period; i++ {
		sum += candles[i].Close
	}
	ema := sum / float64(period)

	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close * k) + (ema * (1 - k))
	}

	return ema
}

// EMASeries computes the trailing EMA(period) value as of every index,
// for crossover detection against a second EMA series of a different
// period. Indices before `period-1` are zero.
func EMASeries(candles []domain.Candle, period int) []float64 {
	out := make([]float64, len(candles))
	if len(candles) < period {
		return out
	}

	k := 2.0 / float64(period+1)
	var sum float64
	for i := 0; i < period; i++ {
		sum += candles[i].Close
	}
	ema := sum / float64(period)
	out[period-1] = ema

	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close * k) + (ema * (1 - k))
		out[i] = ema
	}
	return out
}

// RSI computes the Relative Strength Index over the given period using
// Wilder smoothing. Returns 50 (neutral) if insufficient data.
func RSI(candles []domain.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gainSum += change
		} else {
			lossSum += math.Abs(change)
		}
	}

	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = math.Abs(change)
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ROC computes the Rate of Change (fractional, not percentage) over the
// given period. Returns 0 if insufficient data or division by zero.
func ROC(candles []domain.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 0
	}

	current := candles[len(candles)-1].Close
	past := candles[len(candles)-1-period].Close
	if past == 0 {
		return 0
	}
	return (current - past) / past
}

// AverageVolume computes the mean volume over the last `period` candles.
func AverageVolume(candles []domain.Candle, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}

	start := len(candles) - period
	if start < 0 {
		start = 0
	}

	var total float64
	count := 0
	for i := start; i < len(candles); i++ {
		total += candles[i].Volume
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// AverageVolumeWindow computes the mean volume over candles[from:to)
// (both indices clamped into range), used for the pre-filter's
// mean(volume[-3:]) / mean(volume[-23:-3]) style windows.
func AverageVolumeWindow(candles []domain.Candle, from, to int) float64 {
	if from < 0 {
		from = 0
	}
	if to > len(candles) {
		to = len(candles)
	}
	if from >= to {
		return 0
	}
	var total float64
	for i := from; i < to; i++ {
		total += candles[i].Volume
	}
	return total / float64(to-from)
}
