// Package indicators provides the technical-analysis helpers the concrete
// strategies need to turn price history into entry/exit thresholds: SMA,
// RSI, Bollinger Bands and ATR. Series-returning functions align output to
// input indices, with NaN before enough samples exist.
package indicators

import (
	"math"

	"github.com/mwhartley/execution-core/models"
)

// SMA calculates the Simple Moving Average over period using a rolling
// sum. Returns nil when data is shorter than period.
func SMA(data []float64, period int) []float64 {
	if period <= 0 || len(data) < period {
		return nil
	}
	out := make([]float64, len(data))
	var sum float64
	for i, v := range data {
		sum += v
		if i >= period {
			sum -= data[i-period]
		}
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// stdDev is the rolling population standard deviation over period, computed
// from rolling sums of values and squares alongside the mean.
func stdDev(data []float64, period int) []float64 {
	out := make([]float64, len(data))
	var sum, sumSq float64
	for i, v := range data {
		sum += v
		sumSq += v * v
		if i >= period {
			old := data[i-period]
			sum -= old
			sumSq -= old * old
		}
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		n := float64(period)
		mean := sum / n
		variance := sumSq/n - mean*mean
		if variance < 0 { // guard against float cancellation near zero
			variance = 0
		}
		out[i] = math.Sqrt(variance)
	}
	return out
}

// RSI calculates the Relative Strength Index with Wilder's smoothing.
// Returns nil when data has fewer than period+1 samples.
func RSI(data []float64, period int) []float64 {
	if period <= 0 || len(data) < period+1 {
		return nil
	}
	out := make([]float64, len(data))
	for i := 0; i < period; i++ {
		out[i] = math.NaN()
	}

	var avgGain, avgLoss float64
	for i := 1; i < len(data); i++ {
		gain, loss := 0.0, 0.0
		if change := data[i] - data[i-1]; change > 0 {
			gain = change
		} else {
			loss = -change
		}

		switch {
		case i < period:
			avgGain += gain
			avgLoss += loss
		case i == period:
			avgGain = (avgGain + gain) / float64(period)
			avgLoss = (avgLoss + loss) / float64(period)
			out[i] = rsiValue(avgGain, avgLoss)
		default:
			avgGain = (avgGain*float64(period-1) + gain) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
			out[i] = rsiValue(avgGain, avgLoss)
		}
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// BollingerBands calculates the upper, middle and lower bands: an SMA
// middle with stdDevMultiplier standard deviations either side. Returns
// nil slices when data is shorter than period.
func BollingerBands(data []float64, period int, stdDevMultiplier float64) (upper, middle, lower []float64) {
	middle = SMA(data, period)
	if middle == nil {
		return nil, nil, nil
	}
	sd := stdDev(data, period)
	upper = make([]float64, len(data))
	lower = make([]float64, len(data))
	for i := range data {
		band := sd[i] * stdDevMultiplier
		upper[i] = middle[i] + band
		lower[i] = middle[i] - band
	}
	return upper, middle, lower
}

// ATR calculates the Average True Range over period using Wilder's
// smoothing, the volatility measure Breakout uses to place stops and as a
// minimum-volatility entry gate. Returns 0 when candles has fewer than
// period+1 bars.
func ATR(candles []models.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	var atr float64
	for i := 1; i < len(candles); i++ {
		high, low, prevClose := candles[i].High, candles[i].Low, candles[i-1].Close
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))

		switch {
		case i <= period:
			atr += tr
			if i == period {
				atr /= float64(period)
			}
		default:
			atr = (atr*float64(period-1) + tr) / float64(period)
		}
	}
	return atr
}
