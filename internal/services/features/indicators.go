package features

import (
	"math"

	"SwarmTrader/internal/domain/models"
)

// LogReturns computes r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(closes)-1, or nil if insufficient data.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// Volatility is the sample standard deviation of the last window log returns.
func Volatility(closes []float64, window int) float64 {
	r := LogReturns(closes)
	if window <= 1 || len(r) < window {
		return 0
	}
	return Stdev(r[len(r)-window:])
}

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Stdev is the sample standard deviation.
func Stdev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(n-1))
}

// SMA averages the last n values.
func SMA(xs []float64, n int) float64 {
	if n <= 0 || len(xs) < n {
		return 0
	}
	return Mean(xs[len(xs)-n:])
}

// RSI over the last period changes; 50 when there is not enough data.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}
	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// ATR averages the true range of the last period candles.
func ATR(cs []models.Candle, period int) float64 {
	if period <= 0 || len(cs) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(cs) - period; i < len(cs); i++ {
		prevClose := cs[i-1].Close
		tr := max(cs[i].High-cs[i].Low, math.Abs(cs[i].High-prevClose), math.Abs(cs[i].Low-prevClose))
		sum += tr
	}
	return sum / float64(period)
}

// Slope is the least-squares slope of xs against its index.
func Slope(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sx, sy, sxy, sxx float64
	for i, y := range xs {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}

// ZScore of the last value against the whole window.
func ZScore(xs []float64) (z, mean, sd float64) {
	if len(xs) < 2 {
		return 0, 0, 0
	}
	mean = Mean(xs)
	sd = Stdev(xs)
	if sd == 0 {
		return 0, mean, 0
	}
	return (xs[len(xs)-1] - mean) / sd, mean, sd
}

// Range returns the highest high and lowest low.
func Range(cs []models.Candle) (hi, lo float64) {
	if len(cs) == 0 {
		return 0, 0
	}
	hi, lo = cs[0].High, cs[0].Low
	for _, c := range cs[1:] {
		hi = max(hi, c.High)
		lo = min(lo, c.Low)
	}
	return hi, lo
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
