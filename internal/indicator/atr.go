package indicator

import "math"

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|) per
// bar. The first bar has no previous close, so its range is high-low.
func TrueRange(high, low, close []float64) ([]float64, error) {
	if err := checkLengths(high, low, close); err != nil {
		return nil, err
	}
	out := make([]float64, len(close))
	for i := range close {
		hl := high[i] - low[i]
		if i == 0 {
			out[i] = hl
			continue
		}
		out[i] = maxSkipNaN(hl, math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1]))
	}
	return out, nil
}

// ATR returns the n-bar simple average of the true range.
func ATR(high, low, close []float64, n int) ([]float64, error) {
	if err := checkWindow(n); err != nil {
		return nil, err
	}
	tr, err := TrueRange(high, low, close)
	if err != nil {
		return nil, err
	}
	return RollingMean(tr, n)
}

// maxSkipNaN returns the largest non-NaN argument, or NaN if all are NaN.
func maxSkipNaN(vs ...float64) float64 {
	out := math.NaN()
	for _, v := range vs {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(out) || v > out {
			out = v
		}
	}
	return out
}
