package indicator

import "math"

// Directional holds the directional movement system for every bar.
type Directional struct {
	PlusDI  []float64
	MinusDI []float64
	DX      []float64
	ADX     []float64
}

// ADX computes the Average Directional Index over n bars.
//
// +DM is the up-move when it exceeds the down-move and is positive, else 0;
// -DM is symmetric. Each is summed over n bars and divided by the n-bar
// ATR to give ±DI. DX = 100*|+DI - -DI|/(+DI + -DI) and ADX is the n-bar
// mean of DX. A zero denominator yields NaN, which propagates.
func ADX(high, low, close []float64, n int) (Directional, error) {
	if err := checkWindow(n); err != nil {
		return Directional{}, err
	}
	if err := checkLengths(high, low, close); err != nil {
		return Directional{}, err
	}

	size := len(close)
	plusDM := make([]float64, size)
	minusDM := make([]float64, size)
	for i := 1; i < size; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	atr, err := ATR(high, low, close, n)
	if err != nil {
		return Directional{}, err
	}
	plusSum, _ := RollingSum(plusDM, n)
	minusSum, _ := RollingSum(minusDM, n)

	d := Directional{
		PlusDI:  make([]float64, size),
		MinusDI: make([]float64, size),
		DX:      make([]float64, size),
	}
	for i := 0; i < size; i++ {
		d.PlusDI[i] = 100 * plusSum[i] / atr[i]
		d.MinusDI[i] = 100 * minusSum[i] / atr[i]
		d.DX[i] = 100 * math.Abs(d.PlusDI[i]-d.MinusDI[i]) / (d.PlusDI[i] + d.MinusDI[i])
	}
	d.ADX, _ = RollingMean(d.DX, n)
	return d, nil
}
