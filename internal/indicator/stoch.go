package indicator

// StochasticKD returns the slow stochastic %K and %D lines.
// Fast %K = 100*(close - lowest low)/(highest high - lowest low) over n bars,
// K is its kSmooth-bar mean and D is the dSmooth-bar mean of K.
// A flat range gives 0/0 and therefore NaN.
func StochasticKD(high, low, close []float64, n, kSmooth, dSmooth int) (k, d []float64, err error) {
	if err := checkWindow(n, kSmooth, dSmooth); err != nil {
		return nil, nil, err
	}
	if err := checkLengths(high, low, close); err != nil {
		return nil, nil, err
	}
	ll, _ := RollingMin(low, n)
	hh, _ := RollingMax(high, n)
	fast := make([]float64, len(close))
	for i := range close {
		fast[i] = 100 * (close[i] - ll[i]) / (hh[i] - ll[i])
	}
	k, _ = RollingMean(fast, kSmooth)
	d, _ = RollingMean(k, dSmooth)
	return k, d, nil
}
