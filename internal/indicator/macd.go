package indicator

import "math"

// MACDLines holds the MACD line, its signal line and the histogram.
type MACDLines struct {
	Line   []float64
	Signal []float64
	Hist   []float64
}

// MACD computes EMA(fast) - EMA(slow), its signal-period EMA and the
// difference of the two. Rows before the slow EMA has seen slow bars are
// reported as NaN; later rows are unaffected by the masking.
func MACD(close []float64, fast, slow, signal int) (MACDLines, error) {
	if err := checkWindow(fast, slow, signal); err != nil {
		return MACDLines{}, err
	}
	ef, _ := EMASeries(close, fast)
	es, _ := EMASeries(close, slow)

	line := make([]float64, len(close))
	for i := range close {
		line[i] = ef[i] - es[i]
	}
	sig, _ := EMASeries(line, signal)

	m := MACDLines{
		Line:   line,
		Signal: sig,
		Hist:   make([]float64, len(close)),
	}
	for i := range close {
		m.Hist[i] = line[i] - sig[i]
	}
	for i := 0; i < slow-1 && i < len(close); i++ {
		m.Line[i] = math.NaN()
		m.Signal[i] = math.NaN()
		m.Hist[i] = math.NaN()
	}
	return m, nil
}

// MACDWarmup is the number of bars MACD needs; row MACDWarmup(slow)-1 is
// the first defined one.
func MACDWarmup(slow int) int { return slow }
