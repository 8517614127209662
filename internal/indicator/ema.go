package indicator

import "math"

// EMA calculates an Exponential Moving Average with smoothing factor
// 2/(period+1). The first defined input seeds the average directly.
// O(1) per update with no window storage.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	seeded     bool
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

// Update folds v into the average. NaN inputs leave the state unchanged.
func (e *EMA) Update(v float64) {
	if math.IsNaN(v) {
		return
	}
	if !e.seeded {
		e.current = v
		e.seeded = true
		return
	}
	// EMA formula: EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 {
	if !e.seeded {
		return math.NaN()
	}
	return e.current
}

func (e *EMA) Ready() bool { return e.seeded }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.seeded = false
}

// EMASeries returns the EMA of x for every row.
func EMASeries(x []float64, span int) ([]float64, error) {
	if err := checkWindow(span); err != nil {
		return nil, err
	}
	return feed(NewEMA(span), x), nil
}
