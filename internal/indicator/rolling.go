package indicator

import "math"

// Agg selects the reduction a Rolling window applies.
type Agg int

const (
	AggMean Agg = iota
	AggSum
	AggMin
	AggMax
)

func (a Agg) String() string {
	switch a {
	case AggSum:
		return "SUM"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	default:
		return "SMA"
	}
}

// Rolling reduces the last period inputs. It is undefined until period
// values have been seen, and NaN whenever the window holds a NaN.
// Uses a preallocated circular buffer.
type Rolling struct {
	agg    Agg
	period int
	buf    []float64 // preallocated circular buffer
	idx    int       // next write position
	count  int       // total values received
}

// NewRolling creates a rolling window of the given reduction and period.
func NewRolling(agg Agg, period int) *Rolling {
	return &Rolling{
		agg:    agg,
		period: period,
		buf:    make([]float64, period),
	}
}

// NewSMA creates a simple moving average.
func NewSMA(period int) *Rolling { return NewRolling(AggMean, period) }

func (r *Rolling) Name() string { return r.agg.String() }

func (r *Rolling) Update(v float64) {
	r.buf[r.idx] = v
	r.idx = (r.idx + 1) % r.period
	r.count++
}

func (r *Rolling) Ready() bool { return r.count >= r.period }

// Value reduces the window oldest-first on every call.
func (r *Rolling) Value() float64 {
	if !r.Ready() {
		return math.NaN()
	}
	var acc float64
	for i := 0; i < r.period; i++ {
		v := r.buf[(r.idx+i)%r.period]
		if math.IsNaN(v) {
			return math.NaN()
		}
		switch {
		case i == 0:
			acc = v
		case r.agg == AggMin:
			acc = math.Min(acc, v)
		case r.agg == AggMax:
			acc = math.Max(acc, v)
		default:
			acc += v
		}
	}
	if r.agg == AggMean {
		return acc / float64(r.period)
	}
	return acc
}

// Reset clears the window for reuse.
func (r *Rolling) Reset() {
	r.idx = 0
	r.count = 0
	for i := range r.buf {
		r.buf[i] = 0
	}
}

func rolling(agg Agg, x []float64, n int) ([]float64, error) {
	if err := checkWindow(n); err != nil {
		return nil, err
	}
	return feed(NewRolling(agg, n), x), nil
}

// RollingMean returns the n-bar simple moving average of x.
func RollingMean(x []float64, n int) ([]float64, error) { return rolling(AggMean, x, n) }

// RollingSum returns the n-bar moving sum of x.
func RollingSum(x []float64, n int) ([]float64, error) { return rolling(AggSum, x, n) }

// RollingMin returns the n-bar moving minimum of x.
func RollingMin(x []float64, n int) ([]float64, error) { return rolling(AggMin, x, n) }

// RollingMax returns the n-bar moving maximum of x.
func RollingMax(x []float64, n int) ([]float64, error) { return rolling(AggMax, x, n) }
