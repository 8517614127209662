// Package indicator provides technical indicator calculations over daily
// price columns.
//
// Streaming indicators implement the Indicator interface and consume one
// value per Update in O(1) memory. The batch functions (EMASeries,
// RollingMean, ATR, ADX, StochasticKD, MACD, ...) push a whole column
// through the streaming form and return one output per input row, with NaN
// wherever the value is not yet defined. Feeding bars one at a time and
// recomputing over the full history therefore give identical numbers.
package indicator

import (
	"errors"
	"math"
)

var (
	// ErrInvalidWindow is returned when a period or span is not positive.
	ErrInvalidWindow = errors.New("indicator: window must be positive")

	// ErrLengthMismatch is returned when OHLC columns differ in length.
	ErrLengthMismatch = errors.New("indicator: input columns differ in length")
)

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA", "SMA").
	Name() string

	// Update feeds the next value of the input column.
	Update(v float64)

	// Value returns the current value, or NaN if not enough data.
	Value() float64

	// Ready returns true when Value is defined.
	Ready() bool

	// Reset clears all accumulated state.
	Reset()
}

func checkWindow(windows ...int) error {
	for _, n := range windows {
		if n <= 0 {
			return ErrInvalidWindow
		}
	}
	return nil
}

func checkLengths(cols ...[]float64) error {
	for _, c := range cols[1:] {
		if len(c) != len(cols[0]) {
			return ErrLengthMismatch
		}
	}
	return nil
}

// feed runs x through ind and records Value after every update.
func feed(ind Indicator, x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		ind.Update(v)
		out[i] = ind.Value()
	}
	return out
}

// Last returns the final element of x, or NaN for an empty slice.
func Last(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return x[len(x)-1]
}
