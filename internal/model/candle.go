package model

import (
	"sort"
	"time"
)

// Bar is one trading day of OHLCV data for a single symbol.
// Date is normalised to UTC midnight of the trading day.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Day truncates t to its calendar day in UTC, keeping the wall-clock date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats a date as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Series is an ascending, date-unique sequence of daily bars.
type Series struct {
	Symbol string
	Bars   []Bar
}

// NewSeries sorts bars by date and drops duplicate days, keeping the bar
// that appeared last in the input for each day.
func NewSeries(symbol string, bars []Bar) Series {
	byDay := make(map[time.Time]int, len(bars))
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		b.Date = Day(b.Date)
		if idx, ok := byDay[b.Date]; ok {
			out[idx] = b
			continue
		}
		byDay[b.Date] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return Series{Symbol: symbol, Bars: out}
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Bars) }

// Last returns the final bar. Callers must check Len first.
func (s Series) Last() Bar { return s.Bars[len(s.Bars)-1] }

// Prefix returns the series truncated to bars [0..i] inclusive.
// The returned series shares the backing array.
func (s Series) Prefix(i int) Series {
	return Series{Symbol: s.Symbol, Bars: s.Bars[:i+1]}
}

func (s Series) column(f func(Bar) float64) []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = f(b)
	}
	return out
}

func (s Series) Opens() []float64 {
	return s.column(func(b Bar) float64 { return b.Open })
}

func (s Series) Highs() []float64 {
	return s.column(func(b Bar) float64 { return b.High })
}

func (s Series) Lows() []float64 {
	return s.column(func(b Bar) float64 { return b.Low })
}

func (s Series) Closes() []float64 {
	return s.column(func(b Bar) float64 { return b.Close })
}

func (s Series) Volumes() []float64 {
	return s.column(func(b Bar) float64 { return b.Volume })
}

// Dates returns the bar dates in order.
func (s Series) Dates() []time.Time {
	out := make([]time.Time, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Date
	}
	return out
}
