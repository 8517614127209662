// Package strategy turns one symbol's daily history into a point-in-time
// signal: indicator snapshot, entry gates, composite score and exit reasons.
//
// Evaluate is a pure function of its inputs. It performs no I/O and keeps
// no state between calls, so callers may run it concurrently per symbol.
package strategy

import (
	"errors"
	"fmt"
	"math"

	"twstock-screener/internal/indicator"
	"twstock-screener/internal/model"
)

var (
	// ErrEmptySeries is returned when Evaluate receives no bars.
	ErrEmptySeries = errors.New("strategy: empty price series")

	// ErrFlowLength is returned when the institutional column is not aligned
	// with the price series.
	ErrFlowLength = errors.New("strategy: institutional series not aligned with prices")
)

// columns are the full indicator series for one evaluation.
type columns struct {
	close   []float64
	ema     []float64
	volFast []float64
	volSlow []float64
	k       []float64
	d       []float64
	adx     []float64
	macd    indicator.MACDLines
	ma5     []float64
	atr     []float64
	trail   []float64
}

func computeColumns(s model.Series, cfg Config) (columns, error) {
	h, l, c, v := s.Highs(), s.Lows(), s.Closes(), s.Volumes()
	var (
		cols = columns{close: c}
		err  error
	)
	if cols.ema, err = indicator.EMASeries(c, cfg.EMAPeriod); err != nil {
		return cols, fmt.Errorf("ema: %w", err)
	}
	if cols.volFast, err = indicator.RollingMean(v, cfg.VolFast); err != nil {
		return cols, fmt.Errorf("vol_fast: %w", err)
	}
	if cols.volSlow, err = indicator.RollingMean(v, cfg.VolSlow); err != nil {
		return cols, fmt.Errorf("vol_slow: %w", err)
	}
	if cols.k, cols.d, err = indicator.StochasticKD(h, l, c, cfg.KDN, cfg.KDK, cfg.KDD); err != nil {
		return cols, fmt.Errorf("kd: %w", err)
	}
	dir, err := indicator.ADX(h, l, c, cfg.ADXPeriod)
	if err != nil {
		return cols, fmt.Errorf("adx: %w", err)
	}
	cols.adx = dir.ADX
	if cols.macd, err = indicator.MACD(c, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal); err != nil {
		return cols, fmt.Errorf("macd: %w", err)
	}
	if cols.ma5, err = indicator.RollingMean(c, 5); err != nil {
		return cols, fmt.Errorf("ma5: %w", err)
	}
	if cols.atr, err = indicator.ATR(h, l, c, cfg.StopATRPeriod); err != nil {
		return cols, fmt.Errorf("atr: %w", err)
	}
	if cfg.TrailUseEMA {
		if cols.trail, err = indicator.EMASeries(c, cfg.TrailEMAPeriod); err != nil {
			return cols, fmt.Errorf("trail ema: %w", err)
		}
	}
	return cols, nil
}

// Evaluate computes the signal for the last bar of series.
//
// inst is the institutional net-lot column aligned to series' dates (see
// model.FlowTable.Align), or nil when no flow data exists for the symbol.
// Too little history is not an error: undefined indicators are NaN and any
// condition that reads them is false.
func Evaluate(series model.Series, cfg Config, inst []float64) (model.SignalResult, error) {
	if series.Len() == 0 {
		return model.SignalResult{}, ErrEmptySeries
	}
	if err := cfg.Validate(); err != nil {
		return model.SignalResult{}, err
	}
	if inst != nil && len(inst) != series.Len() {
		return model.SignalResult{}, fmt.Errorf("%w: %d flow rows, %d bars", ErrFlowLength, len(inst), series.Len())
	}

	cols, err := computeColumns(series, cfg)
	if err != nil {
		return model.SignalResult{}, fmt.Errorf("strategy: %w", err)
	}

	snap := snapshot(cols, cfg)
	instState := applyInstitutional(&snap, inst, cfg)
	conds := entryConditions(snap, cfg)
	conds.InstPositive = instState

	return model.SignalResult{
		Symbol:      series.Symbol,
		Date:        series.Last().Date,
		Snapshot:    snap,
		Conditions:  conds,
		Score:       Score(ScoreComponents(snap, cfg), cfg),
		EntryPass:   conds.All(),
		ExitReasons: exitReasons(cols, cfg),
	}, nil
}

func snapshot(cols columns, cfg Config) model.Snapshot {
	s := model.Snapshot{
		Close:      indicator.Last(cols.close),
		EMA:        indicator.Last(cols.ema),
		VolFast:    indicator.Last(cols.volFast),
		VolSlow:    indicator.Last(cols.volSlow),
		K:          indicator.Last(cols.k),
		D:          indicator.Last(cols.d),
		ADX:        indicator.Last(cols.adx),
		MACD:       indicator.Last(cols.macd.Line),
		MACDSignal: indicator.Last(cols.macd.Signal),
		MACDHist:   indicator.Last(cols.macd.Hist),
		MA5:        indicator.Last(cols.ma5),
		ATR:        indicator.Last(cols.atr),
		TrailEMA:   indicator.Last(cols.trail),
		InstSum:    math.NaN(),
	}
	s.InitialStop = s.Close - cfg.StopATRMult*s.ATR
	return s
}

// applyInstitutional fills the flow fields of s and returns the
// informational condition. The sum is only defined when at least
// InstLookback rows carry data.
func applyInstitutional(s *model.Snapshot, inst []float64, cfg Config) model.InstState {
	if inst == nil {
		return model.InstUnknown
	}
	present := 0
	for _, v := range inst {
		if !math.IsNaN(v) {
			present++
		}
	}
	if present < cfg.InstLookback {
		return model.InstUnknown
	}
	sums, err := indicator.RollingSum(inst, cfg.InstLookback)
	if err != nil {
		return model.InstUnknown
	}
	sum := indicator.Last(sums)
	if math.IsNaN(sum) {
		return model.InstUnknown
	}
	s.InstSum = sum
	s.InstScore = math.Max(0, math.Tanh(sum/cfg.InstNorm))
	if sum > 0 {
		return model.InstPositive
	}
	return model.InstNegative
}

// entryConditions evaluates the five gates. Comparisons against NaN are
// false in Go, so undefined indicators fail every gate that reads them.
func entryConditions(s model.Snapshot, cfg Config) model.Conditions {
	macdOK := true
	if cfg.MACDRequirePositive {
		macdOK = s.MACD > 0
	}
	if cfg.MACDRequireCross {
		macdOK = macdOK && s.MACD > s.MACDSignal
	}
	return model.Conditions{
		AboveEMA:        s.Close >= s.EMA,
		VolumeExpanding: s.VolFast >= s.VolSlow,
		KDInRange:       s.K >= cfg.KMin && s.K <= cfg.KMax && s.D >= cfg.DMin && s.D <= cfg.DMax,
		TrendStrong:     s.ADX > cfg.ADXMin,
		MACDBullish:     macdOK,
	}
}
