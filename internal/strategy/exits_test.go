package strategy

import (
	"math"
	"reflect"
	"testing"

	"twstock-screener/internal/indicator"
	"twstock-screener/internal/model"
)

// quietColumns returns n bars on which no exit rule fires: price above
// EMA, steady volume, MACD positive and above signal, ADX high and flat,
// K and D mid-range.
func quietColumns(n int) columns {
	fill := func(v float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	return columns{
		close:   fill(110),
		ema:     fill(100),
		volFast: fill(1000),
		volSlow: fill(1000),
		k:       fill(50),
		d:       fill(50),
		adx:     fill(40),
		macd: indicator.MACDLines{
			Line:   fill(2),
			Signal: fill(1),
			Hist:   fill(1),
		},
		ma5: fill(105),
		atr: fill(2),
	}
}

func TestExitReasons_QuietMarket(t *testing.T) {
	if got := exitReasons(quietColumns(10), DefaultConfig()); got != nil {
		t.Fatalf("exit reasons on quiet columns: %v", got)
	}
}

func TestExitReasons_EachRule(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *columns)
		want   []model.ExitReason
	}{
		{
			name: "trend break over last two bars",
			mutate: func(c *columns) {
				c.close[8], c.close[9] = 95, 96
				c.ma5[9] = 90 // keep volume_fade quiet
			},
			want: []model.ExitReason{model.ExitTrendBreakEMA},
		},
		{
			name: "single bar below EMA is not a break",
			mutate: func(c *columns) {
				c.close[9] = 95
				c.ma5[9] = 90
			},
			want: nil,
		},
		{
			name: "volume fade",
			mutate: func(c *columns) {
				c.volFast[9] = 800
				c.close[9] = 104
			},
			want: []model.ExitReason{model.ExitVolumeFade},
		},
		{
			name: "fading volume above MA5 is not a fade",
			mutate: func(c *columns) {
				c.volFast[9] = 800
			},
			want: nil,
		},
		{
			name: "macd flip down",
			mutate: func(c *columns) {
				c.macd.Line[9], c.macd.Signal[9] = -1, -0.5
			},
			want: []model.ExitReason{model.ExitMACDFlipDown},
		},
		{
			name: "macd below signal but positive",
			mutate: func(c *columns) {
				c.macd.Line[9], c.macd.Signal[9] = 1, 1.5
			},
			want: nil,
		},
		{
			name: "adx below threshold",
			mutate: func(c *columns) {
				c.adx[9] = 20
			},
			want: []model.ExitReason{model.ExitADXBelowThreshold},
		},
		{
			name: "kd death cross from overbought",
			mutate: func(c *columns) {
				c.k[8], c.d[8] = 85, 80
				c.k[9], c.d[9] = 70, 75
			},
			want: []model.ExitReason{model.ExitKDDeathCrossHigh},
		},
		{
			name: "kd cross below overbought zone",
			mutate: func(c *columns) {
				c.k[8], c.d[8] = 70, 65
				c.k[9], c.d[9] = 60, 62
			},
			want: nil,
		},
		{
			name: "kd overbought two bars back only",
			mutate: func(c *columns) {
				c.k[7], c.d[7] = 88, 80
				c.k[8], c.d[8] = 78, 76
				c.k[9], c.d[9] = 70, 75
			},
			want: nil,
		},
		{
			name: "several rules fire together in order",
			mutate: func(c *columns) {
				c.close[8], c.close[9] = 95, 96
				c.volFast[9] = 800
				c.macd.Line[9], c.macd.Signal[9] = -1, -0.5
				c.adx[9] = 20
			},
			want: []model.ExitReason{
				model.ExitTrendBreakEMA,
				model.ExitVolumeFade,
				model.ExitMACDFlipDown,
				model.ExitADXBelowThreshold,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cols := quietColumns(10)
			tt.mutate(&cols)
			got := exitReasons(cols, DefaultConfig())
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExitReasons_ADXWeakenAboveThreshold(t *testing.T) {
	cols := quietColumns(10)
	// Three consecutive declines, all still above the 25 threshold.
	copy(cols.adx[6:], []float64{40, 38, 36, 34})

	cfg := DefaultConfig()
	got := exitReasons(cols, cfg)
	if !reflect.DeepEqual(got, []model.ExitReason{model.ExitADXWeaken}) {
		t.Fatalf("got %v, want [adx_weaken]", got)
	}

	cfg.ExitADXWeaken = false
	if got := exitReasons(cols, cfg); got != nil {
		t.Fatalf("adx_weaken fired while disabled: %v", got)
	}
}

func TestExitReasons_ADXWeakenNeedsEveryStep(t *testing.T) {
	cols := quietColumns(10)
	copy(cols.adx[6:], []float64{40, 38, 38, 34}) // one flat step
	if got := exitReasons(cols, DefaultConfig()); got != nil {
		t.Fatalf("got %v, want none", got)
	}

	cols = quietColumns(10)
	copy(cols.adx[6:], []float64{math.NaN(), 38, 36, 34}) // undefined start
	if got := exitReasons(cols, DefaultConfig()); got != nil {
		t.Fatalf("got %v with undefined ADX, want none", got)
	}
}

func TestExitReasons_TogglesDisableRules(t *testing.T) {
	cols := quietColumns(10)
	cols.close[8], cols.close[9] = 95, 96
	cols.volFast[9] = 800
	cols.macd.Line[9], cols.macd.Signal[9] = -1, -0.5
	cols.adx[9] = 20
	cols.k[8], cols.d[8] = 85, 80
	cols.k[9], cols.d[9] = 70, 75

	cfg := DefaultConfig()
	cfg.ExitEMABreak = false
	cfg.ExitVolumeFade = false
	cfg.ExitMACDFlip = false
	cfg.ExitADXBelow = false
	cfg.ExitADXWeaken = false
	cfg.ExitKDDeathHigh = false
	if got := exitReasons(cols, cfg); got != nil {
		t.Fatalf("disabled rules fired: %v", got)
	}
}

func TestExitReasons_EMABreakBarsZeroDisables(t *testing.T) {
	cols := quietColumns(10)
	cols.close[8], cols.close[9] = 95, 96
	cols.ma5[9] = 90
	cfg := DefaultConfig()
	cfg.ExitEMABreakBars = 0
	if got := exitReasons(cols, cfg); got != nil {
		t.Fatalf("got %v, want none", got)
	}
}
