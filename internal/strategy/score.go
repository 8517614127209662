package strategy

import (
	"math"

	"twstock-screener/internal/model"
)

// Components are the normalised, clipped inputs of the composite score.
// Undefined inputs contribute zero.
type Components struct {
	Trend  float64 // close/EMA in [0, 2]
	Volume float64 // volFast/volSlow in [0, 3]
	ADX    float64 // ADX/adxMin in [0, 2]
	MACD   float64 // max(0, hist/close)
	Inst   float64 // max(0, tanh(instSum/instNorm)), 0 when unknown
}

// ScoreComponents derives the score inputs from a snapshot.
func ScoreComponents(s model.Snapshot, cfg Config) Components {
	var c Components
	if s.EMA > 0 {
		c.Trend = clip(s.Close/s.EMA, 0, 2)
	}
	if s.VolSlow > 0 {
		c.Volume = clip(s.VolFast/s.VolSlow, 0, 3)
	}
	if cfg.ADXMin > 0 {
		c.ADX = clip(s.ADX/cfg.ADXMin, 0, 2)
	}
	if s.Close > 0 {
		c.MACD = clip(s.MACDHist/s.Close, 0, math.Inf(1))
	}
	c.Inst = clip(s.InstScore, 0, 1)
	return c
}

// Score is the weighted sum of the components.
func Score(c Components, cfg Config) float64 {
	return cfg.WTrend*c.Trend +
		cfg.WVol*c.Volume +
		cfg.WADX*c.ADX +
		cfg.WMACD*c.MACD +
		cfg.WInst*c.Inst
}

// clip bounds v to [lo, hi]; NaN maps to zero.
func clip(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
