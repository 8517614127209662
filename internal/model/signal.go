package model

import (
	"strings"
	"time"
)

// ExitReason identifies which exit rule fired for a held symbol.
type ExitReason string

const (
	ExitTrendBreakEMA     ExitReason = "trend_break_EMA"
	ExitVolumeFade        ExitReason = "volume_fade"
	ExitMACDFlipDown      ExitReason = "macd_flip_down"
	ExitADXBelowThreshold ExitReason = "adx_below_threshold"
	ExitADXWeaken         ExitReason = "adx_weaken"
	ExitKDDeathCrossHigh  ExitReason = "kd_death_cross_high"
	ExitForcedLiquidation ExitReason = "forced_liquidation"
)

// InstState is the informational institutional-flow condition. It is a
// three-valued flag because the flow may be unavailable.
type InstState int8

const (
	InstUnknown InstState = iota
	InstNegative
	InstPositive
)

func (s InstState) String() string {
	switch s {
	case InstPositive:
		return "true"
	case InstNegative:
		return "false"
	default:
		return ""
	}
}

// Snapshot holds the last-row value of every indicator used in one
// evaluation. Undefined values are NaN.
type Snapshot struct {
	Close       float64
	EMA         float64
	VolFast     float64
	VolSlow     float64
	K           float64
	D           float64
	ADX         float64
	MACD        float64
	MACDSignal  float64
	MACDHist    float64
	MA5         float64
	ATR         float64
	InitialStop float64
	TrailEMA    float64
	InstSum     float64
	InstScore   float64
}

// Conditions are the five entry gates plus the informational
// institutional condition, which never gates entry.
type Conditions struct {
	AboveEMA        bool
	VolumeExpanding bool
	KDInRange       bool
	TrendStrong     bool
	MACDBullish     bool
	InstPositive    InstState
}

// All reports whether every gating condition holds.
func (c Conditions) All() bool {
	return c.AboveEMA && c.VolumeExpanding && c.KDInRange && c.TrendStrong && c.MACDBullish
}

// SignalResult is the outcome of evaluating one symbol at one date.
type SignalResult struct {
	Symbol      string
	Date        time.Time
	Snapshot    Snapshot
	Conditions  Conditions
	Score       float64
	EntryPass   bool
	ExitReasons []ExitReason
}

// JoinReasons renders reasons as a ";"-separated list.
func JoinReasons(reasons []ExitReason) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ";")
}

// HasExit reports whether any exit rule fired.
func (r SignalResult) HasExit() bool { return len(r.ExitReasons) > 0 }
