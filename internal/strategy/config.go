package strategy

import (
	"errors"
	"fmt"

	"twstock-screener/internal/indicator"
)

// ErrInvalidConfig is returned when a Config would make indicator windows
// or trade accounting meaningless.
var ErrInvalidConfig = errors.New("strategy: invalid config")

// Config holds every threshold the signal engine and the backtest read.
// Field tags are the keys accepted in the YAML/JSON config file.
type Config struct {
	// Entry gates
	EMAPeriod           int     `yaml:"ema_period"`
	VolFast             int     `yaml:"vol_fast"`
	VolSlow             int     `yaml:"vol_slow"`
	KDN                 int     `yaml:"kd_n"`
	KDK                 int     `yaml:"kd_k"`
	KDD                 int     `yaml:"kd_d"`
	KMin                float64 `yaml:"kmin"`
	KMax                float64 `yaml:"kmax"`
	DMin                float64 `yaml:"dmin"`
	DMax                float64 `yaml:"dmax"`
	ADXPeriod           int     `yaml:"adx_period"`
	ADXMin              float64 `yaml:"adx_min"`
	MACDFast            int     `yaml:"macd_fast"`
	MACDSlow            int     `yaml:"macd_slow"`
	MACDSignal          int     `yaml:"macd_signal"`
	MACDRequirePositive bool    `yaml:"macd_require_positive"`
	MACDRequireCross    bool    `yaml:"macd_require_cross"`

	// Exit rules
	ExitEMABreak         bool    `yaml:"exit_ema_break"`
	ExitEMABreakBars     int     `yaml:"exit_ema_break_bars"`
	ExitVolumeFade       bool    `yaml:"exit_volume_fade"`
	ExitMACDFlip         bool    `yaml:"exit_macd_flip"`
	ExitADXBelow         bool    `yaml:"exit_adx_below"`
	ExitADXWeaken        bool    `yaml:"exit_adx_weaken"`
	ExitADXWeakThreshold float64 `yaml:"exit_adx_weak_threshold"`
	ExitADXWeakBars      int     `yaml:"exit_adx_weak_bars"`
	ExitKDDeathHigh      bool    `yaml:"exit_kd_death_high"`

	// Stop suggestions
	StopATRPeriod  int     `yaml:"stop_atr_period"`
	StopATRMult    float64 `yaml:"stop_atr_mult"`
	TrailUseEMA    bool    `yaml:"trail_use_ema"`
	TrailEMAPeriod int     `yaml:"trail_ema_period"`

	// Score weights
	WTrend float64 `yaml:"w_trend"`
	WVol   float64 `yaml:"w_vol"`
	WADX   float64 `yaml:"w_adx"`
	WMACD  float64 `yaml:"w_macd"`
	WInst  float64 `yaml:"w_inst"`

	// Institutional flow
	InstLookback int     `yaml:"inst_lookback"`
	InstNorm     float64 `yaml:"inst_norm"`

	// Notifications
	NotifyOnEntry bool `yaml:"notify_on_entry"`
	NotifyOnExit  bool `yaml:"notify_on_exit"`

	// Backtest economics
	InitialCapital float64 `yaml:"backtest_initial_capital"`
	RiskPerTrade   float64 `yaml:"risk_per_trade"`
	Commission     float64 `yaml:"commission"`
	Slippage       float64 `yaml:"slippage"`
	WarmupBars     int     `yaml:"backtest_warmup_bars"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		EMAPeriod:           117,
		VolFast:             5,
		VolSlow:             10,
		KDN:                 9,
		KDK:                 3,
		KDD:                 3,
		KMin:                20,
		KMax:                80,
		DMin:                20,
		DMax:                80,
		ADXPeriod:           14,
		ADXMin:              33,
		MACDFast:            12,
		MACDSlow:            26,
		MACDSignal:          9,
		MACDRequirePositive: true,
		MACDRequireCross:    true,

		ExitEMABreak:         true,
		ExitEMABreakBars:     2,
		ExitVolumeFade:       true,
		ExitMACDFlip:         true,
		ExitADXBelow:         true,
		ExitADXWeaken:        true,
		ExitADXWeakThreshold: 25,
		ExitADXWeakBars:      3,
		ExitKDDeathHigh:      true,

		StopATRPeriod:  14,
		StopATRMult:    2.0,
		TrailUseEMA:    true,
		TrailEMAPeriod: 50,

		WTrend: 0.3,
		WVol:   0.2,
		WADX:   0.3,
		WMACD:  0.2,
		WInst:  0.0,

		InstLookback: 20,
		InstNorm:     5000,

		NotifyOnEntry: true,
		NotifyOnExit:  true,

		InitialCapital: 1_000_000,
		RiskPerTrade:   0.1,
		Commission:     0.001,
		Slippage:       0.001,
		WarmupBars:     50,
	}
}

// Validate rejects values that would corrupt indicator windows or the
// backtest ledger.
func (c Config) Validate() error {
	windows := map[string]int{
		"ema_period":         c.EMAPeriod,
		"vol_fast":           c.VolFast,
		"vol_slow":           c.VolSlow,
		"kd_n":               c.KDN,
		"kd_k":               c.KDK,
		"kd_d":               c.KDD,
		"adx_period":         c.ADXPeriod,
		"macd_fast":          c.MACDFast,
		"macd_slow":          c.MACDSlow,
		"macd_signal":        c.MACDSignal,
		"exit_adx_weak_bars": c.ExitADXWeakBars,
		"stop_atr_period":    c.StopATRPeriod,
		"trail_ema_period":   c.TrailEMAPeriod,
		"inst_lookback":      c.InstLookback,
	}
	for key, v := range windows {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, key, v)
		}
	}
	switch {
	case c.ExitEMABreakBars < 0:
		return fmt.Errorf("%w: exit_ema_break_bars must not be negative", ErrInvalidConfig)
	case c.WarmupBars < 0:
		return fmt.Errorf("%w: backtest_warmup_bars must not be negative", ErrInvalidConfig)
	case c.InstNorm <= 0:
		return fmt.Errorf("%w: inst_norm must be positive", ErrInvalidConfig)
	case c.InitialCapital <= 0:
		return fmt.Errorf("%w: backtest_initial_capital must be positive", ErrInvalidConfig)
	case c.RiskPerTrade <= 0 || c.RiskPerTrade > 1:
		return fmt.Errorf("%w: risk_per_trade must be in (0, 1]", ErrInvalidConfig)
	case c.Commission < 0 || c.Commission >= 1:
		return fmt.Errorf("%w: commission must be in [0, 1)", ErrInvalidConfig)
	case c.Slippage < 0 || c.Slippage >= 1:
		return fmt.Errorf("%w: slippage must be in [0, 1)", ErrInvalidConfig)
	}
	return nil
}

// MinBars is the bar count after which every rolling-window indicator the
// engine reads is defined. Recursive averages (EMA) are defined from the
// first bar and do not count.
func (c Config) MinBars() int {
	n := 5 // MA5 used by volume_fade
	for _, v := range []int{
		c.VolFast,
		c.VolSlow,
		c.KDN + c.KDK + c.KDD - 2,
		2*c.ADXPeriod - 1,
		indicator.MACDWarmup(c.MACDSlow),
		c.StopATRPeriod,
	} {
		if v > n {
			n = v
		}
	}
	return n
}
