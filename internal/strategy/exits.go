package strategy

import "twstock-screener/internal/model"

// kdOverbought is the K level a death cross must start above.
const kdOverbought = 80

// exitReasons evaluates every enabled exit rule independently, in a fixed
// order. It returns nil when nothing fires.
func exitReasons(cols columns, cfg Config) []model.ExitReason {
	var out []model.ExitReason
	n := len(cols.close)
	last := n - 1

	if cfg.ExitEMABreak && belowEMAFor(cols, cfg.ExitEMABreakBars) {
		out = append(out, model.ExitTrendBreakEMA)
	}
	if cfg.ExitVolumeFade &&
		cols.volFast[last] < cols.volSlow[last] &&
		cols.close[last] < cols.ma5[last] {
		out = append(out, model.ExitVolumeFade)
	}
	macd, sig := cols.macd.Line[last], cols.macd.Signal[last]
	if cfg.ExitMACDFlip && macd < sig && macd < 0 {
		out = append(out, model.ExitMACDFlipDown)
	}
	if cfg.ExitADXBelow && cols.adx[last] < cfg.ExitADXWeakThreshold {
		out = append(out, model.ExitADXBelowThreshold)
	}
	if cfg.ExitADXWeaken && strictlyFalling(cols.adx, cfg.ExitADXWeakBars) {
		out = append(out, model.ExitADXWeaken)
	}
	// The overbought cross is judged on the previous bar, not two bars back.
	if cfg.ExitKDDeathHigh && n >= 2 &&
		cols.k[last-1] > kdOverbought && cols.k[last-1] > cols.d[last-1] &&
		cols.k[last] < cols.d[last] {
		out = append(out, model.ExitKDDeathCrossHigh)
	}
	return out
}

// belowEMAFor reports whether each of the last bars closes was strictly
// below the EMA. bars <= 0 disables the rule.
func belowEMAFor(cols columns, bars int) bool {
	n := len(cols.close)
	if bars <= 0 || n < bars {
		return false
	}
	for i := n - bars; i < n; i++ {
		if !(cols.close[i] < cols.ema[i]) {
			return false
		}
	}
	return true
}

// strictlyFalling reports whether x decreased on each of its last steps
// bars. All steps+1 values must be defined.
func strictlyFalling(x []float64, steps int) bool {
	n := len(x)
	if steps <= 0 || n < steps+1 {
		return false
	}
	for i := n - steps; i < n; i++ {
		if !(x[i] < x[i-1]) {
			return false
		}
	}
	return true
}
