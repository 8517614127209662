// Package portfolio derives performance statistics from a backtest's
// trade ledger and equity curve.
package portfolio

import (
	"math"
	"time"

	"twstock-screener/internal/model"
)

// Summarize computes the run summary.
//
// Total return and CAGR use finalEquity against initialCapital over the
// calendar span start..end. CAGR is zero when the span is not positive or
// either equity value is not positive. Averages are over winning
// (P&L > 0) and non-winning trades respectively, zero when empty.
func Summarize(symbol string, start, end time.Time, initialCapital, finalEquity float64,
	trades []model.Trade, equity []model.EquityPoint) model.BacktestSummary {

	s := model.BacktestSummary{
		Symbol:         symbol,
		Start:          start,
		End:            end,
		InitialCapital: initialCapital,
		FinalEquity:    finalEquity,
		Trades:         len(trades),
	}
	if initialCapital > 0 {
		s.TotalReturn = finalEquity/initialCapital - 1
	}
	s.CAGR = CAGR(initialCapital, finalEquity, end.Sub(start))

	var wins, losses []float64
	for _, t := range trades {
		if t.NetPnL > 0 {
			wins = append(wins, t.NetPnL)
		} else {
			losses = append(losses, t.NetPnL)
		}
	}
	if len(trades) > 0 {
		s.WinRate = float64(len(wins)) / float64(len(trades))
	}
	s.AvgWin = mean(wins)
	s.AvgLoss = mean(losses)

	var dd DrawdownTracker
	for _, p := range equity {
		dd.Update(p.Equity)
	}
	s.MaxDrawdown = dd.MaxDrawdown()
	return s
}

// CAGR annualises growth from initial to final over span using a
// 365-day year.
func CAGR(initial, final float64, span time.Duration) float64 {
	days := span.Hours() / 24
	if days <= 0 || initial <= 0 || final <= 0 {
		return 0
	}
	return math.Pow(final/initial, 365/days) - 1
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
