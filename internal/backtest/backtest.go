// Package backtest replays one symbol's history through the signal engine
// bar by bar and simulates next-open execution with fees and slippage.
package backtest

import (
	"errors"
	"fmt"
	"log/slog"

	"twstock-screener/internal/execution"
	"twstock-screener/internal/logger"
	"twstock-screener/internal/model"
	"twstock-screener/internal/portfolio"
	"twstock-screener/internal/strategy"
)

// EvalFunc produces the signal for the last bar of a series.
// strategy.Evaluate is the production implementation.
type EvalFunc func(series model.Series, cfg strategy.Config, inst []float64) (model.SignalResult, error)

// Result is the outcome of one backtest run.
type Result struct {
	RunID   string
	Symbol  string
	Trades  []model.Trade
	Equity  []model.EquityPoint
	Summary model.BacktestSummary
}

// Simulator runs single-position backtests. A Simulator holds no state
// between runs and may be shared across goroutines.
type Simulator struct {
	cfg  strategy.Config
	eval EvalFunc
	log  *slog.Logger
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithEvaluator replaces the signal function.
func WithEvaluator(fn EvalFunc) Option {
	return func(s *Simulator) { s.eval = fn }
}

// WithLogger sets the logger used for skipped entries.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.log = l }
}

// New creates a Simulator for cfg.
func New(cfg strategy.Config, opts ...Option) *Simulator {
	s := &Simulator{cfg: cfg, eval: strategy.Evaluate, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run backtests series with the default evaluator.
func Run(series model.Series, inst []float64, cfg strategy.Config) (*Result, error) {
	return New(cfg).Run(series, inst)
}

// WarmupBars is the first bar index the simulator evaluates.
func (s *Simulator) WarmupBars() int {
	if m := s.cfg.MinBars(); m > s.cfg.WarmupBars {
		return m
	}
	return s.cfg.WarmupBars
}

// Run simulates series. Bar i's signal is computed from bars [0..i] only
// and acted on at bar i+1's open. A position still open after the last
// actionable bar is liquidated at the final close.
func (s *Simulator) Run(series model.Series, inst []float64) (*Result, error) {
	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if series.Len() == 0 {
		return nil, strategy.ErrEmptySeries
	}
	if inst != nil && len(inst) != series.Len() {
		return nil, fmt.Errorf("%w: %d flow rows, %d bars", strategy.ErrFlowLength, len(inst), series.Len())
	}

	res := &Result{RunID: logger.NewRunID(), Symbol: series.Symbol}
	acct := execution.NewPaperAccount(series.Symbol, cfg.InitialCapital, execution.CostModel{
		SlippagePct:   cfg.Slippage,
		CommissionPct: cfg.Commission,
	})

	n := series.Len()
	for i := s.WarmupBars(); i <= n-2; i++ {
		today, next := series.Bars[i], series.Bars[i+1]
		res.Equity = append(res.Equity, model.EquityPoint{Date: today.Date, Equity: acct.Equity(today.Close)})

		var instUpTo []float64
		if inst != nil {
			instUpTo = inst[:i+1]
		}
		sig, err := s.eval(series.Prefix(i), cfg, instUpTo)
		if err != nil {
			return nil, fmt.Errorf("backtest %s at %s: %w", series.Symbol, model.DayKey(today.Date), err)
		}

		switch {
		case acct.Holding():
			if !sig.HasExit() {
				continue
			}
			tr, err := acct.Sell(next.Date, next.Open, model.JoinReasons(sig.ExitReasons))
			if err != nil {
				return nil, fmt.Errorf("backtest %s exit: %w", series.Symbol, err)
			}
			res.Trades = append(res.Trades, tr)

		case sig.EntryPass:
			// A fill on the final bar could never be followed by a later exit.
			if i+1 >= n-1 {
				continue
			}
			alloc := acct.Cash() * cfg.RiskPerTrade
			if _, err := acct.Buy(next.Date, next.Open, alloc); err != nil {
				if skippable(err) {
					s.log.Debug("entry skipped",
						slog.String("symbol", series.Symbol),
						slog.String("date", model.DayKey(next.Date)),
						slog.String("reason", err.Error()))
					continue
				}
				return nil, fmt.Errorf("backtest %s entry: %w", series.Symbol, err)
			}
		}
	}

	last := series.Last()
	if acct.Holding() {
		tr, err := acct.Sell(last.Date, last.Close, string(model.ExitForcedLiquidation))
		if err != nil {
			return nil, fmt.Errorf("backtest %s liquidation: %w", series.Symbol, err)
		}
		res.Trades = append(res.Trades, tr)
	}
	final := acct.Cash()
	res.Equity = append(res.Equity, model.EquityPoint{Date: last.Date, Equity: final})

	res.Summary = portfolio.Summarize(series.Symbol, series.Bars[0].Date, last.Date,
		cfg.InitialCapital, final, res.Trades, res.Equity)
	return res, nil
}

func skippable(err error) bool {
	return errors.Is(err, execution.ErrZeroQuantity) ||
		errors.Is(err, execution.ErrInsufficientCash) ||
		errors.Is(err, execution.ErrBadPrice)
}
