package screener

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"twstock-screener/internal/backtest"
	"twstock-screener/internal/logger"
	"twstock-screener/internal/model"
)

// Backtest replays each symbol's loaded history through the simulator,
// one symbol per worker. Flow is read (and synced) from opts.Start. Symbols that fail to load or simulate are logged
// and left out; results are ordered by symbol.
func (s *Screener) Backtest(ctx context.Context, symbols []string) ([]*backtest.Result, error) {
	if logger.RunID(ctx) == "" {
		ctx = logger.WithRunID(ctx, logger.NewRunID())
	}
	symbols = normalize(symbols)
	// Every simulated bar needs its own lookback, so flow covers the
	// whole history window.
	table := s.flowTable(ctx, s.opts.Start)
	sim := backtest.New(s.opts.Strategy,
		backtest.WithEvaluator(s.deps.Evaluator), backtest.WithLogger(s.log))

	var (
		mu  sync.Mutex
		out []*backtest.Result
		g   errgroup.Group
	)
	g.SetLimit(s.opts.Workers)
	for _, sym := range symbols {
		sym := sym
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.backtestOne(ctx, sim, sym, table)
			if err != nil {
				s.log.WarnContext(ctx, "backtest skipped", append(logger.LogWithRun(ctx), "symbol", sym, "error", err)...)
				return nil
			}
			s.m.BacktestTrades.Add(float64(len(res.Trades)))
			s.m.BacktestTotalReturn.WithLabelValues(sym).Set(res.Summary.TotalReturn)
			mu.Lock()
			out = append(out, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, ctx.Err()
}

func (s *Screener) backtestOne(ctx context.Context, sim *backtest.Simulator, symbol string, table model.FlowTable) (*backtest.Result, error) {
	tctx, cancel := context.WithTimeout(ctx, s.opts.TaskTimeout)
	series, err := s.deps.Loader.Load(tctx, symbol, s.opts.Start, s.opts.End)
	cancel()
	if err != nil {
		return nil, err
	}
	return sim.Run(series, table.Align(root(symbol), series.Dates()))
}

// Journal records every result in j. It stops at the first failure.
func Journal(ctx context.Context, j model.TradeJournal, results []*backtest.Result) error {
	for _, r := range results {
		if err := j.RecordRun(ctx, r.RunID, r.Summary, r.Trades); err != nil {
			return fmt.Errorf("journal %s: %w", r.Symbol, err)
		}
	}
	return nil
}

// Summaries extracts the summary of each result.
func Summaries(results []*backtest.Result) []model.BacktestSummary {
	out := make([]model.BacktestSummary, len(results))
	for i, r := range results {
		out[i] = r.Summary
	}
	return out
}

// Trades concatenates the trade ledgers of results.
func Trades(results []*backtest.Result) []model.Trade {
	var out []model.Trade
	for _, r := range results {
		out = append(out, r.Trades...)
	}
	return out
}
