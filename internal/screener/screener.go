// Package screener runs the daily screen: it resolves the symbol universe,
// evaluates every symbol concurrently and fans the results out to the
// report, notification, publish and history sinks.
package screener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"twstock-screener/internal/backtest"
	"twstock-screener/internal/bus"
	"twstock-screener/internal/logger"
	"twstock-screener/internal/marketdata"
	"twstock-screener/internal/markethours"
	"twstock-screener/internal/metrics"
	"twstock-screener/internal/model"
	"twstock-screener/internal/notification"
	"twstock-screener/internal/report"
	"twstock-screener/internal/strategy"
)

// ErrNoSymbols is returned when no universe could be resolved.
var ErrNoSymbols = errors.New("screener: no symbols to screen")

// BarLoader resolves a symbol's daily series (marketdata.Loader).
type BarLoader interface {
	Load(ctx context.Context, symbol string, start, end time.Time) (model.Series, error)
}

// CodeLister lists every listed symbol (marketdata.Listing).
type CodeLister interface {
	FetchAll(ctx context.Context) ([]string, error)
}

// FlowFetcher downloads institutional flow (marketdata.FlowSource).
type FlowFetcher interface {
	FetchRange(ctx context.Context, from, to time.Time, skip map[time.Time]bool) ([]model.FlowRecord, error)
}

// SignalPublisher pushes a result to live subscribers (redis.Publisher).
type SignalPublisher interface {
	PublishSignal(ctx context.Context, r model.SignalResult) error
}

// SignalRecorder drains results into history (sqlite.Store).
type SignalRecorder interface {
	RunSignals(ctx context.Context, runID string, ch <-chan model.SignalResult)
}

// Deps are the collaborators of a Screener. Only Loader and KV are
// required; every other sink or source is skipped when nil.
type Deps struct {
	Loader    BarLoader
	KV        model.KVStore
	Listing   CodeLister
	Flows     model.FlowStore
	FlowSrc   FlowFetcher
	Notifier  notification.Notifier
	Publisher SignalPublisher
	History   SignalRecorder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Evaluator defaults to strategy.Evaluate.
	Evaluator backtest.EvalFunc
}

// Options tune one Screener.
type Options struct {
	Strategy    strategy.Config
	Start, End  time.Time
	Workers     int
	TaskTimeout time.Duration
	Notify      bool
	SyncFlow    bool
	// Flow, when set, replaces the stored institutional flow (e.g. a CSV
	// handed in on the command line).
	Flow model.FlowTable
}

// Report is the outcome of one screening run.
type Report struct {
	RunID   string
	Start   time.Time
	End     time.Time
	Results []model.SignalResult // every evaluated symbol, by symbol
	Passed  []model.SignalResult // entry passes, date asc then score desc
	Exits   []model.SignalResult // held symbols with at least one exit reason
	Failed  map[string]error
	Elapsed time.Duration
}

// Screener evaluates a universe of symbols. It may be reused across runs.
type Screener struct {
	deps Deps
	opts Options
	m    *metrics.Metrics
	log  *slog.Logger
}

// New creates a Screener, filling zero options with defaults.
func New(deps Deps, opts Options) *Screener {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 60 * time.Second
	}
	if opts.End.IsZero() {
		opts.End = markethours.LastTradingDay(time.Now())
	}
	if opts.Start.IsZero() {
		opts.Start = opts.End.AddDate(-2, 0, 0)
	}
	opts.Start, opts.End = model.Day(opts.Start), model.Day(opts.End)

	m := deps.Metrics
	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry())
	}
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	if deps.Evaluator == nil {
		deps.Evaluator = strategy.Evaluate
	}
	return &Screener{deps: deps, opts: opts, m: m, log: l}
}

// Universe returns the symbols to screen: the stored valid-code set, or the
// exchange listings when the set is empty (which then seeds the set).
func (s *Screener) Universe(ctx context.Context) ([]string, error) {
	codes, err := s.deps.KV.SMembers(ctx, model.KeyValidCodes)
	if err != nil {
		s.log.WarnContext(ctx, "valid-code set unavailable", append(logger.LogWithRun(ctx), "error", err)...)
	}
	if len(codes) == 0 && s.deps.Listing != nil {
		codes, err = s.deps.Listing.FetchAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("screener: universe: %w", err)
		}
		if err := s.deps.KV.SAdd(ctx, model.KeyValidCodes, codes...); err != nil {
			s.log.WarnContext(ctx, "seed valid-code set", append(logger.LogWithRun(ctx), "error", err)...)
		}
	}
	out := normalize(codes)
	if len(out) == 0 {
		return nil, ErrNoSymbols
	}
	return out, nil
}

// Held returns the digit roots of the held list.
func (s *Screener) Held(ctx context.Context) map[string]bool {
	members, err := s.deps.KV.SMembers(ctx, model.KeyHeld)
	if err != nil {
		s.log.WarnContext(ctx, "held set unavailable", append(logger.LogWithRun(ctx), "error", err)...)
	}
	held := make(map[string]bool, len(members))
	for _, m := range members {
		held[root(m)] = true
	}
	return held
}

// Run screens symbols, or the whole universe when symbols is empty.
func (s *Screener) Run(ctx context.Context, symbols []string) (*Report, error) {
	started := time.Now()
	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)

	if len(symbols) == 0 {
		var err error
		if symbols, err = s.Universe(ctx); err != nil {
			return nil, err
		}
	} else {
		symbols = normalize(symbols)
	}
	held := s.Held(ctx)
	table := s.FlowTable(ctx)

	s.log.InfoContext(ctx, "screen started", append(logger.LogWithRun(ctx),
		"symbols", len(symbols), "held", len(held),
		"start", model.DayKey(s.opts.Start), "end", model.DayKey(s.opts.End),
		"workers", s.opts.Workers)...)

	rep := &Report{RunID: runID, Start: s.opts.Start, End: s.opts.End, Failed: map[string]error{}}

	// Sinks
	in := make(chan model.SignalResult, 256)
	fo := bus.New[model.SignalResult](256)
	fo.OnDrop = func(name string) { s.m.FanoutDrops.WithLabelValues(name).Inc() }

	var sinks sync.WaitGroup
	collect := fo.SubscribeAll("report")
	sinks.Add(1)
	go func() {
		defer sinks.Done()
		s.collect(collect, held, rep)
	}()
	if s.opts.Notify && s.deps.Notifier != nil {
		ch := fo.SubscribeAll("notify")
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			s.notify(ctx, ch, held)
		}()
	}
	if s.deps.Publisher != nil {
		ch := fo.SubscribeAll("publish")
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			s.publish(ctx, ch)
		}()
	}
	if s.deps.History != nil {
		ch := fo.SubscribeAll("history")
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			s.deps.History.RunSignals(context.WithoutCancel(ctx), runID, ch)
		}()
	}
	fanDone := make(chan struct{})
	go func() {
		fo.Run(context.WithoutCancel(ctx), in)
		close(fanDone)
	}()

	// Workers
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for _, sym := range symbols {
		sym := sym
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.m.WorkersBusy.Inc()
			defer s.m.WorkersBusy.Dec()

			r, err := s.evaluate(ctx, sym, table)
			if err != nil {
				mu.Lock()
				rep.Failed[sym] = err
				mu.Unlock()
				return nil
			}
			select {
			case in <- r:
			case <-ctx.Done():
			}
			return nil
		})
	}
	g.Wait()
	close(in)
	<-fanDone
	sinks.Wait()

	rep.Elapsed = time.Since(started)
	s.m.RunDur.Set(rep.Elapsed.Seconds())
	s.m.LastRunUnix.Set(float64(time.Now().Unix()))
	s.m.PassedLastRun.Set(float64(len(rep.Passed)))

	s.log.InfoContext(ctx, "screen finished", append(logger.LogWithRun(ctx),
		"evaluated", len(rep.Results), "passed", len(rep.Passed),
		"exits", len(rep.Exits), "failed", len(rep.Failed),
		"elapsed", rep.Elapsed.Round(time.Millisecond).String())...)
	return rep, ctx.Err()
}

// evaluate loads one symbol and computes its signal under the task timeout.
func (s *Screener) evaluate(ctx context.Context, symbol string, table model.FlowTable) (model.SignalResult, error) {
	tctx, cancel := context.WithTimeout(ctx, s.opts.TaskTimeout)
	defer cancel()

	t0 := time.Now()
	series, err := s.deps.Loader.Load(tctx, symbol, s.opts.Start, s.opts.End)
	s.m.FetchDur.WithLabelValues("bars").Observe(time.Since(t0).Seconds())
	if err != nil {
		outcome := "error"
		if errors.Is(err, marketdata.ErrBlacklisted) {
			outcome = "blacklisted"
		}
		s.m.SymbolsTotal.WithLabelValues(outcome).Inc()
		if outcome == "error" {
			s.log.DebugContext(ctx, "load failed", append(logger.LogWithRun(ctx), "symbol", symbol, "error", err)...)
		}
		return model.SignalResult{}, err
	}

	t1 := time.Now()
	inst := table.Align(root(symbol), series.Dates())
	r, err := s.deps.Evaluator(series, s.opts.Strategy, inst)
	s.m.EvalDur.Observe(time.Since(t1).Seconds())
	if err != nil {
		s.m.SymbolsTotal.WithLabelValues("error").Inc()
		s.log.WarnContext(ctx, "evaluate failed", append(logger.LogWithRun(ctx), "symbol", symbol, "error", err)...)
		return model.SignalResult{}, err
	}
	if r.EntryPass {
		s.m.SymbolsTotal.WithLabelValues("passed").Inc()
	} else {
		s.m.SymbolsTotal.WithLabelValues("failed").Inc()
	}
	return r, nil
}

// FlowTable returns the institutional flow covering the lookback window,
// syncing missing days first when enabled. It is nil without flow data.
func (s *Screener) FlowTable(ctx context.Context) model.FlowTable {
	n := s.opts.Strategy.InstLookback
	if n < 1 {
		n = 1
	}
	from := s.opts.End
	if days := markethours.PrevTradingDays(s.opts.End.Add(12*time.Hour), n); len(days) > 0 {
		from = days[0]
	}
	return s.flowTable(ctx, from)
}

// flowTable returns the stored flow dated on or after from.
func (s *Screener) flowTable(ctx context.Context, from time.Time) model.FlowTable {
	if s.opts.Flow != nil {
		return s.opts.Flow
	}
	if s.deps.Flows == nil {
		return nil
	}

	if s.opts.SyncFlow && s.deps.FlowSrc != nil {
		t0 := time.Now()
		have, err := s.deps.Flows.FlowDays(ctx)
		if err != nil {
			s.log.WarnContext(ctx, "stored flow days", append(logger.LogWithRun(ctx), "error", err)...)
		}
		recs, err := s.deps.FlowSrc.FetchRange(ctx, from, s.opts.End, have)
		if err != nil {
			s.log.WarnContext(ctx, "flow sync", append(logger.LogWithRun(ctx), "error", err)...)
		}
		if len(recs) > 0 {
			if err := s.deps.Flows.UpsertFlows(ctx, recs); err != nil {
				s.log.WarnContext(ctx, "store flow", append(logger.LogWithRun(ctx), "error", err)...)
			}
		}
		s.m.FetchDur.WithLabelValues("flow").Observe(time.Since(t0).Seconds())
	}

	recs, err := s.deps.Flows.ReadFlows(ctx, from)
	if err != nil {
		s.log.WarnContext(ctx, "read flow", append(logger.LogWithRun(ctx), "error", err)...)
		return nil
	}
	if len(recs) == 0 {
		return nil
	}
	return model.NewFlowTable(recs)
}

func (s *Screener) collect(ch <-chan model.SignalResult, held map[string]bool, rep *Report) {
	for r := range ch {
		rep.Results = append(rep.Results, r)
		if r.EntryPass {
			rep.Passed = append(rep.Passed, r)
		}
		for _, reason := range r.ExitReasons {
			s.m.ExitSignals.WithLabelValues(string(reason)).Inc()
		}
		if r.HasExit() && held[root(r.Symbol)] {
			rep.Exits = append(rep.Exits, r)
		}
	}
	sort.Slice(rep.Results, func(i, j int) bool { return rep.Results[i].Symbol < rep.Results[j].Symbol })
	sort.Slice(rep.Exits, func(i, j int) bool { return rep.Exits[i].Symbol < rep.Exits[j].Symbol })
	report.SortPassed(rep.Passed)
}

func (s *Screener) notify(ctx context.Context, ch <-chan model.SignalResult, held map[string]bool) {
	cfg := s.opts.Strategy
	for r := range ch {
		if r.EntryPass && cfg.NotifyOnEntry {
			s.send(ctx, "entry", notification.EntryCard(r, cfg.EMAPeriod))
		}
		if r.HasExit() && cfg.NotifyOnExit && held[root(r.Symbol)] {
			s.send(ctx, "exit", notification.ExitCard(r))
		}
	}
}

func (s *Screener) send(ctx context.Context, kind string, a notification.Alert) {
	if err := s.deps.Notifier.Send(ctx, a); err != nil {
		s.m.Notifications.WithLabelValues(kind, "error").Inc()
		s.log.WarnContext(ctx, "notify failed", append(logger.LogWithRun(ctx), "kind", kind, "symbol", a.Symbol, "error", err)...)
		return
	}
	s.m.Notifications.WithLabelValues(kind, "ok").Inc()
}

func (s *Screener) publish(ctx context.Context, ch <-chan model.SignalResult) {
	for r := range ch {
		if err := s.deps.Publisher.PublishSignal(ctx, r); err != nil {
			s.log.DebugContext(ctx, "publish failed", append(logger.LogWithRun(ctx), "symbol", r.Symbol, "error", err)...)
		}
	}
}

// normalize upper-cases, suffixes and de-duplicates symbols, sorted.
func normalize(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		sym := marketdata.NormalizeSymbol(raw)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// root keys held and flow lookups by the leading digits of a symbol.
func root(symbol string) string {
	if r := marketdata.Root(symbol); r != "" {
		return r
	}
	return strings.ToUpper(strings.TrimSpace(symbol))
}
