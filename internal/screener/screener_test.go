package screener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"twstock-screener/internal/backtest"
	"twstock-screener/internal/logger"
	"twstock-screener/internal/marketdata"
	"twstock-screener/internal/metrics"
	"twstock-screener/internal/model"
	"twstock-screener/internal/notification"
	"twstock-screener/internal/store/redis"
	"twstock-screener/internal/strategy"
)

// ────────────────────────────────────────────────────────────
// Fakes
// ────────────────────────────────────────────────────────────

var (
	runStart = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	runEnd   = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
)

func series(symbol string, n int) model.Series {
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = model.Bar{
			Date:   runEnd.AddDate(0, 0, i-n+1),
			Open:   c - 0.5,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return model.NewSeries(symbol, bars)
}

type fakeLoader struct {
	mu     sync.Mutex
	series map[string]model.Series
	errs   map[string]error
	loaded []string
}

func (f *fakeLoader) Load(_ context.Context, symbol string, _, _ time.Time) (model.Series, error) {
	f.mu.Lock()
	f.loaded = append(f.loaded, symbol)
	f.mu.Unlock()
	if err := f.errs[symbol]; err != nil {
		return model.Series{Symbol: symbol}, err
	}
	s, ok := f.series[symbol]
	if !ok {
		return model.Series{Symbol: symbol}, marketdata.ErrNoData
	}
	return s, nil
}

// scripted passes entry for symbols in pass and fires a volume fade for
// symbols in exit.
func scripted(pass, exit map[string]bool) func(model.Series, strategy.Config, []float64) (model.SignalResult, error) {
	return func(s model.Series, _ strategy.Config, _ []float64) (model.SignalResult, error) {
		r := model.SignalResult{Symbol: s.Symbol, Date: s.Last().Date, EntryPass: pass[s.Symbol], Score: float64(s.Len())}
		if exit[s.Symbol] {
			r.ExitReasons = []model.ExitReason{model.ExitVolumeFade}
		}
		return r, nil
	}
}

type captureNotifier struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (c *captureNotifier) Send(_ context.Context, a notification.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

type capturePublisher struct {
	mu   sync.Mutex
	syms []string
}

func (c *capturePublisher) PublishSignal(_ context.Context, r model.SignalResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syms = append(c.syms, r.Symbol)
	return nil
}

type captureHistory struct {
	runID string
	n     int
}

func (c *captureHistory) RunSignals(_ context.Context, runID string, ch <-chan model.SignalResult) {
	c.runID = runID
	for range ch {
		c.n++
	}
}

type fakeListing struct {
	codes []string
	err   error
	calls int
}

func (f *fakeListing) FetchAll(context.Context) ([]string, error) {
	f.calls++
	return f.codes, f.err
}

func quietLogger() *slog.Logger {
	return logger.InitWriter(io.Discard, "screener-test", slog.LevelError)
}

func newTestScreener(deps Deps, opts Options) *Screener {
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	if opts.Start.IsZero() {
		opts.Start, opts.End = runStart, runEnd
	}
	if opts.Strategy.EMAPeriod == 0 {
		opts.Strategy = strategy.DefaultConfig()
	}
	return New(deps, opts)
}

// ────────────────────────────────────────────────────────────
// Run
// ────────────────────────────────────────────────────────────

func TestRun_FansOutToSinks(t *testing.T) {
	ctx := context.Background()
	kv := redis.NewMemoryKV()
	kv.SAdd(ctx, model.KeyHeld, "2317")

	loader := &fakeLoader{
		series: map[string]model.Series{
			"2330.TW":  series("2330.TW", 60),
			"2317.TW":  series("2317.TW", 60),
			"6488.TWO": series("6488.TWO", 60),
		},
		errs: map[string]error{"9999.TW": marketdata.ErrBlacklisted},
	}
	notifier := &captureNotifier{}
	pub := &capturePublisher{}
	hist := &captureHistory{}
	reg := prometheus.NewRegistry()

	s := newTestScreener(Deps{
		Loader:    loader,
		KV:        kv,
		Notifier:  notifier,
		Publisher: pub,
		History:   hist,
		Metrics:   metrics.NewMetrics(reg),
		Evaluator: scripted(
			map[string]bool{"2330.TW": true},
			map[string]bool{"2317.TW": true, "6488.TWO": true},
		),
	}, Options{Workers: 3, Notify: true})

	rep, err := s.Run(ctx, []string{"2330", "2317.tw", "9999", "2330.TW", "6488.TWO"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(loader.loaded) != 4 {
		t.Errorf("loaded %v, want 4 unique symbols", loader.loaded)
	}
	if len(rep.Results) != 3 || rep.Results[0].Symbol != "2317.TW" {
		t.Errorf("results = %+v", rep.Results)
	}
	if len(rep.Passed) != 1 || rep.Passed[0].Symbol != "2330.TW" {
		t.Errorf("passed = %+v", rep.Passed)
	}
	// 6488 fires an exit but is not held.
	if len(rep.Exits) != 1 || rep.Exits[0].Symbol != "2317.TW" {
		t.Errorf("exits = %+v", rep.Exits)
	}
	if !errors.Is(rep.Failed["9999.TW"], marketdata.ErrBlacklisted) {
		t.Errorf("failed = %v", rep.Failed)
	}
	if rep.RunID == "" || hist.runID != rep.RunID || hist.n != 3 {
		t.Errorf("history run=%q n=%d, report run=%q", hist.runID, hist.n, rep.RunID)
	}
	if len(pub.syms) != 3 {
		t.Errorf("published %v", pub.syms)
	}

	if len(notifier.alerts) != 2 {
		t.Fatalf("alerts = %+v", notifier.alerts)
	}
	kinds := map[string]string{}
	for _, a := range notifier.alerts {
		kinds[a.Symbol] = a.Title
	}
	if _, ok := kinds["2330.TW"]; !ok {
		t.Error("missing entry alert for 2330.TW")
	}
	if _, ok := kinds["2317.TW"]; !ok {
		t.Error("missing exit alert for 2317.TW")
	}

	mfs, _ := reg.Gather()
	var passed float64
	for _, mf := range mfs {
		if mf.GetName() != "screener_symbols_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == "passed" {
					passed = m.GetCounter().GetValue()
				}
			}
		}
	}
	if passed != 1 {
		t.Errorf("passed counter = %v", passed)
	}
}

func TestRun_NotificationToggles(t *testing.T) {
	cases := []struct {
		name        string
		notify      bool
		entry, exit bool
		wantAlerts  int
	}{
		{"all on", true, true, true, 2},
		{"entry only", true, true, false, 1},
		{"exit only", true, false, true, 1},
		{"notify flag off", false, true, true, 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			kv := redis.NewMemoryKV()
			kv.SAdd(ctx, model.KeyHeld, "2317.TW")
			cfg := strategy.DefaultConfig()
			cfg.NotifyOnEntry, cfg.NotifyOnExit = tc.entry, tc.exit
			notifier := &captureNotifier{}

			s := newTestScreener(Deps{
				Loader: &fakeLoader{series: map[string]model.Series{
					"2330.TW": series("2330.TW", 30),
					"2317.TW": series("2317.TW", 30),
				}},
				KV:        kv,
				Notifier:  notifier,
				Evaluator: scripted(map[string]bool{"2330.TW": true}, map[string]bool{"2317.TW": true}),
			}, Options{Strategy: cfg, Notify: tc.notify})

			if _, err := s.Run(ctx, []string{"2330", "2317"}); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(notifier.alerts) != tc.wantAlerts {
				t.Errorf("alerts = %d, want %d", len(notifier.alerts), tc.wantAlerts)
			}
		})
	}
}

func TestRun_PassedSortedByDateThenScore(t *testing.T) {
	short := series("1101.TW", 20)
	short.Bars = short.Bars[:19] // one day earlier
	s := newTestScreener(Deps{
		Loader: &fakeLoader{series: map[string]model.Series{
			"1101.TW": short,
			"2330.TW": series("2330.TW", 30),
			"2317.TW": series("2317.TW", 40),
		}},
		KV:        redis.NewMemoryKV(),
		Evaluator: scripted(map[string]bool{"1101.TW": true, "2330.TW": true, "2317.TW": true}, nil),
	}, Options{})

	rep, err := s.Run(context.Background(), []string{"2330", "2317", "1101"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got []string
	for _, r := range rep.Passed {
		got = append(got, r.Symbol)
	}
	want := []string{"1101.TW", "2317.TW", "2330.TW"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("passed order = %v, want %v", got, want)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestScreener(Deps{
		Loader:  &fakeLoader{},
		KV:      redis.NewMemoryKV(),
		History: &captureHistory{},
	}, Options{})
	rep, err := s.Run(ctx, []string{"2330"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if rep == nil {
		t.Fatal("expected partial report")
	}
}

// ────────────────────────────────────────────────────────────
// Universe
// ────────────────────────────────────────────────────────────

func TestUniverse_SeedsFromListing(t *testing.T) {
	ctx := context.Background()
	kv := redis.NewMemoryKV()
	listing := &fakeListing{codes: []string{"6488.TWO", "2330.TW", "2330.TW"}}
	s := newTestScreener(Deps{Loader: &fakeLoader{}, KV: kv, Listing: listing}, Options{})

	got, err := s.Universe(ctx)
	if err != nil {
		t.Fatalf("Universe: %v", err)
	}
	if len(got) != 2 || got[0] != "2330.TW" || got[1] != "6488.TWO" {
		t.Errorf("universe = %v", got)
	}
	stored, _ := kv.SMembers(ctx, model.KeyValidCodes)
	if len(stored) != 2 {
		t.Errorf("stored = %v", stored)
	}

	listing.err = errors.New("offline")
	if _, err := s.Universe(ctx); err != nil || listing.calls != 1 {
		t.Errorf("second call err=%v listing calls=%d", err, listing.calls)
	}
}

func TestUniverse_Empty(t *testing.T) {
	s := newTestScreener(Deps{Loader: &fakeLoader{}, KV: redis.NewMemoryKV()}, Options{})
	if _, err := s.Universe(context.Background()); !errors.Is(err, ErrNoSymbols) {
		t.Errorf("err = %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Institutional flow
// ────────────────────────────────────────────────────────────

type memFlows struct {
	mu   sync.Mutex
	recs []model.FlowRecord
}

func (m *memFlows) UpsertFlows(_ context.Context, recs []model.FlowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, recs...)
	return nil
}

func (m *memFlows) ReadFlows(_ context.Context, from time.Time) ([]model.FlowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FlowRecord
	for _, r := range m.recs {
		if !r.Date.Before(from) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memFlows) FlowDays(context.Context) (map[time.Time]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	days := map[time.Time]bool{}
	for _, r := range m.recs {
		days[r.Date] = true
	}
	return days, nil
}

type fakeFlowSrc struct {
	skip     map[time.Time]bool
	from, to time.Time
}

func (f *fakeFlowSrc) FetchRange(_ context.Context, from, to time.Time, skip map[time.Time]bool) ([]model.FlowRecord, error) {
	f.from, f.to, f.skip = from, to, skip
	return []model.FlowRecord{{Date: to, Code: "2330", NetLots: 1500}}, nil
}

func TestFlowTable_SyncsAndAligns(t *testing.T) {
	flows := &memFlows{recs: []model.FlowRecord{{Date: runEnd.AddDate(0, 0, -1), Code: "2330", NetLots: -200}}}
	src := &fakeFlowSrc{}

	var mu sync.Mutex
	seen := map[string][]float64{}
	eval := func(s model.Series, cfg strategy.Config, inst []float64) (model.SignalResult, error) {
		mu.Lock()
		seen[s.Symbol] = inst
		mu.Unlock()
		return model.SignalResult{Symbol: s.Symbol, Date: s.Last().Date}, nil
	}

	s := newTestScreener(Deps{
		Loader: &fakeLoader{series: map[string]model.Series{
			"2330.TW": series("2330.TW", 10),
			"2317.TW": series("2317.TW", 10),
		}},
		KV:        redis.NewMemoryKV(),
		Flows:     flows,
		FlowSrc:   src,
		Evaluator: eval,
	}, Options{SyncFlow: true})

	if _, err := s.Run(context.Background(), []string{"2330", "2317"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !src.to.Equal(runEnd) || !src.skip[runEnd.AddDate(0, 0, -1)] {
		t.Errorf("sync range to=%v skip=%v", src.to, src.skip)
	}
	inst := seen["2330.TW"]
	if len(inst) != 10 || inst[9] != 1500 || inst[8] != -200 || inst[0] != 0 {
		t.Errorf("2330 inst = %v", inst)
	}
	if seen["2317.TW"] != nil {
		t.Errorf("2317 inst = %v, want nil without flow rows", seen["2317.TW"])
	}
}

func TestFlowTable_OverrideWins(t *testing.T) {
	table := model.NewFlowTable([]model.FlowRecord{{Date: runEnd, Code: "2330", NetLots: 7}})
	s := newTestScreener(Deps{Loader: &fakeLoader{}, KV: redis.NewMemoryKV(), Flows: &memFlows{}}, Options{Flow: table})
	got := s.FlowTable(context.Background())
	if got.Align("2330", []time.Time{runEnd})[0] != 7 {
		t.Errorf("table = %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Backtest
// ────────────────────────────────────────────────────────────

func TestBacktest_EachSymbol(t *testing.T) {
	s := newTestScreener(Deps{
		Loader: &fakeLoader{series: map[string]model.Series{
			"2330.TW": series("2330.TW", 80),
			"2317.TW": series("2317.TW", 80),
		}},
		KV:        redis.NewMemoryKV(),
		Evaluator: scripted(map[string]bool{"2330.TW": true, "2317.TW": true}, nil),
	}, Options{Workers: 2})

	res, err := s.Backtest(context.Background(), []string{"2330", "2317", "9999"})
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}
	if len(res) != 2 || res[0].Symbol != "2317.TW" {
		t.Fatalf("results = %d", len(res))
	}
	trades := Trades(res)
	if len(trades) != 2 {
		t.Errorf("trades = %+v", trades)
	}
	for _, tr := range trades {
		if tr.Reason != string(model.ExitForcedLiquidation) {
			t.Errorf("exit reason = %s", tr.Reason)
		}
	}
	sums := Summaries(res)
	syms := []string{sums[0].Symbol, sums[1].Symbol}
	if !sort.StringsAreSorted(syms) || sums[0].Trades != 1 {
		t.Errorf("summaries = %+v", sums)
	}
}

func TestBacktest_FlowCoversHistoryWindow(t *testing.T) {
	old := runEnd.AddDate(0, 0, -60)
	flows := &memFlows{recs: []model.FlowRecord{{Date: old, Code: "2330", NetLots: 500}}}
	src := &fakeFlowSrc{}

	var mu sync.Mutex
	var longest []float64
	eval := func(s model.Series, _ strategy.Config, inst []float64) (model.SignalResult, error) {
		mu.Lock()
		if len(inst) > len(longest) {
			longest = inst
		}
		mu.Unlock()
		return model.SignalResult{Symbol: s.Symbol, Date: s.Last().Date}, nil
	}
	s := newTestScreener(Deps{
		Loader:    &fakeLoader{series: map[string]model.Series{"2330.TW": series("2330.TW", 80)}},
		KV:        redis.NewMemoryKV(),
		Flows:     flows,
		FlowSrc:   src,
		Evaluator: eval,
	}, Options{Workers: 1, SyncFlow: true})

	if _, err := s.Backtest(context.Background(), []string{"2330"}); err != nil {
		t.Fatalf("Backtest: %v", err)
	}
	if !src.from.Equal(runStart) {
		t.Errorf("sync from %v, want history start %v", src.from, runStart)
	}
	// Bar 19 of 80 falls on the old flow day, outside the screening lookback.
	if len(longest) < 20 || longest[19] != 500 {
		t.Errorf("aligned flow = %v", longest)
	}
}

type recordingJournal struct {
	runs   []string
	failOn string
}

func (j *recordingJournal) RecordRun(_ context.Context, runID string, s model.BacktestSummary, _ []model.Trade) error {
	if s.Symbol == j.failOn {
		return errors.New("disk full")
	}
	j.runs = append(j.runs, runID+"/"+s.Symbol)
	return nil
}

func TestJournal_RecordsUntilFailure(t *testing.T) {
	results := []*backtest.Result{
		{RunID: "r1", Symbol: "2317.TW", Summary: model.BacktestSummary{Symbol: "2317.TW"}},
		{RunID: "r2", Symbol: "2330.TW", Summary: model.BacktestSummary{Symbol: "2330.TW"}},
		{RunID: "r3", Symbol: "2603.TW", Summary: model.BacktestSummary{Symbol: "2603.TW"}},
	}

	j := &recordingJournal{}
	if err := Journal(context.Background(), j, results); err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if len(j.runs) != 3 || j.runs[0] != "r1/2317.TW" {
		t.Errorf("runs = %v", j.runs)
	}

	j = &recordingJournal{failOn: "2330.TW"}
	if err := Journal(context.Background(), j, results); err == nil {
		t.Fatal("expected error")
	}
	if len(j.runs) != 1 {
		t.Errorf("recorded %d runs before failure, want 1", len(j.runs))
	}
}
