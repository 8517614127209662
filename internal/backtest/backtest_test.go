package backtest

import (
	"errors"
	"math"
	"testing"
	"time"

	"twstock-screener/internal/model"
	"twstock-screener/internal/strategy"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// linearUptrend closes at 100+i with a ±5 range, opens half a point
// below the close, and trades a constant volume.
func linearUptrend(n int) model.Series {
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = model.Bar{
			Date:   day0.AddDate(0, 0, i),
			Open:   c - 0.5,
			High:   c + 5,
			Low:    c - 5,
			Close:  c,
			Volume: 1000,
		}
	}
	return model.NewSeries("2330.TW", bars)
}

// scripted returns an evaluator that passes entry on the bar indexes in
// entries and reports the given exit reasons on the bar indexes in exits.
func scripted(entries map[int]bool, exits map[int][]model.ExitReason) EvalFunc {
	return func(s model.Series, _ strategy.Config, _ []float64) (model.SignalResult, error) {
		i := s.Len() - 1
		return model.SignalResult{
			Symbol:      s.Symbol,
			Date:        s.Last().Date,
			EntryPass:   entries[i],
			ExitReasons: exits[i],
		}, nil
	}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

// ────────────────────────────────────────────────────────────
// Execution timing
// ────────────────────────────────────────────────────────────

func TestRun_EntryExecutesNextBarOpen(t *testing.T) {
	s := linearUptrend(80)
	cfg := strategy.DefaultConfig()
	const k = 60

	res, err := New(cfg, WithEvaluator(scripted(map[int]bool{k: true}, nil))).Run(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	next := s.Bars[k+1]
	if !tr.EntryDate.Equal(next.Date) {
		t.Fatalf("entry date %v, want bar k+1 %v", tr.EntryDate, next.Date)
	}
	buy := next.Open * (1 + cfg.Slippage)
	assertClose(t, "entry price", tr.EntryPrice, buy, 1e-9)
	if want := int64(math.Floor(cfg.InitialCapital * cfg.RiskPerTrade / buy)); tr.Quantity != want {
		t.Fatalf("qty = %d, want %d", tr.Quantity, want)
	}
	if tr.Reason != string(model.ExitForcedLiquidation) {
		t.Fatalf("reason = %q", tr.Reason)
	}
}

func TestRun_ExitExecutesNextBarOpen(t *testing.T) {
	s := linearUptrend(80)
	cfg := strategy.DefaultConfig()
	eval := scripted(
		map[int]bool{55: true},
		map[int][]model.ExitReason{
			58: {model.ExitVolumeFade, model.ExitMACDFlipDown},
		})

	res, err := New(cfg, WithEvaluator(eval)).Run(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if !tr.ExitDate.Equal(s.Bars[59].Date) {
		t.Fatalf("exit date %v, want bar 59", tr.ExitDate)
	}
	assertClose(t, "exit price", tr.ExitPrice, s.Bars[59].Open*(1-cfg.Slippage), 1e-9)
	if tr.Reason != "volume_fade;macd_flip_down" {
		t.Fatalf("reason = %q", tr.Reason)
	}
	// Cash after the round trip drives final equity.
	fee := tr.ExitPrice * float64(tr.Quantity) * cfg.Commission
	entryFee := tr.EntryPrice * float64(tr.Quantity) * cfg.Commission
	want := cfg.InitialCapital - tr.EntryPrice*float64(tr.Quantity) - entryFee + tr.ExitPrice*float64(tr.Quantity) - fee
	assertClose(t, "final equity", res.Summary.FinalEquity, want, 1e-6)
}

func TestRun_ZeroPriceExitBooksLoss(t *testing.T) {
	cfg := strategy.DefaultConfig()
	eval := scripted(map[int]bool{55: true}, map[int][]model.ExitReason{58: {model.ExitVolumeFade}})

	s := linearUptrend(80)
	s.Bars[59].Open = 0
	res, err := New(cfg, WithEvaluator(eval)).Run(s, nil)
	if err != nil {
		t.Fatalf("zero open on exit bar: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	basis := tr.EntryPrice * float64(tr.Quantity)
	assertClose(t, "exit price", tr.ExitPrice, 0, 0)
	assertClose(t, "net pnl", tr.NetPnL, -basis, 1e-6)
	entryFee := basis * cfg.Commission
	assertClose(t, "final equity", res.Summary.FinalEquity, cfg.InitialCapital-basis-entryFee, 1e-6)

	// Forced liquidation at a zero final close.
	s = linearUptrend(80)
	s.Bars[79].Close = 0
	res, err = New(cfg, WithEvaluator(scripted(map[int]bool{60: true}, nil))).Run(s, nil)
	if err != nil {
		t.Fatalf("zero final close: %v", err)
	}
	if len(res.Trades) != 1 || res.Trades[0].Reason != string(model.ExitForcedLiquidation) {
		t.Fatalf("trades = %+v", res.Trades)
	}
	assertClose(t, "liquidation return", res.Trades[0].Return, -1, 1e-12)
}

func TestRun_OnePositionAtATime(t *testing.T) {
	s := linearUptrend(120)
	entries := map[int]bool{}
	exits := map[int][]model.ExitReason{}
	for i := 0; i < 120; i++ {
		entries[i] = true
		if i%4 == 0 {
			exits[i] = []model.ExitReason{model.ExitADXWeaken}
		}
	}
	res, err := New(strategy.DefaultConfig(), WithEvaluator(scripted(entries, exits))).Run(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) < 2 {
		t.Fatalf("trades = %d, want several", len(res.Trades))
	}
	for i, tr := range res.Trades {
		if !tr.ExitDate.After(tr.EntryDate) {
			t.Errorf("trade %d exits %v, not after entry %v", i, tr.ExitDate, tr.EntryDate)
		}
		if i > 0 && !tr.EntryDate.After(res.Trades[i-1].ExitDate) {
			t.Errorf("trade %d opened %v before previous exit %v", i, tr.EntryDate, res.Trades[i-1].ExitDate)
		}
	}
}

func TestRun_NoEntryOnPenultimateBar(t *testing.T) {
	s := linearUptrend(70)
	res, err := New(strategy.DefaultConfig(), WithEvaluator(scripted(map[int]bool{68: true}, nil))).Run(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("trades = %+v, want none", res.Trades)
	}
}

func TestRun_SkipsUnaffordableEntry(t *testing.T) {
	s := linearUptrend(80)
	cfg := strategy.DefaultConfig()
	cfg.InitialCapital = 1000 // 10% buys less than one share at ~150
	res, err := New(cfg, WithEvaluator(scripted(map[int]bool{60: true}, nil))).Run(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 0 || res.Summary.FinalEquity != 1000 {
		t.Fatalf("trades=%d final=%v", len(res.Trades), res.Summary.FinalEquity)
	}
}

// ────────────────────────────────────────────────────────────
// Round trip and scenario
// ────────────────────────────────────────────────────────────

func TestRun_AllFlatKeepsCapital(t *testing.T) {
	s := linearUptrend(100)
	cfg := strategy.DefaultConfig()
	res, err := New(cfg, WithEvaluator(scripted(nil, nil))).Run(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("trades = %d", len(res.Trades))
	}
	if res.Summary.FinalEquity != cfg.InitialCapital {
		t.Fatalf("final equity %v, want %v", res.Summary.FinalEquity, cfg.InitialCapital)
	}
	if res.Summary.TotalReturn != 0 || res.Summary.CAGR != 0 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	// One point per evaluated bar plus the closing point.
	if want := 100 - 50 - 1 + 1; len(res.Equity) != want {
		t.Fatalf("equity points = %d, want %d", len(res.Equity), want)
	}
}

func TestRun_TrendingScenarioWithRealSignals(t *testing.T) {
	// 120 bars rising by 1 a day: close above EMA117, flat volume, K and D
	// near 72, ADX at 100 and MACD rising above its signal. With warmup 60
	// the first evaluated bar is 60, so the buy lands on bar 61's open.
	s := linearUptrend(120)
	cfg := strategy.DefaultConfig()
	cfg.WarmupBars = 60

	sig, err := strategy.Evaluate(s.Prefix(60), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !sig.EntryPass {
		t.Fatalf("entry gates at bar 60: %+v snapshot %+v", sig.Conditions, sig.Snapshot)
	}

	res, err := Run(s, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %+v, want exactly one", res.Trades)
	}
	tr := res.Trades[0]
	buy := s.Bars[61].Open * 1.001
	assertClose(t, "entry price", tr.EntryPrice, buy, 1e-9)
	if !tr.EntryDate.Equal(s.Bars[61].Date) {
		t.Fatalf("entry date %v", tr.EntryDate)
	}
	if want := int64(math.Floor(100000 / buy)); tr.Quantity != want {
		t.Fatalf("qty = %d, want %d", tr.Quantity, want)
	}
	if tr.Reason != string(model.ExitForcedLiquidation) {
		t.Fatalf("reason = %q, want forced liquidation", tr.Reason)
	}
	assertClose(t, "exit price", tr.ExitPrice, s.Last().Close*0.999, 1e-9)
	if !tr.ExitDate.Equal(s.Last().Date) {
		t.Fatalf("exit date %v", tr.ExitDate)
	}
	if res.Summary.TotalReturn <= 0 {
		t.Fatalf("total return %v on a rising series", res.Summary.TotalReturn)
	}
}

// ────────────────────────────────────────────────────────────
// Validation
// ────────────────────────────────────────────────────────────

func TestRun_RejectsInvalidInput(t *testing.T) {
	s := linearUptrend(60)

	bad := strategy.DefaultConfig()
	bad.KDN = 0
	if _, err := Run(s, nil, bad); !errors.Is(err, strategy.ErrInvalidConfig) {
		t.Errorf("invalid config: %v", err)
	}
	if _, err := Run(model.Series{}, nil, strategy.DefaultConfig()); !errors.Is(err, strategy.ErrEmptySeries) {
		t.Errorf("empty series: %v", err)
	}
	if _, err := Run(s, make([]float64, 3), strategy.DefaultConfig()); !errors.Is(err, strategy.ErrFlowLength) {
		t.Errorf("misaligned flow: %v", err)
	}
}

func TestRun_EvaluatorErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	eval := func(model.Series, strategy.Config, []float64) (model.SignalResult, error) {
		return model.SignalResult{}, boom
	}
	_, err := New(strategy.DefaultConfig(), WithEvaluator(eval)).Run(linearUptrend(60), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestWarmupBars(t *testing.T) {
	cfg := strategy.DefaultConfig()
	cfg.WarmupBars = 10
	// Defaults need 27 bars before ADX(14) is defined.
	if got := New(cfg).WarmupBars(); got != cfg.MinBars() {
		t.Fatalf("warmup = %d, want MinBars %d", got, cfg.MinBars())
	}
	cfg.WarmupBars = 50
	if got := New(cfg).WarmupBars(); got != 50 {
		t.Fatalf("warmup = %d, want 50", got)
	}
}
