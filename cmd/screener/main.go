// cmd/screener runs the daily screen over the Taiwan listed universe (or
// the given symbols), writes the CSV reports, sends entry and exit alerts
// and optionally backtests the symbols that passed.
//
// Usage:
//
//	go run ./cmd/screener -config strategy.yaml -notify -sync-flow
//	go run ./cmd/screener -symbols 2330,2317,6488.TWO -report-all -backtest
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"twstock-screener/config"
	"twstock-screener/internal/app"
	"twstock-screener/internal/backtest"
	"twstock-screener/internal/execution"
	"twstock-screener/internal/logger"
	"twstock-screener/internal/markethours"
	"twstock-screener/internal/metrics"
	"twstock-screener/internal/model"
	"twstock-screener/internal/report"
	"twstock-screener/internal/screener"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	configPath := flag.String("config", "", "Strategy config file (YAML or JSON); defaults when empty")
	symbolsStr := flag.String("symbols", "", "Comma-separated symbols; whole listed universe when empty")
	heldStr := flag.String("held", "", "Comma-separated held codes; replaces the stored held list")
	startStr := flag.String("start", "", "History start date YYYY-MM-DD (default: two years before end)")
	endStr := flag.String("end", "", "Evaluation date YYYY-MM-DD (default: last closed session)")
	outDir := flag.String("out", "", "Report directory (default: DATA_DIR)")
	reportAll := flag.Bool("report-all", false, "Also write every evaluated symbol, not only passes")
	notify := flag.Bool("notify", false, "Send entry/exit alerts")
	syncFlow := flag.Bool("sync-flow", false, "Download missing institutional flow days first")
	instFile := flag.String("inst-file", "", "Institutional flow CSV (date,code,net_inst) instead of the stored table")
	runBacktest := flag.Bool("backtest", false, "Backtest the symbols that passed")
	backtestOut := flag.String("backtest-out", "", "Backtest report directory (default: <out>/backtest)")
	flowOut := flag.String("flow-out", "", "Write the institutional flow table used by the run to this CSV")
	serveMetrics := flag.Bool("metrics", false, "Expose /metrics and /healthz on METRICS_ADDR during the run")
	flag.Parse()

	config.LoadDotEnv()
	cfg := config.Load()
	markethours.SetHolidays(cfg.Holidays)
	slogger := logger.Init("screener", logger.ParseLevel(cfg.LogLevel))

	strat, err := config.LoadStrategy(*configPath)
	if err != nil {
		log.Fatalf("[screener] %v", err)
	}
	start, err := parseDay(*startStr)
	if err != nil {
		log.Fatalf("[screener] -start: %v", err)
	}
	end, err := parseDay(*endStr)
	if err != nil {
		log.Fatalf("[screener] -end: %v", err)
	}
	if *outDir == "" {
		*outDir = cfg.DataDir
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.NewMetrics(nil)
	rt, err := app.Setup(ctx, cfg, m)
	if err != nil {
		log.Fatalf("[screener] %v", err)
	}
	defer rt.Close()

	if *serveMetrics {
		rt.Health.StartLivenessChecker(ctx, rt.Redis, rt.Store.DB(), 15*time.Second)
		srv := metrics.NewServer(cfg.MetricsAddr, rt.Health, nil)
		srv.Start()
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
			defer stop()
			srv.Stop(stopCtx)
		}()
	}

	if *heldStr != "" {
		if err := app.ReplaceSet(ctx, rt.KV, model.KeyHeld, splitList(*heldStr)); err != nil {
			log.Printf("[screener] held list: %v", err)
		}
	}

	var flow model.FlowTable
	if *instFile != "" {
		recs, err := app.ReadFlowFile(*instFile)
		if err != nil {
			log.Fatalf("[screener] %v", err)
		}
		flow = model.NewFlowTable(recs)
	}

	scr := screener.New(rt.ScreenerDeps(slogger), screener.Options{
		Strategy:    strat,
		Start:       start,
		End:         end,
		Workers:     cfg.Workers,
		TaskTimeout: cfg.TaskTimeout,
		Notify:      *notify,
		SyncFlow:    *syncFlow,
		Flow:        flow,
	})

	rep, err := scr.Run(ctx, splitList(*symbolsStr))
	if rep == nil {
		log.Fatalf("[screener] %v", err)
	}
	rt.Health.RecordRun(time.Now(), len(rep.Results), err == nil)
	if err != nil {
		log.Printf("[screener] run interrupted: %v", err)
	}

	day := model.DayKey(rep.End)
	passedPath := filepath.Join(*outDir, "passed_"+day+".csv")
	if err := report.WriteFile(passedPath, func(w io.Writer) error {
		return report.WriteSignals(w, rep.Passed, strat)
	}); err != nil {
		log.Printf("[screener] %v", err)
	}
	if *reportAll {
		allPath := filepath.Join(*outDir, "report_all_"+day+".csv")
		if err := report.WriteFile(allPath, func(w io.Writer) error {
			return report.WriteSignals(w, rep.Results, strat)
		}); err != nil {
			log.Printf("[screener] %v", err)
		}
	}

	if *flowOut != "" {
		table := scr.FlowTable(ctx)
		if err := report.WriteFile(*flowOut, func(w io.Writer) error {
			return report.WriteFlow(w, table.Records())
		}); err != nil {
			log.Printf("[screener] %v", err)
		}
	}

	printSummary(rep, passedPath)

	if *runBacktest && len(rep.Passed) > 0 && ctx.Err() == nil {
		dir := *backtestOut
		if dir == "" {
			dir = filepath.Join(*outDir, "backtest")
		}
		syms := make([]string, len(rep.Passed))
		for i, r := range rep.Passed {
			syms[i] = r.Symbol
		}
		results, err := scr.Backtest(ctx, syms)
		if err != nil {
			log.Printf("[screener] backtest: %v", err)
		}
		writeBacktest(ctx, cfg.SQLitePath, results, dir, day)
	}
}

func printSummary(rep *screener.Report, passedPath string) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║          SCREEN COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Date:              %-16s ║\n", model.DayKey(rep.End))
	fmt.Printf("║  Evaluated:         %-16d ║\n", len(rep.Results))
	fmt.Printf("║  Passed:            %-16d ║\n", len(rep.Passed))
	fmt.Printf("║  Held exits:        %-16d ║\n", len(rep.Exits))
	fmt.Printf("║  Failed:            %-16d ║\n", len(rep.Failed))
	fmt.Printf("║  Elapsed:           %-16s ║\n", rep.Elapsed.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")
	for _, r := range rep.Passed {
		fmt.Printf("  PASS %-10s score=%.3f close=%.2f\n", r.Symbol, r.Score, r.Snapshot.Close)
	}
	for _, r := range rep.Exits {
		fmt.Printf("  EXIT %-10s %s\n", r.Symbol, model.JoinReasons(r.ExitReasons))
	}
	fmt.Printf("  report: %s\n", passedPath)
}

// writeBacktest journals every run and writes the trade and summary CSVs.
func writeBacktest(ctx context.Context, dbPath string, results []*backtest.Result, dir, day string) {
	if journal, err := execution.NewJournal(dbPath); err != nil {
		log.Printf("[screener] journal: %v", err)
	} else {
		if err := screener.Journal(ctx, journal, results); err != nil {
			log.Printf("[screener] %v", err)
		}
		journal.Close()
	}

	if err := report.WriteFile(filepath.Join(dir, "trades_"+day+".csv"), func(w io.Writer) error {
		return report.WriteTrades(w, screener.Trades(results))
	}); err != nil {
		log.Printf("[screener] %v", err)
	}
	if err := report.WriteFile(filepath.Join(dir, "summary_"+day+".csv"), func(w io.Writer) error {
		return report.WriteSummaries(w, screener.Summaries(results))
	}); err != nil {
		log.Printf("[screener] %v", err)
	}
	log.Printf("[screener] backtested %d symbols into %s", len(results), dir)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
