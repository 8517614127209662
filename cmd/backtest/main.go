// cmd/backtest replays daily history for one or more symbols through the
// signal engine with next-open execution, prints a summary per symbol and
// records the trade ledger in the journal.
//
// Usage:
//
//	go run ./cmd/backtest -symbols 2330,2317 -start 2020-01-01 -config strategy.yaml
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

	symbolsStr := flag.String("symbols", "", "Comma-separated symbols to backtest (required)")
	configPath := flag.String("config", "", "Strategy config file (YAML or JSON); defaults when empty")
	startStr := flag.String("start", "", "History start YYYY-MM-DD (default: five years before end)")
	endStr := flag.String("end", "", "History end YYYY-MM-DD (default: last closed session)")
	outDir := flag.String("out", "", "CSV directory (default: DATA_DIR/backtest)")
	instFile := flag.String("inst-file", "", "Institutional flow CSV instead of the stored table")
	showTrades := flag.Bool("trades", false, "Print every trade")
	flag.Parse()

	symbols := splitList(*symbolsStr)
	if len(symbols) == 0 {
		log.Fatal("[backtest] -symbols is required")
	}

	config.LoadDotEnv()
	cfg := config.Load()
	markethours.SetHolidays(cfg.Holidays)
	slogger := logger.Init("backtest", logger.ParseLevel(cfg.LogLevel))

	strat, err := config.LoadStrategy(*configPath)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	end := markethours.LastTradingDay(time.Now())
	if *endStr != "" {
		if end, err = time.Parse("2006-01-02", *endStr); err != nil {
			log.Fatalf("[backtest] -end: %v", err)
		}
	}
	start := end.AddDate(-5, 0, 0)
	if *startStr != "" {
		if start, err = time.Parse("2006-01-02", *startStr); err != nil {
			log.Fatalf("[backtest] -start: %v", err)
		}
	}
	if *outDir == "" {
		*outDir = filepath.Join(cfg.DataDir, "backtest")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithRunID(ctx, logger.NewRunID())

	rt, err := app.Setup(ctx, cfg, metrics.NewMetrics(nil))
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	defer rt.Close()

	var flow model.FlowTable
	if *instFile != "" {
		recs, err := app.ReadFlowFile(*instFile)
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		flow = model.NewFlowTable(recs)
	}

	scr := screener.New(rt.ScreenerDeps(slogger), screener.Options{
		Strategy:    strat,
		Start:       start,
		End:         end,
		Workers:     cfg.Workers,
		TaskTimeout: cfg.TaskTimeout,
		Flow:        flow,
	})
	results, err := scr.Backtest(ctx, symbols)
	if err != nil {
		log.Printf("[backtest] interrupted: %v", err)
	}
	if len(results) == 0 {
		log.Fatal("[backtest] no symbol could be backtested")
	}

	for _, res := range results {
		printResult(res, *showTrades)
	}
	if journal, err := execution.NewJournal(cfg.SQLitePath); err != nil {
		log.Printf("[backtest] journal unavailable: %v", err)
	} else {
		if err := screener.Journal(ctx, journal, results); err != nil {
			log.Printf("[backtest] %v", err)
		}
		journal.Close()
	}

	stamp := model.DayKey(end)
	tradesPath := filepath.Join(*outDir, "trades_"+stamp+".csv")
	if err := report.WriteFile(tradesPath, func(w io.Writer) error {
		return report.WriteTrades(w, screener.Trades(results))
	}); err != nil {
		log.Printf("[backtest] %v", err)
	}
	summaryPath := filepath.Join(*outDir, "summary_"+stamp+".csv")
	if err := report.WriteFile(summaryPath, func(w io.Writer) error {
		return report.WriteSummaries(w, screener.Summaries(results))
	}); err != nil {
		log.Printf("[backtest] %v", err)
	}
	fmt.Printf("  trades:  %s\n  summary: %s\n", tradesPath, summaryPath)
}

func printResult(res *backtest.Result, showTrades bool) {
	s := res.Summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Printf("║  BACKTEST %-26s ║\n", s.Symbol)
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Period:   %-25s ║\n", model.DayKey(s.Start)+" ~ "+model.DayKey(s.End))
	fmt.Printf("║  Final:    %-25.0f ║\n", s.FinalEquity)
	fmt.Printf("║  Return:   %-25s ║\n", pct(s.TotalReturn))
	fmt.Printf("║  CAGR:     %-25s ║\n", pct(s.CAGR))
	fmt.Printf("║  Max DD:   %-25s ║\n", pct(s.MaxDrawdown))
	fmt.Printf("║  Trades:   %-25d ║\n", s.Trades)
	fmt.Printf("║  Win rate: %-25s ║\n", pct(s.WinRate))
	fmt.Printf("║  Avg win:  %-25s ║\n", pct(s.AvgWin))
	fmt.Printf("║  Avg loss: %-25s ║\n", pct(s.AvgLoss))
	fmt.Println("╚══════════════════════════════════════╝")
	if !showTrades {
		return
	}
	for _, t := range res.Trades {
		fmt.Printf("  %s → %s  %8.2f → %8.2f  qty=%-6d pnl=%10.0f  %s\n",
			model.DayKey(t.EntryDate), model.DayKey(t.ExitDate),
			t.EntryPrice, t.ExitPrice, t.Quantity, t.NetPnL, t.Reason)
	}
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
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
