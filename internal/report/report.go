// Package report writes screening and backtest results as CSV files
// (UTF-8 with BOM so spreadsheet tools pick the right encoding).
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"twstock-screener/internal/model"
	"twstock-screener/internal/notification"
	"twstock-screener/internal/strategy"
)

const bom = "\ufeff"

// SortPassed orders results by date ascending, then score descending.
func SortPassed(rows []model.SignalResult) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].Score > rows[j].Score
	})
}

func signalHeader(cfg strategy.Config) []string {
	return []string{
		"代碼", "日期", "收盤", fmt.Sprintf("EMA%d", cfg.EMAPeriod),
		fmt.Sprintf("%d日均量", cfg.VolFast), fmt.Sprintf("%d日均量", cfg.VolSlow),
		"K值", "D值", fmt.Sprintf("ADX%d", cfg.ADXPeriod), "MACD", "MACD訊號", "MACD柱",
		"初始停損價(ATR)", fmt.Sprintf("建議移動停損(EMA%d)", cfg.TrailEMAPeriod),
		"股價高於EMA", "成交量放大", "KD合理區間", "趨勢強勁", "MACD多頭", "法人4週買超通過",
		"是否符合", "綜合評分(score)", "法人4週買超", "法人強度分數",
		"出場原因代碼", "出場原因中文",
	}
}

func signalRow(r model.SignalResult) []string {
	s, c := r.Snapshot, r.Conditions
	labels := make([]string, len(r.ExitReasons))
	for i, x := range r.ExitReasons {
		labels[i] = notification.ReasonLabel(x)
	}
	pass := "不符合"
	if r.EntryPass {
		pass = "符合"
	}
	return []string{
		r.Symbol, model.DayKey(r.Date), num(s.Close, 2), num(s.EMA, 2),
		num(s.VolFast, 0), num(s.VolSlow, 0),
		num(s.K, 2), num(s.D, 2), num(s.ADX, 2), num(s.MACD, 4), num(s.MACDSignal, 4), num(s.MACDHist, 4),
		num(s.InitialStop, 2), num(s.TrailEMA, 2),
		yes(c.AboveEMA), yes(c.VolumeExpanding), yes(c.KDInRange), yes(c.TrendStrong), yes(c.MACDBullish),
		yes(c.InstPositive == model.InstPositive),
		pass, num(r.Score, 4), num(s.InstSum, 0), num(s.InstScore, 4),
		model.JoinReasons(r.ExitReasons), strings.Join(labels, ";"),
	}
}

// WriteSignals writes one row per result.
func WriteSignals(w io.Writer, rows []model.SignalResult, cfg strategy.Config) error {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = signalRow(r)
	}
	return writeCSV(w, signalHeader(cfg), out)
}

// tradeHeader is the trade detail column set.
var tradeHeader = []string{
	"代碼", "進場日", "出場日", "進場價", "出場價", "股數",
	"毛損益", "手續費", "淨損益", "報酬率(%)", "出場原因",
}

// WriteTrades writes the per-trade ledger.
func WriteTrades(w io.Writer, trades []model.Trade) error {
	out := make([][]string, len(trades))
	for i, t := range trades {
		out[i] = []string{
			t.Symbol, model.DayKey(t.EntryDate), model.DayKey(t.ExitDate),
			num(t.EntryPrice, 4), num(t.ExitPrice, 4), fmt.Sprint(t.Quantity),
			num(t.GrossPnL, 2), num(t.Fee, 2), num(t.NetPnL, 2), num(t.Return*100, 2), t.Reason,
		}
	}
	return writeCSV(w, tradeHeader, out)
}

var summaryHeader = []string{
	"代碼", "起始日", "結束日", "初始資金", "期末資產",
	"總報酬率(%)", "年化報酬率(%)", "交易次數", "勝率(%)", "平均獲利", "平均虧損", "最大回撤(%)",
}

// WriteSummaries writes one row per backtested symbol.
func WriteSummaries(w io.Writer, sums []model.BacktestSummary) error {
	out := make([][]string, len(sums))
	for i, s := range sums {
		out[i] = []string{
			s.Symbol, model.DayKey(s.Start), model.DayKey(s.End),
			num(s.InitialCapital, 0), num(s.FinalEquity, 2),
			num(s.TotalReturn*100, 2), num(s.CAGR*100, 2), fmt.Sprint(s.Trades),
			num(s.WinRate*100, 2), num(s.AvgWin, 2), num(s.AvgLoss, 2), num(s.MaxDrawdown*100, 2),
		}
	}
	return writeCSV(w, summaryHeader, out)
}

// WriteFile creates path (and its directory) and runs write on it.
func WriteFile(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: mkdir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return f.Close()
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// num renders v with places decimals; undefined values are left blank.
func num(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

func yes(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
