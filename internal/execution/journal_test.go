package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"twstock-screener/internal/model"
)

func TestJournal_RecordRunReplaces(t *testing.T) {
	ctx := context.Background()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	d := func(day int) time.Time { return time.Date(2025, 4, day, 0, 0, 0, 0, time.UTC) }
	sum := model.BacktestSummary{Symbol: "2330.TW", Start: d(1), End: d(30), InitialCapital: 1e6, FinalEquity: 1.1e6, TotalReturn: 0.1, Trades: 2}
	trades := []model.Trade{
		{Symbol: "2330.TW", EntryDate: d(2), ExitDate: d(5), Quantity: 100, NetPnL: 500, Reason: "volume_fade"},
		{Symbol: "2330.TW", EntryDate: d(8), ExitDate: d(30), Quantity: 100, NetPnL: -200, Reason: "forced_liquidation"},
	}
	if err := j.RecordRun(ctx, "run-a", sum, trades); err != nil {
		t.Fatal(err)
	}
	// Re-recording the same run must not duplicate trades.
	if err := j.RecordRun(ctx, "run-a", sum, trades[:1]); err != nil {
		t.Fatal(err)
	}

	got, err := j.GetTrades(ctx, "2330.TW", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Reason != "volume_fade" || got[0].EntryDate != "2025-04-02" {
		t.Fatalf("trades = %+v", got)
	}
	if all, _ := j.GetTrades(ctx, "", 10); len(all) != 1 {
		t.Errorf("all-symbol query returned %d", len(all))
	}
	if other, _ := j.GetTrades(ctx, "2603.TW", 10); len(other) != 0 {
		t.Errorf("other symbol returned %d", len(other))
	}
}
