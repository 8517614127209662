package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"twstock-screener/internal/model"
)

// Journal persists backtest ledgers and summaries to SQLite for later
// analysis. It implements model.TradeJournal.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

var _ model.TradeJournal = (*Journal)(nil)

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS backtest_runs (
		run_id          TEXT PRIMARY KEY,
		symbol          TEXT NOT NULL,
		start_date      TEXT NOT NULL,
		end_date        TEXT NOT NULL,
		initial_capital REAL NOT NULL,
		final_equity    REAL NOT NULL,
		total_return    REAL NOT NULL,
		cagr            REAL,
		trades          INTEGER NOT NULL,
		win_rate        REAL,
		avg_win         REAL,
		avg_loss        REAL,
		max_drawdown    REAL,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS backtest_trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		entry_date  TEXT NOT NULL,
		exit_date   TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		qty         INTEGER NOT NULL,
		gross_pnl   REAL NOT NULL,
		fee         REAL NOT NULL,
		net_pnl     REAL NOT NULL,
		ret         REAL NOT NULL,
		reason      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_bt_trades_run ON backtest_trades(run_id);
	CREATE INDEX IF NOT EXISTS idx_bt_runs_symbol ON backtest_runs(symbol);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordRun persists a run summary and its trades in one transaction.
// Recording the same run ID again replaces it.
func (j *Journal) RecordRun(ctx context.Context, runID string, s model.BacktestSummary, trades []model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM backtest_trades WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("journal: clear trades: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs
			(run_id, symbol, start_date, end_date, initial_capital, final_equity, total_return,
			 cagr, trades, win_rate, avg_win, avg_loss, max_drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, s.Symbol, model.DayKey(s.Start), model.DayKey(s.End), s.InitialCapital,
		s.FinalEquity, s.TotalReturn, s.CAGR, s.Trades, s.WinRate, s.AvgWin, s.AvgLoss, s.MaxDrawdown)
	if err != nil {
		return fmt.Errorf("journal: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades
			(run_id, symbol, entry_date, exit_date, entry_price, exit_price, qty,
			 gross_pnl, fee, net_pnl, ret, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("journal: prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, runID, t.Symbol, model.DayKey(t.EntryDate), model.DayKey(t.ExitDate),
			t.EntryPrice, t.ExitPrice, t.Quantity, t.GrossPnL, t.Fee, t.NetPnL, t.Return, t.Reason); err != nil {
			return fmt.Errorf("journal: insert trade: %w", err)
		}
	}
	return tx.Commit()
}

// TradeRecord is one journaled trade row.
type TradeRecord struct {
	ID        int64   `json:"id"`
	RunID     string  `json:"run_id"`
	Symbol    string  `json:"symbol"`
	EntryDate string  `json:"entry_date"`
	ExitDate  string  `json:"exit_date"`
	Qty       int64   `json:"qty"`
	NetPnL    float64 `json:"net_pnl"`
	Return    float64 `json:"return"`
	Reason    string  `json:"reason"`
}

// GetTrades returns the last N journaled trades for symbol (all symbols
// when empty), newest first.
func (j *Journal) GetTrades(ctx context.Context, symbol string, limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, run_id, symbol, entry_date, exit_date, qty, net_pnl, ret, reason
		FROM backtest_trades
		WHERE ? = '' OR symbol = ?
		ORDER BY id DESC LIMIT ?`, symbol, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var reason sql.NullString
		if err := rows.Scan(&t.ID, &t.RunID, &t.Symbol, &t.EntryDate, &t.ExitDate,
			&t.Qty, &t.NetPnL, &t.Return, &reason); err != nil {
			return nil, err
		}
		t.Reason = reason.String
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
