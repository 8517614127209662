// Package sqlite is the local price cache, institutional flow table and
// signal history.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"twstock-screener/internal/model"
)

const dateLayout = "2006-01-02"

// Store wraps a single-writer SQLite database.
type Store struct {
	db      *sql.DB
	observe func(time.Duration)
}

// OnWrite registers a callback that receives the duration of every
// committed write transaction.
func (s *Store) OnWrite(fn func(time.Duration)) { s.observe = fn }

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (or creates) the database with WAL mode and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL,
			PRIMARY KEY (symbol, date)
		);

		CREATE TABLE IF NOT EXISTS inst_flow (
			date     TEXT NOT NULL,
			code     TEXT NOT NULL,
			net_inst REAL NOT NULL,
			PRIMARY KEY (code, date)
		);
		CREATE INDEX IF NOT EXISTS idx_inst_flow_date ON inst_flow(date);

		CREATE TABLE IF NOT EXISTS signals (
			run_id       TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			date         TEXT NOT NULL,
			close        REAL,
			ema          REAL,
			k            REAL,
			d            REAL,
			adx          REAL,
			macd_hist    REAL,
			inst_sum     REAL,
			score        REAL,
			entry_pass   INTEGER NOT NULL,
			exit_reasons TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			PRIMARY KEY (run_id, symbol)
		);
		CREATE INDEX IF NOT EXISTS idx_signals_symbol_date ON signals(symbol, date);
	`)
	return err
}

// ── Bars ──

// UpsertBars inserts or replaces bars for symbol in one transaction.
func (s *Store) UpsertBars(ctx context.Context, symbol string, bars []model.Bar) error {
	return s.inTx(ctx, `
		INSERT OR REPLACE INTO bars (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, len(bars), func(stmt *sql.Stmt, i int) error {
		b := bars[i]
		_, err := stmt.ExecContext(ctx, symbol, model.DayKey(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume)
		return err
	})
}

// ReadBars returns bars for symbol with Date >= from, ascending.
func (s *Store) ReadBars(ctx context.Context, symbol string, from time.Time) ([]model.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND date >= ?
		ORDER BY date ASC
	`, symbol, model.DayKey(from))
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var date string
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		if b.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("sqlite bad bar date %q: %w", date, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LastBarDate returns the latest cached date for symbol, or zero time.
func (s *Store) LastBarDate(ctx context.Context, symbol string) (time.Time, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM bars WHERE symbol = ?`, symbol).Scan(&date)
	if err != nil || !date.Valid {
		return time.Time{}, err
	}
	return time.Parse(dateLayout, date.String)
}

// ── Institutional flow ──

// UpsertFlows inserts or replaces flow records in one transaction.
func (s *Store) UpsertFlows(ctx context.Context, records []model.FlowRecord) error {
	return s.inTx(ctx, `
		INSERT OR REPLACE INTO inst_flow (date, code, net_inst) VALUES (?, ?, ?)
	`, len(records), func(stmt *sql.Stmt, i int) error {
		r := records[i]
		_, err := stmt.ExecContext(ctx, model.DayKey(r.Date), r.Code, r.NetLots)
		return err
	})
}

// ReadFlows returns every record dated on or after from.
func (s *Store) ReadFlows(ctx context.Context, from time.Time) ([]model.FlowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, code, net_inst FROM inst_flow WHERE date >= ? ORDER BY code, date
	`, model.DayKey(from))
	if err != nil {
		return nil, fmt.Errorf("sqlite query inst_flow: %w", err)
	}
	defer rows.Close()

	var out []model.FlowRecord
	for rows.Next() {
		var r model.FlowRecord
		var date string
		if err := rows.Scan(&date, &r.Code, &r.NetLots); err != nil {
			return nil, fmt.Errorf("sqlite scan inst_flow: %w", err)
		}
		if r.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("sqlite bad flow date %q: %w", date, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FlowDays returns the set of days that have at least one flow record.
func (s *Store) FlowDays(ctx context.Context) (map[time.Time]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT date FROM inst_flow`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query flow days: %w", err)
	}
	defer rows.Close()

	days := make(map[time.Time]bool)
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, err
		}
		if d, err := time.Parse(dateLayout, date); err == nil {
			days[d] = true
		}
	}
	return days, rows.Err()
}

// inTx prepares query once and runs exec for i in [0, n) in a single
// transaction.
func (s *Store) inTx(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if s.observe != nil {
		s.observe(time.Since(start))
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullFloat maps NaN and ±Inf to SQL NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
