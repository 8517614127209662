package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"twstock-screener/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

var _ model.SignalStore = (*Store)(nil)

// SaveSignals records one run's evaluation results in a single transaction.
func (s *Store) SaveSignals(ctx context.Context, runID string, results []model.SignalResult) error {
	return s.inTx(ctx, `
		INSERT OR REPLACE INTO signals
			(run_id, symbol, date, close, ema, k, d, adx, macd_hist, inst_sum, score, entry_pass, exit_reasons)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, len(results), func(stmt *sql.Stmt, i int) error {
		r := results[i]
		sn := r.Snapshot
		_, err := stmt.ExecContext(ctx, runID, r.Symbol, model.DayKey(r.Date),
			nullFloat(sn.Close), nullFloat(sn.EMA), nullFloat(sn.K), nullFloat(sn.D),
			nullFloat(sn.ADX), nullFloat(sn.MACDHist), nullFloat(sn.InstSum),
			nullFloat(r.Score), r.EntryPass, model.JoinReasons(r.ExitReasons))
		return err
	})
}

// RunSignals drains ch into the signals table in batched transactions,
// flushing every batch or every flush delay, whichever comes first. It
// returns when ch is closed or ctx is cancelled, after a final flush.
func (s *Store) RunSignals(ctx context.Context, runID string, ch <-chan model.SignalResult) {
	batch := make([]model.SignalResult, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Detached so the final flush survives a cancelled run context.
		if err := s.SaveSignals(context.Background(), runID, batch); err != nil {
			log.Printf("[sqlite] signal batch insert error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case r, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// LatestSignals returns the most recent stored result per symbol, up to
// limit rows, newest date first.
func (s *Store) LatestSignals(ctx context.Context, limit int) ([]model.SignalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.symbol, s.date, s.close, s.ema, s.k, s.d, s.adx, s.macd_hist, s.inst_sum,
		       s.score, s.entry_pass, s.exit_reasons
		FROM signals s
		JOIN (SELECT symbol, MAX(created_at) AS ts FROM signals GROUP BY symbol) latest
		  ON latest.symbol = s.symbol AND latest.ts = s.created_at
		ORDER BY s.date DESC, s.score DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []model.SignalResult
	seen := map[string]bool{}
	for rows.Next() {
		var (
			r                                   model.SignalResult
			date, reasons                       string
			cl, ema, k, d, adx, hist, inst, scr sql.NullFloat64
		)
		if err := rows.Scan(&r.Symbol, &date, &cl, &ema, &k, &d, &adx, &hist, &inst, &scr, &r.EntryPass, &reasons); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		if seen[r.Symbol] {
			continue
		}
		seen[r.Symbol] = true
		r.Date, _ = time.Parse(dateLayout, date)
		r.Snapshot = model.Snapshot{
			Close: fromNull(cl), EMA: fromNull(ema), K: fromNull(k), D: fromNull(d),
			ADX: fromNull(adx), MACDHist: fromNull(hist), InstSum: fromNull(inst),
		}
		r.Score = fromNull(scr)
		for _, x := range strings.Split(reasons, ";") {
			if x != "" {
				r.ExitReasons = append(r.ExitReasons, model.ExitReason(x))
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
