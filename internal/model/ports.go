package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the screening pipeline from concrete storage
// (Redis, SQLite, memory). Tests substitute in-memory implementations.

// KVStore is a small set-oriented key-value store used for bookkeeping that
// outlives one run: the fetch blacklist, the valid-code list, the held list.
type KVStore interface {
	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set at key.
	SRem(ctx context.Context, key string, members ...string) error

	// SIsMember reports whether member is in the set at key.
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// SMembers returns every member of the set at key, in no particular order.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Close releases underlying resources.
	Close() error
}

// Well-known KVStore keys.
const (
	KeyBlacklist  = "screener:blacklist"
	KeyValidCodes = "screener:valid_codes"
	KeyHeld       = "screener:held"
)

// BarCache persists daily bars per symbol.
type BarCache interface {
	// ReadBars returns cached bars for symbol with Date >= from, ascending.
	ReadBars(ctx context.Context, symbol string, from time.Time) ([]Bar, error)

	// LastBarDate returns the most recent cached date, or zero time if none.
	LastBarDate(ctx context.Context, symbol string) (time.Time, error)

	// UpsertBars inserts or replaces bars for symbol.
	UpsertBars(ctx context.Context, symbol string, bars []Bar) error
}

// FlowStore persists institutional flow records.
type FlowStore interface {
	UpsertFlows(ctx context.Context, records []FlowRecord) error
	ReadFlows(ctx context.Context, from time.Time) ([]FlowRecord, error)
	FlowDays(ctx context.Context) (map[time.Time]bool, error)
}

// SignalStore records evaluation results for later inspection.
type SignalStore interface {
	SaveSignals(ctx context.Context, runID string, results []SignalResult) error
}

// TradeJournal records backtest trade ledgers and summaries.
type TradeJournal interface {
	RecordRun(ctx context.Context, runID string, summary BacktestSummary, trades []Trade) error
}
