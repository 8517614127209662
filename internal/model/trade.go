package model

import "time"

// Position is an open long holding inside a backtest.
type Position struct {
	EntryDate  time.Time
	EntryPrice float64
	Quantity   int64
}

// Trade is a closed round trip. EntryPrice and ExitPrice already include
// slippage; Fee is the commission charged on the exit leg.
type Trade struct {
	Symbol     string    `json:"symbol"`
	EntryDate  time.Time `json:"entry_date"`
	ExitDate   time.Time `json:"exit_date"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   int64     `json:"qty"`
	GrossPnL   float64   `json:"gross_pnl"`
	Fee        float64   `json:"fee"`
	NetPnL     float64   `json:"pnl"`
	Return     float64   `json:"ret"`
	Reason     string    `json:"reason"` // ";"-joined exit reason codes
}

// EquityPoint is one sample of the running account value.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// BacktestSummary aggregates a trade ledger and equity curve.
type BacktestSummary struct {
	Symbol         string    `json:"symbol"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	TotalReturn    float64   `json:"total_return"`
	CAGR           float64   `json:"cagr"`
	Trades         int       `json:"trades"`
	WinRate        float64   `json:"win_rate"`
	AvgWin         float64   `json:"avg_win"`
	AvgLoss        float64   `json:"avg_loss"`
	MaxDrawdown    float64   `json:"max_drawdown"`
}
