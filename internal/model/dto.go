package model

import (
	"math"
	"time"
)

// SignalDTO is the JSON wire form of a SignalResult published to
// subscribers. Undefined indicator values are encoded as null.
type SignalDTO struct {
	Symbol      string    `json:"symbol"`
	Date        string    `json:"date"`
	Close       *float64  `json:"close"`
	EMA         *float64  `json:"ema"`
	K           *float64  `json:"k"`
	D           *float64  `json:"d"`
	ADX         *float64  `json:"adx"`
	MACDHist    *float64  `json:"macd_hist"`
	InitialStop *float64  `json:"initial_stop"`
	TrailEMA    *float64  `json:"trail_ema"`
	InstSum     *float64  `json:"inst_sum"`
	Score       *float64  `json:"score"`
	EntryPass   bool      `json:"entry_pass"`
	ExitReasons []string  `json:"exit_reasons"`
	TS          time.Time `json:"ts"`
}

// NewSignalDTO converts r, stamping it with ts.
func NewSignalDTO(r SignalResult, ts time.Time) SignalDTO {
	reasons := make([]string, len(r.ExitReasons))
	for i, x := range r.ExitReasons {
		reasons[i] = string(x)
	}
	s := r.Snapshot
	return SignalDTO{
		Symbol:      r.Symbol,
		Date:        DayKey(r.Date),
		Close:       nullable(s.Close),
		EMA:         nullable(s.EMA),
		K:           nullable(s.K),
		D:           nullable(s.D),
		ADX:         nullable(s.ADX),
		MACDHist:    nullable(s.MACDHist),
		InitialStop: nullable(s.InitialStop),
		TrailEMA:    nullable(s.TrailEMA),
		InstSum:     nullable(s.InstSum),
		Score:       nullable(r.Score),
		EntryPass:   r.EntryPass,
		ExitReasons: reasons,
		TS:          ts.UTC(),
	}
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
