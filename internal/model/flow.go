package model

import (
	"sort"
	"strings"
	"time"
)

// FlowRecord is the net institutional trade for one stock on one day,
// expressed in board lots (1 lot = 1000 shares).
type FlowRecord struct {
	Date    time.Time `json:"date"`
	Code    string    `json:"code"`
	NetLots float64   `json:"net_inst"`
}

// FlowTable indexes institutional flow by stock root code and day.
type FlowTable map[string]map[time.Time]float64

// NewFlowTable builds a table from records. Later records for the same
// (code, day) overwrite earlier ones.
func NewFlowTable(records []FlowRecord) FlowTable {
	t := make(FlowTable)
	for _, r := range records {
		t.Add(r)
	}
	return t
}

// Add inserts or replaces one record.
func (t FlowTable) Add(r FlowRecord) {
	code := strings.TrimSpace(r.Code)
	days, ok := t[code]
	if !ok {
		days = make(map[time.Time]float64)
		t[code] = days
	}
	days[Day(r.Date)] = r.NetLots
}

// Align reindexes the flow for code onto dates, treating missing days as
// zero. It returns nil when the table has no rows for code at all.
func (t FlowTable) Align(code string, dates []time.Time) []float64 {
	days, ok := t[code]
	if !ok || len(days) == 0 {
		return nil
	}
	out := make([]float64, len(dates))
	for i, d := range dates {
		out[i] = days[Day(d)]
	}
	return out
}

// Records flattens the table ordered by date, then code.
func (t FlowTable) Records() []FlowRecord {
	var out []FlowRecord
	for code, days := range t {
		for d, v := range days {
			out = append(out, FlowRecord{Date: d, Code: code, NetLots: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Code < out[j].Code
	})
	return out
}
