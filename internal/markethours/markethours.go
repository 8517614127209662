// Package markethours is the Taiwan exchange calendar: session hours,
// weekends and holidays.
package markethours

import (
	"fmt"
	"time"
)

// TST is Taipei Standard Time (UTC+8, no daylight saving).
var TST = time.FixedZone("TST", 8*3600)

// Market hours in Taipei time
const (
	OpenHour    = 9
	OpenMinute  = 0
	CloseHour   = 13
	CloseMinute = 30
)

// maxScanDays bounds calendar walks; no closure in Taiwan lasts this long.
const maxScanDays = 30

// IsMarketOpen returns true if t falls within the regular session
// (09:00 – 13:30 TST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	tw := t.In(TST)
	if !IsTradingDay(tw) {
		return false
	}
	hm := tw.Hour()*60 + tw.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(TST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	tw := t.In(TST)
	return IsWeekday(tw) && !IsHoliday(tw)
}

// Day returns the Taipei calendar day of t as a UTC-midnight time, the
// form bar dates are stored in.
func Day(t time.Time) time.Time {
	tw := t.In(TST)
	return time.Date(tw.Year(), tw.Month(), tw.Day(), 0, 0, 0, 0, time.UTC)
}

// PrevTradingDays returns up to n trading days ending at t's Taipei day
// (inclusive), oldest first.
func PrevTradingDays(t time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	d := Day(t)
	// Weekends alone cost 2 of every 7 days.
	for i := 0; len(out) < n && i < n*2+maxScanDays; i++ {
		if IsTradingDay(d.Add(12 * time.Hour)) {
			out = append(out, d)
		}
		d = d.AddDate(0, 0, -1)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// LastTradingDay returns the most recent trading day whose session has
// closed as of t.
func LastTradingDay(t time.Time) time.Time {
	tw := t.In(TST)
	if IsTradingDay(tw) && !tw.Before(TodayClose(tw)) {
		return Day(tw)
	}
	d := Day(tw).AddDate(0, 0, -1)
	for i := 0; i < maxScanDays; i++ {
		if IsTradingDay(d.Add(12 * time.Hour)) {
			return d
		}
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// NextOpen returns the next market open time (09:00 TST on the next trading day).
// If t is before today's open on a trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	tw := t.In(TST)

	todayOpen := time.Date(tw.Year(), tw.Month(), tw.Day(), OpenHour, OpenMinute, 0, 0, TST)
	if tw.Before(todayOpen) && IsTradingDay(tw) {
		return todayOpen
	}

	d := tw.AddDate(0, 0, 1)
	for i := 0; i < maxScanDays; i++ {
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, TST)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(tw.Year(), tw.Month(), tw.Day()+1, OpenHour, OpenMinute, 0, 0, TST)
}

// TodayClose returns today's market close time (13:30 TST).
func TodayClose(t time.Time) time.Time {
	tw := t.In(TST)
	return time.Date(tw.Year(), tw.Month(), tw.Day(), CloseHour, CloseMinute, 0, 0, TST)
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open (closes in %s)", fmtDur(TodayClose(t).Sub(t)))
	}
	next := NextOpen(t)
	tw := next.In(TST)
	return fmt.Sprintf("Market Closed (opens %s %s, in %s)",
		tw.Weekday().String()[:3], tw.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
