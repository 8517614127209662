package markethours

import (
	"sync"
	"time"
)

// Fixed-date national holidays on which TWSE and TPEx are closed every year.
// Lunar holidays (Lunar New Year, Dragon Boat, Mid-Autumn) and make-up days
// move each year and are supplied through SetHolidays.
var fixedHolidays = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},   // Founding Day
	{time.February, 28}, // Peace Memorial Day
	{time.April, 4},     // Children's Day
	{time.May, 1},       // Labor Day
	{time.October, 10},  // National Day
}

var (
	holidayMu  sync.RWMutex
	holidaySet = map[string]bool{}
)

// SetHolidays replaces the configured (non-fixed) holiday set.
func SetHolidays(days []time.Time) {
	set := make(map[string]bool, len(days))
	for _, d := range days {
		set[dateKey(d.Year(), d.Month(), d.Day())] = true
	}
	holidayMu.Lock()
	holidaySet = set
	holidayMu.Unlock()
}

// IsHoliday returns true if the date (in Taipei time) is a market holiday.
func IsHoliday(t time.Time) bool {
	tw := t.In(TST)
	for _, h := range fixedHolidays {
		if tw.Month() == h.month && tw.Day() == h.day {
			return true
		}
	}
	holidayMu.RLock()
	defer holidayMu.RUnlock()
	return holidaySet[dateKey(tw.Year(), tw.Month(), tw.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}
