package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"twstock-screener/internal/model"
)

// TWSEBaseURL hosts the exchange's after-trading endpoints.
const TWSEBaseURL = "https://www.twse.com.tw"

// TWSESource reads daily bars month by month from the exchange's
// STOCK_DAY report. It only serves ".TW" symbols.
type TWSESource struct {
	client  *Client
	BaseURL string
}

// NewTWSESource returns a source using the public exchange host.
func NewTWSESource(c *Client) *TWSESource {
	return &TWSESource{client: c, BaseURL: TWSEBaseURL}
}

func (s *TWSESource) Name() string { return "twse" }

type stockDayResponse struct {
	Stat string     `json:"stat"`
	Data [][]string `json:"data"`
}

// FetchBars walks every month touching [from, to]. A month that fails is
// logged and skipped.
func (s *TWSESource) FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	if IsTPEx(symbol) {
		return nil, ErrNoData
	}
	code := Root(symbol)
	if code == "" {
		return nil, fmt.Errorf("twse: bad symbol %q", symbol)
	}
	lo, hi := model.Day(from), model.Day(to)

	var bars []model.Bar
	for m := time.Date(lo.Year(), lo.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(hi); m = m.AddDate(0, 1, 0) {
		u := fmt.Sprintf("%s/rwd/zh/afterTrading/STOCK_DAY?date=%s&stockNo=%s&response=json",
			strings.TrimSuffix(s.BaseURL, "/"), m.Format("20060102"), code)
		var payload stockDayResponse
		if err := s.client.GetJSON(ctx, u, &payload); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			log.Printf("[twse] %s %s: %v", code, m.Format("2006-01"), err)
			continue
		}
		for _, row := range payload.Data {
			b, ok := parseStockDayRow(row)
			if !ok || b.Date.Before(lo) || b.Date.After(hi) {
				continue
			}
			bars = append(bars, b)
		}
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return bars, nil
}

// parseStockDayRow reads [date, shares, turnover, open, high, low, close,
// change, transactions]. Dates are in the ROC calendar ("113/01/02").
func parseStockDayRow(row []string) (model.Bar, bool) {
	if len(row) < 7 {
		return model.Bar{}, false
	}
	date, err := ParseROCDate(row[0])
	if err != nil {
		return model.Bar{}, false
	}
	vol, ok1 := parseNumber(row[1])
	o, ok2 := parseNumber(row[3])
	h, ok3 := parseNumber(row[4])
	l, ok4 := parseNumber(row[5])
	c, ok5 := parseNumber(row[6])
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return model.Bar{}, false
	}
	return model.Bar{Date: date, Open: o, High: h, Low: l, Close: c, Volume: vol}, true
}

// ParseROCDate parses "yyy/mm/dd" with a Minguo year (1911 offset).
func ParseROCDate(s string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("twse: bad ROC date %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("twse: bad ROC date %q", s)
		}
		nums[i] = n
	}
	return time.Date(nums[0]+1911, time.Month(nums[1]), nums[2], 0, 0, 0, 0, time.UTC), nil
}

// parseNumber strips thousands separators. Placeholders such as "--"
// fail.
func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}
