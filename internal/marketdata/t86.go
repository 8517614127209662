package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"twstock-screener/internal/markethours"
	"twstock-screener/internal/model"
)

// FlowSource reads the exchange's daily three-institution (T86) report.
type FlowSource struct {
	client  *Client
	BaseURL string
}

// NewFlowSource returns a source using the public exchange host.
func NewFlowSource(c *Client) *FlowSource {
	return &FlowSource{client: c, BaseURL: TWSEBaseURL}
}

type t86Response struct {
	Stat string  `json:"stat"`
	Data [][]any `json:"data"`
}

// FetchDay returns the net institutional trade of every stock on day, in
// lots. The report's last column is the net share count. A day without
// data (holiday, not yet published) yields ErrNoData.
func (f *FlowSource) FetchDay(ctx context.Context, day time.Time) ([]model.FlowRecord, error) {
	day = model.Day(day)
	u := fmt.Sprintf("%s/rwd/zh/fund/T86?date=%s&selectType=ALL&response=json",
		strings.TrimSuffix(f.BaseURL, "/"), day.Format("20060102"))
	var payload t86Response
	if err := f.client.GetJSON(ctx, u, &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, ErrNoData
	}
	out := make([]model.FlowRecord, 0, len(payload.Data))
	for _, row := range payload.Data {
		if len(row) < 2 {
			continue
		}
		code := strings.TrimSpace(fmt.Sprint(row[0]))
		if code == "" || code[0] < '0' || code[0] > '9' {
			continue
		}
		net := strings.ReplaceAll(strings.TrimSpace(fmt.Sprint(row[len(row)-1])), ",", "")
		shares, err := strconv.ParseInt(net, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, model.FlowRecord{Date: day, Code: code, NetLots: float64(shares) / 1000})
	}
	return out, nil
}

// FetchRange fetches every trading day in [from, to], skipping days in
// skip. Failed days are logged and left out.
func (f *FlowSource) FetchRange(ctx context.Context, from, to time.Time, skip map[time.Time]bool) ([]model.FlowRecord, error) {
	var all []model.FlowRecord
	for d := model.Day(from); !d.After(model.Day(to)); d = d.AddDate(0, 0, 1) {
		if !markethours.IsTradingDay(d.Add(12*time.Hour)) || skip[d] {
			continue
		}
		recs, err := f.FetchDay(ctx, d)
		switch {
		case err == nil:
			log.Printf("[t86] %s: %d rows", model.DayKey(d), len(recs))
			all = append(all, recs...)
		case errors.Is(err, ErrNoData):
			log.Printf("[t86] %s: no data", model.DayKey(d))
		case ctx.Err() != nil:
			return all, ctx.Err()
		default:
			log.Printf("[t86] %s: %v", model.DayKey(d), err)
		}
	}
	return all, nil
}
