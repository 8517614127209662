package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"twstock-screener/internal/markethours"
	"twstock-screener/internal/model"
)

// BarSource fetches daily bars for one symbol over an inclusive date range.
type BarSource interface {
	Name() string
	FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error)
}

// YahooBaseURL is the public chart API host.
const YahooBaseURL = "https://query1.finance.yahoo.com"

// YahooSource reads daily bars from the Yahoo chart API.
type YahooSource struct {
	client  *Client
	BaseURL string
}

// NewYahooSource returns a source using the public chart API.
func NewYahooSource(c *Client) *YahooSource {
	return &YahooSource{client: c, BaseURL: YahooBaseURL}
}

func (y *YahooSource) Name() string { return "yahoo" }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchBars returns unadjusted daily bars with Date in [from, to]. Rows
// with any missing field are dropped.
func (y *YahooSource) FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("period1", fmt.Sprint(model.Day(from).Unix()))
	q.Set("period2", fmt.Sprint(model.Day(to).AddDate(0, 0, 1).Unix()))
	q.Set("interval", "1d")
	q.Set("events", "history")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s",
		strings.TrimSuffix(y.BaseURL, "/"), url.PathEscape(symbol), q.Encode())

	var payload yahooChart
	if err := y.client.GetJSON(ctx, u, &payload); err != nil {
		return nil, err
	}
	if e := payload.Chart.Error; e != nil {
		return nil, fmt.Errorf("yahoo: %s: %s", e.Code, e.Description)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, ErrNoData
	}
	res := payload.Chart.Result[0]
	quote := res.Indicators.Quote[0]

	lo, hi := model.Day(from), model.Day(to)
	var bars []model.Bar
	for i, ts := range res.Timestamp {
		o, h, l, c, v := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i), at(quote.Volume, i)
		if o == nil || h == nil || l == nil || c == nil || v == nil {
			continue
		}
		day := markethours.Day(time.Unix(ts, 0))
		if day.Before(lo) || day.After(hi) {
			continue
		}
		bars = append(bars, model.Bar{Date: day, Open: *o, High: *h, Low: *l, Close: *c, Volume: *v})
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return bars, nil
}

func at(xs []*float64, i int) *float64 {
	if i < len(xs) {
		return xs[i]
	}
	return nil
}
