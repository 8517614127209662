package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ────────────────────────────────────────────────────────────
// Listing
// ────────────────────────────────────────────────────────────

func TestListing_JSONWithHTMLFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/twse", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"公司代號":"2330"},{"公司代號":"2317"},{"公司代號":"ABC"},{"公司代號":"2330"}]`))
	})
	mux.HandleFunc("/tpex", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/isin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><table>
<tr><td>有價證券代號及名稱</td><td>ISIN</td></tr>
<tr><td>6488　環球晶</td><td>TW0006488000</td></tr>
<tr><td>00679B　元大美債20年</td><td>TW00000679B0</td></tr>
<tr><td>3105　穩懋</td><td>TW0003105003</td></tr>
</table></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	l := NewListing(fastClient())
	l.TWSEURL, l.TPExURL, l.TPExHTML = srv.URL+"/twse", srv.URL+"/tpex", srv.URL+"/isin"

	got, err := l.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	want := "2317.TW,2330.TW,3105.TWO,6488.TWO"
	if strings.Join(got, ",") != want {
		t.Errorf("got %v, want %s", got, want)
	}
}

func TestListing_TPExJSONField(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/twse", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/tpex", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"SecuritiesCompanyCode":"6488"},{"code":"3105"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	l := NewListing(fastClient())
	l.TWSEURL, l.TPExURL, l.TPExHTML = srv.URL+"/twse", srv.URL+"/tpex", srv.URL+"/none"

	got, err := l.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if strings.Join(got, ",") != "3105.TWO,6488.TWO" {
		t.Errorf("got %v", got)
	}
}

func TestListing_NothingAvailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	l := NewListing(fastClient())
	l.TWSEURL, l.TPExURL, l.TPExHTML = srv.URL, srv.URL, srv.URL
	if _, err := l.FetchAll(context.Background()); !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
}

// ────────────────────────────────────────────────────────────
// Yahoo
// ────────────────────────────────────────────────────────────

func TestYahoo_FetchBars(t *testing.T) {
	// 09:00 Taipei on 2024-03-14 and 2024-03-15.
	ts1 := time.Date(2024, 3, 14, 1, 0, 0, 0, time.UTC).Unix()
	ts2 := ts1 + 86400
	ts3 := ts2 + 3*86400
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/2330.TW" || r.URL.Query().Get("interval") != "1d" {
			t.Errorf("unexpected request %s", r.URL)
		}
		fmt.Fprintf(w, `{"chart":{"result":[{"timestamp":[%d,%d,%d],"indicators":{"quote":[{
"open":[100,101,null],"high":[102,103,104],"low":[99,100,101],
"close":[101,102,103],"volume":[5000,6000,7000]}]}}],"error":null}}`, ts1, ts2, ts3)
	}))
	defer srv.Close()

	y := NewYahooSource(fastClient())
	y.BaseURL = srv.URL
	bars, err := y.FetchBars(context.Background(), "2330.TW", day(2024, 3, 1), day(2024, 3, 31))
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2 (null row dropped)", len(bars))
	}
	if !bars[0].Date.Equal(day(2024, 3, 14)) || bars[1].Close != 102 || bars[1].Volume != 6000 {
		t.Errorf("bars = %+v", bars)
	}
}

func TestYahoo_ErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	defer srv.Close()

	y := NewYahooSource(fastClient())
	y.BaseURL = srv.URL
	_, err := y.FetchBars(context.Background(), "9999.TW", day(2024, 3, 1), day(2024, 3, 31))
	if err == nil || !strings.Contains(err.Error(), "delisted") {
		t.Errorf("err = %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// TWSE STOCK_DAY
// ────────────────────────────────────────────────────────────

func TestParseROCDate(t *testing.T) {
	d, err := ParseROCDate("113/03/15")
	if err != nil || !d.Equal(day(2024, 3, 15)) {
		t.Errorf("got %v, %v", d, err)
	}
	if _, err := ParseROCDate("2024-03-15"); err == nil {
		t.Error("expected error for Gregorian date")
	}
}

func TestTWSE_FetchBars(t *testing.T) {
	var mu sync.Mutex
	var months []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("stockNo") != "2330" {
			t.Errorf("stockNo = %s", q.Get("stockNo"))
		}
		mu.Lock()
		months = append(months, q.Get("date"))
		mu.Unlock()
		if q.Get("date") != "20240301" {
			w.Write([]byte(`{"stat":"OK","data":[]}`))
			return
		}
		w.Write([]byte(`{"stat":"OK","data":[
["113/02/29","1,000","0","90","91","89","90","0","1"],
["113/03/14","25,123,456","0","770.00","780.00","765.00","775.00","+5","1"],
["113/03/15","20,000,000","0","775.00","790.00","770.00","785.00","+10","1"],
["113/03/18","10","0","--","--","--","--","0","0"]]}`))
	}))
	defer srv.Close()

	s := NewTWSESource(fastClient())
	s.BaseURL = srv.URL
	bars, err := s.FetchBars(context.Background(), "2330.TW", day(2024, 3, 1), day(2024, 4, 2))
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars: %+v", len(bars), bars)
	}
	if bars[0].Volume != 25123456 || bars[1].Close != 785 {
		t.Errorf("bars = %+v", bars)
	}
	if len(months) != 2 {
		t.Errorf("months requested = %v, want March and April", months)
	}
}

func TestTWSE_SkipsTPEx(t *testing.T) {
	s := NewTWSESource(fastClient())
	s.BaseURL = "http://127.0.0.1:1"
	if _, err := s.FetchBars(context.Background(), "6488.TWO", day(2024, 3, 1), day(2024, 3, 2)); !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// T86 institutional flow
// ────────────────────────────────────────────────────────────

func TestFlow_FetchDayAndRange(t *testing.T) {
	var mu sync.Mutex
	requested := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		mu.Lock()
		requested[date]++
		mu.Unlock()
		w.Write([]byte(`{"stat":"OK","data":[
["2330","台積電","1,000","2,000","-1,234,000"],
["0050","元大台灣50","0","0",2500],
["合計","","0","0","0"]]}`))
	}))
	defer srv.Close()

	f := NewFlowSource(fastClient())
	f.BaseURL = srv.URL

	recs, err := f.FetchDay(context.Background(), day(2024, 3, 15))
	if err != nil {
		t.Fatalf("FetchDay: %v", err)
	}
	if len(recs) != 2 || recs[0].Code != "2330" || recs[0].NetLots != -1234 || recs[1].NetLots != 2.5 {
		t.Errorf("recs = %+v", recs)
	}

	// Thursday is already stored; the weekend is not a trading day.
	skip := map[time.Time]bool{day(2024, 3, 14): true}
	recs, err = f.FetchRange(context.Background(), day(2024, 3, 14), day(2024, 3, 17), skip)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("range recs = %d, want 2", len(recs))
	}
	mu.Lock()
	defer mu.Unlock()
	if requested["20240314"] != 0 || requested["20240315"] != 2 || requested["20240316"] != 0 {
		t.Errorf("requested = %v", requested)
	}
}

func TestFlow_EmptyDay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stat":"很抱歉，沒有符合條件的資料!"}`))
	}))
	defer srv.Close()

	f := NewFlowSource(fastClient())
	f.BaseURL = srv.URL
	if _, err := f.FetchDay(context.Background(), day(2024, 3, 15)); !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v", err)
	}
}
