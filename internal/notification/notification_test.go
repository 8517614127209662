package notification

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"twstock-screener/internal/model"
)

func sampleResult() model.SignalResult {
	return model.SignalResult{
		Symbol: "2330.TW",
		Date:   time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		Snapshot: model.Snapshot{
			Close: 612.5, EMA: 580.123, K: 55.5, D: 50.25, ADX: 36.789,
			MACD: 4.2, InitialStop: 590.1, InstSum: math.NaN(),
		},
		Score: 0.71234,
	}
}

// ────────────────────────────────────────────────────────────
// Cards
// ────────────────────────────────────────────────────────────

func TestEntryCard(t *testing.T) {
	a := EntryCard(sampleResult(), 117)
	if a.Title != "進場訊號：2330.TW" || a.Symbol != "2330.TW" {
		t.Errorf("title = %q", a.Title)
	}
	for _, want := range []string{
		"📅 日期：2025-03-03",
		"💰 收盤：612.50",
		"📈 EMA117：580.12",
		"🔍 KD：K=55.50，D=50.25",
		"📊 ADX：36.79",
		"🏦 法人4週買超：資料不足",
		"⭐ 綜合評分：0.712",
	} {
		if !strings.Contains(a.Message, want) {
			t.Errorf("entry card missing %q:\n%s", want, a.Message)
		}
	}

	r := sampleResult()
	r.Snapshot.InstSum = 1234.4
	if a := EntryCard(r, 117); !strings.Contains(a.Message, "法人4週買超：1234 張") {
		t.Errorf("inst text: %s", a.Message)
	}
}

func TestExitCard(t *testing.T) {
	r := sampleResult()
	r.ExitReasons = []model.ExitReason{model.ExitVolumeFade, "custom_rule"}
	a := ExitCard(r)
	if a.Level != AlertWarning {
		t.Errorf("level = %s", a.Level)
	}
	for _, want := range []string{"📌 <b>出場原因：</b>", "• 成交量明顯縮小", "• custom_rule"} {
		if !strings.Contains(a.Message, want) {
			t.Errorf("exit card missing %q:\n%s", want, a.Message)
		}
	}
	r.ExitReasons = nil
	if a := ExitCard(r); !strings.Contains(a.Message, "未提供詳細原因") {
		t.Errorf("empty reasons: %s", a.Message)
	}
}

func TestFixed_Undefined(t *testing.T) {
	if got := Fixed(math.NaN(), 2); got != "N/A" {
		t.Errorf("Fixed(NaN) = %q", got)
	}
	if got := Fixed(1.005, 1); got != "1.0" {
		t.Errorf("Fixed(1.005, 1) = %q", got)
	}
}

// ────────────────────────────────────────────────────────────
// Transports
// ────────────────────────────────────────────────────────────

func TestTelegramNotifier_SendsHTML(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.APIBase = srv.URL
	if err := n.Send(context.Background(), ExitCard(sampleResult())); err != nil {
		t.Fatal(err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %s", path)
	}
	if got["parse_mode"] != "HTML" || got["chat_id"] != "42" || got["disable_web_page_preview"] != true {
		t.Errorf("payload = %v", got)
	}
	if text, _ := got["text"].(string); !strings.HasPrefix(text, "⚠️ <b>出場訊號：2330.TW</b>\n") {
		t.Errorf("text = %q", text)
	}
}

func TestTelegramNotifier_EscapesTitle(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()
	n := NewTelegramNotifier("T", "1")
	n.APIBase = srv.URL
	n.Send(context.Background(), Alert{Title: "a<b>&c"})
	if text, _ := got["text"].(string); !strings.Contains(text, "a&lt;b&gt;&amp;c") {
		t.Errorf("text = %q", text)
	}
}

func TestTelegramNotifier_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()
	n := NewTelegramNotifier("T", "1")
	n.APIBase = srv.URL
	err := n.Send(context.Background(), Alert{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("err = %v", err)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), EntryCard(sampleResult(), 117)); err != nil {
		t.Fatal(err)
	}
	if got["symbol"] != "2330.TW" || got["level"] != "INFO" {
		t.Errorf("payload = %v", got)
	}
	text, _ := got["text"].(string)
	if text == "" || strings.Contains(text, "<b>") {
		t.Errorf("text = %q", text)
	}
}

func TestPlainText(t *testing.T) {
	cases := []struct{ in, want string }{
		{"<b>台積電</b> 2330", "台積電 2330"},
		{"收盤 <i>600.00</i>\n分數 0.85", "收盤 600.00\n分數 0.85"},
		{"no markup", "no markup"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := plainText(tc.in); got != tc.want {
			t.Errorf("plainText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

type failing struct{ err error }

func (f failing) Send(context.Context, Alert) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	errA := errors.New("a")
	m := Multi{NewLogNotifier(), failing{errA}, failing{nil}}
	if err := m.Send(context.Background(), Alert{}); !errors.Is(err, errA) {
		t.Errorf("err = %v", err)
	}
	if err := (Multi{NewLogNotifier()}).Send(context.Background(), Alert{}); err != nil {
		t.Errorf("err = %v", err)
	}
}
