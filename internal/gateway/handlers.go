package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"twstock-screener/internal/execution"
	"twstock-screener/internal/markethours"
	"twstock-screener/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SignalLister reads stored signal history (sqlite.Store).
type SignalLister interface {
	LatestSignals(ctx context.Context, limit int) ([]model.SignalResult, error)
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// RegisterRoutes registers all HTTP routes on mux. store may be nil.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, store SignalLister, processStart time.Time) {
	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		hub.Register(conn, r.URL.Query().Get("last_ts"))
	})

	// REST: latest signal per symbol, live cache first, stored history as fallback
	mux.HandleFunc("/api/signals", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 500
		if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 5000 {
			limit = l
		}
		passedOnly := q.Get("passed") == "1" || strings.EqualFold(q.Get("passed"), "true")

		signals := latestFromHub(hub)
		if len(signals) == 0 && store != nil {
			rows, err := store.LatestSignals(r.Context(), limit)
			if err != nil {
				log.Printf("[gateway] signal history: %v", err)
			}
			for _, row := range rows {
				signals = append(signals, model.NewSignalDTO(row, row.Date))
			}
		}

		out := make([]model.SignalDTO, 0, len(signals))
		for _, s := range signals {
			if passedOnly && !s.EntryPass {
				continue
			}
			out = append(out, s)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
		if len(out) > limit {
			out = out[:limit]
		}
		writeJSON(w, out)
	})

	// REST: buffered envelopes for gap backfill
	mux.HandleFunc("/api/signals/missed", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		symbol := strings.ToUpper(q.Get("symbol"))
		from, _ := strconv.ParseInt(q.Get("from"), 10, 64)
		to, err := strconv.ParseInt(q.Get("to"), 10, 64)
		if err != nil || to <= 0 {
			to = hub.SymbolSeq(symbol)
		}
		missed := hub.ReplayRange(symbol, from, to)
		out := make([]json.RawMessage, len(missed))
		for i, m := range missed {
			out[i] = m
		}
		writeJSON(w, out)
	})

	// REST: market session
	mux.HandleFunc("/api/market", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		writeJSON(w, map[string]any{
			"open":             markethours.IsMarketOpen(now),
			"status":           markethours.StatusString(now),
			"last_trading_day": model.DayKey(markethours.LastTradingDay(now)),
		})
	})

	// REST: hub and process status
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, hub.CollectStatus(processStart, time.Now()))
	})
}

func latestFromHub(hub *Hub) []model.SignalDTO {
	latest := hub.LatestAll()
	out := make([]model.SignalDTO, 0, len(latest))
	for symbol, raw := range latest {
		var dto model.SignalDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			log.Printf("[gateway] bad cached payload for %s: %v", symbol, err)
			continue
		}
		out = append(out, dto)
	}
	return out
}

// TradeLister reads journaled backtest trades (execution.Journal).
type TradeLister interface {
	GetTrades(ctx context.Context, symbol string, limit int) ([]execution.TradeRecord, error)
}

// RegisterTradeRoutes serves /api/trades?symbol=&limit= from the journal.
func RegisterTradeRoutes(mux *http.ServeMux, trades TradeLister) {
	mux.HandleFunc("/api/trades", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 100
		if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 5000 {
			limit = l
		}
		rows, err := trades.GetTrades(r.Context(), strings.ToUpper(q.Get("symbol")), limit)
		if err != nil {
			log.Printf("[gateway] trades: %v", err)
			http.Error(w, "journal unavailable", http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []execution.TradeRecord{}
		}
		writeJSON(w, rows)
	})
}
