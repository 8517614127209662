// Package gateway relays published screening signals to WebSocket clients
// and serves the latest signal per symbol over REST.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"twstock-screener/internal/markethours"
	"twstock-screener/internal/metrics"
)

// Hub manages WebSocket clients and signal fan-out.
// It acts as a compositor, delegating to focused components:
//   - PubSubRouter: Redis subscription + message routing
//   - Broadcaster: envelope construction + client-filtered fan-out
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry // by symbol
	seq     int64

	// Per-symbol monotonic sequence numbers for gap detection
	symbolSeqs map[string]int64

	// Per-symbol replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer

	// Publish-to-push latency
	Latency *LatencyTracker

	// Optional Prometheus metrics
	Metrics *metrics.Metrics

	Router      *PubSubRouter
	Broadcaster *Broadcaster
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a Hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		latest:     make(map[string]latestEntry),
		symbolSeqs: make(map[string]int64),
		replayBufs: make(map[string]*ReplayBuffer),
		Latency:    NewLatencyTracker(10000),
		Metrics:    m,
	}
	h.Router = NewPubSubRouter(h)
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Register attaches an upgraded connection. Signals newer than lastTS (or
// all latest signals when lastTS is empty) are replayed first.
func (h *Hub) Register(conn *websocket.Conn, lastTS string) *Client {
	client := newClient(h, conn)
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.observeClients(count)

	log.Printf("[gateway] ws client connected (%d total)", count)

	client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
	return client
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	h.observeClients(count)
}

func (h *Hub) observeClients(n int) {
	if h.Metrics != nil {
		h.Metrics.WSClients.Set(float64(n))
	}
}

// LatestAll returns the latest signal payload of every symbol.
func (h *Hub) LatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// Symbols returns the symbols with a cached signal, sorted.
func (h *Hub) Symbols() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.latest))
	for k := range h.latest {
		out = append(out, k)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ReplayRange returns buffered envelopes for symbol in [fromSeq, toSeq].
// Used by the /api/signals/missed endpoint for client gap backfill.
func (h *Hub) ReplayRange(symbol string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[symbol]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// SymbolSeq returns the current sequence number for symbol.
func (h *Hub) SymbolSeq(symbol string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.symbolSeqs[symbol]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Status is the periodic market and process status pushed to clients.
type Status struct {
	Type         string  `json:"type"`
	MarketOpen   bool    `json:"marketOpen"`
	MarketStatus string  `json:"marketStatus"`
	Clients      int     `json:"clients"`
	Symbols      int     `json:"symbols"`
	Goroutines   int     `json:"goroutines"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	UptimeSec    int64   `json:"uptime_sec"`
	LatencyP50   float64 `json:"latency_p50_ms"`
	LatencyP95   float64 `json:"latency_p95_ms"`
	LatencyP99   float64 `json:"latency_p99_ms"`
	TS           string  `json:"ts"`
}

// CollectStatus snapshots the hub and process state at now.
func (h *Hub) CollectStatus(start, now time.Time) Status {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h.mu.RLock()
	clients, symbols := len(h.clients), len(h.latest)
	h.mu.RUnlock()

	s := Status{
		Type:         "status",
		MarketOpen:   markethours.IsMarketOpen(now),
		MarketStatus: markethours.StatusString(now),
		Clients:      clients,
		Symbols:      symbols,
		Goroutines:   runtime.NumGoroutine(),
		HeapAllocMB:  float64(ms.HeapAlloc) / 1024 / 1024,
		UptimeSec:    int64(now.Sub(start).Seconds()),
		TS:           now.UTC().Format(time.RFC3339Nano),
	}
	s.LatencyP50, s.LatencyP95, s.LatencyP99 = h.Latency.Percentiles()
	return s
}

// StartStatusBroadcast sends a Status to all WS clients every interval.
func (h *Hub) StartStatusBroadcast(ctx context.Context, start time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			st := h.CollectStatus(start, now)
			if h.Metrics != nil {
				if st.MarketOpen {
					h.Metrics.MarketState.Set(1)
				} else {
					h.Metrics.MarketState.Set(0)
				}
			}
			envelope, _ := json.Marshal(st)
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- envelope:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
