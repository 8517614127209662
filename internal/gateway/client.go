package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed symbols; empty means every symbol.
	subMu sync.RWMutex
	subs  map[string]bool
}

// ClientMsg is a control message sent by a client:
//
//	{"type":"SUBSCRIBE","symbols":["2330.TW"]}
//	{"type":"UNSUBSCRIBE","symbols":["2330.TW"]}
//	{"ping":1700000000000}
type ClientMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Ping    int64    `json:"ping"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}
}

func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for symbol, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		select {
		case c.send <- envelope(symbol, entry.Data, entry.TS, c.hub.seq, entry.Seq, true):
		default:
		}
	}
}

// wants reports whether symbol passes the client's subscription filter.
func (c *Client) wants(symbol string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs) == 0 || c.subs[symbol]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: queued messages share one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg ClientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg ClientMsg) {
	switch strings.ToUpper(msg.Type) {
	case "SUBSCRIBE":
		c.subMu.Lock()
		for _, s := range msg.Symbols {
			c.subs[strings.ToUpper(strings.TrimSpace(s))] = true
		}
		c.subMu.Unlock()
		c.replayLatest(msg.Symbols)
	case "UNSUBSCRIBE":
		c.subMu.Lock()
		for _, s := range msg.Symbols {
			delete(c.subs, strings.ToUpper(strings.TrimSpace(s)))
		}
		c.subMu.Unlock()
	default:
		if msg.Ping > 0 {
			pong, _ := json.Marshal(map[string]any{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

// replayLatest sends the cached signal of each newly subscribed symbol.
func (c *Client) replayLatest(symbols []string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		entry, ok := c.hub.latest[s]
		if !ok {
			continue
		}
		select {
		case c.send <- envelope(s, entry.Data, entry.TS, c.hub.seq, entry.Seq, true):
		default:
		}
	}
}
