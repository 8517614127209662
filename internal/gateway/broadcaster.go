package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

// replayDepth is the number of envelopes kept per symbol.
const replayDepth = 500

// Broadcaster constructs envelope JSON and sends filtered messages to clients.
type Broadcaster struct {
	hub *Hub
	now func() time.Time
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub, now: time.Now}
}

// Broadcast caches data as the latest signal for symbol and sends it to
// every client subscribed to symbol. The envelope is hand-built around the
// raw payload:
//
//	{"type":"signal","symbol":"2330.TW","data":{...},"ts":"...","seq":9,"symbol_seq":2}
func (b *Broadcaster) Broadcast(symbol string, data []byte) {
	now := b.now().UTC()

	if srcTS := extractTS(data); !srcTS.IsZero() {
		if ms := float64(now.Sub(srcTS).Microseconds()) / 1000.0; ms >= 0 {
			b.hub.Latency.Record(ms)
		}
	}
	if b.hub.Metrics != nil {
		b.hub.Metrics.SignalsRelayed.Inc()
	}

	b.hub.mu.Lock()
	b.hub.symbolSeqs[symbol]++
	symbolSeq := b.hub.symbolSeqs[symbol]
	b.hub.latest[symbol] = latestEntry{Data: data, TS: now, Seq: symbolSeq}
	b.hub.seq++
	seq := b.hub.seq
	rb, exists := b.hub.replayBufs[symbol]
	if !exists {
		rb = NewReplayBuffer(replayDepth)
		b.hub.replayBufs[symbol] = rb
	}
	b.hub.mu.Unlock()

	buf := envelope(symbol, data, now, seq, symbolSeq, false)
	rb.Push(symbolSeq, buf)

	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for client := range b.hub.clients {
		if !client.wants(symbol) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

func envelope(symbol string, data []byte, ts time.Time, seq, symbolSeq int64, initial bool) []byte {
	buf := make([]byte, 0, len(symbol)+len(data)+160)
	buf = append(buf, `{"type":"signal","symbol":`...)
	buf = strconv.AppendQuote(buf, symbol)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"symbol_seq":`...)
	buf = strconv.AppendInt(buf, symbolSeq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}

// extractTS reads the payload's "ts" field, the publish time.
func extractTS(data []byte) time.Time {
	var partial struct {
		TS time.Time `json:"ts"`
	}
	if err := json.Unmarshal(data, &partial); err == nil && !partial.TS.IsZero() {
		return partial.TS
	}
	return time.Time{}
}
