package gateway

import (
	"sync"

	"twstock-screener/internal/ringbuf"
)

// replayEntry is one buffered signal envelope.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps one symbol's recent signal envelopes keyed by
// symbol_seq. Clients that notice a gap in symbol_seq fetch the missing
// range through /api/signals/missed. Safe for concurrent use.
type ReplayBuffer struct {
	mu   sync.RWMutex
	ring *ringbuf.Ring[replayEntry]
}

// NewReplayBuffer creates a buffer holding the last capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayDepth
	}
	return &ReplayBuffer{ring: ringbuf.New[replayEntry](capacity)}
}

// Push stores a copy of data under seq.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)
	rb.mu.Lock()
	rb.ring.Push(replayEntry{Seq: seq, Data: cp})
	rb.mu.Unlock()
}

// Range returns the held entries with fromSeq <= seq <= toSeq, in seq order.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	var out []replayEntry
	rb.ring.Do(func(e replayEntry) {
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	})
	return out
}

// Len returns the number of held envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.Len()
}
