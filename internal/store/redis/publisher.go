package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"twstock-screener/internal/model"
)

// SignalChannelPrefix prefixes per-symbol PubSub channels.
const SignalChannelPrefix = "signals:"

// SignalChannel returns the PubSub channel for symbol.
func SignalChannel(symbol string) string { return SignalChannelPrefix + symbol }

type pendingMsg struct {
	Channel string
	Payload []byte
}

// Publisher publishes signal results on Redis PubSub. While the breaker
// is open, messages are buffered (oldest dropped beyond maxBuf) and
// replayed once it closes.
type Publisher struct {
	publish func(ctx context.Context, channel string, payload []byte) error
	cb      *CircuitBreaker
	ctx     context.Context

	mu     sync.Mutex
	buffer []pendingMsg
	maxBuf int

	// OnBuffer, if set, is called for every buffered message.
	OnBuffer func()
}

// NewPublisher publishes through client. ctx bounds buffered replays.
func NewPublisher(ctx context.Context, client *goredis.Client, cb *CircuitBreaker, maxBuf int) *Publisher {
	return newPublisher(ctx, func(ctx context.Context, channel string, payload []byte) error {
		return client.Publish(ctx, channel, payload).Err()
	}, cb, maxBuf)
}

func newPublisher(ctx context.Context, publish func(context.Context, string, []byte) error, cb *CircuitBreaker, maxBuf int) *Publisher {
	if cb == nil {
		cb = NewCircuitBreaker(5, 30*time.Second)
	}
	if maxBuf <= 0 {
		maxBuf = 10000
	}
	p := &Publisher{publish: publish, cb: cb, ctx: ctx, maxBuf: maxBuf}
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go p.flush()
		}
	}
	return p
}

// PublishSignal publishes r on its symbol's channel.
func (p *Publisher) PublishSignal(ctx context.Context, r model.SignalResult) error {
	payload, err := json.Marshal(model.NewSignalDTO(r, time.Now()))
	if err != nil {
		return err
	}
	return p.send(ctx, SignalChannel(r.Symbol), payload)
}

func (p *Publisher) send(ctx context.Context, channel string, payload []byte) error {
	err := p.cb.Execute(func() error { return p.publish(ctx, channel, payload) })
	if err == ErrCircuitOpen {
		p.bufferMsg(channel, payload)
		return nil
	}
	return err
}

func (p *Publisher) bufferMsg(channel string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, pendingMsg{Channel: channel, Payload: payload})
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

func (p *Publisher) flush() {
	p.mu.Lock()
	pending := p.buffer
	p.buffer = nil
	p.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	sent := 0
	for _, m := range pending {
		if err := p.publish(p.ctx, m.Channel, m.Payload); err != nil {
			log.Printf("[publisher] replay %s: %v", m.Channel, err)
			continue
		}
		sent++
	}
	log.Printf("[publisher] replayed %d/%d buffered signals", sent, len(pending))
}

// PendingCount returns the number of buffered messages.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
