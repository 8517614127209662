package gateway

import (
	"context"
	"log"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	"twstock-screener/internal/store/redis"
)

// PubSubRouter subscribes to the signal channels and routes messages to
// the broadcaster for fan-out to WebSocket clients.
type PubSubRouter struct {
	hub *Hub
}

// NewPubSubRouter creates a PubSubRouter backed by the given Hub.
func NewPubSubRouter(hub *Hub) *PubSubRouter {
	return &PubSubRouter{hub: hub}
}

// Run pattern-subscribes to every signal channel. Blocks until ctx is
// cancelled or the subscription closes.
func (r *PubSubRouter) Run(ctx context.Context, rdb *goredis.Client) {
	pattern := redis.SignalChannelPrefix + "*"
	pubsub := rdb.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	log.Printf("[gateway] subscribed to %s", pattern)
	r.route(ctx, pubsub.Channel())
}

func (r *PubSubRouter) route(ctx context.Context, ch <-chan *goredis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			symbol := strings.TrimPrefix(msg.Channel, redis.SignalChannelPrefix)
			if symbol == "" || symbol == msg.Channel {
				continue
			}
			r.hub.Broadcaster.Broadcast(symbol, []byte(msg.Payload))
		}
	}
}
