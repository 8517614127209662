// Package redis holds the Redis-backed bookkeeping sets and the signal
// publisher, both guarded by a circuit breaker.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"twstock-screener/internal/model"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return client, nil
}

// KV is a model.KVStore on Redis sets. Every write is mirrored into a
// MemoryKV; when Redis fails or the breaker is open, reads and writes are
// served from the mirror so a run never stops on bookkeeping.
type KV struct {
	client *goredis.Client
	cb     *CircuitBreaker
	mirror *MemoryKV
}

// NewKV wraps client. A nil breaker gets a default (5 failures, 30s).
func NewKV(client *goredis.Client, cb *CircuitBreaker) *KV {
	if cb == nil {
		cb = NewCircuitBreaker(5, 30*time.Second)
	}
	return &KV{client: client, cb: cb, mirror: NewMemoryKV()}
}

// Open returns a Redis-backed store when addr is reachable and a MemoryKV
// otherwise.
func Open(ctx context.Context, cfg Config) model.KVStore {
	if cfg.Addr == "" {
		log.Printf("[redis] no address configured; using in-memory sets")
		return NewMemoryKV()
	}
	client, err := Connect(ctx, cfg)
	if err != nil {
		log.Printf("[redis] %v; using in-memory sets", err)
		return NewMemoryKV()
	}
	return NewKV(client, nil)
}

func (k *KV) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	k.mirror.SAdd(ctx, key, members...)
	k.exec("SADD", key, func() error { return k.client.SAdd(ctx, key, toAny(members)...).Err() })
	return nil
}

func (k *KV) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	k.mirror.SRem(ctx, key, members...)
	k.exec("SREM", key, func() error { return k.client.SRem(ctx, key, toAny(members)...).Err() })
	return nil
}

func (k *KV) SIsMember(ctx context.Context, key, member string) (bool, error) {
	var found bool
	err := k.exec("SISMEMBER", key, func() error {
		var err error
		found, err = k.client.SIsMember(ctx, key, member).Result()
		return err
	})
	if err != nil {
		return k.mirror.SIsMember(ctx, key, member)
	}
	return found, nil
}

func (k *KV) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := k.exec("SMEMBERS", key, func() error {
		var err error
		out, err = k.client.SMembers(ctx, key).Result()
		return err
	})
	if err != nil {
		return k.mirror.SMembers(ctx, key)
	}
	return out, nil
}

func (k *KV) Close() error { return k.client.Close() }

func (k *KV) exec(op, key string, fn func() error) error {
	err := k.cb.Execute(fn)
	if err != nil && err != ErrCircuitOpen {
		log.Printf("[redis] %s %s: %v", op, key, err)
	}
	return err
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
