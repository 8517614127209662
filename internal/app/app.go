// Package app wires the stores, fetchers and notifiers shared by the
// screener and backtest binaries.
package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"twstock-screener/config"
	"twstock-screener/internal/marketdata"
	"twstock-screener/internal/metrics"
	"twstock-screener/internal/model"
	"twstock-screener/internal/notification"
	"twstock-screener/internal/report"
	"twstock-screener/internal/screener"
	redisstore "twstock-screener/internal/store/redis"
	sqlitestore "twstock-screener/internal/store/sqlite"
)

// Runtime holds the long-lived collaborators of one process.
type Runtime struct {
	Cfg       *config.Config
	Store     *sqlitestore.Store
	Redis     *goredis.Client // nil without Redis
	KV        model.KVStore
	Publisher *redisstore.Publisher // nil without Redis
	HTTP      *marketdata.Client
	Loader    *marketdata.Loader
	Listing   *marketdata.Listing
	Flow      *marketdata.FlowSource
	Notifier  notification.Notifier
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
}

// Setup opens SQLite (required) and Redis (optional, falling back to
// in-memory sets), and builds the fetchers and the notifier chain. m must
// not be nil.
func Setup(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Runtime, error) {
	rt := &Runtime{Cfg: cfg, Metrics: m, Health: metrics.NewHealthStatus()}

	store, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	store.OnWrite(func(d time.Duration) { m.SQLiteWriteDur.Observe(d.Seconds()) })
	rt.Store = store
	rt.Health.SetSQLiteOK(true)

	rt.KV = redisstore.NewMemoryKV()
	if cfg.RedisAddr != "" {
		client, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[app] %v; bookkeeping stays in memory and signals are not published", err)
		} else {
			cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
			cb.OnStateChange = func(from, to redisstore.State) {
				log.Printf("[app] redis circuit breaker %s -> %s", from, to)
				m.ObserveBreaker(int(to))
			}
			rt.Redis = client
			rt.KV = redisstore.NewKV(client, cb)
			rt.Publisher = redisstore.NewPublisher(ctx, client, cb, 0)
			rt.Publisher.OnBuffer = m.RedisBufferedWrites.Inc
			rt.Health.SetRedisEnabled(true)
			rt.Health.CheckRedis(ctx, client)
		}
	}

	rt.HTTP = marketdata.NewClient(marketdata.ClientConfig{RPS: cfg.HTTPRPS})
	rt.Listing = marketdata.NewListing(rt.HTTP)
	rt.Flow = marketdata.NewFlowSource(rt.HTTP)
	rt.Loader = marketdata.NewLoader(store, rt.KV,
		marketdata.NewYahooSource(rt.HTTP),
		marketdata.NewTWSESource(rt.HTTP),
	)
	rt.Notifier = Notifier(cfg)
	return rt, nil
}

// Notifier builds the configured alert chain; alerts go to the log when
// no channel is configured.
func Notifier(cfg *config.Config) notification.Notifier {
	var chain notification.Multi
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		chain = append(chain, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		chain = append(chain, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	switch len(chain) {
	case 0:
		return notification.NewLogNotifier()
	case 1:
		return chain[0]
	}
	return chain
}

// Close releases every store.
func (rt *Runtime) Close() {
	if rt.KV != nil {
		rt.KV.Close()
	}
	if rt.Store != nil {
		rt.Store.Close()
	}
}

// ScreenerDeps assembles the screener's collaborators from the runtime.
func (rt *Runtime) ScreenerDeps(l *slog.Logger) screener.Deps {
	deps := screener.Deps{
		Loader:   rt.Loader,
		KV:       rt.KV,
		Listing:  rt.Listing,
		Flows:    rt.Store,
		FlowSrc:  rt.Flow,
		Notifier: rt.Notifier,
		History:  rt.Store,
		Metrics:  rt.Metrics,
		Logger:   l,
	}
	// A nil *Publisher must not become a non-nil interface.
	if rt.Publisher != nil {
		deps.Publisher = rt.Publisher
	}
	return deps
}

// ReplaceSet makes the set at key hold exactly members.
func ReplaceSet(ctx context.Context, kv model.KVStore, key string, members []string) error {
	old, err := kv.SMembers(ctx, key)
	if err != nil {
		return fmt.Errorf("app: read %s: %w", key, err)
	}
	if len(old) > 0 {
		if err := kv.SRem(ctx, key, old...); err != nil {
			return fmt.Errorf("app: clear %s: %w", key, err)
		}
	}
	if len(members) == 0 {
		return nil
	}
	return kv.SAdd(ctx, key, members...)
}

// ReadFlowFile loads an institutional flow CSV.
func ReadFlowFile(path string) ([]model.FlowRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("app: open flow file: %w", err)
	}
	defer f.Close()
	recs, err := report.ReadFlow(f)
	if err != nil {
		return nil, fmt.Errorf("app: %s: %w", path, err)
	}
	return recs, nil
}
