// cmd/gateway relays published screening signals to WebSocket clients and
// serves the latest signal per symbol over REST.
//
// Endpoints: /ws, /api/signals, /api/signals/missed, /api/market,
// /api/status, /api/trades, /metrics, /healthz.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"twstock-screener/config"
	"twstock-screener/internal/execution"
	"twstock-screener/internal/gateway"
	"twstock-screener/internal/logger"
	"twstock-screener/internal/markethours"
	"twstock-screener/internal/metrics"
	redisstore "twstock-screener/internal/store/redis"
	sqlitestore "twstock-screener/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	processStart := time.Now()

	config.LoadDotEnv()
	cfg := config.Load()
	markethours.SetHolidays(cfg.Holidays)
	logger.Init("gateway", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	hub := gateway.NewHub(m)

	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		client, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Fatalf("[gateway] %v", err)
		}
		defer client.Close()
		rdb = client
		health.SetRedisEnabled(true)
		go hub.Router.Run(ctx, rdb)
	} else {
		log.Printf("[gateway] REDIS_ADDR not set; serving stored signals only")
	}

	var store gateway.SignalLister
	sqlStore, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		log.Printf("[gateway] signal history unavailable: %v", err)
	} else {
		defer sqlStore.Close()
		store = sqlStore
		health.SetSQLiteOK(true)
		health.StartLivenessChecker(ctx, rdb, sqlStore.DB(), 15*time.Second)
	}

	go hub.StartStatusBroadcast(ctx, processStart, 5*time.Second)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, store, processStart)
	if journal, err := execution.NewJournal(cfg.SQLitePath); err != nil {
		log.Printf("[gateway] trade journal unavailable: %v", err)
	} else {
		defer journal.Close()
		gateway.RegisterTradeRoutes(mux, journal)
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	srv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[gateway] listening on %s", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[gateway] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[gateway] shutting down, %d clients connected", hub.ClientCount())
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[gateway] shutdown: %v", err)
	}
	p50, _, p99 := hub.Latency.Percentiles()
	log.Printf("[gateway] stopped; push latency p50=%.1fms p99=%.1fms over %d samples",
		p50, p99, hub.Latency.Count())
}
