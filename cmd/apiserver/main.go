package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"directindex/config"
	"directindex/internal/api"
	"directindex/internal/execution"
	"directindex/internal/logger"
	"directindex/internal/marketdata"
	"directindex/internal/metrics"
	redisstore "directindex/internal/store/redis"
	sqlitestore "directindex/internal/store/sqlite"
)

// Replay depth of the WebSocket event ring. A full cycle emits a
// couple dozen events, so this holds the last few cycles.
const wsReplayCapacity = 256

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[apiserver] starting...")

	// ---- Flags ----
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	// ---- Config ----
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[apiserver] config load failed: %v", err)
	}
	logger.Init("apiserver", cfg.Log.Level)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.Metrics.Addr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite (read side: NAVs, snapshots, stored closes) ----
	os.MkdirAll(filepath.Dir(cfg.SQLite.MarketDataPath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLite.MarketDataPath})
	if err != nil {
		log.Fatalf("[apiserver] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)

	// ---- Trade journal (read side: /api/trades) ----
	journal, err := execution.NewJournal(cfg.SQLite.JournalPath)
	if err != nil {
		log.Fatalf("[apiserver] journal init failed: %v", err)
	}
	defer journal.Close()

	// ---- Redis (event relay + runtime params) ----
	rdb, err := redisstore.New(redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Printf("[apiserver] WARNING: redis init failed: %v (event stream and runtime params disabled)", err)
		health.SetRedisConnected(false)
		rdb = nil
	} else {
		health.SetRedisConnected(true)
		defer rdb.Close()
	}

	// ---- Market data facade (holdings valuation) ----
	dataDeps := marketdata.Deps{
		Prices:    store,
		Weights:   store,
		Snapshots: store,
	}
	if rdb != nil {
		dataDeps.Quotes = rdb
	}
	data := marketdata.New(marketdata.Config{}, dataDeps)

	// ---- WebSocket hub + Redis relay ----
	hub := api.NewHub(wsReplayCapacity, prom)
	if rdb != nil {
		sub := api.NewSubscriber(rdb.Client(), hub)
		go sub.Run(ctx)
	}

	// ---- API server ----
	deps := api.Deps{
		Data:    data,
		NAVs:    store,
		Trades:  journal,
		Hub:     hub,
		Metrics: prom,
	}
	if rdb != nil {
		deps.Params = rdb
	}
	srv, err := api.NewServer(api.Config{
		Addr:         cfg.API.Addr,
		PasswordHash: cfg.API.PasswordHash,
		TOTPSecret:   cfg.API.TOTPSecret,
		SessionTTL:   cfg.API.SessionTTL(),
		Defaults:     cfg.Optimizer,
	}, deps)
	if err != nil {
		log.Fatalf("[apiserver] server init failed: %v", err)
	}
	srv.Start()

	// ---- Periodic liveness checks ----
	if rdb != nil {
		health.StartLivenessChecker(ctx, rdb.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Wait for shutdown signal ----
	sig := <-sigCh
	log.Printf("[apiserver] received signal %v, shutting down...", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[apiserver] shutdown complete")
}
