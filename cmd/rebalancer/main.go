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
	"directindex/internal/broker/alpaca"
	"directindex/internal/broker/ibkr"
	"directindex/internal/execution"
	"directindex/internal/logger"
	"directindex/internal/marketdata"
	"directindex/internal/metrics"
	"directindex/internal/model"
	"directindex/internal/notification"
	"directindex/internal/rebalance"
	redisstore "directindex/internal/store/redis"
	sqlitestore "directindex/internal/store/sqlite"
	"directindex/pkg/clientportal"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[rebalancer] starting...")

	// ---- Flags ----
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	once := flag.Bool("once", false, "run a single cycle and exit")
	dryRun := flag.Bool("dry-run", false, "simulate execution, never contact the broker")
	live := flag.Bool("live", false, "force live execution (requires broker config)")
	flag.Parse()

	if *dryRun && *live {
		log.Fatalf("[rebalancer] -dry-run and -live are mutually exclusive")
	}

	// ---- Config ----
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[rebalancer] config load failed: %v", err)
	}
	logger.Init("rebalancer", cfg.Log.Level)

	// Mode resolution: flags win, otherwise live when a broker is
	// configured. No broker means dry-run whatever the flags say short
	// of -live, which is a hard error without one.
	mode := "dry-run"
	switch {
	case *live:
		if cfg.Broker.Kind == "" {
			log.Fatalf("[rebalancer] -live requires broker.kind in config")
		}
		mode = "live"
	case *dryRun:
	case cfg.Broker.Kind != "":
		mode = "live"
	default:
		log.Println("[rebalancer] no broker configured, forcing dry-run")
	}

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

	// ---- SQLite (prices, weights, snapshots, NAVs) ----
	os.MkdirAll(filepath.Dir(cfg.SQLite.MarketDataPath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLite.MarketDataPath})
	if err != nil {
		log.Fatalf("[rebalancer] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)
	log.Println("[rebalancer] market data store ready")

	// ---- Trade journal ----
	journal, err := execution.NewJournal(cfg.SQLite.JournalPath)
	if err != nil {
		log.Fatalf("[rebalancer] journal init failed: %v", err)
	}
	defer journal.Close()

	// ---- Redis (quotes, events, runtime params) ----
	rdb, err := redisstore.New(redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Printf("[rebalancer] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
		rdb = nil
	} else {
		health.SetRedisConnected(true)
		defer rdb.Close()
	}

	// ---- Blacklist ----
	blacklist, err := marketdata.LoadBlacklist(cfg.BlacklistPath, time.Now())
	if err != nil {
		log.Fatalf("[rebalancer] blacklist load failed: %v", err)
	}

	// ---- Broker ----
	var (
		broker  model.Broker
		fetcher marketdata.Fetcher
	)
	if mode == "live" {
		switch cfg.Broker.Kind {
		case "ibkr":
			cp := clientportal.New(clientportal.Config{BaseURL: cfg.Broker.BaseURL})
			cp.SessionExpiryHook = func() { health.SetBrokerOK(false) }
			cp.ObserveCall = func(route string, dur time.Duration) {
				prom.BrokerCallDur.WithLabelValues(route).Observe(dur.Seconds())
			}
			ib, err := ibkr.New(cp, store, ibkr.Config{AccountID: cfg.Broker.AccountID})
			if err != nil {
				log.Fatalf("[rebalancer] ibkr init failed: %v", err)
			}
			broker, fetcher = ib, ib
		case "alpaca":
			broker = alpaca.New(alpaca.Config{
				APIKey:    cfg.Broker.APIKey,
				APISecret: cfg.Broker.APISecret,
				BaseURL:   cfg.Broker.BaseURL,
			})
		default:
			log.Fatalf("[rebalancer] unknown broker kind %q", cfg.Broker.Kind)
		}
		if err := broker.EnsureAuthenticated(ctx); err != nil {
			log.Fatalf("[rebalancer] broker authentication failed: %v", err)
		}
		health.SetBrokerOK(true)
		log.Printf("[rebalancer] %s broker authenticated", cfg.Broker.Kind)
	}

	// ---- Market data facade ----
	dataDeps := marketdata.Deps{
		Prices:    store,
		Weights:   store,
		Snapshots: store,
		Fetcher:   fetcher,
		Blacklist: blacklist,
	}
	if rdb != nil {
		dataDeps.Quotes = rdb
	}
	data := marketdata.New(marketdata.Config{FetchWorkers: cfg.FetchWorkers}, dataDeps)

	// ---- Notifications ----
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.Notify.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken))
	}
	if cfg.Notify.SMTP.Host != "" {
		backends = append(backends, notification.NewSMTPNotifier(notification.SMTPConfig{
			Host:     cfg.Notify.SMTP.Host,
			Port:     cfg.Notify.SMTP.Port,
			Username: cfg.Notify.SMTP.Username,
			Password: cfg.Notify.SMTP.Password,
			From:     cfg.Notify.SMTP.From,
			To:       cfg.Notify.SMTP.To,
		}))
	}
	notifier := notification.NewMultiNotifier(backends...)

	// ---- Rebalance service ----
	svcDeps := rebalance.Deps{
		Data:      data,
		Snapshots: store,
		NAVs:      store,
		Journal:   journal,
		Broker:    broker,
		Notifier:  notifier,
		Metrics:   prom,
		Health:    health,
	}
	if rdb != nil {
		svcDeps.Params = rdb
		svcDeps.Events = rdb
	}
	svc, err := rebalance.New(rebalance.Config{
		MaxStocks:    cfg.MaxStocks,
		WashSaleDays: cfg.WashSaleDays,
		InitialCash:  cfg.InitialCash,

		Interval:     cfg.Interval(),
		ScheduleGate: cfg.Schedule.Enabled,

		DryRun:        mode == "dry-run",
		RotateDesired: cfg.DryRun.RotateDesiredCurrent,
		DesiredFile:   cfg.DryRun.DesiredPortfolioFile,

		BlacklistPath:  cfg.BlacklistPath,
		ExtraBlacklist: cfg.TickerBlacklistExtra,

		CashTolerance: cfg.CashDiffTolerance,

		Optimizer: cfg.Optimizer,
	}, svcDeps)
	if err != nil {
		log.Fatalf("[rebalancer] service init failed: %v", err)
	}

	// ---- Periodic liveness checks ----
	if rdb != nil {
		health.StartLivenessChecker(ctx, rdb.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Run ----
	if *once {
		res, err := svc.RunOnce(ctx)
		if err != nil {
			log.Fatalf("[rebalancer] cycle failed: %v", err)
		}
		log.Printf("[rebalancer] cycle %s done: nav=%.2f trades=%d harvested=%.2f te=%.6f (%s)",
			res.Cycle, res.NAV, res.Report.Submitted, res.HarvestedLoss, res.TrackingError, res.Duration.Round(time.Millisecond))
		return
	}

	go func() {
		if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[rebalancer] service stopped: %v", err)
		}
	}()

	// ---- Wait for shutdown signal ----
	sig := <-sigCh
	log.Printf("[rebalancer] received signal %v, shutting down...", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[rebalancer] shutdown complete")
}
