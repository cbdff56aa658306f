package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the rebalancer.
type Metrics struct {
	CyclesTotal     *prometheus.CounterVec // labels: mode, outcome
	InfeasibleTotal prometheus.Counter
	CycleDur        prometheus.Histogram

	// Last-cycle diagnostics
	ExcludedTickers prometheus.Gauge
	HarvestedLoss   prometheus.Gauge
	TrackingError   prometheus.Gauge
	NAV             prometheus.Gauge

	// Execution metrics
	TradesSubmitted prometheus.Counter
	TradesFilled    prometheus.Counter
	TradesFailed    prometheus.Counter
	BrokerCallDur   *prometheus.HistogramVec // labels: call

	// API server metrics
	APIRequests *prometheus.CounterVec // labels: endpoint, status
	WSClients   prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rebalancer_cycles_total",
			Help: "Rebalance cycles run (by mode and outcome)",
		}, []string{"mode", "outcome"}),
		InfeasibleTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rebalancer_infeasible_total",
			Help: "Cycles aborted because the constraint set was infeasible",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rebalancer_cycle_duration_seconds",
			Help:    "Wall-clock duration of one rebalance cycle",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		ExcludedTickers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rebalancer_excluded_tickers",
			Help: "Tickers excluded from the last cycle for missing data",
		}),
		HarvestedLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rebalancer_harvested_loss_dollars",
			Help: "Estimated harvested loss of the last cycle",
		}),
		TrackingError: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rebalancer_tracking_error",
			Help: "Tracking error of the last solved weight vector",
		}),
		NAV: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rebalancer_nav_dollars",
			Help: "Net asset value at the last cycle",
		}),

		TradesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rebalancer_trades_submitted_total",
			Help: "Orders submitted to the broker",
		}),
		TradesFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rebalancer_trades_filled_total",
			Help: "Fills applied to the ledger",
		}),
		TradesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rebalancer_trades_failed_total",
			Help: "Orders that failed or timed out",
		}),
		BrokerCallDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rebalancer_broker_call_duration_seconds",
			Help:    "Broker gateway call latency (by call)",
			Buckets: prometheus.DefBuckets,
		}, []string{"call"}),

		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apiserver_requests_total",
			Help: "API requests served (by endpoint and status)",
		}, []string{"endpoint", "status"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apiserver_ws_clients",
			Help: "Connected WebSocket observers",
		}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.InfeasibleTotal,
		m.CycleDur,
		m.ExcludedTickers,
		m.HarvestedLoss,
		m.TrackingError,
		m.NAV,
		m.TradesSubmitted,
		m.TradesFilled,
		m.TradesFailed,
		m.BrokerCallDur,
		m.APIRequests,
		m.WSClients,
	)

	return m
}

// ObserveCycle records one finished cycle in a single call.
func (m *Metrics) ObserveCycle(mode, outcome string, dur time.Duration) {
	m.CyclesTotal.WithLabelValues(mode, outcome).Inc()
	m.CycleDur.Observe(dur.Seconds())
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	BrokerOK       bool      `json:"broker_ok"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastCycleError string    `json:"last_cycle_error"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetBrokerOK(v bool) {
	h.mu.Lock()
	h.BrokerOK = v
	h.mu.Unlock()
}

// SetLastCycle records the completion time and error (empty on success)
// of the most recent cycle.
func (h *HealthStatus) SetLastCycle(at time.Time, err error) {
	h.mu.Lock()
	h.LastCycleAt = at
	if err != nil {
		h.LastCycleError = err.Error()
	} else {
		h.LastCycleError = ""
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	lastCycle := ""
	if !h.LastCycleAt.IsZero() {
		lastCycle = h.LastCycleAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		BrokerOK        bool    `json:"broker_ok"`
		LastCycleAt     string  `json:"last_cycle_at"`
		LastCycleError  string  `json:"last_cycle_error"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		BrokerOK:        h.BrokerOK,
		LastCycleAt:     lastCycle,
		LastCycleError:  h.LastCycleError,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
