// Package rebalance orchestrates the optimization cycle: load the
// portfolio and reference data, apply wash-sale restrictions, solve for
// target weights, build the desired portfolio, then execute against the
// broker or simulate in dry-run. One Service owns one portfolio; cycles
// are serialized by an in-process mutex.
package rebalance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"directindex/internal/execution"
	"directindex/internal/logger"
	"directindex/internal/marketdata"
	"directindex/internal/markethours"
	"directindex/internal/metrics"
	"directindex/internal/model"
	"directindex/internal/notification"
	"directindex/internal/optimizer"
)

// Config holds all service settings. Zero values fall back to defaults
// where a default makes sense; Optimizer must validate.
type Config struct {
	MaxStocks    int     // universe cap, top index weights first
	WashSaleDays int     // trailing restriction window
	InitialCash  float64 // seeds a fresh dry-run install with no snapshot

	Interval     time.Duration // schedule loop period
	ScheduleGate bool          // live cycles skip closed NYSE sessions

	DryRun        bool
	RotateDesired bool   // dry-run output becomes the next cycle's input
	DesiredFile   string // optional JSON export of each cycle's desired portfolio

	BlacklistPath  string   // dated blacklist file, rewritten after loss sales
	ExtraBlacklist []string // permanently excluded tickers from config

	CashTolerance float64 // broker vs local cash reconciliation bound

	Optimizer optimizer.Params
}

func (c *Config) defaults() {
	if c.MaxStocks <= 0 {
		c.MaxStocks = 100
	}
	if c.WashSaleDays <= 0 {
		c.WashSaleDays = 31
	}
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.CashTolerance <= 0 {
		c.CashTolerance = 0.1
	}
}

// ParamsSource yields operator-tuned optimizer parameters persisted
// outside the config file. The bool is false when none are stored.
type ParamsSource interface {
	LoadParams(ctx context.Context) (optimizer.Params, bool, error)
}

// Deps are the service's collaborators. Data, Snapshots and Journal are
// required; Broker is required for live mode. The rest are optional.
type Deps struct {
	Data      *marketdata.Store
	Snapshots model.SnapshotStore
	NAVs      model.NAVStore
	Journal   *execution.Journal
	Broker    model.Broker

	Params   ParamsSource
	Events   model.EventPublisher
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
}

// Service runs rebalance cycles on a schedule or on demand.
type Service struct {
	cfg  Config
	deps Deps

	exec *execution.Executor
	dry  *execution.DryRunner

	mu sync.Mutex // one cycle at a time
}

// New wires a service. Permanent blacklist entries from config are
// merged into the shared blacklist here.
func New(cfg Config, deps Deps) (*Service, error) {
	cfg.defaults()
	if deps.Data == nil || deps.Snapshots == nil || deps.Journal == nil {
		return nil, fmt.Errorf("rebalance: data store, snapshot store and journal are required")
	}
	if !cfg.DryRun && deps.Broker == nil {
		return nil, fmt.Errorf("rebalance: live mode requires a broker")
	}
	if err := cfg.Optimizer.Validate(); err != nil {
		return nil, err
	}

	deps.Data.Blacklist().AddPermanent(cfg.ExtraBlacklist...)

	svc := &Service{cfg: cfg, deps: deps}
	if cfg.DryRun {
		svc.dry = execution.NewDryRunner(deps.Journal, nil)
	} else {
		svc.exec = execution.NewExecutor(deps.Broker, deps.Journal, execution.Config{
			CashTolerance: cfg.CashTolerance,
		})
	}
	return svc, nil
}

func (s *Service) mode() string {
	if s.cfg.DryRun {
		return "dry-run"
	}
	return "live"
}

// Run is the scheduled loop: one cycle immediately, then one per
// interval, until ctx is cancelled. Live cycles are skipped while the
// market is closed when the schedule gate is on.
func (s *Service) Run(ctx context.Context) error {
	log.Println("[rebalance] starting rebalance service...")
	log.Printf("[rebalance] mode=%s interval=%s max_stocks=%d wash_sale_days=%d",
		s.mode(), s.cfg.Interval, s.cfg.MaxStocks, s.cfg.WashSaleDays)
	if !s.cfg.DryRun && s.cfg.ScheduleGate {
		log.Printf("[rebalance] %s", markethours.StatusString(time.Now()))
	}

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[rebalance] shutdown signal received")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// RunOnce executes a single cycle, bypassing the schedule gate, and
// delivers the post-cycle summary.
func (s *Service) RunOnce(ctx context.Context) (CycleResult, error) {
	res, err := s.RunCycle(ctx)
	if s.deps.Health != nil {
		s.deps.Health.SetLastCycle(time.Now(), err)
	}
	s.notifySummary(ctx, res, err)
	return res, err
}

func (s *Service) tick(ctx context.Context) {
	if !s.cfg.DryRun && s.cfg.ScheduleGate && !s.marketOpen(ctx) {
		log.Printf("[rebalance] market closed, skipping cycle (%s)", markethours.StatusString(time.Now()))
		return
	}
	if _, err := s.RunOnce(ctx); err != nil {
		log.Printf("[rebalance] cycle error: %v", err)
	}
}

// marketOpen prefers the broker's venue schedule and falls back to the
// local NYSE calendar when the broker cannot answer.
func (s *Service) marketOpen(ctx context.Context) bool {
	if s.deps.Broker != nil {
		open, err := s.deps.Broker.MarketOpen(ctx)
		if err == nil {
			return open
		}
		log.Printf("[rebalance] broker schedule check failed, using local calendar: %v", err)
	}
	return markethours.IsMarketOpen(time.Now())
}

func (s *Service) notifySummary(ctx context.Context, res CycleResult, err error) {
	if s.deps.Notifier == nil {
		return
	}
	sum := notification.CycleSummary{
		Mode:          res.Mode,
		NAV:           res.NAV,
		TrackingError: res.TrackingError,
		HarvestedLoss: res.HarvestedLoss,
		Planned:       len(res.Desired.Trades),
		Executed:      len(res.Report.Fills),
		Failed:        len(res.Report.Failed),
		Excluded:      res.Excluded,
		Warnings:      res.Warnings,
		Err:           err,
	}
	if nerr := s.deps.Notifier.Send(ctx, sum.Alert()); nerr != nil {
		log.Printf("[rebalance] summary notification failed: %v", nerr)
	}
}

// emit publishes a cycle progress event. The cycle ID rides the
// context, stamped by RunCycle. Publishing is best-effort and never
// interferes with the cycle itself.
func (s *Service) emit(ctx context.Context, stage, format string, args ...interface{}) {
	if s.deps.Events == nil {
		return
	}
	ev := model.CycleEvent{
		Cycle:   logger.CycleID(ctx),
		Stage:   stage,
		TS:      time.Now().UTC(),
		Message: fmt.Sprintf(format, args...),
	}
	if err := s.deps.Events.PublishCycleEvent(ctx, ev); err != nil {
		log.Printf("[rebalance] event publish failed: %v", err)
	}
}
