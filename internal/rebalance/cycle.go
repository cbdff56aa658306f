package rebalance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"directindex/internal/builder"
	"directindex/internal/execution"
	"directindex/internal/ledger"
	"directindex/internal/logger"
	"directindex/internal/marketdata"
	"directindex/internal/model"
	"directindex/internal/optimizer"
)

// CycleResult summarizes one rebalance cycle.
type CycleResult struct {
	Cycle         string                 `json:"cycle"`
	Mode          string                 `json:"mode"`
	AsOf          time.Time              `json:"as_of"`
	NAV           float64                `json:"nav"`
	Excluded      []string               `json:"excluded,omitempty"` // tickers dropped for missing data
	Warnings      []string               `json:"warnings,omitempty"`
	Weights       map[string]float64     `json:"weights"`
	TrackingError float64                `json:"tracking_error"`
	HarvestedLoss float64                `json:"harvested_loss"`
	Desired       model.DesiredPortfolio `json:"desired"`
	Report        execution.Report       `json:"report"`
	Duration      time.Duration          `json:"duration"`
}

// RunCycle executes one cycle as a single unit of work: it either
// completes and persists its outputs, or fails before any live order
// (reconciliation) or with partial state recorded in the journal.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := CycleResult{
		Cycle: logger.NewCycleID(),
		Mode:  s.mode(),
		AsOf:  start.UTC(),
	}
	ctx = logger.WithCycleID(ctx, res.Cycle)
	log.Printf("[rebalance] cycle %s starting (%s)", res.Cycle, res.Mode)
	s.emit(ctx, model.StageStarted, "cycle starting (%s)", res.Mode)

	err := s.runCycle(ctx, &res)
	res.Duration = time.Since(start)

	if m := s.deps.Metrics; m != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			var infeasible *optimizer.InfeasibleOptimizationError
			if errors.As(err, &infeasible) {
				m.InfeasibleTotal.Inc()
			}
		} else {
			m.ExcludedTickers.Set(float64(len(res.Excluded)))
			m.HarvestedLoss.Set(res.HarvestedLoss)
			m.TrackingError.Set(res.TrackingError)
			m.NAV.Set(res.NAV)
		}
		m.ObserveCycle(res.Mode, outcome, res.Duration)
	}

	if err != nil {
		s.emit(ctx, model.StageError, "cycle failed: %v", err)
		log.Printf("[rebalance] cycle %s failed after %s: %v",
			res.Cycle, res.Duration.Round(time.Millisecond), err)
		return res, err
	}

	s.emit(ctx, model.StageDone, "cycle complete: nav $%.2f, %d trades, harvest estimate $%.2f",
		res.NAV, len(res.Desired.Trades), res.HarvestedLoss)
	log.Printf("[rebalance] cycle %s complete in %s: nav $%.2f, %d trades, tracking error %.6f",
		res.Cycle, res.Duration.Round(time.Millisecond), res.NAV, len(res.Desired.Trades), res.TrackingError)
	return res, nil
}

func (s *Service) runCycle(ctx context.Context, res *CycleResult) error {
	// ---- Parameters ----
	params := s.cfg.Optimizer
	if s.deps.Params != nil {
		if p, ok, err := s.deps.Params.LoadParams(ctx); err != nil {
			log.Printf("[rebalance] params load failed, using configured: %v", err)
		} else if ok {
			params = p
			log.Println("[rebalance] using operator params from store")
		}
	}
	if err := params.Validate(); err != nil {
		return err
	}

	// ---- Portfolio & ledger ----
	pf, found, err := s.deps.Data.CurrentPortfolio()
	if err != nil {
		return fmt.Errorf("load portfolio: %w", err)
	}
	if !found {
		if s.cfg.DryRun {
			if s.cfg.InitialCash <= 0 {
				return fmt.Errorf("rebalance: no portfolio snapshot and no initial cash configured")
			}
			pf = model.NewPortfolio(s.cfg.InitialCash, res.AsOf)
			log.Printf("[rebalance] fresh install: dry-run portfolio seeded with $%.2f cash", s.cfg.InitialCash)
		} else {
			pf, err = s.adoptFromBroker(ctx, res.AsOf)
			if err != nil {
				return err
			}
		}
	}

	led := ledger.New(pf, s.cfg.WashSaleDays)
	if err := s.seedWashState(led, res.AsOf); err != nil {
		return err
	}

	// ---- Universe ----
	weights, wAsOf, err := s.deps.Data.IndexWeights()
	if err != nil {
		return fmt.Errorf("load index weights: %w", err)
	}
	if len(weights) == 0 {
		return fmt.Errorf("rebalance: no index weights loaded")
	}
	universe := topWeights(weights, s.cfg.MaxStocks, s.deps.Data.Blacklist(), res.AsOf)
	log.Printf("[rebalance] universe: %d of %d constituents (weights as of %s)",
		len(universe), len(weights), wAsOf.Format("2006-01-02"))

	// Held tickers outside the universe still need prices: they are
	// liquidated by the builder and valued in NAV.
	inUniverse := make(map[string]bool, len(universe))
	tickers := make([]string, 0, len(universe)+len(pf.Positions))
	for _, w := range universe {
		inUniverse[w.Ticker] = true
		tickers = append(tickers, w.Ticker)
	}
	for _, t := range pf.Tickers() {
		if !inUniverse[t] {
			tickers = append(tickers, t)
		}
	}

	// ---- Prices ----
	s.emit(ctx, model.StagePrices, "pricing %d tickers", len(tickers))
	prices, missing, err := s.deps.Data.MarkPrices(ctx, tickers)
	if err != nil {
		return fmt.Errorf("mark prices: %w", err)
	}
	for _, t := range missing {
		if inUniverse[t] {
			res.Excluded = append(res.Excluded, t)
		}
		if pf.Shares(t) > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("no price for held %s, valued at cost basis", t))
		}
	}
	if len(res.Excluded) > 0 {
		log.Printf("[rebalance] excluded %d tickers with no price: %v", len(res.Excluded), res.Excluded)
		s.emit(ctx, model.StagePrices, "excluded %d tickers with no price: %v", len(res.Excluded), res.Excluded)
	}

	if err := s.deps.Data.RecordCloses(res.AsOf, prices); err != nil {
		log.Printf("[rebalance] WARNING: recording closes failed: %v (continuing)", err)
	}

	// ---- NAV ----
	navPrices := make(map[string]float64, len(prices))
	for t, p := range prices {
		navPrices[t] = p
	}
	for _, t := range pf.Tickers() {
		if _, ok := navPrices[t]; ok {
			continue
		}
		pos := pf.Positions[t]
		if sh := pos.Shares(); sh > 0 {
			navPrices[t] = pos.CostBasis() / sh
		}
	}
	nav, err := pf.NAV(navPrices)
	if err != nil {
		return fmt.Errorf("compute nav: %w", err)
	}
	if nav <= 0 {
		return fmt.Errorf("rebalance: non-positive nav %.2f", nav)
	}
	res.NAV = nav

	// ---- Candidates ----
	cands := make([]optimizer.Candidate, 0, len(universe))
	for _, w := range universe {
		price, ok := prices[w.Ticker]
		if !ok {
			continue // recorded above
		}
		held := led.Held(w.Ticker)
		restricted := led.IsRepurchaseRestricted(w.Ticker, res.AsOf)
		if restricted && held <= 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s wash-sale restricted and not held, dropped", w.Ticker))
			continue
		}
		cands = append(cands, optimizer.Candidate{
			Ticker:        w.Ticker,
			IndexWeight:   w.Weight,
			CurrentWeight: held * price / nav,
			Price:         price,
			Restricted:    restricted,
			LossNullified: led.IsLossNullified(w.Ticker, res.AsOf),
			LossCurve:     optimizer.NewLossCurve(led.CandidateLossLots(w.Ticker, price), price),
		})
	}
	if len(cands) == 0 {
		return fmt.Errorf("rebalance: no investable candidates")
	}

	// ---- Tracking-error strategy ----
	var returns [][]float64
	if params.TrackingErrorFunc == optimizer.StrategyVarTrackingDiff {
		rows, retMissing, rerr := s.deps.Data.ReturnSeries(candTickers(cands), params.LookbackDays)
		if rerr != nil {
			return fmt.Errorf("return series: %w", rerr)
		}
		if len(retMissing) > 0 {
			cands = dropCandidates(cands, retMissing)
			res.Excluded = append(res.Excluded, retMissing...)
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("%d tickers lack %d days of close history", len(retMissing), params.LookbackDays))
			s.emit(ctx, model.StagePrices, "excluded %d tickers with short history: %v", len(retMissing), retMissing)
			if len(cands) == 0 {
				return fmt.Errorf("rebalance: no candidates with usable return history")
			}
		}
		returns = rows
	}
	strat, err := optimizer.NewStrategy(params.TrackingErrorFunc, returns)
	if err != nil {
		return fmt.Errorf("tracking strategy: %w", err)
	}

	renormalizeIndexWeights(cands)

	// ---- Optimize ----
	s.emit(ctx, model.StageOptimize, "optimizing %d candidates", len(cands))
	sol, err := optimizer.New(params, strat).Solve(cands, nav)
	if err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	res.Weights = sol.Weights
	res.TrackingError = sol.TrackingError
	res.HarvestedLoss = sol.HarvestedLoss
	log.Printf("[rebalance] solved in %d iterations (converged=%v): tracking error %.6f, harvest estimate $%.2f",
		sol.Iterations, sol.Converged, sol.TrackingError, sol.HarvestedLoss)

	// ---- Build ----
	restricted := make(map[string]bool)
	for _, t := range tickers {
		if led.IsRepurchaseRestricted(t, res.AsOf) {
			restricted[t] = true
		}
	}
	s.emit(ctx, model.StageBuild, "building desired portfolio")
	desired, err := builder.Build(builder.Input{
		Portfolio:     led.Portfolio(),
		Weights:       sol.Weights,
		Prices:        prices,
		NAV:           nav,
		AsOf:          res.AsOf,
		Restricted:    restricted,
		TrackingError: sol.TrackingError,
		HarvestedLoss: sol.HarvestedLoss,
	})
	if err != nil {
		return fmt.Errorf("build desired: %w", err)
	}
	res.Desired = desired
	log.Printf("[rebalance] planned %d trades (%d sells, %d buys), cash target $%.2f",
		len(desired.Trades), len(desired.Sells()), len(desired.Buys()), desired.CashTarget)

	// ---- Execute ----
	if s.cfg.DryRun {
		s.emit(ctx, model.StageExecute, "dry run: applying %d trades at mark", len(desired.Trades))
		rep, derr := s.dry.Run(led, desired, res.AsOf)
		if derr != nil {
			return fmt.Errorf("dry run: %w", derr)
		}
		res.Report = rep
	} else {
		s.emit(ctx, model.StageReconcile, "reconciling cash with broker")
		rep, xerr := s.exec.Execute(ctx, led, desired)
		res.Report = rep
		if xerr != nil {
			return fmt.Errorf("execute: %w", xerr)
		}
		s.emit(ctx, model.StageExecute, "submitted %d orders: %d fills, %d failed, %d skipped",
			rep.Submitted, len(rep.Fills), len(rep.Failed), len(rep.Skipped))
		for _, f := range rep.Failed {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s %s failed: %s", f.Order.Side, f.Order.Ticker, f.Reason))
		}
		for _, sk := range rep.Skipped {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s %s skipped: %s", sk.Order.Side, sk.Order.Ticker, sk.Reason))
		}
		if m := s.deps.Metrics; m != nil {
			m.TradesSubmitted.Add(float64(rep.Submitted))
			m.TradesFilled.Add(float64(len(rep.Fills)))
			m.TradesFailed.Add(float64(len(rep.Failed)))
		}
	}

	// ---- Persist ----
	if err := s.deps.Snapshots.SaveDesired(desired); err != nil {
		return fmt.Errorf("save desired: %w", err)
	}
	if s.cfg.DesiredFile != "" {
		if err := writeDesiredFile(s.cfg.DesiredFile, desired); err != nil {
			log.Printf("[rebalance] WARNING: desired file export failed: %v (continuing)", err)
		}
	}
	if !s.cfg.DryRun || s.cfg.RotateDesired {
		if err := s.deps.Snapshots.SavePortfolio(led.Portfolio()); err != nil {
			return fmt.Errorf("save portfolio: %w", err)
		}
	}
	if s.deps.NAVs != nil {
		point := model.NAVPoint{TS: res.AsOf, NAV: nav, IndexReturn: s.benchmarkReturn(cands)}
		if err := s.deps.NAVs.AppendNAV(point); err != nil {
			log.Printf("[rebalance] WARNING: nav append failed: %v (continuing)", err)
		}
	}
	s.updateBlacklist(led, res)

	return nil
}

// adoptFromBroker builds the first snapshot of a live install from
// broker-reported positions, one synthetic lot per position at its
// average cost.
func (s *Service) adoptFromBroker(ctx context.Context, asOf time.Time) (model.Portfolio, error) {
	if err := s.deps.Broker.EnsureAuthenticated(ctx); err != nil {
		return model.Portfolio{}, fmt.Errorf("adopt portfolio: %w", err)
	}
	cash, err := s.deps.Broker.Cash(ctx)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("adopt portfolio: %w", err)
	}
	positions, err := s.deps.Broker.Positions(ctx)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("adopt portfolio: %w", err)
	}
	pf := execution.AdoptPortfolio(cash, positions, asOf)
	log.Printf("[rebalance] fresh install: adopted %d positions and $%.2f cash from broker", len(pf.Positions), cash)
	return pf, nil
}

// seedWashState replays journaled trades from the trailing window into
// the ledger's wash-sale logs. Snapshot lots already seed acquisitions;
// the journal restores realized losses and buys whose lots were since
// sold off. Dry-run fills never restrict live trading.
func (s *Service) seedWashState(led *ledger.Ledger, asOf time.Time) error {
	since := asOf.AddDate(0, 0, -s.cfg.WashSaleDays)
	trades, err := s.deps.Journal.TradesSince(since)
	if err != nil {
		return fmt.Errorf("seed wash-sale state: %w", err)
	}

	seeded := 0
	for _, tr := range trades {
		if tr.DryRun && !s.cfg.DryRun {
			continue
		}
		at, perr := time.Parse(time.RFC3339, tr.ExecutedAt)
		if perr != nil {
			log.Printf("[rebalance] journal row %d has bad timestamp %q, skipping", tr.ID, tr.ExecutedAt)
			continue
		}
		switch model.Side(tr.Side) {
		case model.SideBuy:
			led.SeedAcquisition(tr.Ticker, at, tr.Qty)
			seeded++
		case model.SideSell:
			if tr.RealizedGain != nil && *tr.RealizedGain < 0 {
				led.SeedRealization(tr.Ticker, at, -*tr.RealizedGain)
				seeded++
			}
		}
	}
	if seeded > 0 {
		log.Printf("[rebalance] seeded %d wash-sale events from the journal", seeded)
	}
	return nil
}

// updateBlacklist writes dated entries for wash-sale windows opened on
// tickers the cycle fully liquidated, so re-entry stays blocked even
// after the journal ages past the snapshot. Tickers still held are
// governed by candidate restriction instead: they may keep their
// weight, which a blacklist entry would forbid.
func (s *Service) updateBlacklist(led *ledger.Ledger, res *CycleResult) {
	records := led.ActiveWashSaleRecords(res.AsOf)
	if len(records) == 0 {
		return
	}

	bl := s.deps.Data.Blacklist()
	added := 0
	for _, r := range records {
		if led.Held(r.Ticker) > 0 {
			continue
		}
		bl.AddUntil(r.Ticker, r.LossRealizedDate.AddDate(0, 0, s.cfg.WashSaleDays))
		added++
	}
	if added == 0 || s.cfg.BlacklistPath == "" {
		return
	}
	if err := bl.Save(s.cfg.BlacklistPath); err != nil {
		log.Printf("[rebalance] WARNING: blacklist save failed: %v", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("blacklist save failed: %v", err))
	}
}

// benchmarkReturn computes the index's weighted return since the
// previous day's closes over the candidate set. Zero on the first
// cycle, when only one close exists.
func (s *Service) benchmarkReturn(cands []optimizer.Candidate) float64 {
	rows, missing, err := s.deps.Data.ReturnSeries(candTickers(cands), 1)
	if err != nil || len(rows) == 0 {
		return 0
	}
	skip := make(map[string]bool, len(missing))
	for _, t := range missing {
		skip[t] = true
	}

	var sum, wsum float64
	col := 0
	for i := range cands {
		if skip[cands[i].Ticker] {
			continue
		}
		if col >= len(rows[0]) {
			break
		}
		sum += cands[i].IndexWeight * rows[0][col]
		wsum += cands[i].IndexWeight
		col++
	}
	if wsum <= 0 {
		return 0
	}
	return sum / wsum
}

// topWeights returns the top-n non-blacklisted constituents. Order is
// deterministic: weight descending, ticker ascending on ties.
func topWeights(ws []model.IndexWeight, n int, bl *marketdata.Blacklist, asOf time.Time) []model.IndexWeight {
	eligible := make([]model.IndexWeight, 0, len(ws))
	for _, w := range ws {
		if w.Weight <= 0 || bl.Contains(w.Ticker, asOf) {
			continue
		}
		eligible = append(eligible, w)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Weight != eligible[j].Weight {
			return eligible[i].Weight > eligible[j].Weight
		}
		return eligible[i].Ticker < eligible[j].Ticker
	})
	if len(eligible) > n {
		eligible = eligible[:n]
	}
	return eligible
}

func candTickers(cands []optimizer.Candidate) []string {
	out := make([]string, len(cands))
	for i := range cands {
		out[i] = cands[i].Ticker
	}
	return out
}

func dropCandidates(cands []optimizer.Candidate, drop []string) []optimizer.Candidate {
	if len(drop) == 0 {
		return cands
	}
	skip := make(map[string]bool, len(drop))
	for _, t := range drop {
		skip[t] = true
	}
	out := cands[:0]
	for _, c := range cands {
		if !skip[c.Ticker] {
			out = append(out, c)
		}
	}
	return out
}

// writeDesiredFile exports the desired portfolio as indented JSON,
// creating parent directories as needed.
func writeDesiredFile(path string, desired model.DesiredPortfolio) error {
	data, err := json.MarshalIndent(desired, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal desired: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// renormalizeIndexWeights rescales candidate index weights to sum to
// one, after blacklist and data exclusions shrank the universe.
func renormalizeIndexWeights(cands []optimizer.Candidate) {
	var sum float64
	for i := range cands {
		sum += cands[i].IndexWeight
	}
	if sum <= 0 {
		return
	}
	for i := range cands {
		cands[i].IndexWeight /= sum
	}
}
