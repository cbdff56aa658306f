// Package marketdata is the read-mostly facade over market and
// reference data: daily close history and index weights from SQLite,
// intraday marks through the Redis quote cache with a gateway fetcher
// behind it, and the ticker blacklist from disk.
package marketdata

import (
	"context"
	"log"
	"sort"
	"time"

	"directindex/internal/model"
)

// Fetcher pulls live mark prices from the brokerage gateway. The store
// only calls it for cache misses.
type Fetcher interface {
	FetchMarks(ctx context.Context, tickers []string) (map[string]float64, error)
}

// Config tunes the store's fetch behavior.
type Config struct {
	QuoteTTL       time.Duration // mark price cache lifetime
	FetchChunkSize int           // tickers per gateway request
	FetchWorkers   int           // parallel gateway requests
}

func (c *Config) defaults() {
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = 5 * time.Minute
	}
	if c.FetchChunkSize <= 0 {
		c.FetchChunkSize = 100
	}
	if c.FetchWorkers <= 0 {
		c.FetchWorkers = 4
	}
}

// Deps are the store's collaborators. Quotes and Fetcher are optional:
// a dry run against stored closes works without either.
type Deps struct {
	Prices    model.PriceStore
	Weights   model.WeightStore
	Snapshots model.SnapshotStore
	Quotes    model.QuoteCache
	Fetcher   Fetcher
	Blacklist *Blacklist
}

// Store serves the rebalance cycle's data reads. Methods are safe for
// concurrent readers; writes happen only between cycles.
type Store struct {
	cfg  Config
	deps Deps
}

// New builds the store, applying config defaults.
func New(cfg Config, deps Deps) *Store {
	cfg.defaults()
	if deps.Blacklist == nil {
		deps.Blacklist = NewBlacklist()
	}
	return &Store{cfg: cfg, deps: deps}
}

// Blacklist returns the shared blacklist.
func (s *Store) Blacklist() *Blacklist {
	return s.deps.Blacklist
}

// IndexWeights returns the latest constituent set and its as-of date.
func (s *Store) IndexWeights() ([]model.IndexWeight, time.Time, error) {
	return s.deps.Weights.LatestWeights()
}

// CurrentPortfolio loads the most recent persisted snapshot. The bool
// is false for a fresh install with no snapshot yet.
func (s *Store) CurrentPortfolio() (model.Portfolio, bool, error) {
	return s.deps.Snapshots.LatestPortfolio()
}

// MarkPrices resolves mark prices for tickers: quote cache first, then
// the gateway fetcher in bounded parallel chunks, then the latest
// stored close. Tickers with no source at all come back in missing,
// sorted; per the exclude-and-report contract they never abort a cycle.
func (s *Store) MarkPrices(ctx context.Context, tickers []string) (map[string]float64, []string, error) {
	prices := make(map[string]float64, len(tickers))

	if s.deps.Quotes != nil {
		cached, err := s.deps.Quotes.GetQuotes(ctx, tickers)
		if err != nil {
			log.Printf("[marketdata] quote cache read failed, treating as cold: %v", err)
		}
		for t, p := range cached {
			if p > 0 {
				prices[t] = p
			}
		}
	}

	need := without(tickers, prices)
	if s.deps.Fetcher != nil && len(need) > 0 {
		fetched := fetchParallel(ctx, s.deps.Fetcher, need, s.cfg.FetchChunkSize, s.cfg.FetchWorkers)
		for t, p := range fetched {
			if p > 0 {
				prices[t] = p
			}
		}
		if s.deps.Quotes != nil && len(fetched) > 0 {
			if err := s.deps.Quotes.SetQuotes(ctx, fetched, s.cfg.QuoteTTL); err != nil {
				log.Printf("[marketdata] quote cache write failed: %v", err)
			}
		}
	}

	need = without(tickers, prices)
	if len(need) > 0 {
		history, err := s.deps.Prices.History(need, 1)
		if err != nil {
			return nil, nil, err
		}
		for t, closes := range history {
			if len(closes) > 0 && closes[len(closes)-1] > 0 {
				prices[t] = closes[len(closes)-1]
			}
		}
	}

	missing := without(tickers, prices)
	sort.Strings(missing)
	return prices, missing, nil
}

// RecordCloses appends one day of closes to the price history, the
// read-through cache's append-only write path.
func (s *Store) RecordCloses(date time.Time, closes map[string]float64) error {
	return s.deps.Prices.WriteCloses(date, closes)
}

// ReturnSeries builds daily return rows over the lookback window for
// the covariance-aware tracking error. Columns follow the input ticker
// order with missing tickers removed; tickers lacking a full
// lookback+1 closes are excluded and reported in missing.
func (s *Store) ReturnSeries(tickers []string, lookbackDays int) ([][]float64, []string, error) {
	history, err := s.deps.Prices.History(tickers, lookbackDays+1)
	if err != nil {
		return nil, nil, err
	}

	var kept []string
	var missing []string
	for _, t := range tickers {
		closes := history[t]
		if len(closes) < lookbackDays+1 {
			missing = append(missing, t)
			continue
		}
		kept = append(kept, t)
	}

	rows := make([][]float64, lookbackDays)
	for r := range rows {
		rows[r] = make([]float64, len(kept))
	}
	for c, t := range kept {
		closes := history[t]
		closes = closes[len(closes)-lookbackDays-1:]
		for r := 0; r < lookbackDays; r++ {
			rows[r][c] = closes[r+1]/closes[r] - 1
		}
	}
	return rows, missing, nil
}

// without returns the tickers absent from have, preserving order.
func without(tickers []string, have map[string]float64) []string {
	var out []string
	for _, t := range tickers {
		if _, ok := have[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}
