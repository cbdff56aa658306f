package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple business logic from concrete storage
// implementations (Redis, SQLite). Each implementation satisfies one or
// more of these interfaces.

// SnapshotStore persists versioned portfolio and desired-portfolio
// snapshots. Every save appends a new version; loads return the latest.
type SnapshotStore interface {
	// SavePortfolio appends a new portfolio snapshot version.
	SavePortfolio(p Portfolio) error

	// LatestPortfolio loads the most recent portfolio snapshot.
	// The bool is false when no snapshot exists yet.
	LatestPortfolio() (Portfolio, bool, error)

	// SaveDesired appends a new desired-portfolio version.
	SaveDesired(d DesiredPortfolio) error

	// LatestDesired loads the most recent desired portfolio.
	// The bool is false when no desired portfolio exists yet.
	LatestDesired() (DesiredPortfolio, bool, error)

	// Close releases underlying resources.
	Close() error
}

// PriceStore reads and writes daily close history used to build the
// return series for variance-based tracking error.
type PriceStore interface {
	// WriteCloses upserts one day of closing prices.
	WriteCloses(date time.Time, closes map[string]float64) error

	// History returns, per ticker, up to days of the most recent closes
	// oldest first. Tickers with shorter history return what they have;
	// callers decide whether partial series are usable.
	History(tickers []string, days int) (map[string][]float64, error)

	// Close releases underlying resources.
	Close() error
}

// WeightStore reads and writes benchmark constituent weights.
type WeightStore interface {
	// SaveWeights replaces the stored constituent set for asOf.
	SaveWeights(asOf time.Time, ws []IndexWeight) error

	// LatestWeights loads the most recent constituent set.
	LatestWeights() ([]IndexWeight, time.Time, error)
}

// InstrumentStore caches ticker→conid resolutions across restarts.
type InstrumentStore interface {
	SaveInstruments(ins []Instrument) error
	Instruments() ([]Instrument, error)
}

// NAVStore records NAV marks for the returns endpoint, one kept per
// day (the last cycle of the day wins).
type NAVStore interface {
	AppendNAV(p NAVPoint) error
	NAVs(since time.Time) ([]NAVPoint, error)
}

// QuoteCache caches intraday mark prices with a short TTL so repeated
// cycles inside one session do not re-poll the gateway.
type QuoteCache interface {
	// SetQuotes caches prices for ttl.
	SetQuotes(ctx context.Context, prices map[string]float64, ttl time.Duration) error

	// GetQuotes returns cached prices for the requested tickers.
	// Missing tickers are absent from the result, not an error.
	GetQuotes(ctx context.Context, tickers []string) (map[string]float64, error)

	// Close releases underlying resources.
	Close() error
}

// EventPublisher fans rebalance cycle events out to observers.
type EventPublisher interface {
	// PublishCycleEvent publishes a single event. Failures are logged
	// by implementations and never abort a cycle.
	PublishCycleEvent(ctx context.Context, ev CycleEvent) error
}

// Broker is the brokerage surface live execution needs. Adapters own
// instrument-id resolution so callers deal in tickers only.
type Broker interface {
	// EnsureAuthenticated verifies the brokerage session, recovering it
	// when possible. Live execution aborts if this fails.
	EnsureAuthenticated(ctx context.Context) error

	// Positions returns broker-reported holdings.
	Positions(ctx context.Context) ([]BrokerPosition, error)

	// Cash returns settled cash in the account.
	Cash(ctx context.Context) (float64, error)

	// SubmitOrders places whole-share market orders. Orders the broker
	// rejects are reported in the error, accepted ones proceed.
	SubmitOrders(ctx context.Context, orders []TradeOrder) error

	// Fills returns executions for the given client order ids.
	Fills(ctx context.Context, clientOrderIDs []string) ([]Fill, error)

	// MarketOpen reports whether the venue is currently trading.
	MarketOpen(ctx context.Context) (bool, error)
}
