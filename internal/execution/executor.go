// Package execution places rebalance trades through the brokerage and
// keeps the durable record of what actually filled.
//
// The live Executor works a desired portfolio's trade list strictly
// sequentially, sells before buys, applying every confirmed fill to the
// tax-lot ledger and the trade journal. Failures skip forward: a failed
// sell only takes down the buys that needed its proceeds. The DryRunner
// walks the same accounting path with simulated fills and never touches
// the broker.
package execution

import (
	"context"
	"fmt"
	"log"
	"time"

	"directindex/internal/ledger"
	"directindex/internal/model"
)

// Config tunes the live executor.
type Config struct {
	// CashTolerance is the maximum |broker cash − local cash| allowed
	// before execution aborts with a ReconciliationError.
	CashTolerance float64

	FillPollInterval time.Duration // default: 2s
	FillPollAttempts int           // default: 10
}

func (c *Config) defaults() {
	if c.FillPollInterval <= 0 {
		c.FillPollInterval = 2 * time.Second
	}
	if c.FillPollAttempts <= 0 {
		c.FillPollAttempts = 10
	}
}

// FailedOrder is an order the broker rejected or never filled.
type FailedOrder struct {
	Order  model.TradeOrder `json:"order"`
	Reason string           `json:"reason"`
}

// SkippedOrder is a buy that was never submitted because the cash it
// depended on did not materialize.
type SkippedOrder struct {
	Order  model.TradeOrder `json:"order"`
	Reason string           `json:"reason"`
}

// Report is the outcome of one execution run. Partial progress is
// recorded, never rolled back.
type Report struct {
	DryRun     bool           `json:"dry_run"`
	Submitted  int            `json:"submitted"`
	Fills      []model.Fill   `json:"fills"`
	Failed     []FailedOrder  `json:"failed,omitempty"`
	Skipped    []SkippedOrder `json:"skipped,omitempty"`
	Realized   float64        `json:"realized"` // total gain/loss, negative = harvested
	Commission float64        `json:"commission"`
	CashAfter  float64        `json:"cash_after"`
}

// Executor runs live trades against a broker.
type Executor struct {
	broker  model.Broker
	journal *Journal
	cfg     Config
}

// NewExecutor returns a live executor writing fills to journal.
func NewExecutor(broker model.Broker, journal *Journal, cfg Config) *Executor {
	cfg.defaults()
	return &Executor{broker: broker, journal: journal, cfg: cfg}
}

// Execute authenticates, reconciles cash, and works the trade list.
// The ledger is mutated in place as fills confirm; callers persist the
// resulting portfolio snapshot whatever the outcome.
func (e *Executor) Execute(ctx context.Context, led *ledger.Ledger, desired model.DesiredPortfolio) (Report, error) {
	rep := Report{CashAfter: led.Cash()}

	if err := e.broker.EnsureAuthenticated(ctx); err != nil {
		return rep, fmt.Errorf("broker authentication: %w", err)
	}

	brokerCash, err := e.broker.Cash(ctx)
	if err != nil {
		return rep, fmt.Errorf("broker cash query: %w", err)
	}
	if err := CheckCash(brokerCash, led.Cash(), e.cfg.CashTolerance); err != nil {
		return rep, err
	}

	for _, order := range desired.Sells() {
		e.workOrder(ctx, led, order, &rep)
	}
	for _, order := range desired.Buys() {
		// A buy larger than remaining cash means an earlier sell failed
		// or under-filled. Skip it rather than submit an order the
		// account cannot settle.
		if order.Notional() > led.Cash()+shareEps {
			reason := fmt.Sprintf("needs $%.2f but only $%.2f available", order.Notional(), led.Cash())
			log.Printf("[executor] skipping dependent buy %s: %s", order.Ticker, reason)
			rep.Skipped = append(rep.Skipped, SkippedOrder{Order: order, Reason: reason})
			continue
		}
		e.workOrder(ctx, led, order, &rep)
	}

	rep.CashAfter = led.Cash()
	log.Printf("[executor] run complete: %d submitted, %d fills, %d failed, %d skipped, realized %.2f",
		rep.Submitted, len(rep.Fills), len(rep.Failed), len(rep.Skipped), rep.Realized)
	return rep, nil
}

// workOrder submits one order, waits for its fills, and applies them.
func (e *Executor) workOrder(ctx context.Context, led *ledger.Ledger, order model.TradeOrder, rep *Report) {
	if err := e.broker.SubmitOrders(ctx, []model.TradeOrder{order}); err != nil {
		log.Printf("[executor] submit %s %s failed: %v", order.Side, order.Ticker, err)
		rep.Failed = append(rep.Failed, FailedOrder{Order: order, Reason: err.Error()})
		return
	}
	rep.Submitted++

	fills, err := e.awaitFills(ctx, order)
	if err != nil {
		log.Printf("[executor] fills for %s %s: %v", order.Side, order.Ticker, err)
		rep.Failed = append(rep.Failed, FailedOrder{Order: order, Reason: err.Error()})
		return
	}
	if len(fills) == 0 {
		reason := "no fills reported before timeout"
		log.Printf("[executor] %s %s: %s", order.Side, order.Ticker, reason)
		rep.Failed = append(rep.Failed, FailedOrder{Order: order, Reason: reason})
		return
	}

	var filled float64
	for i := range fills {
		e.applyFill(led, &fills[i], rep)
		filled += fills[i].Quantity
	}
	if filled < float64(order.Shares)-shareEps {
		reason := fmt.Sprintf("filled %.0f of %d shares", filled, order.Shares)
		log.Printf("[executor] partial fill on %s %s: %s", order.Side, order.Ticker, reason)
		rep.Failed = append(rep.Failed, FailedOrder{Order: order, Reason: reason})
	}
}

// awaitFills polls the broker until the order's full quantity is
// reported or the poll budget runs out, returning whatever confirmed.
func (e *Executor) awaitFills(ctx context.Context, order model.TradeOrder) ([]model.Fill, error) {
	var fills []model.Fill
	for attempt := 0; attempt < e.cfg.FillPollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fills, ctx.Err()
			case <-time.After(e.cfg.FillPollInterval):
			}
		}

		got, err := e.broker.Fills(ctx, []string{order.ClientOrderID})
		if err != nil {
			log.Printf("[executor] fill poll error for %s: %v", order.ClientOrderID, err)
			continue
		}
		fills = got

		var total float64
		for i := range fills {
			total += fills[i].Quantity
		}
		if total >= float64(order.Shares)-shareEps {
			return fills, nil
		}
	}
	return fills, nil
}

// applyFill records one fill in the ledger and the journal. A ledger
// apply error is reported but the fill stays journaled — the shares
// moved at the broker whether or not our books accept it.
func (e *Executor) applyFill(led *ledger.Ledger, f *model.Fill, rep *Report) {
	var realized *float64

	switch f.Side {
	case model.SideSell:
		res, err := led.RecordSale(f.Ticker, f.Quantity, f.Price, f.ExecutedAt)
		if err != nil {
			log.Printf("[executor] ledger sale apply failed for %s: %v", f.Ticker, err)
			rep.Failed = append(rep.Failed, FailedOrder{
				Order:  model.TradeOrder{Ticker: f.Ticker, Side: f.Side, ClientOrderID: f.ClientOrderID},
				Reason: fmt.Sprintf("ledger apply: %v", err),
			})
		} else {
			realized = &res.Realized
			rep.Realized += res.Realized
		}
	case model.SideBuy:
		if err := led.RecordBuy(f.Ticker, f.Quantity, f.Price, f.ExecutedAt); err != nil {
			log.Printf("[executor] ledger buy apply failed for %s: %v", f.Ticker, err)
			rep.Failed = append(rep.Failed, FailedOrder{
				Order:  model.TradeOrder{Ticker: f.Ticker, Side: f.Side, ClientOrderID: f.ClientOrderID},
				Reason: fmt.Sprintf("ledger apply: %v", err),
			})
		}
	}

	led.RecordCommission(f.Commission, f.ExecutedAt)
	rep.Commission += f.Commission
	rep.Fills = append(rep.Fills, *f)

	if err := e.journal.RecordFill(*f, realized, false); err != nil {
		log.Printf("[executor] journal write failed for %s: %v", f.ClientOrderID, err)
	}
}
