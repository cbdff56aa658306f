// Package ledger owns tax-lot accounting: lot-level cost basis, HIFO
// loss harvesting on sale, realized gain/loss bookkeeping, and the
// wash-sale event log. It is the single writer of the portfolio; every
// other component reads snapshots.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"directindex/internal/model"
)

// qtyEps absorbs float dust when comparing share quantities.
const qtyEps = 1e-9

// Ledger tracks a portfolio's tax lots together with the wash-sale
// event logs. Not safe for concurrent use; a rebalance cycle is the
// single writer.
type Ledger struct {
	pf       model.Portfolio
	washDays int

	realizations []WashSaleRecord
	acquisitions []Acquisition
}

// New wraps a portfolio snapshot in a ledger. Acquisition events are
// seeded from the snapshot's lots so adopted positions participate in
// wash-sale checks from the start.
func New(pf model.Portfolio, washSaleDays int) *Ledger {
	l := &Ledger{pf: pf.Clone(), washDays: washSaleDays}
	if l.pf.Positions == nil {
		l.pf.Positions = make(map[string]model.Position)
	}
	for _, t := range l.pf.Tickers() {
		pos := l.pf.Positions[t]
		for i := range pos.Lots {
			l.SeedAcquisition(t, pos.Lots[i].AcquiredAt, pos.Lots[i].Quantity)
		}
	}
	return l
}

// Portfolio returns a deep copy of the current portfolio state.
func (l *Ledger) Portfolio() model.Portfolio {
	return l.pf.Clone()
}

// Cash returns settled cash in dollars.
func (l *Ledger) Cash() float64 {
	return l.pf.Cash
}

// Held returns the share count held for ticker.
func (l *Ledger) Held(ticker string) float64 {
	return l.pf.Shares(ticker)
}

// RecordCommission debits a brokerage fee from cash. Fees never touch
// lot cost basis.
func (l *Ledger) RecordCommission(amount float64, asOf time.Time) {
	if amount <= 0 {
		return
	}
	l.pf.Cash -= amount
	l.pf.AsOf = asOf
}

// WashSaleDays returns the configured window length.
func (l *Ledger) WashSaleDays() int {
	return l.washDays
}

// UnrealizedGainLoss returns the position's total unrealized gain
// (negative for a loss) at price. Zero for tickers not held.
func (l *Ledger) UnrealizedGainLoss(ticker string, price float64) float64 {
	pos, ok := l.pf.Positions[ticker]
	if !ok {
		return 0
	}
	return pos.UnrealizedGain(price)
}

// CandidateLossLots returns copies of the lots carrying an unrealized
// loss at price, ordered most-negative-per-share first. This ordering
// maximizes harvested loss per share liquidated.
func (l *Ledger) CandidateLossLots(ticker string, price float64) []model.Lot {
	pos, ok := l.pf.Positions[ticker]
	if !ok {
		return nil
	}
	var out []model.Lot
	for i := range pos.Lots {
		if pos.Lots[i].GainPerShare(price) < 0 {
			out = append(out, pos.Lots[i])
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		ga, gb := out[a].GainPerShare(price), out[b].GainPerShare(price)
		if ga != gb {
			return ga < gb
		}
		return out[a].AcquiredAt.Before(out[b].AcquiredAt)
	})
	return out
}

// RecordBuy appends a new lot, debits cash, and logs the acquisition
// for wash-sale purposes.
func (l *Ledger) RecordBuy(ticker string, shares, price float64, asOf time.Time) error {
	if shares <= 0 {
		return fmt.Errorf("ledger buy %s: non-positive share count %.4f", ticker, shares)
	}
	if price <= 0 {
		return fmt.Errorf("ledger buy %s: non-positive price %.4f", ticker, price)
	}
	pos := l.pf.Positions[ticker]
	pos.Ticker = ticker
	pos.Lots = append(pos.Lots, model.Lot{AcquiredAt: asOf, Quantity: shares, UnitCost: price})
	l.pf.Positions[ticker] = pos
	l.pf.Cash -= shares * price
	l.pf.AsOf = asOf
	l.SeedAcquisition(ticker, asOf, shares)
	return nil
}

// LotRealization is the gain or loss realized from one lot in a sale.
type LotRealization struct {
	AcquiredAt time.Time `json:"acquired_at"`
	Quantity   float64   `json:"quantity"`
	UnitCost   float64   `json:"unit_cost"`
	Gain       float64   `json:"gain"` // dollars, negative for a loss
}

// SaleResult summarizes one recorded sale.
type SaleResult struct {
	Ticker   string           `json:"ticker"`
	Shares   float64          `json:"shares"`
	Price    float64          `json:"price"`
	Proceeds float64          `json:"proceeds"`
	Realized float64          `json:"realized"` // total gain, negative for a loss
	Lots     []LotRealization `json:"lots"`
}

// RecordSale sells shares of ticker at salePrice, credits the proceeds,
// and realizes gain/loss lot by lot. Lots are consumed loss lots first
// (most negative per share, the CandidateLossLots order), then
// remaining lots oldest first. An aggregate loss inserts a
// WashSaleRecord. Selling more than held fails with
// InsufficientLotQuantityError.
func (l *Ledger) RecordSale(ticker string, shares, salePrice float64, asOf time.Time) (SaleResult, error) {
	res := SaleResult{Ticker: ticker, Shares: shares, Price: salePrice}
	if shares <= 0 {
		return res, fmt.Errorf("ledger sell %s: non-positive share count %.4f", ticker, shares)
	}
	if salePrice <= 0 {
		return res, fmt.Errorf("ledger sell %s: non-positive price %.4f", ticker, salePrice)
	}
	pos, ok := l.pf.Positions[ticker]
	held := pos.Shares()
	if !ok || shares > held+qtyEps {
		return res, &InsufficientLotQuantityError{Ticker: ticker, Requested: shares, Held: held}
	}
	if shares > held {
		shares = held
	}

	order := saleOrder(pos.Lots, salePrice)
	remaining := shares
	for _, idx := range order {
		if remaining <= qtyEps {
			break
		}
		lot := &pos.Lots[idx]
		q := lot.Quantity
		if q > remaining {
			q = remaining
		}
		lot.Quantity -= q
		remaining -= q
		gain := (salePrice - lot.UnitCost) * q
		res.Realized += gain
		res.Lots = append(res.Lots, LotRealization{
			AcquiredAt: lot.AcquiredAt,
			Quantity:   q,
			UnitCost:   lot.UnitCost,
			Gain:       gain,
		})
	}

	// Drop exhausted lots, preserving acquisition order.
	kept := pos.Lots[:0]
	for i := range pos.Lots {
		if pos.Lots[i].Quantity > qtyEps {
			kept = append(kept, pos.Lots[i])
		}
	}
	pos.Lots = kept
	if len(pos.Lots) == 0 {
		delete(l.pf.Positions, ticker)
	} else {
		l.pf.Positions[ticker] = pos
	}

	res.Shares = shares
	res.Proceeds = shares * salePrice
	l.pf.Cash += res.Proceeds
	l.pf.AsOf = asOf

	if res.Realized < 0 {
		l.realizations = append(l.realizations, WashSaleRecord{
			Ticker:           ticker,
			LossRealizedDate: asOf,
			Loss:             -res.Realized,
		})
	}
	return res, nil
}

// saleOrder returns lot indexes in consumption order: loss lots by most
// negative gain per share, then gain/flat lots oldest first.
func saleOrder(lots []model.Lot, price float64) []int {
	var loss, rest []int
	for i := range lots {
		if lots[i].GainPerShare(price) < 0 {
			loss = append(loss, i)
		} else {
			rest = append(rest, i)
		}
	}
	sort.SliceStable(loss, func(a, b int) bool {
		ga, gb := lots[loss[a]].GainPerShare(price), lots[loss[b]].GainPerShare(price)
		if ga != gb {
			return ga < gb
		}
		return lots[loss[a]].AcquiredAt.Before(lots[loss[b]].AcquiredAt)
	})
	sort.SliceStable(rest, func(a, b int) bool {
		return lots[rest[a]].AcquiredAt.Before(lots[rest[b]].AcquiredAt)
	})
	return append(loss, rest...)
}
