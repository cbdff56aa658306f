package execution

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"directindex/internal/model"
)

// shareEps absorbs float dust when comparing share counts against
// broker-reported quantities.
const shareEps = 1e-6

// CheckCash compares broker-reported cash against the local snapshot.
// The comparison runs in decimal so a tolerance of exactly 0.10 does
// not flap on binary float representation.
func CheckCash(brokerCash, localCash, tolerance float64) error {
	diff := decimal.NewFromFloat(brokerCash).Sub(decimal.NewFromFloat(localCash)).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(tolerance)) {
		return &ReconciliationError{BrokerCash: brokerCash, LocalCash: localCash, Tolerance: tolerance}
	}
	return nil
}

// AdoptPortfolio builds a local snapshot from broker state alone. Each
// position becomes one synthetic lot at average cost dated asOf, so
// adopted holdings carry a usable basis even though their true lot
// history is unknown.
func AdoptPortfolio(cash float64, positions []model.BrokerPosition, asOf time.Time) model.Portfolio {
	pf := model.NewPortfolio(cash, asOf)
	for _, bp := range positions {
		if bp.Quantity <= 0 {
			continue
		}
		pf.Positions[bp.Ticker] = model.Position{
			Ticker: bp.Ticker,
			Lots:   []model.Lot{{AcquiredAt: asOf, Quantity: bp.Quantity, UnitCost: bp.AvgCost}},
		}
	}
	return pf
}

// RepairPortfolio replays fills onto a stale snapshot and verifies the
// result matches broker-reported share counts and cash. It returns an
// error when the trade log cannot reconcile the two, in which case the
// caller should adopt broker state outright instead.
func RepairPortfolio(stale model.Portfolio, brokerCash float64, target []model.BrokerPosition, fills []model.Fill, cashTolerance float64) (model.Portfolio, error) {
	pf := stale.Clone()

	replay := make([]model.Fill, len(fills))
	copy(replay, fills)
	sort.SliceStable(replay, func(i, j int) bool {
		return replay[i].ExecutedAt.Before(replay[j].ExecutedAt)
	})

	for i := range replay {
		f := &replay[i]
		if err := applyFill(&pf, f); err != nil {
			return model.Portfolio{}, fmt.Errorf("repair replay: %w", err)
		}
		if f.ExecutedAt.After(pf.AsOf) {
			pf.AsOf = f.ExecutedAt
		}
	}

	want := make(map[string]float64, len(target))
	for _, bp := range target {
		if bp.Quantity > 0 {
			want[bp.Ticker] = bp.Quantity
		}
	}
	for ticker, qty := range want {
		held := pf.Shares(ticker)
		if held < qty-shareEps || held > qty+shareEps {
			return model.Portfolio{}, fmt.Errorf("repair: %s has %.4f shares after replay, broker reports %.4f", ticker, held, qty)
		}
	}
	for _, ticker := range pf.Tickers() {
		if held := pf.Shares(ticker); held > shareEps {
			if _, ok := want[ticker]; !ok {
				return model.Portfolio{}, fmt.Errorf("repair: %s held locally after replay but absent at broker", ticker)
			}
		}
	}
	if err := CheckCash(brokerCash, pf.Cash, cashTolerance); err != nil {
		return model.Portfolio{}, fmt.Errorf("repair: %w", err)
	}

	// Cash converged within tolerance; pin it to the broker's number so
	// the drift does not accumulate across repairs.
	pf.Cash = brokerCash
	return pf, nil
}

// applyFill mutates pf with one fill: buys append a lot, sells consume
// lots oldest first. Lot selection here is share-level only — realized
// gain bookkeeping belongs to the ledger, not to repair.
func applyFill(pf *model.Portfolio, f *model.Fill) error {
	switch f.Side {
	case model.SideBuy:
		pos := pf.Positions[f.Ticker]
		pos.Ticker = f.Ticker
		pos.Lots = append(pos.Lots, model.Lot{AcquiredAt: f.ExecutedAt, Quantity: f.Quantity, UnitCost: f.Price})
		pf.Positions[f.Ticker] = pos
	case model.SideSell:
		pos, ok := pf.Positions[f.Ticker]
		if !ok || pos.Shares() < f.Quantity-shareEps {
			return fmt.Errorf("sell of %.4f %s exceeds %.4f held", f.Quantity, f.Ticker, pos.Shares())
		}
		remaining := f.Quantity
		var kept []model.Lot
		for _, lot := range pos.Lots {
			if remaining <= shareEps {
				kept = append(kept, lot)
				continue
			}
			if lot.Quantity <= remaining+shareEps {
				remaining -= lot.Quantity
				continue
			}
			lot.Quantity -= remaining
			remaining = 0
			kept = append(kept, lot)
		}
		pos.Lots = kept
		if len(kept) == 0 {
			delete(pf.Positions, f.Ticker)
		} else {
			pf.Positions[f.Ticker] = pos
		}
	default:
		return fmt.Errorf("fill for %s has unknown side %q", f.Ticker, f.Side)
	}
	pf.Cash += f.CashDelta()
	return nil
}
