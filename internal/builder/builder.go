// Package builder converts optimizer target weights into a concrete
// desired portfolio: whole-share deltas, an ordered trade list (sells
// before buys, to free cash before spending it), and the cash target
// left over from share flooring.
package builder

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"directindex/internal/model"
)

// Input carries everything one build needs. The builder is stateless
// and never mutates the portfolio; applying the trades is the caller's
// job (the ledger in dry-run, the execution gateway live).
type Input struct {
	Portfolio model.Portfolio
	Weights   map[string]float64
	Prices    map[string]float64
	NAV       float64
	AsOf      time.Time

	// Restricted tickers must not be bought this cycle. The optimizer
	// already caps them; the builder enforces the invariant.
	Restricted map[string]bool

	TrackingError float64
	HarvestedLoss float64
}

// Build converts target weights into share deltas using
// floor(w_i * NAV / price_i) and emits the resulting trades. Held
// tickers absent from the weight map are liquidated; held tickers with
// no usable price are left untouched and logged, matching the
// exclude-and-report contract for missing data.
func Build(in Input) (model.DesiredPortfolio, error) {
	if in.NAV <= 0 {
		return model.DesiredPortfolio{}, fmt.Errorf("builder: non-positive nav %.2f", in.NAV)
	}

	tickers := universe(in)
	desired := model.DesiredPortfolio{
		CreatedAt:     in.AsOf,
		NAV:           in.NAV,
		Weights:       make(map[string]float64, len(in.Weights)),
		TargetShares:  make(map[string]int64, len(tickers)),
		TrackingError: in.TrackingError,
		HarvestedLoss: in.HarvestedLoss,
	}
	for t, w := range in.Weights {
		desired.Weights[t] = w
	}

	var sells, buys []model.TradeOrder
	var targetValue float64
	for _, t := range tickers {
		current := in.Portfolio.Shares(t)
		price, ok := in.Prices[t]
		if !ok || price <= 0 {
			log.Printf("[builder] no price for %s, leaving %.2f shares untouched", t, current)
			continue
		}

		target := model.FloorShares(in.Weights[t]*in.NAV, price)
		if target > 0 || current > 0 {
			desired.TargetShares[t] = target
		}
		targetValue += float64(target) * price

		delta := float64(target) - current
		switch {
		case delta >= 1:
			shares := int64(math.Floor(delta))
			if in.Restricted[t] {
				return model.DesiredPortfolio{}, &WashSaleViolationError{Ticker: t}
			}
			buys = append(buys, order(t, model.SideBuy, shares, price))
		case delta <= -1:
			sells = append(sells, order(t, model.SideSell, int64(math.Floor(-delta)), price))
		}
	}

	desired.CashTarget = in.NAV - targetValue
	if desired.CashTarget < -1e-6 {
		return model.DesiredPortfolio{}, fmt.Errorf(
			"builder: target value %.2f exceeds nav %.2f", targetValue, in.NAV)
	}

	sort.Slice(sells, func(a, b int) bool { return sells[a].Ticker < sells[b].Ticker })
	sort.Slice(buys, func(a, b int) bool { return buys[a].Ticker < buys[b].Ticker })
	desired.Trades = append(sells, buys...)
	return desired, nil
}

// universe is the sorted union of weighted and held tickers: held names
// dropped from the target set still need liquidation trades.
func universe(in Input) []string {
	seen := make(map[string]bool, len(in.Weights)+len(in.Portfolio.Positions))
	for t := range in.Weights {
		seen[t] = true
	}
	for t := range in.Portfolio.Positions {
		seen[t] = true
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func order(ticker string, side model.Side, shares int64, price float64) model.TradeOrder {
	return model.TradeOrder{
		Ticker:        ticker,
		Side:          side,
		Shares:        shares,
		MarkPrice:     price,
		ClientOrderID: uuid.NewString(),
	}
}
