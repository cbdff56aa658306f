package model

import (
	"encoding/json"
	"time"
)

// DesiredPortfolio is the output of one rebalance cycle: the optimized
// target weights plus the trade list that moves the current portfolio
// onto them. In dry-run mode it also serves as the next cycle's input.
type DesiredPortfolio struct {
	CreatedAt     time.Time          `json:"created_at"`
	NAV           float64            `json:"nav"`
	Weights       map[string]float64 `json:"weights"`
	TargetShares  map[string]int64   `json:"target_shares"`
	CashTarget    float64            `json:"cash_target"` // dollars left after all trades fill at mark
	Trades        []TradeOrder       `json:"trades"`
	TrackingError float64            `json:"tracking_error"`
	HarvestedLoss float64            `json:"harvested_loss"` // dollars, expected at mark prices
}

// Sells returns only the sell orders, preserving order.
func (d *DesiredPortfolio) Sells() []TradeOrder {
	var out []TradeOrder
	for _, t := range d.Trades {
		if t.Side == SideSell {
			out = append(out, t)
		}
	}
	return out
}

// Buys returns only the buy orders, preserving order.
func (d *DesiredPortfolio) Buys() []TradeOrder {
	var out []TradeOrder
	for _, t := range d.Trades {
		if t.Side == SideBuy {
			out = append(out, t)
		}
	}
	return out
}

// JSON returns the JSON-encoded desired portfolio.
func (d *DesiredPortfolio) JSON() []byte {
	b, _ := json.Marshal(d)
	return b
}
