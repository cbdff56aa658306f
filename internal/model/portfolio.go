package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Portfolio is a point-in-time snapshot of holdings and settled cash.
// It is a plain value: the ledger owns mutation, everything else reads.
type Portfolio struct {
	AsOf      time.Time           `json:"as_of"`
	Cash      float64             `json:"cash"` // dollars
	Positions map[string]Position `json:"positions"`
}

// NewPortfolio returns an empty portfolio holding only cash.
func NewPortfolio(cash float64, asOf time.Time) Portfolio {
	return Portfolio{
		AsOf:      asOf,
		Cash:      cash,
		Positions: make(map[string]Position),
	}
}

// Shares returns the share count held for ticker, zero when absent.
func (p *Portfolio) Shares(ticker string) float64 {
	pos, ok := p.Positions[ticker]
	if !ok {
		return 0
	}
	return pos.Shares()
}

// Tickers returns the held tickers in sorted order.
func (p *Portfolio) Tickers() []string {
	out := make([]string, 0, len(p.Positions))
	for t := range p.Positions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NAV computes net asset value: settled cash plus the market value of
// every position. Fails when a held ticker has no usable price.
func (p *Portfolio) NAV(prices map[string]float64) (float64, error) {
	nav := p.Cash
	for t, pos := range p.Positions {
		px, ok := prices[t]
		if !ok || px <= 0 {
			return 0, fmt.Errorf("portfolio nav: no price for held ticker %s", t)
		}
		nav += pos.MarketValue(px)
	}
	return nav, nil
}

// Weights returns each held ticker's share of NAV. Cash is not a key;
// it is the residual 1 - sum(weights).
func (p *Portfolio) Weights(prices map[string]float64) (map[string]float64, error) {
	nav, err := p.NAV(prices)
	if err != nil {
		return nil, err
	}
	if nav <= 0 {
		return nil, fmt.Errorf("portfolio weights: non-positive nav %.2f", nav)
	}
	w := make(map[string]float64, len(p.Positions))
	for t, pos := range p.Positions {
		w[t] = pos.MarketValue(prices[t]) / nav
	}
	return w, nil
}

// Clone returns a deep copy, safe to mutate independently.
func (p *Portfolio) Clone() Portfolio {
	c := Portfolio{AsOf: p.AsOf, Cash: p.Cash, Positions: make(map[string]Position, len(p.Positions))}
	for t, pos := range p.Positions {
		c.Positions[t] = pos.Clone()
	}
	return c
}

// JSON returns the JSON-encoded portfolio (ignoring errors; the type
// contains nothing unmarshalable).
func (p *Portfolio) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
