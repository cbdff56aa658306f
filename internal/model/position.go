package model

// Position is the full set of tax lots held for one ticker.
// Lots are kept in acquisition order; sale ordering (HIFO) is decided
// by the ledger at sale time, not by slice position.
type Position struct {
	Ticker string `json:"ticker"`
	Lots   []Lot  `json:"lots"`
}

// Shares returns the total share count across all lots.
func (p *Position) Shares() float64 {
	var n float64
	for i := range p.Lots {
		n += p.Lots[i].Quantity
	}
	return n
}

// CostBasis returns the total cost basis across all lots in dollars.
func (p *Position) CostBasis() float64 {
	var c float64
	for i := range p.Lots {
		c += p.Lots[i].CostBasis()
	}
	return c
}

// MarketValue returns the position's value at the given price.
func (p *Position) MarketValue(price float64) float64 {
	return p.Shares() * price
}

// UnrealizedGain returns the total unrealized gain at the given price.
func (p *Position) UnrealizedGain(price float64) float64 {
	return p.MarketValue(price) - p.CostBasis()
}

// HasLossLots reports whether any lot would realize a loss at price.
func (p *Position) HasLossLots(price float64) bool {
	for i := range p.Lots {
		if p.Lots[i].GainPerShare(price) < 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() Position {
	c := Position{Ticker: p.Ticker}
	if len(p.Lots) > 0 {
		c.Lots = make([]Lot, len(p.Lots))
		copy(c.Lots, p.Lots)
	}
	return c
}
