package model

import "time"

// Lot is a single tax lot: shares acquired together on one date at one
// per-share cost basis. Quantity is fractional because positions adopted
// from the broker may carry fractional shares.
type Lot struct {
	AcquiredAt time.Time `json:"acquired_at"`
	Quantity   float64   `json:"quantity"`
	UnitCost   float64   `json:"unit_cost"` // dollars per share
}

// CostBasis returns the total cost basis of the lot in dollars.
func (l *Lot) CostBasis() float64 {
	return l.UnitCost * l.Quantity
}

// GainPerShare returns the per-share gain (negative for a loss) if the
// lot were sold at price.
func (l *Lot) GainPerShare(price float64) float64 {
	return price - l.UnitCost
}

// Gain returns the total gain realized by selling the whole lot at price.
func (l *Lot) Gain(price float64) float64 {
	return (price - l.UnitCost) * l.Quantity
}
