package optimizer

import "directindex/internal/model"

// LossCurve maps shares sold of one ticker to the dollars of loss
// harvested, assuming lots are consumed most-negative-per-share first.
// The curve is piecewise linear, concave, and non-decreasing: the first
// shares sold harvest the deepest losses.
type LossCurve struct {
	shares []float64 // cumulative shares at each breakpoint
	loss   []float64 // cumulative harvested dollars at each breakpoint
	slopes []float64 // dollars per share inside each segment
}

// NewLossCurve builds the curve from a ticker's loss lots at price.
// Lots must already be in CandidateLossLots order (most negative per
// share first); lots without a loss at price are ignored.
func NewLossCurve(lots []model.Lot, price float64) LossCurve {
	var c LossCurve
	var cumShares, cumLoss float64
	for i := range lots {
		perShare := -lots[i].GainPerShare(price)
		if perShare <= 0 || lots[i].Quantity <= 0 {
			continue
		}
		cumShares += lots[i].Quantity
		cumLoss += perShare * lots[i].Quantity
		c.shares = append(c.shares, cumShares)
		c.loss = append(c.loss, cumLoss)
		c.slopes = append(c.slopes, perShare)
	}
	return c
}

// MaxShares returns the total shares carrying a harvestable loss.
func (c *LossCurve) MaxShares() float64 {
	if len(c.shares) == 0 {
		return 0
	}
	return c.shares[len(c.shares)-1]
}

// MaxLoss returns the dollars harvested by selling every loss lot.
func (c *LossCurve) MaxLoss() float64 {
	if len(c.loss) == 0 {
		return 0
	}
	return c.loss[len(c.loss)-1]
}

// LossAt returns the dollars harvested by selling sharesSold shares.
// Values beyond the loss-lot capacity saturate at MaxLoss.
func (c *LossCurve) LossAt(sharesSold float64) float64 {
	if sharesSold <= 0 || len(c.shares) == 0 {
		return 0
	}
	var prevShares, prevLoss float64
	for i := range c.shares {
		if sharesSold <= c.shares[i] {
			return prevLoss + (sharesSold-prevShares)*c.slopes[i]
		}
		prevShares, prevLoss = c.shares[i], c.loss[i]
	}
	return prevLoss
}

// SlopeAt returns the marginal dollars of loss per additional share at
// sharesSold. At zero it returns the first segment's slope; beyond
// capacity it returns zero.
func (c *LossCurve) SlopeAt(sharesSold float64) float64 {
	if len(c.shares) == 0 {
		return 0
	}
	if sharesSold < 0 {
		sharesSold = 0
	}
	for i := range c.shares {
		if sharesSold < c.shares[i] {
			return c.slopes[i]
		}
	}
	return 0
}
