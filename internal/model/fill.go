package model

import "time"

// BrokerPosition is one holding as the broker reports it. It carries no
// lot detail; reconciliation turns it into a synthetic lot at average
// cost when the local snapshot is missing the position.
type BrokerPosition struct {
	Ticker    string  `json:"ticker"`
	ConID     string  `json:"conid"`
	Quantity  float64 `json:"quantity"`
	AvgCost   float64 `json:"avg_cost"` // dollars per share
	MarkPrice float64 `json:"mark_price"`
}

// MarketValue returns the position's value at the broker's mark.
func (b *BrokerPosition) MarketValue() float64 {
	return b.Quantity * b.MarkPrice
}

// Fill is one confirmed execution, matched back to the submitting order
// by client order id. One order can produce several fills.
type Fill struct {
	ClientOrderID string    `json:"client_order_id"`
	ExecutionID   string    `json:"execution_id"` // broker-assigned, unique per fill
	Ticker        string    `json:"ticker"`
	Side          Side      `json:"side"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"` // dollars per share
	Commission    float64   `json:"commission"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// Notional returns the fill's dollar value excluding commission.
func (f *Fill) Notional() float64 {
	return f.Quantity * f.Price
}

// CashDelta returns the fill's effect on settled cash: negative for
// buys, positive for sells, commission always subtracted.
func (f *Fill) CashDelta() float64 {
	if f.Side == SideSell {
		return f.Notional() - f.Commission
	}
	return -f.Notional() - f.Commission
}
