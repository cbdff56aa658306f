package model

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeOrder is one instruction produced by a rebalance cycle. Shares
// are whole because the broker only accepts integer market orders.
type TradeOrder struct {
	Ticker        string  `json:"ticker"`
	Side          Side    `json:"side"`
	Shares        int64   `json:"shares"`
	MarkPrice     float64 `json:"mark_price"` // price used to size the order
	ClientOrderID string  `json:"client_order_id"`
}

// Notional returns the order's estimated dollar value at the mark price.
func (t *TradeOrder) Notional() float64 {
	return float64(t.Shares) * t.MarkPrice
}

// SignedShares returns +shares for buys and -shares for sells.
func (t *TradeOrder) SignedShares() float64 {
	if t.Side == SideSell {
		return -float64(t.Shares)
	}
	return float64(t.Shares)
}
