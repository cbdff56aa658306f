// Package alpaca adapts the Alpaca trading API to the model.Broker
// port. It is the paper-trading alternative to the IBKR gateway: no
// local gateway process, no conid resolution, commission-free fills.
package alpaca

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"directindex/internal/model"
)

// Config carries Alpaca API credentials. BaseURL selects paper vs live.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // e.g. "https://paper-api.alpaca.markets"
}

// Broker implements model.Broker over the Alpaca REST API.
type Broker struct {
	client *alpaca.Client
}

var _ model.Broker = (*Broker)(nil)

// New returns a broker using the given credentials.
func New(cfg Config) *Broker {
	return &Broker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
	}
}

// EnsureAuthenticated verifies the credentials by fetching the account.
func (b *Broker) EnsureAuthenticated(ctx context.Context) error {
	if _, err := b.client.GetAccount(); err != nil {
		return fmt.Errorf("alpaca authentication: %w", err)
	}
	return nil
}

// Cash returns the account's settled cash.
func (b *Broker) Cash(ctx context.Context) (float64, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return 0, err
	}
	return acct.Cash.InexactFloat64(), nil
}

// Positions returns current holdings.
func (b *Broker) Positions(ctx context.Context) ([]model.BrokerPosition, error) {
	rows, err := b.client.GetPositions()
	if err != nil {
		return nil, err
	}

	out := make([]model.BrokerPosition, 0, len(rows))
	for _, row := range rows {
		if row.Qty.IsZero() {
			continue
		}
		mark := 0.0
		if row.CurrentPrice != nil {
			mark = row.CurrentPrice.InexactFloat64()
		}
		out = append(out, model.BrokerPosition{
			Ticker:    row.Symbol,
			ConID:     row.AssetID,
			Quantity:  row.Qty.InexactFloat64(),
			AvgCost:   row.AvgEntryPrice.InexactFloat64(),
			MarkPrice: mark,
		})
	}
	return out, nil
}

// SubmitOrders places whole-share market orders, one request each.
func (b *Broker) SubmitOrders(ctx context.Context, orders []model.TradeOrder) error {
	for _, o := range orders {
		qty := decimal.NewFromInt(o.Shares)
		side := alpaca.Buy
		if o.Side == model.SideSell {
			side = alpaca.Sell
		}
		_, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
			Symbol:        o.Ticker,
			Qty:           &qty,
			Side:          side,
			Type:          alpaca.Market,
			TimeInForce:   alpaca.Day,
			ClientOrderID: o.ClientOrderID,
		})
		if err != nil {
			return fmt.Errorf("place order %s %s: %w", o.Side, o.Ticker, err)
		}
	}
	return nil
}

// Fills returns executions for the given client order ids. Alpaca fills
// are commission-free.
func (b *Broker) Fills(ctx context.Context, clientOrderIDs []string) ([]model.Fill, error) {
	wanted := make(map[string]bool, len(clientOrderIDs))
	for _, id := range clientOrderIDs {
		wanted[id] = true
	}

	orders, err := b.client.GetOrders(alpaca.GetOrdersRequest{
		Status: "closed",
		Limit:  500,
	})
	if err != nil {
		return nil, err
	}

	var fills []model.Fill
	for i := range orders {
		o := &orders[i]
		if !wanted[o.ClientOrderID] || o.FilledAt == nil || o.FilledAvgPrice == nil {
			continue
		}
		if !o.FilledQty.IsPositive() {
			continue
		}
		side := model.SideBuy
		if o.Side == alpaca.Sell {
			side = model.SideSell
		}
		fills = append(fills, model.Fill{
			ClientOrderID: o.ClientOrderID,
			ExecutionID:   o.ID,
			Ticker:        o.Symbol,
			Side:          side,
			Quantity:      o.FilledQty.InexactFloat64(),
			Price:         o.FilledAvgPrice.InexactFloat64(),
			ExecutedAt:    *o.FilledAt,
		})
	}
	return fills, nil
}

// MarketOpen reports whether the market clock says trading is live.
func (b *Broker) MarketOpen(ctx context.Context) (bool, error) {
	clock, err := b.client.GetClock()
	if err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}
