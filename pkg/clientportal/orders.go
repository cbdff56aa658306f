package clientportal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a whole-share market order keyed by contract id. The
// gateway echoes ClientOrderID back as local_order_id, which is how
// fills are matched to submissions.
type Order struct {
	ConID         int64
	ClientOrderID string
	Side          string // "BUY" or "SELL"
	Quantity      float64
}

// OrderResult is the gateway's acknowledgement for one submitted order.
type OrderResult struct {
	LocalOrderID string `json:"local_order_id"`
	OrderID      string `json:"order_id"`
	OrderStatus  string `json:"order_status"`
}

// orderQuestion is the confirmation prompt the gateway sometimes
// returns instead of an acknowledgement.
type orderQuestion struct {
	ID         string   `json:"id"`
	Message    []string `json:"message"`
	MessageIDs []string `json:"messageIds"`
}

// LiveOrder is one row of the live orders endpoint.
type LiveOrder struct {
	OrderID           int64   `json:"orderId"`
	ConID             int64   `json:"conid"`
	Ticker            string  `json:"ticker"`
	Side              string  `json:"side"`
	Status            string  `json:"status"`
	RemainingQuantity float64 `json:"remainingQuantity"`
	FilledQuantity    float64 `json:"filledQuantity"`
	AvgPrice          string  `json:"avgPrice"`
	OrderRef          string  `json:"order_ref"`
}

// Trade is one execution from the trades endpoint. Money fields arrive
// as quoted strings; decimal.Decimal accepts either form.
type Trade struct {
	ExecutionID string          `json:"execution_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"` // "B" or "S"
	Size        float64         `json:"size"`
	Price       decimal.Decimal `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
	ConID       int64           `json:"conid"`
	OrderRef    string          `json:"order_ref"`
	TradeTimeMS int64           `json:"trade_time_r"`
}

// Time returns the execution time.
func (t *Trade) Time() time.Time {
	return time.UnixMilli(t.TradeTimeMS).UTC()
}

func encodeOrder(o Order) map[string]any {
	return map[string]any{
		"conid":     o.ConID,
		"secType":   fmt.Sprintf("%d:STK", o.ConID),
		"cOID":      o.ClientOrderID,
		"orderType": "MKT",
		"tif":       "IOC",
		"side":      o.Side,
		"quantity":  o.Quantity,
	}
}

// SubmitOrders submits orders one at a time (the bulk endpoint only
// batches child/parent orders) and answers the gateway's confirmation
// questions. Returned results cover only orders the gateway accepted.
func (c *Client) SubmitOrders(ctx context.Context, accountID string, orders []Order) ([]OrderResult, error) {
	var results []OrderResult
	for _, order := range orders {
		res, err := c.submitOrder(ctx, accountID, order)
		if err != nil {
			log.Printf("[clientportal] problem submitting order %s (conid %d): %v", order.ClientOrderID, order.ConID, err)
			continue
		}
		results = append(results, res...)
	}
	if len(results) != len(orders) {
		log.Printf("[clientportal] %d of %d orders acknowledged", len(results), len(orders))
	}
	return results, nil
}

func (c *Client) submitOrder(ctx context.Context, accountID string, order Order) ([]OrderResult, error) {
	body := map[string]any{"orders": []map[string]any{encodeOrder(order)}}

	var raw []json.RawMessage
	if err := c.postJSON(ctx, "orders.submit", map[string]string{"accountId": accountID}, body, &raw); err != nil {
		return nil, err
	}

	// The gateway may interpose up to a few confirmation questions
	// (missing market data, size warnings). Always answer yes.
	for depth := 0; depth < 3 && len(raw) > 0; depth++ {
		var q orderQuestion
		if json.Unmarshal(raw[0], &q) != nil || len(q.MessageIDs) == 0 {
			break
		}
		log.Printf("[clientportal] question when submitting order %s: %v, answering yes", order.ClientOrderID, q.Message)
		replied, err := c.replyQuestion(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		raw = replied
	}

	var results []OrderResult
	for _, msg := range raw {
		var res OrderResult
		if err := json.Unmarshal(msg, &res); err != nil || res.LocalOrderID == "" {
			log.Printf("[clientportal] skipping order response %s", string(msg))
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (c *Client) replyQuestion(ctx context.Context, replyID string) ([]json.RawMessage, error) {
	body := map[string]any{"confirmed": true}

	var raw []json.RawMessage
	var err error
	for tries := 0; tries < 3; tries++ {
		err = c.postJSON(ctx, "orders.reply", map[string]string{"replyId": replyID}, body, &raw)
		if err == nil {
			return raw, nil
		}
		log.Printf("[clientportal] reply to question %s failed, retrying: %v", replyID, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("reply to gateway question %s: %w", replyID, err)
}

// LiveOrders returns the session's current orders.
func (c *Client) LiveOrders(ctx context.Context) ([]LiveOrder, error) {
	var res struct {
		Orders []LiveOrder `json:"orders"`
	}
	if err := c.getJSON(ctx, "orders.live", nil, nil, &res); err != nil {
		return nil, err
	}
	return res.Orders, nil
}

// Trades returns executions from the current and previous six sessions.
func (c *Client) Trades(ctx context.Context) ([]Trade, error) {
	var res []Trade
	if err := c.getJSON(ctx, "trades", nil, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}
