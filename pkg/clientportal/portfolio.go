package clientportal

import (
	"context"
	"fmt"
	"strconv"
)

// positionsPageSize is the gateway's fixed page size for the positions
// endpoint.
const positionsPageSize = 100

// Position is one row of the gateway's portfolio positions response.
type Position struct {
	ConID        int64   `json:"conid"`
	ContractDesc string  `json:"contractDesc"`
	Quantity     float64 `json:"position"`
	MktPrice     float64 `json:"mktPrice"`
	MktValue     float64 `json:"mktValue"`
	AvgCost      float64 `json:"avgCost"`
	AvgPrice     float64 `json:"avgPrice"`
	Currency     string  `json:"currency"`
	AssetClass   string  `json:"assetClass"`
}

// CashBalance returns the account's settled cash (totalcashvalue).
func (c *Client) CashBalance(ctx context.Context, accountID string) (float64, error) {
	var res map[string]struct {
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
	}
	if err := c.getJSON(ctx, "portfolio.summary", map[string]string{"accountId": accountID}, nil, &res); err != nil {
		return 0, err
	}
	total, ok := res["totalcashvalue"]
	if !ok {
		return 0, fmt.Errorf("gateway summary missing totalcashvalue")
	}
	return total.Amount, nil
}

// InvalidatePositions tells the gateway to recompute its position cache.
// Call before Positions to avoid stale post-trade marks.
func (c *Client) InvalidatePositions(ctx context.Context, accountID string) error {
	var res struct {
		Message string `json:"message"`
	}
	if err := c.postJSON(ctx, "portfolio.invalidate", map[string]string{"accountId": accountID}, nil, &res); err != nil {
		return err
	}
	if res.Message != "success" {
		return fmt.Errorf("positions invalidate: unexpected response %q", res.Message)
	}
	return nil
}

// Positions returns the account's current positions, walking the paged
// endpoint until a short page.
func (c *Client) Positions(ctx context.Context, accountID string) ([]Position, error) {
	var all []Position
	for page := 0; ; page++ {
		args := map[string]string{"accountId": accountID, "page": strconv.Itoa(page)}
		var res []Position
		if err := c.getJSON(ctx, "portfolio.positions", args, nil, &res); err != nil {
			return nil, err
		}
		all = append(all, res...)
		if len(res) < positionsPageSize {
			return all, nil
		}
	}
}
