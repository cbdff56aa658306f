package clientportal

import (
	"context"
	"log"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// markPriceField is the snapshot field id for the mark price.
	markPriceField = "7635"

	// snapshotChunkSize keeps the conids query parameter short of URL
	// length limits.
	snapshotChunkSize = 200

	// The snapshot endpoint warms up per conid: first responses carry
	// no fields yet and it must be re-polled until data appears.
	maxSnapshotPolls = 200
	snapshotPollWait = 50 * time.Millisecond
)

type snapshotRow struct {
	ConID     int64 `json:"conid"`
	Mark      any   `json:"7635"`
	UpdatedMS int64 `json:"_updated"`
}

// MarkPrices fetches mark prices for the given conids, polling the
// snapshot endpoint until every conid reported a price or the poll
// budget runs out. Conids that never produced a price are absent from
// the result.
func (c *Client) MarkPrices(ctx context.Context, conids []string) (map[string]float64, error) {
	result := make(map[string]float64, len(conids))
	for start := 0; start < len(conids); start += snapshotChunkSize {
		end := start + snapshotChunkSize
		if end > len(conids) {
			end = len(conids)
		}
		if err := c.markPriceChunk(ctx, conids[start:end], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *Client) markPriceChunk(ctx context.Context, conids []string, result map[string]float64) error {
	remaining := make(map[string]bool, len(conids))
	ordered := make([]string, 0, len(conids))
	for _, id := range conids {
		if !remaining[id] {
			remaining[id] = true
			ordered = append(ordered, id)
		}
	}
	sort.Strings(ordered)

	query := url.Values{}
	query.Set("conids", strings.Join(ordered, ","))
	query.Set("fields", markPriceField)

	for polls := 0; polls < maxSnapshotPolls && len(remaining) > 0; polls++ {
		var rows []snapshotRow
		if err := c.getJSON(ctx, "marketdata.snapshot", nil, query, &rows); err != nil {
			return err
		}

		for _, row := range rows {
			conid := strconv.FormatInt(row.ConID, 10)
			if !remaining[conid] {
				continue
			}
			px, ok := markToFloat(row.Mark)
			if !ok {
				continue
			}
			result[conid] = px
			delete(remaining, conid)
		}

		if len(remaining) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(snapshotPollWait):
		}
	}

	if len(remaining) > 0 {
		missing := make([]string, 0, len(remaining))
		for id := range remaining {
			missing = append(missing, id)
		}
		sort.Strings(missing)
		log.Printf("[clientportal] no mark price for %d conids after %d polls: %v", len(missing), maxSnapshotPolls, missing)
	}
	return nil
}

// markToFloat coerces the snapshot's mark field, which arrives as a
// number or a string, sometimes prefixed with C (prior close) or H
// (halted).
func markToFloat(v any) (float64, bool) {
	switch m := v.(type) {
	case float64:
		return m, m > 0
	case string:
		trimmed := strings.TrimLeft(m, "CH")
		px, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || px <= 0 {
			return 0, false
		}
		return px, true
	default:
		return 0, false
	}
}
