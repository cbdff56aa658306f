package redis

import (
	"context"
	"strconv"
	"time"
)

// SetQuotes caches mark prices with a TTL in a single pipeline.
func (s *Store) SetQuotes(ctx context.Context, prices map[string]float64, ttl time.Duration) error {
	if len(prices) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for ticker, px := range prices {
		pipe.Set(ctx, quoteKeyPrefix+ticker, strconv.FormatFloat(px, 'f', -1, 64), ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetQuotes returns cached prices for the requested tickers. Expired or
// never-cached tickers are absent from the result, not an error.
func (s *Store) GetQuotes(ctx context.Context, tickers []string) (map[string]float64, error) {
	if len(tickers) == 0 {
		return map[string]float64{}, nil
	}

	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = quoteKeyPrefix + t
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(tickers))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // nil for missing keys
		}
		px, err := strconv.ParseFloat(str, 64)
		if err != nil || px <= 0 {
			continue
		}
		out[tickers[i]] = px
	}
	return out, nil
}
