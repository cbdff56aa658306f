package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"directindex/internal/optimizer"
)

func isNil(err error) bool { return err == goredis.Nil }

// SaveParams persists the active optimizer parameters so API edits
// survive restarts.
func (s *Store) SaveParams(ctx context.Context, p optimizer.Params) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	if err := s.client.Set(ctx, paramsKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set params: %w", err)
	}
	return nil
}

// LoadParams restores persisted optimizer parameters. The bool is false
// when none were ever saved.
func (s *Store) LoadParams(ctx context.Context) (optimizer.Params, bool, error) {
	data, err := s.client.Get(ctx, paramsKey).Bytes()
	if err != nil {
		if isNil(err) {
			return optimizer.Params{}, false, nil
		}
		return optimizer.Params{}, false, fmt.Errorf("redis get params: %w", err)
	}

	var p optimizer.Params
	if err := json.Unmarshal(data, &p); err != nil {
		return optimizer.Params{}, false, fmt.Errorf("unmarshal params: %w", err)
	}
	return p, true, nil
}
