package redis

import (
	"context"
	"log"

	"directindex/internal/model"
)

// PublishCycleEvent publishes a cycle event and keeps the latest one
// readable for late subscribers. Failures are logged, not fatal; a
// down Redis must not stop a rebalance.
func (s *Store) PublishCycleEvent(ctx context.Context, ev model.CycleEvent) error {
	data := string(ev.JSON())

	pipe := s.client.Pipeline()
	pipe.Set(ctx, cycleLatestKey, data, cycleLatestTTL)
	pipe.Publish(ctx, CycleChannel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] cycle event publish error: %v", err)
		return err
	}
	return nil
}

// LatestCycleEvent returns the most recently published event, if any.
func (s *Store) LatestCycleEvent(ctx context.Context) (model.CycleEvent, bool, error) {
	data, err := s.client.Get(ctx, cycleLatestKey).Bytes()
	if err != nil {
		if isNil(err) {
			return model.CycleEvent{}, false, nil
		}
		return model.CycleEvent{}, false, err
	}
	ev, err := model.ParseCycleEvent(data)
	if err != nil {
		return model.CycleEvent{}, false, err
	}
	return ev, true, nil
}
