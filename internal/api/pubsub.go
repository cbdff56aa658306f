package api

import (
	"context"
	"log"

	goredis "github.com/go-redis/redis/v8"

	"directindex/internal/model"
	redisstore "directindex/internal/store/redis"
)

// Subscriber relays rebalance cycle events from Redis pub/sub into the
// hub. The rebalancer publishes, this end consumes; the two processes
// share nothing but Redis.
type Subscriber struct {
	rdb *goredis.Client
	hub *Hub
}

// NewSubscriber creates a subscriber feeding the given hub.
func NewSubscriber(rdb *goredis.Client, hub *Hub) *Subscriber {
	return &Subscriber{rdb: rdb, hub: hub}
}

// Run subscribes to the cycle channel and relays events until ctx is
// cancelled. Malformed payloads are logged and skipped.
func (s *Subscriber) Run(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, redisstore.CycleChannel)
	defer pubsub.Close()

	log.Printf("[api] subscribed to %s", redisstore.CycleChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := model.ParseCycleEvent([]byte(msg.Payload))
			if err != nil {
				log.Printf("[api] bad cycle event payload: %v", err)
				continue
			}
			s.hub.Broadcast(ev)
		}
	}
}
