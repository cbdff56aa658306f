// Package redis caches intraday quotes, persists tunable optimizer
// parameters and fans rebalance cycle events out over pub/sub.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// CycleChannel is the pub/sub channel carrying rebalance cycle events.
// The API gateway subscribes to it and relays events to WebSocket clients.
const CycleChannel = "pub:cycle"

const (
	quoteKeyPrefix = "quote:"
	paramsKey      = "config:optimizer"
	cycleLatestKey = "cycle:latest"
	cycleLatestTTL = 24 * time.Hour
)

// Config configures the Redis store.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Store wraps a Redis client for quotes, parameters and cycle events.
type Store struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// New creates a new Redis Store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Store{client: client}, nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
