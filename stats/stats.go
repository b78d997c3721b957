// Package stats takes point-in-time snapshots of a running event loop and
// publishes them off the loop goroutine, either to the log or to Redis.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyberinferno/udpev/logger"
	"github.com/redis/go-redis/v9"
)

// SocketStats describes one bound socket.
type SocketStats struct {
	Name     int    `json:"name"`
	Addr     string `json:"addr"`
	Received uint64 `json:"received"`
	Sent     uint64 `json:"sent"`
}

// TimerStats describes one timer.
type TimerStats struct {
	Name        string        `json:"name"`
	Timeout     time.Duration `json:"timeout"`
	SessionSize int           `json:"session_size"`
	Live        int           `json:"live"`
}

// Snapshot is the state of a loop at Time.
type Snapshot struct {
	Time    time.Time     `json:"time"`
	State   string        `json:"state"`
	Sockets []SocketStats `json:"sockets"`
	Timers  []TimerStats  `json:"timers"`
	Crons   int           `json:"crons"`
}

// Sessions returns the number of live sessions across all timers.
func (s Snapshot) Sessions() int {
	n := 0
	for _, t := range s.Timers {
		n += t.Live
	}

	return n
}

// Publisher delivers a snapshot somewhere.
type Publisher interface {
	Publish(ctx context.Context, s Snapshot) error
}

// RedisPublisher stores the latest snapshot as JSON under a single key.
type RedisPublisher struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisPublisher creates a publisher writing to key with the given TTL.
// A zero ttl keeps the key until it is overwritten.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	pub := NewRedisPublisher(client, "udpev:stats", time.Minute)
func NewRedisPublisher(client *redis.Client, key string, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := p.client.Set(ctx, p.key, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	return nil
}

// Latest reads back the snapshot last stored under the publisher's key.
//
// Returns:
//   - The snapshot and true if one is stored
//   - An error if Redis or decoding fails
func (p *RedisPublisher) Latest(ctx context.Context) (Snapshot, bool, error) {
	val, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}

	if err != nil {
		return Snapshot{}, false, fmt.Errorf("redis get error: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(val, &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return s, true, nil
}

// LogPublisher writes a one-line summary of each snapshot at info level.
type LogPublisher struct {
	log logger.Logger
}

// NewLogPublisher creates a publisher that logs to l.
func NewLogPublisher(l logger.Logger) *LogPublisher {
	return &LogPublisher{log: l}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, s Snapshot) error {
	p.log.Info("loop stats",
		logger.Field{Key: "state", Value: s.State},
		logger.Field{Key: "sockets", Value: len(s.Sockets)},
		logger.Field{Key: "timers", Value: len(s.Timers)},
		logger.Field{Key: "sessions", Value: s.Sessions()},
		logger.Field{Key: "crons", Value: s.Crons},
	)

	return nil
}
