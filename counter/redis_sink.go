package counter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/frame-ingest/logger"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client used by RedisSink.
type RedisClient interface {
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisSink accumulates increments locally and periodically adds them to a
// shared Redis key with INCRBY, so several ingest servers can report a single
// total. Increment never touches the network.
//
// Delivery is at least once. A flush whose reply is lost, for example to a
// timeout after Redis ran the command, is retried, so the shared total can
// exceed the frames actually received. The local Counter stays exact.
type RedisSink struct {
	client   RedisClient
	key      string
	interval time.Duration
	log      logger.Logger

	pending atomic.Int64
	flushed atomic.Int64
}

// NewRedisSink creates a RedisSink that flushes to key every interval once Run
// is started.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	sink := NewRedisSink(client, "ingest:frames", time.Second, log)
//	go sink.Run(ctx)
//
// Parameters:
//   - client: Redis client (typically *redis.Client)
//   - key: The counter key incremented with INCRBY
//   - interval: Flush period; values <= 0 select one second
//   - log: Logger for flush failures; nil selects a no-op logger
//
// Returns:
//   - A new *RedisSink
func NewRedisSink(client RedisClient, key string, interval time.Duration, log logger.Logger) *RedisSink {
	if interval <= 0 {
		interval = time.Second
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &RedisSink{
		client:   client,
		key:      key,
		interval: interval,
		log:      log.With(logger.Field{Key: "component", Value: "redis_sink"}, logger.Field{Key: "key", Value: key}),
	}
}

// Increment implements Sink.
func (s *RedisSink) Increment() {
	s.pending.Add(1)
}

// Pending returns the number of increments not yet written to Redis.
func (s *RedisSink) Pending() int64 {
	return s.pending.Load()
}

// Flushed returns the number of increments this sink has written to Redis.
func (s *RedisSink) Flushed() int64 {
	return s.flushed.Load()
}

// Flush writes all pending increments to Redis. On failure the increments are
// returned to the pending pool so a later flush retries them, even if Redis
// applied the failed INCRBY.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//
// Returns:
//   - An error if the INCRBY command fails
func (s *RedisSink) Flush(ctx context.Context) error {
	n := s.pending.Swap(0)
	if n == 0 {
		return nil
	}

	if err := s.client.IncrBy(ctx, s.key, n).Err(); err != nil {
		s.pending.Add(n)
		return fmt.Errorf("redis incrby %s: %w", s.key, err)
	}

	s.flushed.Add(n)
	return nil
}

// Total reads the shared total from Redis. A missing key reads as zero.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//
// Returns:
//   - The shared total across every server flushing to the key
//   - An error if the read fails or the value is not an integer
func (s *RedisSink) Total(ctx context.Context) (int64, error) {
	v, err := s.client.Get(ctx, s.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", s.key, err)
	}

	return v, nil
}

// Run flushes every interval until ctx is done, then performs a final flush
// bounded by a short timeout.
//
// Parameters:
//   - ctx: Controls the lifetime of the flush loop
func (s *RedisSink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Flush(flushCtx); err != nil {
				s.log.Error("final flush failed", logger.Field{Key: "error", Value: err}, logger.Field{Key: "pending", Value: s.Pending()})
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.log.Warn("flush failed", logger.Field{Key: "error", Value: err}, logger.Field{Key: "pending", Value: s.Pending()})
			}
		}
	}
}
