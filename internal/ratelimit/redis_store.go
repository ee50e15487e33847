package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// RedisStore keeps window counters in Redis. Every trip goes through a
// circuit breaker so an unreachable Redis fails fast instead of stalling
// each request on a timeout.
type RedisStore struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
}

// NewRedisStore creates a counter store on client.
func NewRedisStore(client *redis.Client) *RedisStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ratelimit-redis",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about Redis health.
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &RedisStore{client: client, breaker: breaker}
}

// Peek returns the current count for key, zero when the window is empty.
func (s *RedisStore) Peek(ctx context.Context, key string) (int64, error) {
	v, err := s.breaker.Execute(func() (any, error) {
		n, err := s.client.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			return int64(0), nil
		}
		return n, err
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Incr bumps the counter and refreshes the window TTL in one round trip.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	v, err := s.breaker.Execute(func() (any, error) {
		var incr *redis.IntCmd
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, ttl)
			return nil
		})
		if err != nil {
			return int64(0), err
		}
		return incr.Val(), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}
