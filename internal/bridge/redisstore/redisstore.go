// Package redisstore is a Redis-backed implementation of bridge.Store for
// relay deployments that run more than one replica, or that want channel
// state to survive an HTTP process restart while Redis stays up. Each
// (channel, slot) pair is the Redis hash "<channel>:<slot>" described in §6,
// mutated with HSET/HDEL/EXPIRE.
//
// Calls are wrapped in a circuit breaker (grounded on the teacher's go.mod
// dependency on github.com/sony/gobreaker) so a flapping Redis fails fast with
// a StoreFailure instead of piling up blocked long-polls against a dead
// backend.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/cytoscape/jupyter-bridge/internal/bridge"
)

// Store is a Redis-backed bridge.Store.
type Store struct {
	client  redis.Cmdable
	breaker *gobreaker.CircuitBreaker
}

// New wraps an existing Redis client. The caller owns the client's lifecycle
// (dialing, closing); Store only issues commands against it.
func New(client redis.Cmdable) *Store {
	settings := gobreaker.Settings{
		Name:        "jupyter-bridge-redis",
		MaxRequests: 1,
		Interval:    0, // never reset counts while closed; rely on Timeout for half-open probes
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Store{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func slotKey(channel string, op bridge.Operation) string {
	return fmt.Sprintf("%s:%s", channel, op)
}

func fieldName(f bridge.Field) string { return string(f) }

func (s *Store) GetField(ctx context.Context, channel string, op bridge.Operation, field bridge.Field) ([]byte, bool, error) {
	v, err := s.run(func() (any, error) {
		return s.client.HGet(ctx, slotKey(channel, op), fieldName(field)).Result()
	})
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, bridge.ErrStoreFailure("get_field", slotKey(channel, op), err)
	}
	str := v.(string)
	if str == "" {
		// Fields are written as "" to mean "present but empty" (pickup_wait,
		// pickup_time before first use); HGet on a genuinely absent field
		// already took the redis.Nil branch above.
		return []byte(""), true, nil
	}
	return []byte(str), true, nil
}

func (s *Store) SetFields(ctx context.Context, channel string, op bridge.Operation, fields bridge.Fields) error {
	values := make(map[string]any, len(fields))
	for f, v := range fields {
		values[fieldName(f)] = v
	}

	_, err := s.run(func() (any, error) {
		return s.client.HSet(ctx, slotKey(channel, op), values).Result()
	})
	if err != nil {
		return bridge.ErrStoreFailure("set_fields", slotKey(channel, op), err)
	}
	return nil
}

func (s *Store) DeleteField(ctx context.Context, channel string, op bridge.Operation, field bridge.Field, permissive bool) (int, error) {
	v, err := s.run(func() (any, error) {
		return s.client.HDel(ctx, slotKey(channel, op), fieldName(field)).Result()
	})
	if err != nil {
		if permissive {
			return 0, nil
		}
		return 0, bridge.ErrStoreFailure("delete_field", slotKey(channel, op), err)
	}
	deleted := int(v.(int64))
	if deleted == 0 && !permissive {
		return 0, bridge.ErrStoreFailure("delete_field", slotKey(channel, op), errors.New("field absent"))
	}
	return deleted, nil
}

func (s *Store) Expire(ctx context.Context, channel string, op bridge.Operation, ttl time.Duration) error {
	v, err := s.run(func() (any, error) {
		return s.client.Expire(ctx, slotKey(channel, op), ttl).Result()
	})
	if err != nil {
		return bridge.ErrStoreFailure("expire", slotKey(channel, op), err)
	}
	if ok := v.(bool); !ok {
		return bridge.ErrStoreFailure("expire", slotKey(channel, op), errors.New("key absent"))
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, channel string, op bridge.Operation) (bool, error) {
	v, err := s.run(func() (any, error) {
		return s.client.Exists(ctx, slotKey(channel, op)).Result()
	})
	if err != nil {
		return false, bridge.ErrStoreFailure("exists", slotKey(channel, op), err)
	}
	return v.(int64) > 0, nil
}

// run executes a Redis call through the circuit breaker, translating an open
// breaker into a plain error the caller wraps as StoreFailure.
func (s *Store) run(fn func() (any, error)) (any, error) {
	return s.breaker.Execute(fn)
}
