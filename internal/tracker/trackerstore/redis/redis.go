// Package redis implements tracker.Store against a shared Redis
// instance, for instrumentor processes that run distributed and must
// agree on one probe ID space (a multi-process extension of the
// in-memory free-list allocator). It talks to Redis directly through
// go-redis; it does not depend on any clustering or pub/sub framework
// on top of it.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Store is a Redis-backed probe ID allocator: an INCR counter key and
// an RPUSH/LPOP free-list key (oldest released ID reused first), both
// namespaced under prefix.
type Store struct {
	client *redis.Client
	prefix string
}

// New constructs a Store keyed under prefix (e.g. "witnessd:probes").
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) counterKey() string  { return s.prefix + ":counter" }
func (s *Store) freeListKey() string { return s.prefix + ":free" }

// Allocate implements tracker.Store: pops the free list first, else
// advances the shared counter.
func (s *Store) Allocate(ctx context.Context) (int, error) {
	raw, err := s.client.LPop(ctx, s.freeListKey()).Result()
	if err == nil {
		id, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, fmt.Errorf("tracker/redis: malformed free-list entry %q: %w", raw, convErr)
		}
		return id, nil
	}
	if err != redis.Nil {
		return 0, err
	}

	next, err := s.client.Incr(ctx, s.counterKey()).Result()
	if err != nil {
		return 0, err
	}
	return int(next), nil
}

// Release implements tracker.Store.
func (s *Store) Release(ctx context.Context, id int) error {
	return s.client.RPush(ctx, s.freeListKey(), id).Err()
}
