package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/accesscore/pkg/storage"
)

// generationTTL keeps a user's invalidation counter alive well past any
// recomputation that could still be in flight
const generationTTL = 24 * time.Hour

// ReachableStore caches each user's private-access closure as one JSON value,
// guarded by a per-user generation counter that every invalidation bumps
type ReachableStore struct {
	c *Client
}

// NewReachableStore creates a closure cache on top of c
func NewReachableStore(c *Client) *ReachableStore {
	return &ReachableStore{c: c}
}

func (s *ReachableStore) userKey(userID int64) string {
	return s.c.key("access", "private", strconv.FormatInt(userID, 10))
}

func (s *ReachableStore) generationKey(userID int64) string {
	return s.c.key("access", "private-gen", strconv.FormatInt(userID, 10))
}

// GetReachable returns the cached entity keys, or storage.ErrNotFound on a miss
func (s *ReachableStore) GetReachable(ctx context.Context, userID int64) ([]string, error) {
	var keys []string
	if err := s.c.getJSON(ctx, "get_reachable", s.userKey(userID), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// Generation returns the user's invalidation counter. Users never
// invalidated are at generation 0.
func (s *ReachableStore) Generation(ctx context.Context, userID int64) (int64, error) {
	gen, err := s.c.client.Get(ctx, s.generationKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, storage.Wrap(backend, "get_generation", err)
	}
	return gen, nil
}

// SetReachable replaces the cached closure for userID, provided the user is
// still at generation. A closure computed before an invalidation is rejected
// with storage.ErrConflict.
func (s *ReachableStore) SetReachable(ctx context.Context, userID, generation int64, keys []string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("set_reachable: ttl must be positive, got %s", ttl)
	}
	if keys == nil {
		keys = []string{}
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("set_reachable: failed to marshal: %w", err)
	}

	key, genKey := s.userKey(userID), s.generationKey(userID)
	return s.c.watch(ctx, "set_reachable", func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != generation {
			return storage.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, genKey)
}

// DeleteReachable drops the cached closures of the given users and bumps
// their generations in one transaction
func (s *ReachableStore) DeleteReachable(ctx context.Context, userIDs ...int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := s.c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			genKey := s.generationKey(id)
			pipe.Del(ctx, s.userKey(id))
			pipe.Incr(ctx, genKey)
			pipe.Expire(ctx, genKey, generationTTL)
		}
		return nil
	})
	if err != nil {
		return storage.Wrap(backend, "delete_reachable", err)
	}
	return nil
}
