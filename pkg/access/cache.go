package access

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/platinummonkey/accesscore/pkg/observability"
	"github.com/platinummonkey/accesscore/pkg/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultPrivateCacheTTL is how long a user's closure is cached
const DefaultPrivateCacheTTL = 4 * time.Hour

// recomputeTimeout bounds a shared closure computation once it no longer
// follows any single caller's context
const recomputeTimeout = 30 * time.Second

// ReachableStore persists per-user closures with a TTL. Each user has a
// generation that DeleteReachable bumps; SetReachable must fail with
// storage.ErrConflict when the generation moved past the one given.
type ReachableStore interface {
	GetReachable(ctx context.Context, userID int64) ([]string, error)
	Generation(ctx context.Context, userID int64) (int64, error)
	SetReachable(ctx context.Context, userID, generation int64, keys []string, ttl time.Duration) error
	DeleteReachable(ctx context.Context, userIDs ...int64) error
}

// ClosureSource computes a user's full reachability closure
type ClosureSource interface {
	ReachableEntities(ctx context.Context, userID int64) ([]EntityKey, error)
}

// PrivateCache serves each user's set of reachable private entities from a
// TTL store. It answers cheap "any private access at all" style questions and
// never replaces a HasAccess call for a single decision.
type PrivateCache struct {
	store   ReachableStore
	source  ClosureSource
	ttl     time.Duration
	group   singleflight.Group
	log     *logrus.Logger
	metrics *observability.Metrics
}

// NewPrivateCache creates a cache. A non-positive ttl uses DefaultPrivateCacheTTL.
func NewPrivateCache(store ReachableStore, source ClosureSource, ttl time.Duration, log *logrus.Logger, metrics *observability.Metrics) *PrivateCache {
	if ttl <= 0 {
		ttl = DefaultPrivateCacheTTL
	}
	if log == nil {
		log = logrus.New()
	}
	return &PrivateCache{
		store:   store,
		source:  source,
		ttl:     ttl,
		log:     log,
		metrics: metrics,
	}
}

// GetReachableEntities returns the user's closure. forceRefresh bypasses the
// cached value and rewrites it. Concurrent recomputations for one user and
// generation share a single query; a closure computed across an Invalidate
// is returned to its callers but never cached.
func (c *PrivateCache) GetReachableEntities(ctx context.Context, userID int64, forceRefresh bool) ([]EntityKey, error) {
	if userID <= 0 {
		return nil, nil
	}

	if !forceRefresh {
		cached, err := c.store.GetReachable(ctx, userID)
		switch {
		case err == nil:
			c.metrics.RecordCacheLookup("hit")
			keys := make([]EntityKey, len(cached))
			for i, k := range cached {
				keys[i] = EntityKey(k)
			}
			return keys, nil
		case errors.Is(err, storage.ErrNotFound):
			c.metrics.RecordCacheLookup("miss")
		default:
			c.metrics.RecordCacheLookup("error")
			c.log.WithError(err).WithField("user_id", userID).Warn("private cache read failed, recomputing")
		}
	} else {
		c.metrics.RecordCacheLookup("refresh")
	}

	gen, err := c.store.Generation(ctx, userID)
	cacheable := err == nil
	if err != nil {
		c.log.WithError(err).WithField("user_id", userID).Warn("private cache generation unavailable, result will not be cached")
	}

	flight := strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(gen, 10)
	ch := c.group.DoChan(flight, func() (interface{}, error) {
		// Shared by every waiter, so one caller cancelling must not fail the rest
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), recomputeTimeout)
		defer cancel()
		return c.recompute(shared, userID, gen, cacheable)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]EntityKey), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *PrivateCache) recompute(ctx context.Context, userID, gen int64, cacheable bool) ([]EntityKey, error) {
	keys, err := c.source.ReachableEntities(ctx, userID)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []EntityKey{}
	}

	if !cacheable {
		return keys, nil
	}

	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = string(k)
	}
	err = c.store.SetReachable(ctx, userID, gen, raw, c.ttl)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrConflict):
		c.log.WithField("user_id", userID).Debug("closure invalidated during recompute, not cached")
	default:
		c.log.WithError(err).WithField("user_id", userID).Warn("failed to cache private access closure")
	}
	return keys, nil
}

// CanSeeAnyPrivate reports whether the user reaches at least one private entity
func (c *PrivateCache) CanSeeAnyPrivate(ctx context.Context, userID int64) (bool, error) {
	keys, err := c.GetReachableEntities(ctx, userID, false)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// Contains reports whether key is in the user's cached closure
func (c *PrivateCache) Contains(ctx context.Context, userID int64, key EntityKey) (bool, error) {
	keys, err := c.GetReachableEntities(ctx, userID, false)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops the user's cached closure. Recomputations already in
// flight for the user will not write their result back.
func (c *PrivateCache) Invalidate(ctx context.Context, userID int64) error {
	return c.InvalidateMany(ctx, []int64{userID})
}

// InvalidateMany drops the cached closures of several users, e.g. every
// member of a club whose grants changed
func (c *PrivateCache) InvalidateMany(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	if err := c.store.DeleteReachable(ctx, userIDs...); err != nil {
		return err
	}
	c.log.WithField("users", len(userIDs)).Debug("private access cache invalidated")
	return nil
}
