// Package cache keeps search results in Redis. Keys are derived from the
// serving build and the normalised query terms, so results from an older
// index are never returned after a swap.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/redis"
)

const (
	keyPrefix = "search:"

	DefaultComputeTimeout = 10 * time.Second
)

// Backend is the subset of the Redis client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	backend        Backend
	ttl            time.Duration
	computeTimeout time.Duration
	metrics        *metrics.Metrics
	group          singleflight.Group
	logger         *slog.Logger
	hits           atomic.Int64
	misses         atomic.Int64
}

// New returns a cache over backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend:        backend,
		ttl:            ttl,
		computeTimeout: DefaultComputeTimeout,
		metrics:        m,
		logger:         slog.Default().With("component", "query-cache"),
	}
}

// Key identifies one query against one build.
type Key struct {
	BuildID string
	Terms   string
	Limit   int
}

func (k Key) String() string {
	raw := fmt.Sprintf("%s\x00%s\x00limit=%d", k.BuildID, k.Terms, k.Limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func (c *QueryCache) Get(ctx context.Context, k Key) (*executor.SearchResult, bool) {
	key := k.String()
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, k Key, result *executor.SearchResult) {
	key := k.String()
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for k, or runs compute once for
// all concurrent callers asking for the same key and caches its result.
// compute runs detached from any one caller's cancellation, bounded by the
// compute timeout; each caller stops waiting when its own ctx is done.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	k Key,
	compute func(ctx context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, k); ok {
		return result, true, nil
	}
	ch := c.group.DoChan(k.String(), func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()
		result, err := compute(shared)
		if err != nil {
			return nil, err
		}
		c.Set(shared, k, result)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*executor.SearchResult), false, nil
	}
}

// SetComputeTimeout bounds a shared computation. Zero or negative keeps
// the current value.
func (c *QueryCache) SetComputeTimeout(d time.Duration) {
	if d > 0 {
		c.computeTimeout = d
	}
}

// Invalidate removes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
