package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	fail error
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memBackend) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	v, ok := m.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *memBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memBackend) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func sample() *executor.SearchResult {
	return &executor.SearchResult{
		Query:     "cat",
		Terms:     []string{"cat"},
		TotalHits: 2,
		Results: []executor.Result{
			{Document: executor.Summary{ID: 0, SourceID: "10", Title: "D0", Length: 3}, Score: 0.47},
		},
		TermStats: map[string]uint32{"cat": 2},
	}
}

func TestKeyDependsOnBuildTermsAndLimit(t *testing.T) {
	base := Key{BuildID: "b1", Terms: "cat dog", Limit: 10}
	assert.Equal(t, base.String(), Key{BuildID: "b1", Terms: "cat dog", Limit: 10}.String())
	assert.NotEqual(t, base.String(), Key{BuildID: "b2", Terms: "cat dog", Limit: 10}.String())
	assert.NotEqual(t, base.String(), Key{BuildID: "b1", Terms: "cat", Limit: 10}.String())
	assert.NotEqual(t, base.String(), Key{BuildID: "b1", Terms: "cat dog", Limit: 5}.String())
	assert.Regexp(t, `^search:[0-9a-f]{32}$`, base.String())
}

func TestGetOrComputeCachesResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	backend := newMemBackend()
	c := New(backend, time.Minute, m)
	k := Key{BuildID: "b1", Terms: "cat", Limit: 10}

	calls := 0
	compute := func(context.Context) (*executor.SearchResult, error) {
		calls++
		return sample(), nil
	}
	got, hit, err := c.GetOrCompute(context.Background(), k, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, sample(), got)

	got, hit, err = c.GetOrCompute(context.Background(), k, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, sample(), got)
	assert.Equal(t, 1, calls)
	assert.Equal(t, time.Minute, backend.ttls[k.String()])

	hits, misses := c.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))
}

func TestComputeErrorsAreNotCached(t *testing.T) {
	c := New(newMemBackend(), time.Minute, nil)
	k := Key{BuildID: "b1", Terms: "cat", Limit: 10}
	boom := errors.New("boom")

	_, _, err := c.GetOrCompute(context.Background(), k, func(context.Context) (*executor.SearchResult, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	_, hit, err := c.GetOrCompute(context.Background(), k, func(context.Context) (*executor.SearchResult, error) { return sample(), nil })
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestBackendFailureFallsThrough(t *testing.T) {
	backend := newMemBackend()
	backend.fail = errors.New("connection refused")
	c := New(backend, time.Minute, nil)

	got, hit, err := c.GetOrCompute(context.Background(), Key{Terms: "cat", Limit: 1}, func(context.Context) (*executor.SearchResult, error) {
		return sample(), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "cat", got.Query)
}

func TestConcurrentMissesComputeOnce(t *testing.T) {
	c := New(newMemBackend(), time.Minute, nil)
	k := Key{BuildID: "b1", Terms: "slow", Limit: 10}

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (*executor.SearchResult, error) {
		calls.Add(1)
		<-release
		return sample(), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), k, compute)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestInvalidateRemovesSearchKeys(t *testing.T) {
	backend := newMemBackend()
	backend.data["other:key"] = []byte("x")
	c := New(backend, time.Minute, nil)
	c.Set(context.Background(), Key{BuildID: "b1", Terms: "cat", Limit: 10}, sample())
	c.Set(context.Background(), Key{BuildID: "b1", Terms: "dog", Limit: 10}, sample())

	n, err := c.Invalidate(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Len(t, backend.data, 1)
	_, ok := c.Get(context.Background(), Key{BuildID: "b1", Terms: "cat", Limit: 10})
	assert.False(t, ok)
}

func TestCancelledLeaderDoesNotFailFollowers(t *testing.T) {
	c := New(newMemBackend(), time.Minute, nil)
	k := Key{BuildID: "b1", Terms: "shared", Limit: 10}

	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	compute := func(ctx context.Context) (*executor.SearchResult, error) {
		close(started)
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
			return nil, ctx.Err()
		case <-release:
			return sample(), nil
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, k, compute)
		leaderErr <- err
	}()
	<-started

	followerDone := make(chan struct{})
	var got *executor.SearchResult
	var followerErr error
	go func() {
		defer close(followerDone)
		got, _, followerErr = c.GetOrCompute(context.Background(), k, func(context.Context) (*executor.SearchResult, error) {
			t.Error("follower should join the running computation")
			return nil, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	<-followerDone
	require.NoError(t, followerErr)
	assert.Equal(t, sample(), got)
	assert.False(t, sawCancel.Load())
}

func TestSharedComputeIsBounded(t *testing.T) {
	c := New(newMemBackend(), time.Minute, nil)
	c.SetComputeTimeout(20 * time.Millisecond)

	_, _, err := c.GetOrCompute(context.Background(), Key{Terms: "slow", Limit: 1}, func(ctx context.Context) (*executor.SearchResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
