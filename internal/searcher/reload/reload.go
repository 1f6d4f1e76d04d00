// Package reload swaps the serving index when the indexer announces a new
// build, or when asked to directly.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
)

type Reloader struct {
	cfg     *config.Config
	live    *executor.Live
	cache   *cache.QueryCache
	metrics *metrics.Metrics
	logger  *slog.Logger

	// serialises reloads so two events cannot race to swap
	mu sync.Mutex
}

// New returns a Reloader. queryCache and m may be nil.
func New(cfg *config.Config, live *executor.Live, queryCache *cache.QueryCache, m *metrics.Metrics) *Reloader {
	return &Reloader{
		cfg:     cfg,
		live:    live,
		cache:   queryCache,
		metrics: m,
		logger:  slog.Default().With("component", "index-reloader"),
	}
}

// Reload opens the index in dir and makes it the serving one.
func (r *Reloader) Reload(ctx context.Context, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	engine, err := executor.Open(ctx, r.cfg, dir)
	if err != nil {
		r.count("failed")
		return fmt.Errorf("reloading index from %s: %w", dir, err)
	}
	if engine.BuildID() == r.live.BuildID() {
		engine.Close()
		r.count("unchanged")
		r.logger.Info("index already serving", "build_id", engine.BuildID())
		return nil
	}
	r.live.Swap(engine)
	r.count("ok")
	if r.metrics != nil {
		st := engine.Stats()
		r.metrics.IndexDocuments.Set(float64(st.Documents))
		r.metrics.IndexTerms.Set(float64(st.Terms))
	}
	if r.cache != nil {
		if _, err := r.cache.Invalidate(ctx); err != nil {
			r.logger.Warn("cache invalidation after reload failed", "error", err)
		}
	}
	r.logger.Info("index reloaded", "dir", dir, "build_id", engine.BuildID())
	return nil
}

// HandleMessage returns a Kafka MessageHandler for index-complete events.
// Undecodable messages are dropped; a failed reload leaves the message
// uncommitted.
func (r *Reloader) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.IndexCompleteEvent](value)
		if err != nil {
			r.logger.Error("failed to decode index-complete event", "error", err, "key", string(key))
			return nil
		}
		if event.BuildID != "" && event.BuildID == r.live.BuildID() {
			r.logger.Debug("ignoring event for serving build", "build_id", event.BuildID)
			return nil
		}
		dir := event.IndexDir
		if dir == "" {
			dir = r.cfg.Indexer.IndexDir
		}
		r.logger.Info("index-complete event received",
			"build_id", event.BuildID,
			"dir", dir,
			"documents", event.Documents,
			"truncated", event.Truncated,
		)
		return r.Reload(ctx, dir)
	}
}

func (r *Reloader) count(status string) {
	if r.metrics != nil {
		r.metrics.IndexReloadsTotal.WithLabelValues(status).Inc()
	}
}
