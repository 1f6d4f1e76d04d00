package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
)

type Handler struct {
	live         *executor.Live
	cache        *cache.QueryCache
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	tracker      analytics.Tracker
	logger       *slog.Logger
}

// New builds the search API. queryCache and m may be nil.
func New(live *executor.Live, queryCache *cache.QueryCache, m *metrics.Metrics, defaultLimit, maxResults int) *Handler {
	return &Handler{
		live:         live,
		cache:        queryCache,
		metrics:      m,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// WithTracker reports every search to t.
func (h *Handler) WithTracker(t analytics.Tracker) *Handler {
	h.tracker = t
	return h
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.Document)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit := h.defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(parsed, h.maxResults)
	}

	engine, err := h.live.Acquire()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, apperrors.ErrNotReady.Error())
		return
	}
	defer engine.Release()

	var result *executor.SearchResult
	cacheStatus := "disabled"
	if h.cache != nil {
		plan := parser.Parse(engine.Tokenizer(), query)
		key := cache.Key{BuildID: engine.BuildID(), Terms: plan.Normalized(), Limit: limit}
		var hit bool
		result, hit, err = h.cache.GetOrCompute(ctx, key, func(shared context.Context) (*executor.SearchResult, error) {
			// the shared search may outlive this request
			if !engine.Retain() {
				return nil, apperrors.ErrNotReady
			}
			defer engine.Release()
			return engine.Search(shared, query, limit)
		})
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
		if result != nil && result.Query != query {
			// shared with another spelling of the same terms
			copied := *result
			copied.Query = query
			result = &copied
		}
	} else {
		result, err = engine.Search(ctx, query, limit)
	}
	elapsed := time.Since(start)
	h.track(ctx, engine.BuildID(), query, result, err, cacheStatus, elapsed)

	if err != nil {
		h.observe("error", cacheStatus, elapsed, 0)
		log.Error("search failed", "query", query, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "search failed")
		return
	}
	resultType := "hit"
	if len(result.Results) == 0 {
		resultType = "zero_result"
	}
	h.observe(resultType, cacheStatus, elapsed, len(result.Results))

	log.Info("search completed",
		"query", query,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache", cacheStatus,
		"latency_ms", elapsed.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) track(ctx context.Context, buildID, query string, result *executor.SearchResult, err error, cacheStatus string, elapsed time.Duration) {
	if h.tracker == nil {
		return
	}
	event := analytics.SearchEvent{
		Query:     query,
		LatencyMs: elapsed.Milliseconds(),
		Cache:     cacheStatus,
		Failed:    err != nil,
		BuildID:   buildID,
		RequestID: logger.RequestID(ctx),
		Timestamp: time.Now().UTC(),
	}
	if result != nil {
		event.Terms = result.Terms
		event.TotalHits = result.TotalHits
		event.Returned = len(result.Results)
	}
	h.tracker.Track(event)
}

func (h *Handler) observe(resultType, cacheStatus string, elapsed time.Duration, returned int) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
	if resultType != "error" {
		h.metrics.SearchResultsCount.Observe(float64(returned))
	}
}

func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "document id must be an unsigned integer")
		return
	}
	view, err := h.live.Document(r.Context(), uint32(id))
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).Error("document lookup failed", "id", id, "error", err)
		}
		h.writeError(w, status, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.live.Stats()
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
