package analytics

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/kafka"
)

// maxDistinctQueries bounds the per-query counters. Queries first seen after
// the bound is reached still count towards the totals.
const maxDistinctQueries = 100000

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	FailedSearches    int64        `json:"failed_searches"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
	Builds            []string     `json:"builds"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running totals in memory. Latency percentiles cover the
// most recent window of searches.
type Aggregator struct {
	mu sync.Mutex

	total       int64
	failed      int64
	cacheHits   int64
	cacheMisses int64
	zeroResults int64

	latencies []int64
	next      int
	filled    bool

	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	builds            map[string]struct{}
	topN              int
	startTime         time.Time
	now               func() time.Time

	logger *slog.Logger
}

func NewAggregator(cfg config.AnalyticsConfig) *Aggregator {
	window := cfg.LatencyWindow
	if window <= 0 {
		window = 10000
	}
	topN := cfg.TopQueries
	if topN <= 0 {
		topN = 10
	}
	return &Aggregator{
		latencies:         make([]int64, window),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		builds:            make(map[string]struct{}),
		topN:              topN,
		startTime:         time.Now(),
		now:               time.Now,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// Track records event directly. It makes the aggregator usable as the
// tracker when events are not routed through Kafka.
func (a *Aggregator) Track(event SearchEvent) {
	a.Record(event)
}

func (a *Aggregator) Record(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	if event.BuildID != "" {
		a.builds[event.BuildID] = struct{}{}
	}
	if event.Failed {
		a.failed++
		return
	}
	switch event.Cache {
	case "hit":
		a.cacheHits++
	case "miss":
		a.cacheMisses++
	}

	a.latencies[a.next] = event.LatencyMs
	a.next++
	if a.next == len(a.latencies) {
		a.next = 0
		a.filled = true
	}

	key := queryKey(event)
	if key == "" {
		return
	}
	bump(a.queryCounts, key)
	if event.TotalHits == 0 {
		a.zeroResults++
		bump(a.zeroResultQueries, key)
	}
}

func bump(counts map[string]int64, key string) {
	if _, ok := counts[key]; ok || len(counts) < maxDistinctQueries {
		counts[key]++
	}
}

// queryKey groups spellings that search for the same terms.
func queryKey(e SearchEvent) string {
	if len(e.Terms) > 0 {
		return strings.Join(e.Terms, " ")
	}
	return strings.ToLower(strings.TrimSpace(e.Query))
}

// HandleEvent decodes SearchEvents from Kafka. Undecodable messages are
// logged and skipped.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode search event", "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := AggregatedStats{
		TotalSearches:   a.total,
		FailedSearches:  a.failed,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ZeroResultCount: a.zeroResults,
	}
	n := a.next
	if a.filled {
		n = len(a.latencies)
	}
	if n > 0 {
		sorted := slices.Clone(a.latencies[:n])
		slices.Sort(sorted)
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(n)
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, a.topN)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, a.topN)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	stats.Builds = make([]string, 0, len(a.builds))
	for id := range a.builds {
		stats.Builds = append(stats.Builds, id)
	}
	slices.Sort(stats.Builds)
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	slices.SortFunc(result, func(x, y QueryCount) int {
		if c := cmp.Compare(y.Count, x.Count); c != 0 {
			return c
		}
		return strings.Compare(x.Query, y.Query)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
