// Package analytics aggregates search traffic: query volume, latency
// percentiles, cache effectiveness, and the queries that find nothing.
package analytics

import "time"

// SearchEvent describes one completed search request.
type SearchEvent struct {
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	Cache     string    `json:"cache"`
	Failed    bool      `json:"failed,omitempty"`
	BuildID   string    `json:"build_id"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker receives search events. Track must not block.
type Tracker interface {
	Track(event SearchEvent)
}
