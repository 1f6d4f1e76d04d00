package indexer

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/kafka"
)

// IndexCompleteEvent is published once a build has been committed. The
// searcher reloads IndexDir when it sees one.
type IndexCompleteEvent struct {
	BuildID     string    `json:"build_id"`
	IndexDir    string    `json:"index_dir"`
	Documents   uint32    `json:"documents"`
	Terms       int       `json:"terms"`
	Truncated   bool      `json:"truncated"`
	CompletedAt time.Time `json:"completed_at"`
}

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

func publishComplete(ctx context.Context, p EventPublisher, ev IndexCompleteEvent) error {
	return p.Publish(ctx, kafka.Event{Key: ev.BuildID, Value: ev})
}
