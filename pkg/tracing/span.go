// Package tracing provides a lightweight span tree that travels in a
// context. The indexer times its build phases with it; the tree is logged
// when the build ends and the phase timings are reported to the caller.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

// Span is one timed operation. Its fields are read only after End.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any

	mu    sync.Mutex
	ended bool
}

// Phase is the timing of one direct child of a span.
type Phase struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

func newSpan(name, traceID string) *Span {
	return &Span{Name: name, TraceID: traceID, StartTime: time.Now(), Attrs: make(map[string]any)}
}

// StartSpan creates a root span. An empty traceID gets a random one.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	s := newSpan(name, traceID)
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan creates a child of the span in ctx. Without a parent the
// child is detached and only its own timing is kept.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		s := newSpan(name, "")
		return context.WithValue(ctx, spanKey{}, s), s
	}
	s := newSpan(name, parent.TraceID)
	parent.mu.Lock()
	parent.Children = append(parent.Children, s)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, s), s
}

// End stops the clock. Only the first call has an effect.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// Phases lists the ended direct children in start order.
func (s *Span) Phases() []Phase {
	s.mu.Lock()
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()

	var out []Phase
	for _, c := range children {
		c.mu.Lock()
		if c.ended {
			out = append(out, Phase{Name: c.Name, Duration: c.Duration})
		}
		c.mu.Unlock()
	}
	return out
}

func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// Log writes the span tree to logger, or slog.Default when nil, one record
// per span, depth first.
func (s *Span) Log(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.log(logger, 0)
}

func (s *Span) log(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := make([]any, 0, 8+2*len(s.Attrs))
	attrs = append(attrs,
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	)
	for k, v := range s.Attrs {
		attrs = append(attrs, k, v)
	}
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()

	logger.Info("span", attrs...)
	for _, c := range children {
		c.log(logger, depth+1)
	}
}
