package executor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
)

// Live holds the engine currently serving queries. Swap installs a new
// one; the previous engine stays open for the retire delay, then closes
// once the last search holding it has released it.
type Live struct {
	current atomic.Pointer[Engine]
	delay   time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	retired []retiree
}

type retiree struct {
	engine *Engine
	timer  *time.Timer
}

func NewLive(e *Engine, retireDelay time.Duration) *Live {
	l := &Live{
		delay:  retireDelay,
		logger: slog.Default().With("component", "live-index"),
	}
	if e != nil {
		l.current.Store(e)
	}
	return l
}

// Current returns the serving engine, or nil before the first index is
// installed.
func (l *Live) Current() *Engine {
	return l.current.Load()
}

// Swap installs e and schedules the previous engine for closing.
func (l *Live) Swap(e *Engine) {
	old := l.current.Swap(e)
	if old == nil || old == e {
		return
	}
	l.logger.Info("index swapped", "old_build_id", old.BuildID(), "new_build_id", e.BuildID(), "retire_in", l.delay)
	l.mu.Lock()
	defer l.mu.Unlock()
	timer := time.AfterFunc(l.delay, old.retire)
	l.retired = append(l.retired, retiree{engine: old, timer: timer})
}

// Acquire returns the serving engine with a reference held. The caller
// must Release it.
func (l *Live) Acquire() (*Engine, error) {
	for {
		e := l.Current()
		if e == nil {
			return nil, apperrors.ErrNotReady
		}
		if e.Retain() {
			return e, nil
		}
		// e was swapped out and closed after Current loaded it
	}
}

func (l *Live) Search(ctx context.Context, query string, maxResults int) (*SearchResult, error) {
	e, err := l.Acquire()
	if err != nil {
		return nil, err
	}
	defer e.Release()
	return e.Search(ctx, query, maxResults)
}

func (l *Live) Document(ctx context.Context, id uint32) (*DocumentView, error) {
	e, err := l.Acquire()
	if err != nil {
		return nil, err
	}
	defer e.Release()
	return e.Document(ctx, id)
}

func (l *Live) Stats() (Stats, error) {
	e, err := l.Acquire()
	if err != nil {
		return Stats{}, err
	}
	defer e.Release()
	return e.Stats(), nil
}

// BuildID is the build of the serving engine, or "" when none is loaded.
func (l *Live) BuildID() string {
	if e := l.Current(); e != nil {
		return e.BuildID()
	}
	return ""
}

// Close closes the current engine and every engine still waiting to be
// retired.
func (l *Live) Close() error {
	l.mu.Lock()
	retired := l.retired
	l.retired = nil
	l.mu.Unlock()

	var first error
	for _, r := range retired {
		if r.timer.Stop() {
			if err := r.engine.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	if e := l.current.Swap(nil); e != nil {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
