// Package indexer builds an inverted index from a Wikipedia dump. A single
// producer runs the streaming parser and feeds a bounded queue; a fixed pool
// of workers tokenises articles, assigns document ids and flushes term
// tallies into the sharded accumulators; the shards are then finalised in
// parallel and frozen into an immutable index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/wikitext"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/wikixml"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/tracing"
)

// BuildStats summarises one build. Articles counts what the parser
// returned; Skipped counts pages the parser dropped as malformed.
type BuildStats struct {
	Articles  int64
	Indexed   int64
	Skipped   int64
	Empty     int64
	Filtered  int64
	Failed    int64
	Resyncs   int64
	Truncated bool
	Terms     int
	Duration  time.Duration
}

// Builder runs one build at a time.
type Builder struct {
	cfg        config.IndexerConfig
	tok        *tokenizer.Tokenizer
	store      docstore.Writer
	metrics    *metrics.Metrics
	namespaces map[int]struct{}
	logger     *slog.Logger

	// beforeTokenize runs inside the worker's panic guard; tests use it.
	beforeTokenize func(*wikixml.RawArticle)
}

// NewBuilder returns a Builder. store may be nil, in which case article
// texts are not kept and results carry no snippets. m may be nil.
func NewBuilder(cfg config.IndexerConfig, tok *tokenizer.Tokenizer, store docstore.Writer, m *metrics.Metrics) *Builder {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.NumShards <= 0 {
		cfg.NumShards = shard.DefaultShards
	}
	if cfg.MaxArticleBytes <= 0 {
		cfg.MaxArticleBytes = 64 << 20
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 1 << 20
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 10 * time.Second
	}
	var ns map[int]struct{}
	if len(cfg.Namespaces) > 0 {
		ns = make(map[int]struct{}, len(cfg.Namespaces))
		for _, n := range cfg.Namespaces {
			ns[n] = struct{}{}
		}
	}
	return &Builder{
		cfg:        cfg,
		tok:        tok,
		store:      store,
		metrics:    m,
		namespaces: ns,
		logger:     slog.Default().With("component", "indexer"),
	}
}

// buildState is shared by the producer and the workers of one build.
type buildState struct {
	nextDoc atomic.Uint32
	docs    *index.DocTable
	router  *shard.Router
	queue   chan *wikixml.RawArticle

	articles  atomic.Int64
	indexed   atomic.Int64
	empty     atomic.Int64
	filtered  atomic.Int64
	failed    atomic.Int64
	offset    atomic.Int64
	truncated atomic.Bool
}

// prepared is an article after tokenisation, before it has a doc id.
type prepared struct {
	text   string
	tally  map[string]uint32
	length uint32
}

// Build consumes the whole dump from r and returns the frozen index. A dump
// that ends early at a recoverable point still yields an index, with
// BuildStats.Truncated set.
func (b *Builder) Build(ctx context.Context, r io.Reader) (*index.Index, *BuildStats, error) {
	start := time.Now()
	stats := &BuildStats{}

	parser := wikixml.NewParser(r, wikixml.Options{
		MaxArticleBytes: b.cfg.MaxArticleBytes,
		RecoveryWindow:  b.cfg.RecoveryWindow,
		Logger:          b.logger,
	})
	st := &buildState{
		docs:   index.NewDocTable(1024),
		router: shard.NewRouter(b.cfg.NumShards),
		queue:  make(chan *wikixml.RawArticle, b.cfg.QueueSize),
	}

	b.logger.Info("build started",
		"workers", b.cfg.Workers,
		"queue_size", b.cfg.QueueSize,
		"num_shards", b.cfg.NumShards,
	)

	ingestCtx, ingestSpan := tracing.StartChildSpan(ctx, "ingest")
	g, gctx := errgroup.WithContext(ingestCtx)
	g.Go(func() error {
		defer close(st.queue)
		return b.produce(gctx, parser, st)
	})
	for i := 0; i < b.cfg.Workers; i++ {
		g.Go(func() error {
			return b.work(gctx, st)
		})
	}

	stopProgress := b.reportProgress(st)
	err := g.Wait()
	stopProgress()
	ingestSpan.End()
	b.observePhase("ingest", ingestSpan.Duration)

	ps := parser.Stats()
	stats.Articles = st.articles.Load()
	stats.Indexed = st.indexed.Load()
	stats.Skipped = ps.Skipped
	stats.Empty = st.empty.Load()
	stats.Filtered = st.filtered.Load()
	stats.Failed = st.failed.Load()
	stats.Resyncs = ps.Resyncs
	stats.Truncated = st.truncated.Load()
	if b.metrics != nil {
		b.metrics.ArticlesSkippedTotal.WithLabelValues("malformed").Add(float64(ps.Skipped))
	}
	ingestSpan.SetAttr("articles", stats.Articles)
	ingestSpan.SetAttr("indexed", stats.Indexed)

	if err != nil {
		stats.Duration = time.Since(start)
		return nil, stats, err
	}
	if err := ctx.Err(); err != nil {
		stats.Duration = time.Since(start)
		return nil, stats, err
	}

	finaliseCtx, finaliseSpan := tracing.StartChildSpan(ctx, "finalise")
	n := st.nextDoc.Load()
	docs, err := st.docs.Freeze(n)
	if err != nil {
		finaliseSpan.End()
		return nil, stats, fmt.Errorf("freezing document table: %w", err)
	}
	idx, err := st.router.Freeze(finaliseCtx, docs, b.cfg.Workers)
	finaliseSpan.End()
	b.observePhase("finalise", finaliseSpan.Duration)
	if err != nil {
		return nil, stats, fmt.Errorf("freezing shards: %w", err)
	}

	stats.Terms = idx.NumTerms()
	stats.Duration = time.Since(start)
	finaliseSpan.SetAttr("terms", stats.Terms)
	if b.metrics != nil {
		b.metrics.IndexDocuments.Set(float64(idx.Stats().TotalDocuments))
		b.metrics.IndexTerms.Set(float64(stats.Terms))
	}
	b.logger.Info("build finished",
		"articles", stats.Articles,
		"indexed", stats.Indexed,
		"skipped", stats.Skipped,
		"empty", stats.Empty,
		"filtered", stats.Filtered,
		"failed", stats.Failed,
		"terms", stats.Terms,
		"avg_doc_length", idx.Stats().AverageDocumentLength,
		"truncated", stats.Truncated,
		"duration", stats.Duration,
	)
	return idx, stats, nil
}

// produce is the only goroutine touching the parser.
func (b *Builder) produce(ctx context.Context, parser *wikixml.Parser, st *buildState) error {
	for {
		article, err := parser.Next()
		if err != nil {
			var corrupt *wikixml.CorruptionError
			switch {
			case err == io.EOF:
				return nil
			case errors.As(err, &corrupt):
				return err
			case errors.Is(err, wikixml.ErrTruncated):
				b.logger.Warn("dump truncated, indexing what was received", "error", err, "offset", parser.Offset())
				st.truncated.Store(true)
				return nil
			default:
				return fmt.Errorf("parsing dump: %w", err)
			}
		}
		st.articles.Add(1)
		st.offset.Store(article.Offset)
		if b.metrics != nil {
			b.metrics.ArticlesParsedTotal.Inc()
		}
		select {
		case st.queue <- article:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Builder) work(ctx context.Context, st *buildState) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case article, ok := <-st.queue:
			if !ok {
				return nil
			}
			if err := b.index(ctx, article, st); err != nil {
				return err
			}
		}
	}
}

// index handles one article. Only failures that would leave the index
// inconsistent are returned; per-article problems are counted.
func (b *Builder) index(ctx context.Context, article *wikixml.RawArticle, st *buildState) error {
	p, ok := b.prepare(article, st)
	if !ok {
		return nil
	}

	docID := st.nextDoc.Add(1) - 1
	var ref index.TextRef
	if b.store != nil {
		var err error
		ref, err = b.store.Put(ctx, docID, p.text)
		if err != nil {
			return fmt.Errorf("storing text of %q: %w", article.Title, err)
		}
	}
	st.docs.Set(index.Document{
		ID:        docID,
		SourceID:  article.ID,
		Title:     article.Title,
		Length:    p.length,
		Namespace: int32(article.Namespace),
		Ref:       ref,
	})
	st.router.Add(docID, p.tally)
	st.indexed.Add(1)
	if b.metrics != nil {
		b.metrics.DocsIndexedTotal.Inc()
	}
	return nil
}

// prepare filters and tokenises an article. A panic here costs only the
// article.
func (b *Builder) prepare(article *wikixml.RawArticle, st *buildState) (p *prepared, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("worker panic on article",
				"page_id", article.ID,
				"title", article.Title,
				"offset", article.Offset,
				"panic", r,
			)
			st.failed.Add(1)
			b.skipped("failed")
			p, ok = nil, false
		}
	}()

	if b.namespaces != nil {
		if _, keep := b.namespaces[article.Namespace]; !keep {
			st.filtered.Add(1)
			b.skipped("namespace")
			return nil, false
		}
	}
	if b.beforeTokenize != nil {
		b.beforeTokenize(article)
	}

	text := article.Body
	if b.cfg.StripMarkup {
		text = wikitext.Plain(text)
	}
	tally := make(map[string]uint32)
	var length uint32
	if b.cfg.IndexTitle {
		for _, term := range b.tok.Terms(article.Title) {
			tally[term]++
			length++
		}
	}
	for _, term := range b.tok.Terms(text) {
		tally[term]++
		length++
	}
	if length == 0 {
		st.empty.Add(1)
		b.skipped("empty")
		b.logger.Debug("article has no terms", "page_id", article.ID, "title", article.Title)
		return nil, false
	}
	return &prepared{text: text, tally: tally, length: length}, true
}

func (b *Builder) skipped(reason string) {
	if b.metrics != nil {
		b.metrics.ArticlesSkippedTotal.WithLabelValues(reason).Inc()
	}
}

func (b *Builder) observePhase(phase string, d time.Duration) {
	if b.metrics != nil {
		b.metrics.BuildPhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
	}
}

// reportProgress logs counters every ProgressInterval until the returned
// stop function is called.
func (b *Builder) reportProgress(st *buildState) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(b.cfg.ProgressInterval)
		defer ticker.Stop()
		start := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				depth := len(st.queue)
				if b.metrics != nil {
					b.metrics.IndexQueueDepth.Set(float64(depth))
				}
				indexed := st.indexed.Load()
				b.logger.Info("indexing progress",
					"articles", st.articles.Load(),
					"indexed", indexed,
					"terms", st.router.Terms(),
					"queue_depth", depth,
					"offset", st.offset.Load(),
					"docs_per_sec", float64(indexed)/time.Since(start).Seconds(),
				)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
		if b.metrics != nil {
			b.metrics.IndexQueueDepth.Set(0)
		}
	}
}
