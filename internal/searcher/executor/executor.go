// Package executor runs free-text queries against a loaded index: it
// tokenises the query, scores matching documents with BM25, keeps the top
// results and attaches snippets from the document store.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/snippet"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
)

// Summary is the part of a document returned with a result.
type Summary struct {
	ID       uint32 `json:"id"`
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	Length   uint32 `json:"length"`
}

type Result struct {
	Document Summary          `json:"document"`
	Score    float64          `json:"score"`
	Snippet  *snippet.Snippet `json:"snippet,omitempty"`
}

type SearchResult struct {
	Query     string            `json:"query"`
	Terms     []string          `json:"terms"`
	TotalHits int               `json:"total_hits"`
	Results   []Result          `json:"results"`
	TermStats map[string]uint32 `json:"term_stats"`
}

// Stats describes the index an Engine serves.
type Stats struct {
	BuildID               string  `json:"build_id"`
	Documents             uint32  `json:"documents"`
	Terms                 int     `json:"terms"`
	TotalTokens           uint64  `json:"total_tokens"`
	AverageDocumentLength float64 `json:"average_document_length"`
	PostingsBytes         int64   `json:"postings_bytes"`
}

// Engine is safe for concurrent use. It only reads from the index.
type Engine struct {
	idx     *index.Index
	texts   docstore.Reader
	tok     *tokenizer.Tokenizer
	cfg     config.SearchConfig
	params  ranker.Params
	buildID string
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error

	refMu    sync.Mutex
	refs     int
	retiring bool
	released bool
}

// New wraps an index. texts may be nil, in which case results carry no
// snippets.
func New(idx *index.Index, texts docstore.Reader, tok *tokenizer.Tokenizer, cfg config.SearchConfig) *Engine {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = config.Default().Search.MaxResults
	}
	if cfg.SnippetWidth <= 0 {
		cfg.SnippetWidth = snippet.DefaultWidth
	}
	return &Engine{
		idx:    idx,
		texts:  texts,
		tok:    tok,
		cfg:    cfg,
		params: ranker.NewParams(cfg, idx.Stats()),
		logger: slog.Default().With("component", "query-engine"),
	}
}

// Open loads the committed index in dir together with the tokenizer it
// was built with and its document store.
func Open(ctx context.Context, cfg *config.Config, dir string) (*Engine, error) {
	idx, m, err := segment.Load(dir)
	if err != nil {
		return nil, err
	}
	var texts docstore.Reader
	if cfg.Search.Snippets && m.Store.Backend != "" {
		texts, err = docstore.Open(ctx, cfg, m.Store, dir)
		if err != nil {
			idx.Close()
			return nil, fmt.Errorf("opening document store: %w", err)
		}
	}
	e := New(idx, texts, tokenizer.New(m.Tokenizer), cfg.Search)
	e.buildID = m.BuildID
	e.logger.Info("index opened",
		"dir", dir,
		"build_id", m.BuildID,
		"documents", m.Stats.Documents,
		"terms", m.Stats.Terms,
		"store", m.Store.Backend,
	)
	return e, nil
}

func (e *Engine) BuildID() string { return e.buildID }

func (e *Engine) Tokenizer() *tokenizer.Tokenizer { return e.tok }

func (e *Engine) Stats() Stats {
	st := e.idx.Stats()
	return Stats{
		BuildID:               e.buildID,
		Documents:             st.TotalDocuments,
		Terms:                 e.idx.NumTerms(),
		TotalTokens:           st.TotalTokens,
		AverageDocumentLength: st.AverageDocumentLength,
		PostingsBytes:         e.idx.PostingsSize(),
	}
}

// Search returns up to maxResults documents matching any term of query,
// best first. Unknown terms contribute nothing, and a query with no known
// terms gives an empty result rather than an error. maxResults of zero
// only looks the terms up; negative values are rejected.
func (e *Engine) Search(ctx context.Context, query string, maxResults int) (*SearchResult, error) {
	if maxResults < 0 {
		return nil, fmt.Errorf("%w: max results %d", apperrors.ErrInvalidInput, maxResults)
	}
	maxResults = min(maxResults, e.cfg.MaxResults)

	plan := parser.Parse(e.tok, query)
	result := &SearchResult{
		Query:     query,
		Terms:     plan.Terms,
		Results:   make([]Result, 0),
		TermStats: make(map[string]uint32),
	}
	var entries []index.LexEntry
	for _, term := range plan.Terms {
		entry, ok := e.idx.Lookup(term)
		if !ok {
			continue
		}
		result.TermStats[term] = entry.DocFreq
		entries = append(entries, entry)
	}
	if maxResults == 0 || len(entries) == 0 {
		return result, nil
	}

	scores := ranker.NewScores()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		postings, err := e.idx.Postings(entry)
		if err != nil {
			return nil, fmt.Errorf("reading postings of %q: %w", entry.Term, err)
		}
		e.params.Accumulate(scores, postings, e.docLength)
	}
	result.TotalHits = scores.Len()

	top := merger.NewTopK(maxResults)
	scores.Each(func(d ranker.ScoredDoc) { top.Offer(d) })

	for _, scored := range top.Results() {
		doc, _ := e.idx.Document(scored.DocID)
		r := Result{Document: summarize(doc), Score: scored.Score}
		r.Snippet = e.snippet(ctx, doc, plan.Terms)
		result.Results = append(result.Results, r)
	}

	e.logger.Debug("query executed",
		"query", query,
		"terms", plan.Terms,
		"candidates", result.TotalHits,
		"results", len(result.Results),
	)
	return result, nil
}

func (e *Engine) docLength(id uint32) uint32 {
	doc, _ := e.idx.Document(id)
	return doc.Length
}

func (e *Engine) snippet(ctx context.Context, doc index.Document, terms []string) *snippet.Snippet {
	if e.texts == nil || !e.cfg.Snippets {
		return nil
	}
	text, err := e.texts.Get(ctx, doc.ID, doc.Ref)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			e.logger.Warn("reading document text failed", "doc_id", doc.ID, "title", doc.Title, "error", err)
		}
		return nil
	}
	s := snippet.Extract(e.tok, text, terms, e.cfg.SnippetWidth)
	return &s
}

// DocumentView is a single document with its stored text.
type DocumentView struct {
	Summary
	Text string `json:"text,omitempty"`
}

// Document returns document id. The text is empty when no store is open.
func (e *Engine) Document(ctx context.Context, id uint32) (*DocumentView, error) {
	doc, ok := e.idx.Document(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", apperrors.ErrDocumentNotFound, id)
	}
	view := &DocumentView{Summary: summarize(doc)}
	if e.texts == nil {
		return view, nil
	}
	text, err := e.texts.Get(ctx, doc.ID, doc.Ref)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("reading text of document %d: %w", id, err)
	default:
		view.Text = text
	}
	return view, nil
}

func summarize(doc index.Document) Summary {
	return Summary{ID: doc.ID, SourceID: doc.SourceID, Title: doc.Title, Length: doc.Length}
}

// Retain takes a reference that keeps e open after it has been retired.
// It reports false once a retired e has been closed.
func (e *Engine) Retain() bool {
	e.refMu.Lock()
	defer e.refMu.Unlock()
	if e.released {
		return false
	}
	e.refs++
	return true
}

// Release drops a reference taken by Retain.
func (e *Engine) Release() {
	e.refMu.Lock()
	e.refs--
	closeNow := e.refs == 0 && e.retiring && !e.released
	if closeNow {
		e.released = true
	}
	e.refMu.Unlock()
	if closeNow {
		e.closeRetired()
	}
}

// retire closes e as soon as no reference is held.
func (e *Engine) retire() {
	e.refMu.Lock()
	e.retiring = true
	closeNow := e.refs == 0 && !e.released
	if closeNow {
		e.released = true
	}
	refs := e.refs
	e.refMu.Unlock()
	if closeNow {
		e.closeRetired()
		return
	}
	e.logger.Info("retired index still in use", "build_id", e.buildID, "searches", refs)
}

func (e *Engine) closeRetired() {
	if err := e.Close(); err != nil {
		e.logger.Error("closing retired index failed", "build_id", e.buildID, "error", err)
		return
	}
	e.logger.Info("retired index closed", "build_id", e.buildID)
}

// Close releases the index file and the document store. Searches must not
// be running.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.idx.Close()
		if e.texts != nil {
			if err := e.texts.Close(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
	})
	return e.closeErr
}
