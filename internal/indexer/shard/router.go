// Package shard partitions the term space of a build into independently
// locked accumulators. Terms are routed by farmhash so that contention is
// bounded by the shard count, not by the number of distinct terms.
package shard

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	farmhash "github.com/leemcloughlin/gofarmhash"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
)

const DefaultShards = 64

// Router owns one accumulator per shard plus the build-wide term id
// counter.
type Router struct {
	shards    []*index.Accumulator
	numShards int
	nextTerm  atomic.Uint32
	logger    *slog.Logger
}

func NewRouter(numShards int) *Router {
	if numShards <= 0 {
		numShards = DefaultShards
	}
	r := &Router{
		shards:    make([]*index.Accumulator, numShards),
		numShards: numShards,
		logger:    slog.Default().With("component", "shard-router"),
	}
	for i := range r.shards {
		r.shards[i] = index.NewAccumulator()
	}
	return r
}

// ShardFor returns the shard that owns term.
func ShardFor(term string, numShards int) int {
	return int(farmhash.Hash32WithSeed([]byte(term), 0) % uint32(numShards))
}

func (r *Router) NumShards() int {
	return r.numShards
}

// Terms reports how many distinct terms have been seen so far.
func (r *Router) Terms() uint32 {
	return r.nextTerm.Load()
}

// Add flushes one document's term tally. Terms are grouped by shard so each
// shard lock is taken at most once per document.
func (r *Router) Add(docID uint32, tally map[string]uint32) {
	groups := make(map[int][]index.TermFreq, min(len(tally), r.numShards))
	for term, tf := range tally {
		s := ShardFor(term, r.numShards)
		groups[s] = append(groups[s], index.TermFreq{Term: term, Freq: tf})
	}
	for s, tfs := range groups {
		r.shards[s].Add(docID, tfs, r.newTermID)
	}
}

func (r *Router) newTermID() uint32 {
	return r.nextTerm.Add(1) - 1
}

// Freeze finalises every shard in parallel and assembles the index over
// docs. The router must not be used afterwards.
func (r *Router) Freeze(ctx context.Context, docs []index.Document, parallelism int) (*index.Index, error) {
	start := time.Now()
	frozen := make([][]index.FrozenTerm, r.numShards)

	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, acc := range r.shards {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			terms, err := acc.Finalize()
			if err != nil {
				return fmt.Errorf("finalising shard %d: %w", i, err)
			}
			frozen[i] = terms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, terms := range frozen {
		total += len(terms)
	}
	all := make([]index.FrozenTerm, 0, total)
	for i := range frozen {
		all = append(all, frozen[i]...)
		frozen[i] = nil
	}
	idx, err := index.Assemble(docs, all)
	if err != nil {
		return nil, fmt.Errorf("assembling index: %w", err)
	}
	r.logger.Info("shards frozen",
		"num_shards", r.numShards,
		"terms", idx.NumTerms(),
		"documents", len(docs),
		"duration", time.Since(start),
	)
	return idx, nil
}
