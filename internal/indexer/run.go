package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/source"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/tracing"
)

type RunOptions struct {
	Config *config.Config
	// Dump is the dump path, or "-" for stdin.
	Dump string
	// Out is the final index directory. Empty means Config.Indexer.IndexDir.
	Out string
	// Verify re-reads the whole staged index before committing it.
	Verify    bool
	Metrics   *metrics.Metrics
	Publisher EventPublisher
}

type RunResult struct {
	BuildID  string
	Dir      string
	Stats    *BuildStats
	Manifest *segment.Manifest
	Report   *segment.VerifyReport
	// Phases times the ingest, finalise and persist stages.
	Phases []tracing.Phase
}

// Run performs a complete build: it stages an output directory next to the
// final one, builds the index into it with its document store, persists the
// segment and manifest, and commits. Any failure removes the staged output
// and leaves an existing index at Out untouched.
func Run(ctx context.Context, opts RunOptions) (res *RunResult, err error) {
	cfg := opts.Config
	out := opts.Out
	if out == "" {
		out = cfg.Indexer.IndexDir
	}
	buildID := uuid.NewString()
	logger := slog.Default().With("component", "indexer", "build_id", buildID)

	ctx, span := tracing.StartSpan(ctx, "index-build", buildID)
	defer func() {
		span.End()
		span.SetAttr("ok", err == nil)
		span.Log(logger)
	}()

	stream, err := source.Open(opts.Dump)
	if err != nil {
		return nil, fmt.Errorf("opening dump: %w", err)
	}
	defer stream.Close()
	logger.Info("dump opened", "path", opts.Dump, "codec", stream.Codec, "size", stream.Size)

	stage, err := segment.Stage(out, buildID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if aerr := stage.Abort(); aerr != nil {
				logger.Error("removing staged output failed", "dir", stage.Dir, "error", aerr)
			}
		}
	}()

	store, desc, err := docstore.Create(ctx, cfg, stage.Dir, buildID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if d, ok := store.(docstore.Discarder); ok && err != nil {
			dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if derr := d.Discard(dctx); derr != nil {
				logger.Warn("discarding stored texts failed", "error", derr)
			}
		}
	}()

	builder := NewBuilder(cfg.Indexer, tokenizer.New(cfg.Tokenizer), store, opts.Metrics)
	idx, stats, err := builder.Build(ctx, stream)
	if cerr := store.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing document store: %w", cerr)
	}
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	_, persistSpan := tracing.StartChildSpan(ctx, "persist")
	defer persistSpan.End()
	if err = segment.Write(stage.Dir, idx); err != nil {
		return nil, fmt.Errorf("writing segment: %w", err)
	}
	manifest := segment.NewManifest(buildID, opts.Dump, idx, cfg.Tokenizer, desc)
	manifest.Build = stats.summary(builder.cfg.Workers)
	if err = segment.WriteManifest(stage.Dir, manifest); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	persistSpan.End()
	builder.observePhase("persist", persistSpan.Duration)

	res = &RunResult{BuildID: buildID, Dir: out, Stats: stats, Manifest: manifest, Phases: span.Phases()}
	if opts.Verify {
		if res.Report, err = segment.Verify(stage.Dir); err != nil {
			return nil, fmt.Errorf("verifying staged index: %w", err)
		}
		logger.Info("index verified", "terms", res.Report.Terms, "postings", res.Report.Postings)
	}
	if err = stage.Commit(); err != nil {
		return nil, err
	}

	if opts.Publisher != nil {
		abs, aerr := filepath.Abs(out)
		if aerr != nil {
			abs = out
		}
		ev := IndexCompleteEvent{
			BuildID:     buildID,
			IndexDir:    abs,
			Documents:   idx.Stats().TotalDocuments,
			Terms:       idx.NumTerms(),
			Truncated:   stats.Truncated,
			CompletedAt: time.Now().UTC(),
		}
		if perr := publishComplete(ctx, opts.Publisher, ev); perr != nil {
			logger.Warn("index committed but completion event not published", "error", perr)
		}
	}
	return res, nil
}

func (s *BuildStats) summary(workers int) segment.BuildSummary {
	return segment.BuildSummary{
		Articles:  s.Articles,
		Indexed:   s.Indexed,
		Skipped:   s.Skipped,
		Empty:     s.Empty,
		Filtered:  s.Filtered,
		Failed:    s.Failed,
		Truncated: s.Truncated,
		Workers:   workers,
		Duration:  s.Duration,
	}
}
