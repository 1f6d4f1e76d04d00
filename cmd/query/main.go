// Command query runs one search against a built index and prints the
// ranked results.
//
// Exit status is 0 on success (including no results), 1 on usage or
// runtime errors and 2 when the index is missing or corrupt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/logger"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitIndex   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	indexDir := fs.String("index", "", "index directory (default indexer.indexDir)")
	query := fs.String("q", "", "query text")
	limit := fs.Int("n", 10, "maximum number of results")
	noSnippets := fs.Bool("no-snippets", false, "do not print snippets")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *query == "" && fs.NArg() > 0 {
		*query = fs.Arg(0)
	}
	if *query == "" {
		fmt.Fprintln(stderr, `usage: query -index <dir> -q "<text>" [-n 10]`)
		return exitFailure
	}
	if *limit < 0 {
		fmt.Fprintln(stderr, "query: -n must not be negative")
		return exitFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "query: loading config: %v\n", err)
		return exitFailure
	}
	logger.SetupWriter(stderr, cfg.Logging.Level, cfg.Logging.Format)
	if *indexDir == "" {
		*indexDir = cfg.Indexer.IndexDir
	}
	if *noSnippets {
		cfg.Search.Snippets = false
	}
	cfg.Search.MaxResults = max(cfg.Search.MaxResults, *limit)

	engine, err := executor.Open(ctx, cfg, *indexDir)
	if err != nil {
		fmt.Fprintf(stderr, "query: %v\n", err)
		if apperrors.IsIndexUnavailable(err) {
			return exitIndex
		}
		return exitFailure
	}
	defer engine.Close()

	res, err := engine.Search(ctx, *query, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "query: %v\n", err)
		if errors.Is(err, apperrors.ErrIndexCorrupt) {
			return exitIndex
		}
		return exitFailure
	}
	printResults(stdout, res)
	return exitOK
}

func printResults(w io.Writer, res *executor.SearchResult) {
	if len(res.Results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, r := range res.Results {
		fmt.Fprintf(w, "%d. %s (id %s, score %.4f)\n", i+1, r.Document.Title, r.Document.SourceID, r.Score)
		if r.Snippet != nil && r.Snippet.Text != "" {
			fmt.Fprintf(w, "   %s\n", r.Snippet.Mark("[", "]"))
		}
	}
	fmt.Fprintf(w, "%d of %d matching documents\n", len(res.Results), res.TotalHits)
}
