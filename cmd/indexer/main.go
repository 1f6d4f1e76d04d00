package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	dumpPath := flag.String("dump", "", "path to the XML dump (.xml, .bz2, .gz, .zst), or - for stdin")
	outDir := flag.String("out", "", "output index directory (default indexer.indexDir)")
	workers := flag.Int("workers", 0, "number of indexing workers (default indexer.workers)")
	verify := flag.Bool("verify", false, "verify the whole index before committing it")
	flag.Parse()

	if *dumpPath == "" {
		fmt.Fprintln(os.Stderr, "usage: indexer -dump <path> [-out <dir>] [-config <file>] [-workers n] [-verify]")
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Indexer.Workers = *workers
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		shutdown, err := metrics.StartServer(cfg.Metrics.Port)
		if err != nil {
			slog.Warn("metrics disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				shutdown(shutdownCtx)
			}()
		}
	}

	opts := indexer.RunOptions{
		Config:  cfg,
		Dump:    *dumpPath,
		Out:     *outDir,
		Verify:  *verify,
		Metrics: m,
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		opts.Publisher = producer
	}

	slog.Info("starting index build",
		"dump", *dumpPath,
		"workers", cfg.Indexer.Workers,
		"shards", cfg.Indexer.NumShards,
		"store", cfg.Store.Backend,
	)
	res, err := indexer.Run(ctx, opts)
	if err != nil {
		slog.Error("index build failed", "error", err)
		fmt.Fprintf(os.Stderr, "indexer: %v\n", err)
		stop()
		os.Exit(1)
	}

	st := res.Stats
	fmt.Fprintf(os.Stderr, "indexed %d of %d articles (%d skipped, %d empty, %d filtered, %d failed) into %s in %s\n",
		st.Indexed, st.Articles, st.Skipped, st.Empty, st.Filtered, st.Failed, res.Dir, st.Duration.Round(time.Millisecond))
	for _, ph := range res.Phases {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", ph.Name, ph.Duration.Round(time.Millisecond))
	}
	if st.Truncated {
		fmt.Fprintln(os.Stderr, "warning: dump was truncated; the index holds every complete article before the cut")
	}
}
