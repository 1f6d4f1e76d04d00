package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/reload"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	indexDir := flag.String("index", "", "index directory (default indexer.indexDir)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *indexDir != "" {
		cfg.Indexer.IndexDir = *indexDir
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "index_dir", cfg.Indexer.IndexDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics, err := metrics.StartServer(cfg.Metrics.Port)
		if err != nil {
			slog.Warn("metrics disabled", "error", err)
		} else {
			defer shutdownMetrics(context.Background())
		}
	}

	live := executor.NewLive(nil, cfg.Search.RetireDelay)
	defer live.Close()

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			queryCache.SetComputeTimeout(cfg.Server.RequestTimeout)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	reloader := reload.New(cfg, live, queryCache, m)
	if err := reloader.Reload(ctx, cfg.Indexer.IndexDir); err != nil {
		if !errors.Is(err, apperrors.ErrIndexNotFound) {
			slog.Error("failed to load index", "error", err)
			os.Exit(2)
		}
		slog.Warn("no index yet, waiting for a build", "dir", cfg.Indexer.IndexDir)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := reloader.Reload(ctx, cfg.Indexer.IndexDir); err != nil {
					slog.Error("reload on SIGHUP failed", "error", err)
				}
			}
		}
	}()

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(replicaGroup(cfg.Kafka, "reload"), cfg.Kafka.Topics.IndexComplete, reloader.HandleMessage())
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("index-complete consumer stopped", "error", err)
			}
		}()
		slog.Info("following index builds", "topic", cfg.Kafka.Topics.IndexComplete)
	}

	var aggregator *analytics.Aggregator
	var tracker analytics.Tracker
	if cfg.Analytics.Enabled {
		aggregator = analytics.NewAggregator(cfg.Analytics)
		tracker = aggregator
		if cfg.Kafka.Enabled {
			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
			defer producer.Close()
			collector := analytics.NewCollector(producer, cfg.Analytics.BufferSize)
			collector.Start(ctx)
			defer collector.Close()
			tracker = collector

			consumer := kafka.NewConsumer(replicaGroup(cfg.Kafka, "analytics"), cfg.Kafka.Topics.SearchEvents, analytics.HandleEvent(aggregator))
			go func() {
				if err := consumer.Start(ctx); err != nil {
					slog.Error("search-events consumer stopped", "error", err)
				}
			}()
		}
		slog.Info("search analytics enabled", "kafka", cfg.Kafka.Enabled)
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		st, err := live.Stats()
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("build %s, %d documents", st.BuildID, st.Documents),
		}
	})
	if redisClient != nil {
		checker.Register("redis", health.FromError(false, redisClient.Ping))
	}

	h := handler.New(live, queryCache, m, cfg.Search.DefaultLimit, cfg.Search.MaxResults)
	if tracker != nil {
		h.WithTracker(tracker)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	if aggregator != nil {
		analytics.NewHandler(aggregator).Register(mux)
	}
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewLimiter(cfg.RateLimit)
		chain = middleware.RateLimit(limiter, m)(chain)
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					limiter.Sweep(now)
				}
			}
		}()
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

// replicaGroup gives each replica its own consumer group so that every
// replica sees every message on broadcast topics.
func replicaGroup(cfg config.KafkaConfig, purpose string) config.KafkaConfig {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = fmt.Sprintf("pid%d", os.Getpid())
	}
	cfg.ConsumerGroup = fmt.Sprintf("%s-%s-%s", cfg.ConsumerGroup, purpose, host)
	return cfg
}
