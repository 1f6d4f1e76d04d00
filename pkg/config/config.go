// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Indexer, Tokenizer, Search, Store, Postgres, Kafka, Redis, etc.).
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Search    SearchConfig    `yaml:"search"`
	Store     StoreConfig     `yaml:"store"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// CORSOrigins lists browser origins allowed to call the API; "*" allows
	// any. Empty disables CORS headers.
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// IndexerConfig controls the build pipeline: worker pool size, queue depth,
// shard count and the parser limits.
type IndexerConfig struct {
	IndexDir         string        `yaml:"indexDir"`
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queueSize"`
	NumShards        int           `yaml:"numShards"`
	MaxArticleBytes  int           `yaml:"maxArticleBytes"`
	RecoveryWindow   int           `yaml:"recoveryWindow"`
	Namespaces       []int         `yaml:"namespaces"`
	IndexTitle       bool          `yaml:"indexTitle"`
	StripMarkup      bool          `yaml:"stripMarkup"`
	ProgressInterval time.Duration `yaml:"progressInterval"`
}

// TokenizerConfig describes the normalisation pipeline. It is persisted in
// the index manifest so queries are tokenised exactly like the corpus.
type TokenizerConfig struct {
	Lowercase      bool `yaml:"lowercase"`
	FoldAccents    bool `yaml:"foldAccents"`
	StopWords      bool `yaml:"stopWords"`
	Stem           bool `yaml:"stem"`
	MinTokenLength int  `yaml:"minTokenLength"`
	MaxTokenLength int  `yaml:"maxTokenLength"`
}

// SearchConfig controls query execution, ranking and snippets.
type SearchConfig struct {
	DefaultLimit int           `yaml:"defaultLimit"`
	MaxResults   int           `yaml:"maxResults"`
	K1           float64       `yaml:"k1"`
	B            float64       `yaml:"b"`
	SnippetWidth int           `yaml:"snippetWidth"`
	Snippets     bool          `yaml:"snippets"`
	RetireDelay  time.Duration `yaml:"retireDelay"`
}

// StoreConfig selects where article text is kept for snippet extraction.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Table   string `yaml:"table"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexComplete string `yaml:"indexComplete"`
	SearchEvents  string `yaml:"searchEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// RateLimitConfig bounds per-client request rates on the search API.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// AnalyticsConfig controls query analytics on the search service. When Kafka
// is enabled events are published to the searchEvents topic and aggregated
// from it, so every replica reports the same numbers.
type AnalyticsConfig struct {
	Enabled       bool `yaml:"enabled"`
	BufferSize    int  `yaml:"bufferSize"`
	LatencyWindow int  `yaml:"latencyWindow"`
	TopQueries    int  `yaml:"topQueries"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for a local build over a
// full English dump.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Indexer: IndexerConfig{
			IndexDir:         "data/index",
			Workers:          runtime.NumCPU(),
			QueueSize:        256,
			NumShards:        64,
			MaxArticleBytes:  64 << 20,
			RecoveryWindow:   1 << 20,
			IndexTitle:       true,
			StripMarkup:      true,
			ProgressInterval: 10 * time.Second,
		},
		Tokenizer: DefaultTokenizer(),
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxResults:   100,
			K1:           1.2,
			B:            0.75,
			SnippetWidth: 160,
			Snippets:     true,
			RetireDelay:  30 * time.Second,
		},
		Store: StoreConfig{
			Backend: "file",
			Table:   "articles",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "wikisearch",
			User:            "wikisearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "wikisearch-searcher",
			Topics: KafkaTopics{
				IndexComplete: "index.complete",
				SearchEvents:  "search.events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Analytics: AnalyticsConfig{
			Enabled:       true,
			BufferSize:    10000,
			LatencyWindow: 10000,
			TopQueries:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// DefaultTokenizer is the pipeline used when no tokenizer section is given.
func DefaultTokenizer() TokenizerConfig {
	return TokenizerConfig{
		Lowercase:      true,
		FoldAccents:    true,
		StopWords:      true,
		Stem:           true,
		MinTokenLength: 2,
		MaxTokenLength: 64,
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Indexer.Workers < 1 {
		return fmt.Errorf("indexer.workers must be >= 1, got %d", c.Indexer.Workers)
	}
	if c.Indexer.QueueSize < 1 {
		return fmt.Errorf("indexer.queueSize must be >= 1, got %d", c.Indexer.QueueSize)
	}
	if c.Indexer.NumShards < 1 {
		return fmt.Errorf("indexer.numShards must be >= 1, got %d", c.Indexer.NumShards)
	}
	if c.Tokenizer.MinTokenLength < 1 || c.Tokenizer.MaxTokenLength < c.Tokenizer.MinTokenLength {
		return fmt.Errorf("tokenizer length bounds invalid: min=%d max=%d",
			c.Tokenizer.MinTokenLength, c.Tokenizer.MaxTokenLength)
	}
	if c.Search.K1 < 0 || c.Search.B < 0 || c.Search.B > 1 {
		return fmt.Errorf("bm25 parameters out of range: k1=%g b=%g", c.Search.K1, c.Search.B)
	}
	switch c.Store.Backend {
	case "file", "badger", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// applyEnvOverrides reads WS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WS_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("WS_INDEX_DIR"); v != "" {
		cfg.Indexer.IndexDir = v
	}
	if v := os.Getenv("WS_INDEXER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.Workers = n
		}
	}
	if v := os.Getenv("WS_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("WS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("WS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("WS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("WS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("WS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("WS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("WS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("WS_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("WS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("WS_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WS_ANALYTICS_ENABLED"); v != "" {
		cfg.Analytics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
