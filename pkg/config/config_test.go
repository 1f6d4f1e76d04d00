package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Indexer.NumShards)
	assert.Equal(t, 1.2, cfg.Search.K1)
	assert.Equal(t, 0.75, cfg.Search.B)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, 2, cfg.Tokenizer.MinTokenLength)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
indexer:
  workers: 3
  queueSize: 8
  namespaces: [0, 14]
tokenizer:
  stopWords: false
  stem: false
search:
  k1: 1.5
  retireDelay: 2s
store:
  backend: sqlite
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("WS_INDEXER_WORKERS", "5")
	t.Setenv("WS_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Indexer.Workers)
	assert.Equal(t, 8, cfg.Indexer.QueueSize)
	assert.Equal(t, []int{0, 14}, cfg.Indexer.Namespaces)
	assert.False(t, cfg.Tokenizer.Stem)
	assert.True(t, cfg.Tokenizer.Lowercase, "unset keys keep their defaults")
	assert.Equal(t, 1.5, cfg.Search.K1)
	assert.Equal(t, 2*time.Second, cfg.Search.RetireDelay)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]func(*Config){
		"workers": func(c *Config) { c.Indexer.Workers = 0 },
		"shards":  func(c *Config) { c.Indexer.NumShards = 0 },
		"lengths": func(c *Config) { c.Tokenizer.MaxTokenLength = 1 },
		"b":       func(c *Config) { c.Search.B = 1.5 },
		"backend": func(c *Config) { c.Store.Backend = "s3" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
