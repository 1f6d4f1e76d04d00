package reload

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Indexer.Workers = 1
	cfg.Tokenizer = config.TokenizerConfig{Lowercase: true, MinTokenLength: 2, MaxTokenLength: 64}
	cfg.Search.RetireDelay = time.Millisecond
	return cfg
}

func build(t *testing.T, cfg *config.Config, body string) (string, string) {
	t.Helper()
	tmp := t.TempDir()
	dumpPath := filepath.Join(tmp, "dump.xml")
	doc := "<mediawiki><page><title>Page</title><ns>0</ns><id>1</id><revision><text>" + body + "</text></revision></page></mediawiki>"
	require.NoError(t, os.WriteFile(dumpPath, []byte(doc), 0o644))
	out := filepath.Join(tmp, "index")
	res, err := indexer.Run(context.Background(), indexer.RunOptions{Config: cfg, Dump: dumpPath, Out: out})
	require.NoError(t, err)
	return out, res.BuildID
}

func TestEventSwapsServingIndex(t *testing.T) {
	cfg := testConfig()
	firstDir, firstID := build(t, cfg, "cats purr")
	secondDir, secondID := build(t, cfg, "dogs bark")

	m := metrics.New(prometheus.NewRegistry())
	live := executor.NewLive(nil, cfg.Search.RetireDelay)
	defer live.Close()
	r := New(cfg, live, nil, m)
	handle := r.HandleMessage()

	require.NoError(t, r.Reload(context.Background(), firstDir))
	assert.Equal(t, firstID, live.BuildID())

	value, err := json.Marshal(indexer.IndexCompleteEvent{BuildID: secondID, IndexDir: secondDir, Documents: 1})
	require.NoError(t, err)
	require.NoError(t, handle(context.Background(), []byte(secondID), value))
	assert.Equal(t, secondID, live.BuildID())

	res, err := live.Search(context.Background(), "dogs", 10)
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)

	// the same event again is a no-op
	require.NoError(t, handle(context.Background(), []byte(secondID), value))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexReloadsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexDocuments))
}

func TestBadEvents(t *testing.T) {
	cfg := testConfig()
	m := metrics.New(prometheus.NewRegistry())
	live := executor.NewLive(nil, time.Millisecond)
	defer live.Close()
	handle := New(cfg, live, nil, m).HandleMessage()

	assert.NoError(t, handle(context.Background(), nil, []byte("{not json")))

	value, err := json.Marshal(indexer.IndexCompleteEvent{BuildID: "x", IndexDir: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	err = handle(context.Background(), nil, value)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)
	assert.Nil(t, live.Current())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexReloadsTotal.WithLabelValues("failed")))
}
