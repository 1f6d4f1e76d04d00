package docstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
)

func storeConfig(backend string) *config.Config {
	cfg := config.Default()
	cfg.Store.Backend = backend
	return cfg
}

func text(i int) string {
	return fmt.Sprintf("article %d says %s", i, strings.Repeat("wiki ", i%7))
}

// roundTrip writes n texts from several goroutines, reopens the store and
// reads every text back.
func roundTrip(t *testing.T, cfg *config.Config, n int) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	w, desc, err := Create(ctx, cfg, dir, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, cfg.Store.Backend, desc.Backend)

	refs := make([]index.TextRef, n)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := g; i < n; i += 4 {
				ref, err := w.Put(ctx, uint32(i), text(i))
				if err != nil {
					errs <- err
					return
				}
				refs[i] = ref
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r, err := Open(ctx, cfg, desc, dir)
	require.NoError(t, err)
	defer r.Close()
	for i := 0; i < n; i++ {
		got, err := r.Get(ctx, uint32(i), refs[i])
		require.NoError(t, err)
		assert.Equal(t, text(i), got)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	roundTrip(t, storeConfig(BackendFile), 200)
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	roundTrip(t, storeConfig(BackendBadger), 200)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	// more than one batch
	roundTrip(t, storeConfig(BackendSQLite), sqlBatchSize+37)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("WS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WS_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	cfg := config.Default()
	buildID := uuid.NewString()

	w, err := openPostgresDSN(ctx, dsn, cfg.Postgres, "wikisearch_test_bodies", buildID, true)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := w.Put(ctx, uint32(i), text(i))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r, err := openPostgresDSN(ctx, dsn, cfg.Postgres, "wikisearch_test_bodies", buildID, false)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.Get(ctx, 7, index.TextRef{})
	require.NoError(t, err)
	assert.Equal(t, text(7), got)

	require.NoError(t, w.Discard(ctx))
	_, err = r.Get(ctx, 7, index.TextRef{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMissingTextIsNotFound(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{BackendFile, BackendBadger, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := storeConfig(backend)
			dir := t.TempDir()
			w, desc, err := Create(ctx, cfg, dir, "b1")
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := Open(ctx, cfg, desc, dir)
			require.NoError(t, err)
			defer r.Close()
			_, err = r.Get(ctx, 42, index.TextRef{})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCreateRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	_, _, err := Create(ctx, storeConfig("tape"), t.TempDir(), "b1")
	assert.ErrorContains(t, err, "unknown docstore backend")

	cfg := storeConfig(BackendPostgres)
	cfg.Store.Table = "bodies; DROP TABLE users"
	_, _, err = Create(ctx, cfg, t.TempDir(), "b1")
	assert.ErrorContains(t, err, "invalid docstore table name")
}

func TestFileStoreRefusesExistingFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w, _, err := Create(ctx, storeConfig(BackendFile), dir, "b1")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, _, err = Create(ctx, storeConfig(BackendFile), dir, "b2")
	assert.Error(t, err)
}
