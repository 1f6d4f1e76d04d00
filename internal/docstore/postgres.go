package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/resilience"
)

// postgresStore shares one table between builds; rows are keyed by
// (build_id, doc_id).
type postgresStore struct {
	*sqlStore
	client  *postgres.Client
	dsn     string
	cfg     config.PostgresConfig
	table   string
	buildID string
	closed  bool
}

var pgRetry = resilience.RetryConfig{
	MaxAttempts:  4,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig, table, buildID string, create bool) (*postgresStore, error) {
	return openPostgresDSN(ctx, cfg.DSN(), cfg, table, buildID, create)
}

func openPostgresDSN(ctx context.Context, dsn string, cfg config.PostgresConfig, table, buildID string, create bool) (*postgresStore, error) {
	client, err := postgres.NewWithDSN(ctx, dsn, cfg)
	if err != nil {
		return nil, err
	}
	if create {
		schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	build_id TEXT   NOT NULL,
	doc_id   BIGINT NOT NULL,
	body     TEXT   NOT NULL,
	PRIMARY KEY (build_id, doc_id)
)`, table)
		if _, err := client.DB.ExecContext(ctx, schema); err != nil {
			client.Close()
			return nil, fmt.Errorf("creating table %s: %w", table, err)
		}
	}
	s := &postgresStore{client: client, dsn: dsn, cfg: cfg, table: table, buildID: buildID}
	s.sqlStore = &sqlStore{
		db: client.DB,
		insert: fmt.Sprintf(`INSERT INTO %s (build_id, doc_id, body) VALUES (?, ?, ?)
ON CONFLICT (build_id, doc_id) DO UPDATE SET body = EXCLUDED.body`, table),
		query: fmt.Sprintf(`SELECT body FROM %s WHERE build_id = ? AND doc_id = ?`, table),
		scope: []any{buildID},
		inTx: func(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
			return resilience.Retry(ctx, "docstore-insert", pgRetry, func() error {
				return client.InTx(ctx, fn)
			})
		},
		closeDB: client.Close,
	}
	return s, nil
}

func (s *postgresStore) Close() error {
	err := s.sqlStore.Close()
	s.closed = true
	return err
}

// Discard deletes every row written for this build. It is best effort and
// may run after the writer has been closed.
func (s *postgresStore) Discard(ctx context.Context) error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	client := s.client
	if s.closed {
		c, err := postgres.NewWithDSN(ctx, s.dsn, s.cfg)
		if err != nil {
			return fmt.Errorf("reconnecting to discard build %s: %w", s.buildID, err)
		}
		defer c.Close()
		client = c
	}
	query := client.DB.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE build_id = ?`, s.table))
	res, err := client.DB.ExecContext(ctx, query, s.buildID)
	if err != nil {
		return fmt.Errorf("discarding rows of build %s: %w", s.buildID, err)
	}
	n, _ := res.RowsAffected()
	slog.Default().With("component", "docstore").Info("discarded build rows", "build_id", s.buildID, "rows", n)
	return nil
}
