package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
)

const sqlBatchSize = 512

type pendingText struct {
	docID uint32
	body  string
}

// sqlStore buffers texts and inserts them in batches, one transaction per
// batch. scope holds the leading key columns bound before doc_id.
type sqlStore struct {
	mu      sync.Mutex
	db      *sqlx.DB
	insert  string
	query   string
	scope   []any
	pending []pendingText
	inTx    func(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	closeDB func() error
	failed  error
}

func (s *sqlStore) Put(ctx context.Context, docID uint32, text string) (index.TextRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return index.TextRef{}, s.failed
	}
	s.pending = append(s.pending, pendingText{docID: docID, body: text})
	if len(s.pending) >= sqlBatchSize {
		if err := s.flushLocked(ctx); err != nil {
			return index.TextRef{}, err
		}
	}
	return index.TextRef{Length: uint32(len(text))}, nil
}

func (s *sqlStore) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	rows := s.pending
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(s.insert))
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range rows {
			args := append(append([]any(nil), s.scope...), int64(r.docID), r.body)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("inserting text of document %d: %w", r.docID, err)
			}
		}
		return nil
	})
	if err != nil {
		s.failed = err
		return err
	}
	s.pending = s.pending[:0]
	return nil
}

func (s *sqlStore) Get(ctx context.Context, docID uint32, _ index.TextRef) (string, error) {
	var body string
	args := append(append([]any(nil), s.scope...), int64(docID))
	err := s.db.GetContext(ctx, &body, s.db.Rebind(s.query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("document %d: %w", docID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading text of document %d: %w", docID, err)
	}
	return body, nil
}

func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.failed == nil {
		err = s.flushLocked(context.Background())
	}
	if cerr := s.closeDB(); err == nil {
		err = cerr
	}
	return err
}

func txRunner(db *sqlx.DB) func(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return func(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	}
}
