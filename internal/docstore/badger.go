package docstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
)

// badgerStore keys texts by the big-endian doc id.
type badgerStore struct {
	db *badger.DB
	wb *badger.WriteBatch
}

func openBadger(path string, readOnly bool) (*badgerStore, error) {
	if !readOnly {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
	}
	opts := badger.DefaultOptions(path).
		WithNumVersionsToKeep(1).
		WithLoggingLevel(badger.WARNING).
		WithReadOnly(readOnly)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	s := &badgerStore{db: db}
	if !readOnly {
		s.wb = db.NewWriteBatch()
	}
	return s, nil
}

func docKey(docID uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, docID)
	return k
}

func (s *badgerStore) Put(ctx context.Context, docID uint32, text string) (index.TextRef, error) {
	if err := ctx.Err(); err != nil {
		return index.TextRef{}, err
	}
	if err := s.wb.Set(docKey(docID), []byte(text)); err != nil {
		return index.TextRef{}, fmt.Errorf("storing text of document %d: %w", docID, err)
	}
	return index.TextRef{Length: uint32(len(text))}, nil
}

func (s *badgerStore) Get(ctx context.Context, docID uint32, _ index.TextRef) (string, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(docID))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("document %d: %w", docID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading text of document %d: %w", docID, err)
	}
	return string(val), nil
}

func (s *badgerStore) Close() error {
	var err error
	if s.wb != nil {
		err = s.wb.Flush()
	}
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}
