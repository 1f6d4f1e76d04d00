// Package docstore keeps the plain text of every indexed article so the
// query side can cut snippets. A build writes texts through a Writer; the
// searcher reads them back through a Reader using the TextRef recorded in
// the document table.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
)

const (
	BackendFile     = "file"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// ErrNotFound is returned by Get when the store has no text for a document.
var ErrNotFound = errors.New("document text not found")

// Writer is safe for concurrent Put calls.
type Writer interface {
	Put(ctx context.Context, docID uint32, text string) (index.TextRef, error)
	Close() error
}

// Reader is safe for concurrent Get calls.
type Reader interface {
	Get(ctx context.Context, docID uint32, ref index.TextRef) (string, error)
	Close() error
}

// Discarder is implemented by writers whose data lives outside the index
// directory and must be removed explicitly when a build is abandoned.
type Discarder interface {
	Discard(ctx context.Context) error
}

// Descriptor is recorded in the index manifest and tells Open where the
// texts of a build live. Path is relative to the index directory.
type Descriptor struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path,omitempty"`
	Table   string `yaml:"table,omitempty"`
	BuildID string `yaml:"buildId,omitempty"`
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Create opens a fresh store for a build writing into dir.
func Create(ctx context.Context, cfg *config.Config, dir, buildID string) (Writer, Descriptor, error) {
	desc := Descriptor{Backend: cfg.Store.Backend, BuildID: buildID}
	if desc.Backend == "" {
		desc.Backend = BackendFile
	}
	var (
		w   Writer
		err error
	)
	switch desc.Backend {
	case BackendFile:
		desc.Path = "bodies.dat"
		w, err = createFile(filepath.Join(dir, desc.Path))
	case BackendBadger:
		desc.Path = "bodies.badger"
		w, err = openBadger(filepath.Join(dir, desc.Path), false)
	case BackendSQLite:
		desc.Path = "bodies.sqlite"
		w, err = openSQLite(ctx, filepath.Join(dir, desc.Path), true)
	case BackendPostgres:
		desc.Table = cfg.Store.Table
		if !tableName.MatchString(desc.Table) {
			return nil, desc, fmt.Errorf("invalid docstore table name %q", desc.Table)
		}
		w, err = openPostgres(ctx, cfg.Postgres, desc.Table, buildID, true)
	default:
		return nil, desc, fmt.Errorf("unknown docstore backend %q", desc.Backend)
	}
	if err != nil {
		return nil, desc, fmt.Errorf("creating %s docstore: %w", desc.Backend, err)
	}
	return w, desc, nil
}

// Open opens the store described by desc for reading. dir is the index
// directory the descriptor was recorded in.
func Open(ctx context.Context, cfg *config.Config, desc Descriptor, dir string) (Reader, error) {
	var (
		r   Reader
		err error
	)
	switch desc.Backend {
	case BackendFile:
		r, err = openFile(filepath.Join(dir, desc.Path))
	case BackendBadger:
		r, err = openBadger(filepath.Join(dir, desc.Path), true)
	case BackendSQLite:
		r, err = openSQLite(ctx, filepath.Join(dir, desc.Path), false)
	case BackendPostgres:
		if !tableName.MatchString(desc.Table) {
			return nil, fmt.Errorf("invalid docstore table name %q", desc.Table)
		}
		r, err = openPostgres(ctx, cfg.Postgres, desc.Table, desc.BuildID, false)
	default:
		return nil, fmt.Errorf("unknown docstore backend %q", desc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s docstore: %w", desc.Backend, err)
	}
	return r, nil
}
