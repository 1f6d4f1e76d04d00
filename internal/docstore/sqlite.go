package docstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS bodies (
	doc_id INTEGER PRIMARY KEY,
	body   TEXT NOT NULL
)`

func openSQLite(ctx context.Context, path string, create bool) (*sqlStore, error) {
	dsn := "file:" + path + "?_synchronous=NORMAL"
	if !create {
		dsn = "file:" + path + "?mode=ro"
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if create {
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &sqlStore{
		db:      db,
		insert:  `INSERT OR REPLACE INTO bodies (doc_id, body) VALUES (?, ?)`,
		query:   `SELECT body FROM bodies WHERE doc_id = ?`,
		inTx:    txRunner(db),
		closeDB: db.Close,
	}, nil
}
