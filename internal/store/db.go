// Package store is C11: an idempotent writer/reader over the time-series
// tables, hiding connection pooling. Grounded directly on the teacher's
// internal/database package (connection-string PRAGMAs, profile-tuned pool
// limits, WithTransaction helper) adapted from the teacher's multi-database
// "standard/cache/ledger" profile scheme down to the single profile this
// store needs: durable upserts at moderate write volume.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// DB wraps a pooled SQLite connection tuned for the ingestion+analytics
// write/read pattern: frequent small upserts, occasional bulk reads.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates (or opens) the SQLite database at path, applies the schema,
// and tunes the connection pool the way the teacher's database package
// does for its "standard" profile.
func Open(path string) (*DB, error) {
	if !strings.HasPrefix(path, "file:") {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		path = absPath
	}

	connStr := buildConnectionString(path, strings.Contains(path, "?"))
	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return db, nil
}

func buildConnectionString(path string, hasQuery bool) string {
	sep := "?"
	if hasQuery {
		sep = "&"
	}
	connStr := path + sep + "_pragma=journal_mode(WAL)"
	connStr += "&_pragma=synchronous(NORMAL)"
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=busy_timeout(5000)"
	connStr += "&_pragma=cache_size(-32000)" // 32MB
	return connStr
}

func (db *DB) migrate(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close releases the pool.
func (db *DB) Close() error { return db.conn.Close() }

// withTx runs fn inside a transaction, matching the teacher's
// WithTransaction helper: commit on success, rollback on error or panic.
func (db *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}
