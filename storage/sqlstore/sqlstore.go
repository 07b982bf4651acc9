// Package sqlstore is a storage.Backend on a single SQLite table.
//
// It uses the pure-Go modernc.org/sqlite driver, so a unit's durable store
// is one file with no cgo dependency. Every Apply runs in one SQL
// transaction, which makes a crank's commit atomic across process crashes.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;`

// Store is a SQLite-backed storage.Backend.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ storage.Backend = (*Store)(nil)

// Open opens or creates the database at path. The special path ":memory:"
// gives a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "sqlstore", "Open", "database path required")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.WrapFatal(err, "sqlstore", "Open", "create database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapFatal(err, "sqlstore", "Open", "open database")
	}
	// A single connection serializes writers and keeps ":memory:" on one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logger.Debug("SQLite pragma rejected", "pragma", pragma, "error", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.WrapFatal(err, "sqlstore", "Open", "create schema")
	}

	logger.Info("Opened SQLite store", "path", path)
	return &Store{db: db, path: path, logger: logger}, nil
}

// Get implements storage.Backend.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.WrapTransient(err, "sqlstore", "Get", fmt.Sprintf("read %q", key))
	}
	return string(value), true, nil
}

// Apply implements storage.Backend. The batch commits or rolls back as a whole.
func (s *Store) Apply(ctx context.Context, batch []storage.Write) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "sqlstore", "Apply", "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	upsert, err := tx.PrepareContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return errors.WrapFatal(err, "sqlstore", "Apply", "prepare upsert")
	}
	defer upsert.Close()

	remove, err := tx.PrepareContext(ctx, `DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return errors.WrapFatal(err, "sqlstore", "Apply", "prepare delete")
	}
	defer remove.Close()

	for _, w := range batch {
		if w.Delete {
			_, err = remove.ExecContext(ctx, w.Key)
		} else {
			_, err = upsert.ExecContext(ctx, w.Key, []byte(w.Value))
		}
		if err != nil {
			return errors.WrapFatal(err, "sqlstore", "Apply", fmt.Sprintf("write %q", w.Key))
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.WrapFatal(err, "sqlstore", "Apply", "commit transaction")
	}
	return nil
}

// List implements storage.Backend.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE key >= ? ORDER BY key`, prefix)
	if err != nil {
		return nil, errors.WrapTransient(err, "sqlstore", "List", fmt.Sprintf("query prefix %q", prefix))
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.WrapTransient(err, "sqlstore", "List", "scan key")
		}
		if !strings.HasPrefix(key, prefix) {
			break
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "sqlstore", "List", "iterate keys")
	}
	return keys, nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close implements storage.Backend.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.WrapTransient(err, "sqlstore", "Close", "close database")
	}
	return nil
}
