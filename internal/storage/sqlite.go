package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/nestelia/internal/models"
)

// SQLiteStorage implements Storage using SQLite. It is the default backend and
// survives process restarts, which lets a persisted generation be restored.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS partitions (
		name TEXT PRIMARY KEY,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS entries (
		partition TEXT NOT NULL,
		key TEXT NOT NULL,
		status INTEGER NOT NULL,
		status_text TEXT,
		header TEXT,
		body BLOB,
		stored_at TIMESTAMP NOT NULL,
		PRIMARY KEY (partition, key)
	);

	CREATE INDEX IF NOT EXISTS idx_entries_partition ON entries(partition);
	`
	_, err := db.Exec(schema)
	return err
}

// OpenPartition creates the partition if it does not exist.
func (s *SQLiteStorage) OpenPartition(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO partitions (name) VALUES (?)`, name)
	return err
}

// HasPartition reports whether the partition exists.
func (s *SQLiteStorage) HasPartition(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM partitions WHERE name = ?`, name).Scan(&n)
	return n > 0, err
}

// Partitions returns partition names in name order.
func (s *SQLiteStorage) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM partitions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeletePartition removes a partition and its entries in one transaction.
func (s *SQLiteStorage) DeletePartition(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE partition = ?`, name); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, tx.Commit()
}

// Match returns the entry stored under key, or ErrNotFound.
func (s *SQLiteStorage) Match(ctx context.Context, partition, key string) (*models.CachedResponse, error) {
	var resp models.CachedResponse
	var statusText sql.NullString
	var headerJSON sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT status, status_text, header, body, stored_at
		 FROM entries WHERE partition = ? AND key = ?`, partition, key,
	).Scan(&resp.Status, &statusText, &headerJSON, &resp.Body, &resp.StoredAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	resp.StatusText = statusText.String
	if headerJSON.String != "" {
		resp.Header = make(http.Header)
		if err := json.Unmarshal([]byte(headerJSON.String), &resp.Header); err != nil {
			return nil, fmt.Errorf("failed to unmarshal header: %w", err)
		}
	}
	return &resp, nil
}

const upsertEntry = `INSERT INTO entries (partition, key, status, status_text, header, body, stored_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(partition, key) DO UPDATE SET
		status = excluded.status,
		status_text = excluded.status_text,
		header = excluded.header,
		body = excluded.body,
		stored_at = excluded.stored_at`

// Put stores resp under key, replacing any previous entry.
func (s *SQLiteStorage) Put(ctx context.Context, partition, key string, resp *models.CachedResponse) error {
	return s.PutAll(ctx, partition, map[string]*models.CachedResponse{key: resp})
}

// PutAll stores all entries in a single transaction.
func (s *SQLiteStorage) PutAll(ctx context.Context, partition string, entries map[string]*models.CachedResponse) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO partitions (name) VALUES (?)`, partition); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, upsertEntry)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, resp := range entries {
		headerJSON, err := json.Marshal(resp.Header)
		if err != nil {
			return fmt.Errorf("failed to marshal header: %w", err)
		}
		storedAt := resp.StoredAt
		if storedAt.IsZero() {
			storedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, partition, key, resp.Status, resp.StatusText, string(headerJSON), resp.Body, storedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete removes one entry. Deleting a missing entry is not an error.
func (s *SQLiteStorage) Delete(ctx context.Context, partition, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE partition = ? AND key = ?`, partition, key)
	return err
}

// Keys returns the keys of a partition in key order.
func (s *SQLiteStorage) Keys(ctx context.Context, partition string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM entries WHERE partition = ? ORDER BY key`, partition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// CountEntries returns the number of entries in a partition.
func (s *SQLiteStorage) CountEntries(ctx context.Context, partition string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE partition = ?`, partition).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
