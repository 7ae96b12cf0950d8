package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/pkg/encryption"
	"github.com/benmeehan/thinq-agent/pkg/file"
)

const (
	sqliteBusyTimeoutMs = 5000
	sqlitePingTimeout   = 5 * time.Second

	createCacheTable = `CREATE TABLE IF NOT EXISTS cache (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`
	selectCacheEntry = `SELECT value FROM cache WHERE key = ?`
	upsertCacheEntry = `INSERT INTO cache (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	deleteCacheEntry = `DELETE FROM cache WHERE key = ?`
)

// SQLiteCache stores entries in a single SQLite table.
type SQLiteCache struct {
	computeGroup
	sealer
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteCache opens (or creates) the database at path. enc may be nil.
func NewSQLiteCache(path string, fileClient file.FileOperations, enc encryption.EncryptionManagerInterface, logger zerolog.Logger) (*SQLiteCache, error) {
	if err := fileClient.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, sqliteBusyTimeoutMs)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), sqlitePingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying cache database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache table: %w", err)
	}

	logger.Info().Str("path", path).Msg("SQLite cache opened")

	return &SQLiteCache{
		sealer: sealer{enc: enc},
		db:     db,
		logger: logger,
	}, nil
}

// Get reads the value stored for key.
func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, selectCacheEntry, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %q: %w", key, err)
	}

	value, err := c.open(data)
	if err != nil {
		return nil, false, fmt.Errorf("decrypting cache entry %q: %w", key, err)
	}
	return value, true, nil
}

// Set replaces the value stored for key.
func (c *SQLiteCache) Set(ctx context.Context, key string, value []byte) error {
	data, err := c.seal(value)
	if err != nil {
		return fmt.Errorf("encrypting cache entry %q: %w", key, err)
	}
	if _, err := c.db.ExecContext(ctx, upsertCacheEntry, key, data, time.Now().Unix()); err != nil {
		return fmt.Errorf("writing cache entry %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, deleteCacheEntry, key); err != nil {
		return fmt.Errorf("deleting cache entry %q: %w", key, err)
	}
	return nil
}

// ComputeIfAbsentForever implements Cache.
func (c *SQLiteCache) ComputeIfAbsentForever(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	return c.computeIfAbsent(ctx, c, key, compute)
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("closing cache database: %w", err)
	}
	return nil
}
