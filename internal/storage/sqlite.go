package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/czcorpus/wag-sub001/internal/logging"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS response_cache (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	created_at INTEGER NOT NULL
)`

// SQLiteStore keeps cache entries in a SQLite database.
type SQLiteStore struct {
	conn   *sql.DB
	opts   Options
	logger *logging.Logger
	dbPath string
}

// OpenSQLite opens or creates the cache database at dbPath.
func OpenSQLite(dbPath string, opts Options, logger *logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("Opened response cache", map[string]interface{}{
		"backend": BackendSQLite,
		"path":    dbPath,
		"maxAge":  opts.MaxAge.String(),
	})
	return &SQLiteStore{conn: conn, opts: opts, logger: logger, dbPath: dbPath}, nil
}

// Get implements KeyValueStore.
func (s *SQLiteStore) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	var blob []byte
	var createdAt int64

	err := s.conn.QueryRowContext(ctx,
		`SELECT value, created_at FROM response_cache WHERE key = ?`, key,
	).Scan(&blob, &createdAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache lookup failed: %w", err)
	}

	if s.opts.expired(time.Unix(0, createdAt)) {
		if _, err := s.conn.ExecContext(ctx, `DELETE FROM response_cache WHERE key = ?`, key); err != nil {
			s.logger.Warn("Failed to purge expired cache entry", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return false, nil
	}

	if err := decodeValue(blob, dst); err != nil {
		s.logger.Warn("Dropping undecodable cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return false, nil
	}
	return true, nil
}

// Set implements KeyValueStore.
func (s *SQLiteStore) Set(ctx context.Context, key string, value interface{}) error {
	blob, err := encodeValue(value)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO response_cache (key, value, created_at) VALUES (?, ?, ?)`,
		key, blob, s.opts.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// ClearAll implements KeyValueStore.
func (s *SQLiteStore) ClearAll(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM response_cache`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
