package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrCatalogUnavailable is wrapped by every failure to open or reach the catalog.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// DB wraps a sql.DB connection to the tiering metadata catalog.
type DB struct {
	*sql.DB
	Path   string
	logger *zap.Logger
}

// DefaultDBPath returns the default database path: ~/.tierctl/tiering.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".tierctl", "tiering.db"), nil
}

// pragmas are applied through the DSN so every pooled connection gets them.
const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"

// Open opens (or creates) the SQLite catalog at the given path and runs migrations.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create db dir: %v", ErrCatalogUnavailable, err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrCatalogUnavailable, err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrCatalogUnavailable, err)
	}

	db := &DB{DB: sqlDB, Path: path, logger: logger.Named("store")}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrCatalogUnavailable, err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite memory: %v", ErrCatalogUnavailable, err)
	}
	// Each connection to :memory: is its own database.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: ":memory:", logger: zap.NewNop()}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrCatalogUnavailable, err)
	}
	return db, nil
}

