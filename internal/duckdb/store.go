package duckdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/loglens/loglens/internal/duckdb/migrate"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentReads bounds simultaneous read queries against DuckDB.
const DefaultMaxConcurrentReads = 8

// Store manages the DuckDB database connection and provides the log entry
// and prediction persistence used by the rest of the engine.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	QueryTimeout time.Duration

	readSem *semaphore.Weighted
}

// NewStore opens or creates a DuckDB database.
// If dbPath is empty, an in-memory database is used.
// An optional queryTimeout can be passed; it defaults to 30s.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		// Ensure parent directory exists
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if err := migrate.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, err
	}

	qt := 30 * time.Second
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: qt,
		readSem:      semaphore.NewWeighted(DefaultMaxConcurrentReads),
	}, nil
}

// SetMaxConcurrentReads resizes the read semaphore. Call before serving.
func (s *Store) SetMaxConcurrentReads(n int) {
	if n <= 0 {
		n = DefaultMaxConcurrentReads
	}
	s.readSem = semaphore.NewWeighted(int64(n))
}

// acquireRead blocks until a read slot is available or ctx expires.
func (s *Store) acquireRead(ctx context.Context) (release func(), err error) {
	if err := s.readSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.readSem.Release(1) }, nil
}

// queryCtx returns a context bounded by the store's configured query timeout.
func (s *Store) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.QueryTimeout)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct query access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// DBPath returns the configured DuckDB path. Empty means in-memory DB.
func (s *Store) DBPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbPath
}
