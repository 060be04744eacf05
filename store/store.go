package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/epressworld/epress-sub000/store/migrations"
)

const queryTimeout = 5 * time.Second

// Config describes how to open the store.
type Config struct {
	// Driver is "sqlite3" or "postgres".
	Driver string
	// DSN is the driver-specific connection string. For sqlite3 this is a
	// file path or ":memory:".
	DSN string
	// BlobDir is the directory for content-addressed FILE blobs.
	BlobDir string
	// Log receives store-level events. Defaults to slog.Default().
	Log *slog.Logger
}

// Store is the shared persistence layer. All request handlers operate over
// one Store; it holds no mutable state besides the connection pool.
type Store struct {
	db      *sqlx.DB
	blobDir string
	log     *slog.Logger
	now     func() time.Time
}

// Open connects to the database, applies migrations, and prepares the
// blob directory.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver != "sqlite3" && cfg.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	dsn := cfg.DSN
	if cfg.Driver == "sqlite3" {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if cfg.Driver == "sqlite3" {
		// sqlite serializes writers anyway; a single pooled connection
		// also keeps :memory: databases coherent across goroutines.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := migrations.Up(db.DB, cfg.Driver); err != nil {
		return nil, err
	}

	if cfg.BlobDir != "" {
		if err := os.MkdirAll(cfg.BlobDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating blob directory: %w", err)
		}
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Store{
		db:      db,
		blobDir: cfg.BlobDir,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func sqliteDSN(dsn string) string {
	if dsn == ":memory:" {
		// A uniquely named shared-cache database keeps the contents alive
		// across pooled connections without leaking between stores.
		return fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on", dsn)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind adapts ?-placeholders to the active dialect.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
