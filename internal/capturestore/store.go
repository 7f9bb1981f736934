// Package capturestore implements component 4.B: durable HAR capture
// storage keyed by a time-ordered id, with periodic size-bounded
// compaction. Grounded on the teacher's internal/database/database.go
// (connection setup, :memory: special-casing, migration bootstrapping)
// and internal/database/audit.go (insert/list-style append+query shape).
package capturestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite driver
	"go.uber.org/zap"

	"github.com/sofatutor/park/internal/capturestore/migrations"
	"github.com/sofatutor/park/internal/harlog"
	"github.com/sofatutor/park/internal/logging"
	"github.com/sofatutor/park/internal/parkerr"
)

// Config configures the capture store.
type Config struct {
	// URI is the sqlite DSN, e.g. "sqlite::memory:" or "sqlite:/path/to/file.db".
	URI string
	// MaxSize is the compaction threshold in bytes (§6 database.max_size).
	MaxSize int64
}

// DefaultMaxSize is used when Config.MaxSize is zero.
const DefaultMaxSize = 10 * 1024 * 1024

// Store is a durable, concurrency-safe capture store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open parses cfg.URI, opens the sqlite3 connection, and runs migrations
// against an empty database. :memory: paths are pinned to a single
// connection, since in-memory sqlite databases are per-connection.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String(logging.FieldComponent, logging.ComponentStore))

	path, err := parseSQLiteURI(cfg.URI)
	if err != nil {
		return nil, parkerr.Wrap(parkerr.BadConfig, "invalid database.uri", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_foreign_keys=on")
	if err != nil {
		return nil, parkerr.Wrap(parkerr.StoreUnavailable, "failed to open database", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, parkerr.Wrap(parkerr.StoreUnavailable, "failed to ping database", err)
	}

	if err := migrations.New(db).Up(); err != nil {
		_ = db.Close()
		return nil, parkerr.Wrap(parkerr.StoreUnavailable, "failed to apply migrations", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// parseSQLiteURI accepts "sqlite::memory:", "sqlite:/abs/path.db", or a
// bare path/":memory:" for convenience in tests.
func parseSQLiteURI(uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("database.uri is required")
	}
	if strings.HasPrefix(uri, "sqlite:") {
		rest := strings.TrimPrefix(uri, "sqlite:")
		if rest == "" {
			return "", fmt.Errorf("database.uri has no path after sqlite:")
		}
		return rest, nil
	}
	return uri, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts a new row with a fresh UUIDv7 time-ordered id, per
// invariant 2 (request_id strictly increases with submission order).
// Grounded on the teacher's uuid.NewV7 token-generation pattern
// (internal/token/token.go).
func (s *Store) Append(ctx context.Context, h *harlog.HAR) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", parkerr.Wrap(parkerr.Internal, "failed to generate request id", err)
	}
	blob, err := json.Marshal(h)
	if err != nil {
		return "", parkerr.Wrap(parkerr.Internal, "failed to marshal har", err)
	}

	requestID := id.String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO requests (request_id, har, created_at) VALUES (?, ?, ?)`,
		requestID, blob, time.Now().Unix(),
	)
	if err != nil {
		return "", parkerr.Wrap(parkerr.StoreUnavailable, "failed to append capture", err)
	}
	return requestID, nil
}

// Latest returns the HAR with the greatest request_id, or nil if the
// store is empty. request_id is UUIDv7-ordered, so a lexicographic
// ORDER BY on the text column matches creation order (invariant 2).
func (s *Store) Latest(ctx context.Context) (*harlog.HAR, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT har FROM requests ORDER BY request_id DESC LIMIT 1`,
	)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, parkerr.Wrap(parkerr.StoreUnavailable, "failed to read latest capture", err)
	}
	var h harlog.HAR
	if err := json.Unmarshal(blob, &h); err != nil {
		return nil, parkerr.Wrap(parkerr.Internal, "stored har is not valid json", err)
	}
	return &h, nil
}

// SizeProbe returns the current on-disk byte usage (page_count * page_size).
func (s *Store) SizeProbe(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, parkerr.Wrap(parkerr.StoreUnavailable, "failed to read page_count", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, parkerr.Wrap(parkerr.StoreUnavailable, "failed to read page_size", err)
	}
	return pageCount * pageSize, nil
}

// Compact reclaims unused pages via VACUUM. Safe to call concurrently
// with Append/Latest: sqlite serializes VACUUM against the single
// writer connection already used for the :memory: case, and against
// the WAL-mode connection pool otherwise.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return parkerr.Wrap(parkerr.StoreUnavailable, "failed to compact store", err)
	}
	return nil
}

// RunCompactor runs the background compactor task on a fixed cadence:
// it probes size and compacts whenever size exceeds maxSize. Failures
// are logged; the compactor keeps running. Blocks until ctx is done.
func (s *Store) RunCompactor(ctx context.Context, maxSize int64, cadence time.Duration) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if cadence <= 0 {
		cadence = 60 * time.Second
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size, err := s.SizeProbe(ctx)
			if err != nil {
				s.logger.Warn("size probe failed", zap.Error(err))
				continue
			}
			if size > maxSize {
				if err := s.Compact(ctx); err != nil {
					s.logger.Warn("compaction failed", zap.Error(err))
				}
			}
		}
	}
}
