// Package sqlite provides a SQLite-backed session continuation store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/ledgerlink/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/ledgerlink/internal/session/storage"
	"github.com/louisbranch/ledgerlink/internal/session/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists the session continuation in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.ContinuationStore = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite session store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutContinuation replaces the stored continuation.
func (s *Store) PutContinuation(ctx context.Context, c storage.Continuation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	principal := strings.TrimSpace(c.Principal)
	if principal == "" {
		return fmt.Errorf("principal is required")
	}
	if len(c.SealedSeed) == 0 {
		return fmt.Errorf("sealed seed is required")
	}
	if c.ExpiresAt.IsZero() {
		return fmt.Errorf("expiry is required")
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO session_continuations (slot, principal, sealed_seed, created_at, expires_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET
		   principal = excluded.principal,
		   sealed_seed = excluded.sealed_seed,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at`,
		principal,
		c.SealedSeed,
		toMillis(createdAt),
		toMillis(c.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put session continuation: %w", err)
	}
	return nil
}

// GetContinuation returns the stored continuation or storage.ErrNotFound.
func (s *Store) GetContinuation(ctx context.Context) (storage.Continuation, error) {
	if err := ctx.Err(); err != nil {
		return storage.Continuation{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Continuation{}, fmt.Errorf("storage is not configured")
	}

	var (
		c         storage.Continuation
		createdAt int64
		expiresAt int64
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT principal, sealed_seed, created_at, expires_at
		 FROM session_continuations WHERE slot = 1`,
	).Scan(&c.Principal, &c.SealedSeed, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Continuation{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Continuation{}, fmt.Errorf("get session continuation: %w", err)
	}
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expiresAt)
	return c, nil
}

// DeleteContinuation removes the stored continuation, if any.
func (s *Store) DeleteContinuation(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM session_continuations WHERE slot = 1`); err != nil {
		return fmt.Errorf("delete session continuation: %w", err)
	}
	return nil
}
