// Package sqlitestore persists entitlements in an embedded SQLite database so
// that state survives restarts without a separate server.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rcourtman/buttonclicker/internal/entitlements"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var _ entitlements.Opener = (*Store)(nil)

// Store is a SQLite-backed entitlements store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create entitlements directory: %w", err)
	}

	// WAL mode for concurrent readers alongside the single writer
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open entitlements database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Entitlements store initialized")
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entitlements (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, key)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Open reads the user's committed values.
func (s *Store) Open(ctx context.Context, userID string) (entitlements.Store, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM entitlements WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query entitlements for user %q: %w", userID, err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan entitlements for user %q: %w", userID, err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entitlements for user %q: %w", userID, err)
	}

	return entitlements.NewStaged(values, func(ctx context.Context, changes map[string]string) error {
		return s.write(ctx, userID, changes)
	}), nil
}

// write upserts all changes in a single transaction.
func (s *Store) write(ctx context.Context, userID string, changes map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin entitlements commit for user %q: %w", userID, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entitlements (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare entitlements commit for user %q: %w", userID, err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for k, v := range changes {
		if _, err := stmt.ExecContext(ctx, userID, k, v, now); err != nil {
			return fmt.Errorf("write %s for user %q: %w", k, userID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entitlements for user %q: %w", userID, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
