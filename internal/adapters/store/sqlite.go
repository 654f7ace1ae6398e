package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

//go:embed migrations/002_deliveries.sql
var migrationV2 string

// SQLiteStore keeps the cache and delivery records in a single SQLite file.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
}

var (
	_ core.CacheStore    = (*SQLiteStore)(nil)
	_ core.DeliveryStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	// WAL lets readers proceed while a writer commits; busy_timeout absorbs
	// short write contention instead of failing with SQLITE_BUSY.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		// Table doesn't exist yet
		version = 0
	}

	migrations := []string{migrationV1, migrationV2}
	for i, m := range migrations {
		if version >= i+1 {
			continue
		}
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("applying migration v%d: %w", i+1, err)
		}
	}
	return nil
}

// GetEntry returns the record for key, or nil when absent.
func (s *SQLiteStore) GetEntry(ctx context.Context, key string) (*core.CacheRecord, error) {
	var (
		rec                  core.CacheRecord
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT i.key, i.agent_id, i.created_at, i.expires_at, i.size, p.payload
		FROM cache_index i JOIN cache_payloads p ON p.key = i.key
		WHERE i.key = ?`, key,
	).Scan(&rec.Key, &rec.AgentID, &createdAt, &expiresAt, &rec.Size, &rec.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	rec.CreatedAt = fromNanos(createdAt)
	rec.ExpiresAt = fromNanos(expiresAt)
	return &rec, nil
}

// PutEntry writes payload and index in one transaction.
func (s *SQLiteStore) PutEntry(ctx context.Context, rec *core.CacheRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_payloads (key, payload) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload`,
		rec.Key, rec.Payload,
	); err != nil {
		return fmt.Errorf("writing cache payload: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_index (key, agent_id, created_at, expires_at, size) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			agent_id = excluded.agent_id,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			size = excluded.size`,
		rec.Key, rec.AgentID, rec.CreatedAt.UnixNano(), rec.ExpiresAt.UnixNano(), int64(len(rec.Payload)),
	); err != nil {
		return fmt.Errorf("writing cache index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	return nil
}

// DeleteEntries removes payload and index for each key in one transaction.
func (s *SQLiteStore) DeleteEntries(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleted := 0
	for _, key := range keys {
		res, err := tx.ExecContext(ctx, "DELETE FROM cache_index WHERE key = ?", key)
		if err != nil {
			return 0, fmt.Errorf("deleting cache index %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM cache_payloads WHERE key = ?", key); err != nil {
			return 0, fmt.Errorf("deleting cache payload %s: %w", key, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing cache delete: %w", err)
	}
	return deleted, nil
}

// ListIndex returns every index entry ordered by creation time.
func (s *SQLiteStore) ListIndex(ctx context.Context) ([]core.CacheIndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, agent_id, created_at, expires_at, size
		FROM cache_index ORDER BY created_at, key`)
	if err != nil {
		return nil, fmt.Errorf("listing cache index: %w", err)
	}
	defer rows.Close()

	var entries []core.CacheIndexEntry
	for rows.Next() {
		var (
			e                    core.CacheIndexEntry
			createdAt, expiresAt int64
		)
		if err := rows.Scan(&e.Key, &e.AgentID, &createdAt, &expiresAt, &e.Size); err != nil {
			return nil, fmt.Errorf("scanning cache index: %w", err)
		}
		e.CreatedAt = fromNanos(createdAt)
		e.ExpiresAt = fromNanos(expiresAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetDelivery returns the delivery record for eventKey, or nil when absent.
func (s *SQLiteStore) GetDelivery(ctx context.Context, eventKey string) (*core.DeliveryRecord, error) {
	var (
		rec                  core.DeliveryRecord
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT event_key, artifact_id, content_hash, revision, deliveries, created_at, updated_at
		FROM deliveries WHERE event_key = ?`, eventKey,
	).Scan(&rec.EventKey, &rec.ArtifactID, &rec.ContentHash, &rec.Revision, &rec.Deliveries, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading delivery: %w", err)
	}
	rec.CreatedAt = fromNanos(createdAt)
	rec.UpdatedAt = fromNanos(updatedAt)
	return &rec, nil
}

// PutDelivery upserts a delivery record.
func (s *SQLiteStore) PutDelivery(ctx context.Context, rec *core.DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (event_key, artifact_id, content_hash, revision, deliveries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_key) DO UPDATE SET
			artifact_id = excluded.artifact_id,
			content_hash = excluded.content_hash,
			revision = excluded.revision,
			deliveries = excluded.deliveries,
			updated_at = excluded.updated_at`,
		rec.EventKey, rec.ArtifactID, rec.ContentHash, rec.Revision, rec.Deliveries,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("writing delivery: %w", err)
	}
	return nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
