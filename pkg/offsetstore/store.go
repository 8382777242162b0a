package offsetstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/3leaps/s3conduit/pkg/discovery"
)

const schemaVersion = 1

// Store persists the per-partition offset the spec's §6 offset storage
// format describes: {"path":"<object-key>","line":<int>,"ts":<epochMillis>}
// keyed by {"container":"<bucket>","prefix":"<partition-prefix>"}.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the offset database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS offset_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO offset_meta (id, schema_version, created_at) VALUES (1, ?, ?);`,
		`CREATE TABLE IF NOT EXISTS partition_offsets (
			bucket TEXT NOT NULL,
			partition_prefix TEXT NOT NULL,
			object_key TEXT NOT NULL,
			line INTEGER NOT NULL,
			updated_at_epoch_millis INTEGER NOT NULL,
			PRIMARY KEY (bucket, partition_prefix)
		);`,
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, stmt := range stmts {
		if i == 1 {
			if _, err := s.db.ExecContext(ctx, stmt, schemaVersion, now); err != nil {
				return fmt.Errorf("init offset store schema meta: %w", err)
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init offset store schema: %w", err)
		}
	}
	return nil
}

// Commit persists root's partitionPrefix offset as (key, line) with the
// current time as the update timestamp.
func (s *Store) Commit(ctx context.Context, root discovery.RootLocation, partitionPrefix string, offset discovery.PathWithLine) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO partition_offsets (bucket, partition_prefix, object_key, line, updated_at_epoch_millis)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bucket, partition_prefix) DO UPDATE SET
			object_key=excluded.object_key,
			line=excluded.line,
			updated_at_epoch_millis=excluded.updated_at_epoch_millis
	`, root.Bucket, partitionPrefix, offset.Path.Key, offset.Line, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}
	return nil
}

// Lookup returns the committed offset for (root, partitionPrefix), if any.
func (s *Store) Lookup(ctx context.Context, root discovery.RootLocation, partitionPrefix string) (*discovery.PathWithLine, bool, error) {
	var key string
	var line int
	err := s.db.QueryRowContext(ctx, `
		SELECT object_key, line FROM partition_offsets WHERE bucket = ? AND partition_prefix = ?
	`, root.Bucket, partitionPrefix).Scan(&key, &line)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup offset: %w", err)
	}
	return &discovery.PathWithLine{
		Path: discovery.PathLocation{Bucket: root.Bucket, Key: key},
		Line: line,
	}, true, nil
}

// OffsetFunc adapts the Store into readermanager's OffsetFunc contract,
// looking up a committed offset synchronously. Lookup errors are treated as
// "no offset" rather than propagated, matching the host-supplied-function
// contract's two-value shape (spec.md §4.6); a missing or unreadable offset
// means the manager starts fresh.
func (s *Store) OffsetFunc(ctx context.Context) func(discovery.RootLocation, string) (*discovery.PathWithLine, bool) {
	return func(root discovery.RootLocation, partitionPrefix string) (*discovery.PathWithLine, bool) {
		offset, ok, err := s.Lookup(ctx, root, partitionPrefix)
		if err != nil || !ok {
			return nil, false
		}
		return offset, true
	}
}
