// Package store provides SQLite persistence for settings and the playlist cache.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"

	"github.com/osa030/musicalchairs/internal/app/library"
	"github.com/osa030/musicalchairs/internal/app/settings"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
	CREATE TABLE IF NOT EXISTS settings (
		setting_key TEXT PRIMARY KEY,
		setting_value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS playlist_cache (
		cache_key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		fetched_at INTEGER NOT NULL
	);
`

// Store is a SQLite-backed settings repository and library cache.
type Store struct {
	db    *sqlx.DB
	clock clockwork.Clock
}

var (
	_ settings.Repository = (*Store)(nil)
	_ library.Cache       = (*Store)(nil)
)

// Open opens (and creates if needed) the database at path.
func Open(path string) (*Store, error) {
	return open(path, clockwork.NewRealClock())
}

func open(path string, clock clockwork.Clock) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// One connection keeps in-memory databases consistent
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to set pragma %q", pragma)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}

	zlog.Debug().Msgf("store: opened: path=%s", path)
	return &Store{db: db, clock: clock}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type settingRow struct {
	Key   string `db:"setting_key"`
	Value string `db:"setting_value"`
}

// LoadSettings returns the persisted record, or nil when nothing was saved.
// Values come back in their string form.
func (s *Store) LoadSettings(ctx context.Context) (map[string]any, error) {
	var rows []settingRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT setting_key, setting_value FROM settings`); err != nil {
		return nil, errors.Wrap(err, "failed to select settings")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	values := make(map[string]any, len(rows))
	for _, r := range rows {
		values[r.Key] = r.Value
	}
	return values, nil
}

// SaveSettings replaces the persisted record atomically.
func (s *Store) SaveSettings(ctx context.Context, values map[string]any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return errors.Wrap(err, "failed to clear settings")
	}

	now := s.clock.Now().Unix()
	for k, v := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (setting_key, setting_value, updated_at) VALUES (?, ?, ?)`,
			k, fmt.Sprint(v), now,
		); err != nil {
			return errors.Wrapf(err, "failed to save setting %s", k)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit settings")
	}
	return nil
}

type cacheRow struct {
	Payload   []byte `db:"payload"`
	FetchedAt int64  `db:"fetched_at"`
}

// GetCache returns the payload stored under key.
func (s *Store) GetCache(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	var row cacheRow
	err := s.db.GetContext(ctx, &row,
		`SELECT payload, fetched_at FROM playlist_cache WHERE cache_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, errors.Wrapf(err, "failed to read cache entry %s", key)
	}
	return row.Payload, time.Unix(row.FetchedAt, 0), true, nil
}

// PutCache stores payload under key, replacing any previous entry.
func (s *Store) PutCache(ctx context.Context, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playlist_cache (cache_key, payload, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at
	`, key, payload, s.clock.Now().Unix())
	if err != nil {
		return errors.Wrapf(err, "failed to write cache entry %s", key)
	}
	return nil
}
