package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/homesync/internal/state"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - No schema
// 1 - cache_entries keyed by namespace
const currentSchemaVersion = 1

// Store is the SQLite-backed Cache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens a cache database at the given path.
// Missing parent directories are created. Pragmas and migrations are
// applied on every open; Open is safe to call on an existing file.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create cache directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open cache database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connect to cache database")
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply pragmas")
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}

	return newStore(db), nil
}

func newStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached entry for userID.
func (s *Store) Get(ctx context.Context, userID string) (state.Entry, bool, error) {
	ns, err := Namespace(userID)
	if err != nil {
		return state.Entry{}, false, err
	}

	var device, sensor string
	err = s.db.QueryRowContext(ctx, `
		SELECT device, sensor
		FROM cache_entries
		WHERE namespace = ?
	`, ns).Scan(&device, &sensor)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Entry{}, false, nil
	}
	if err != nil {
		return state.Entry{}, false, errors.Wrapf(err, "read cache entry for %q", ns)
	}

	e := state.Default()
	if err := json.Unmarshal([]byte(device), &e.Device); err != nil {
		return state.Entry{}, false, errors.Wrapf(err, "decode device state for %q", ns)
	}
	if err := json.Unmarshal([]byte(sensor), &e.Sensor); err != nil {
		return state.Entry{}, false, errors.Wrapf(err, "decode sensor state for %q", ns)
	}
	return e, true, nil
}

// Put replaces the cached entry for userID.
func (s *Store) Put(ctx context.Context, userID string, e state.Entry) error {
	ns, err := Namespace(userID)
	if err != nil {
		return err
	}

	device, err := json.Marshal(e.Device)
	if err != nil {
		return errors.Wrap(err, "encode device state")
	}
	sensor, err := json.Marshal(e.Sensor)
	if err != nil {
		return errors.Wrap(err, "encode sensor state")
	}
	digest, err := e.Digest()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, device, sensor, digest, schema_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET
			device = excluded.device,
			sensor = excluded.sensor,
			digest = excluded.digest,
			schema_version = excluded.schema_version,
			updated_at = excluded.updated_at
	`, ns, string(device), string(sensor), digest, state.SchemaVersion, s.now().UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "write cache entry for %q", ns)
	}
	return nil
}

// Row describes one cached namespace for listings.
type Row struct {
	Namespace string
	Digest    string
	UpdatedAt time.Time
}

// Users lists every cached namespace ordered by name.
func (s *Store) Users(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, digest, updated_at
		FROM cache_entries
		ORDER BY namespace COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "query cache entries")
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var r Row
		var updated int64
		if err := rows.Scan(&r.Namespace, &r.Digest, &updated); err != nil {
			return nil, errors.Wrap(err, "scan cache entry")
		}
		r.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate cache entries")
	}
	return out, nil
}

// Forget removes the row for userID. The engine never calls this;
// it backs the `cache forget` command.
func (s *Store) Forget(ctx context.Context, userID string) (bool, error) {
	ns, err := Namespace(userID)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, ns)
	if err != nil {
		return false, errors.Wrapf(err, "delete cache entry for %q", ns)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "execute %q", pragma)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "execute schema")
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return errors.Wrap(err, "get user_version")
	}
	if version > currentSchemaVersion {
		return errors.Newf("cache schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return errors.Wrap(err, "set user_version")
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return errors.Wrapf(err, "query %s", name)
	}
	if value != expected {
		return errors.Newf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
