package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/homesync/internal/state"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEntry() state.Entry {
	e := state.Default()
	e.Device.Lamp = true
	e.Device.Window = true
	e.Device.LastUpdated = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	e.Sensor.Temperature = 21.5
	e.Sensor.Humidity = 48
	e.Sensor.DoorAlert = true
	return e
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "cache.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(context.Background(), "alice", sampleEntry()))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleEntry(), got)
}

func TestPragma_JournalMode(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestPragma_UserVersion(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	want := sampleEntry()
	require.NoError(t, s.Put(ctx, "alice", want))

	got, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, "alice", sampleEntry()))
	require.NoError(t, s.Put(ctx, "alice", state.Default()))

	got, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.Default(), got)

	rows, err := s.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStore_UsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	require.NoError(t, s.Put(ctx, "bob", state.Default()))
	require.NoError(t, s.Put(ctx, "alice", sampleEntry()))

	bob, ok, err := s.Get(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.Default(), bob)

	rows, err := s.Users(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].Namespace)
	assert.Equal(t, sampleEntry().MustDigest(), rows[0].Digest)
	assert.Equal(t, int64(1700000000000), rows[0].UpdatedAt.UnixMilli())
	assert.Equal(t, "bob", rows[1].Namespace)
}

func TestStore_NormalisedUserSharesRow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, "jose\u0301", sampleEntry()))
	got, ok, err := s.Get(ctx, " jos\u00e9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleEntry(), got)
}

func TestStore_Forget(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, "alice", sampleEntry()))
	removed, err := s.Forget(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Forget(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Get_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT device, sensor\s+FROM cache_entries`).
		WithArgs("alice").
		WillReturnError(sql.ErrConnDone)

	s := newStore(db)
	_, ok, err := s.Get(context.Background(), "alice")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "read cache entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_CorruptRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"device", "sensor"}).AddRow("{not json", "{}")
	mock.ExpectQuery(`SELECT device, sensor\s+FROM cache_entries`).
		WithArgs("alice").
		WillReturnRows(rows)

	s := newStore(db)
	_, ok, err := s.Get(context.Background(), "alice")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "decode device state")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Put_ExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := sampleEntry()
	mock.ExpectExec(`INSERT INTO cache_entries`).
		WithArgs(
			"alice",
			sqlmock.AnyArg(), // device
			sqlmock.AnyArg(), // sensor
			e.MustDigest(),
			state.SchemaVersion,
			sqlmock.AnyArg(), // updated_at
		).
		WillReturnError(sql.ErrTxDone)

	s := newStore(db)
	err = s.Put(context.Background(), "alice", e)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "write cache entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Put_EmptyUserNeverHitsDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newStore(db)
	assert.Error(t, s.Put(context.Background(), "", state.Default()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
