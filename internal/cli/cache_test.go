package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/homesync/internal/cache"
	"github.com/roach88/homesync/internal/identity"
	"github.com/roach88/homesync/internal/state"
)

func seedCache(t *testing.T, cfgPath, user string, e state.Entry) {
	t.Helper()
	st, err := cache.Open(filepath.Join(filepath.Dir(cfgPath), "cache.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Put(context.Background(), user, e))
}

func TestCacheList_Empty(t *testing.T) {
	cfg := writeConfig(t, "")

	out, _, err := execute(t, context.Background(), "-c", cfg, "cache", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Cache is empty.")
}

func TestCacheList(t *testing.T) {
	cfg := writeConfig(t, "")
	seedCache(t, cfg, "bob", state.Default())
	seedCache(t, cfg, "alice", state.Default())

	out, _, err := execute(t, context.Background(), "-c", cfg, "--format", "json", "cache", "list")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   []CacheRow `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "alice", resp.Data[0].Namespace)
	assert.Equal(t, "bob", resp.Data[1].Namespace)
	assert.NotEmpty(t, resp.Data[0].Digest)
}

func TestCacheShow(t *testing.T) {
	cfg := writeConfig(t, "")
	e := state.Default()
	e.Device.Lamp = true
	e.Sensor.DoorAlert = true
	seedCache(t, cfg, "alice", e)

	out, _, err := execute(t, context.Background(), "-c", cfg, "cache", "show", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "alice lamp=on door=off")
	assert.Contains(t, out, "25.0°C 60.0%")
	assert.Contains(t, out, "alerts=doorAlert")
}

func TestCacheShow_SignedInUser(t *testing.T) {
	cfg := writeConfig(t, "")
	seedCache(t, cfg, "alice", state.Default())
	require.NoError(t, identity.WriteSession(sessionPath(cfg), identity.User{ID: "alice"}))

	out, _, err := execute(t, context.Background(), "-c", cfg, "--format", "json", "cache", "show")
	require.NoError(t, err)

	var resp struct {
		Data CacheShowResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "alice", resp.Data.User)
	assert.Equal(t, state.DefaultTemperature, resp.Data.Entry.Sensor.Temperature)
}

func TestCacheShow_Missing(t *testing.T) {
	cfg := writeConfig(t, "")

	_, _, err := execute(t, context.Background(), "-c", cfg, "cache", "show", "carol")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "nothing cached for carol")
}

func TestCacheShow_NoUser(t *testing.T) {
	cfg := writeConfig(t, "")

	_, _, err := execute(t, context.Background(), "-c", cfg, "cache", "show")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no user signed in")
}

func TestCacheForget(t *testing.T) {
	cfg := writeConfig(t, "")
	seedCache(t, cfg, "alice", state.Default())

	out, _, err := execute(t, context.Background(), "-c", cfg, "cache", "forget", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Forgot alice.")

	out, _, err = execute(t, context.Background(), "-c", cfg, "cache", "forget", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing cached for alice.")
}

func TestCache_MemoryRefused(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "homesync.toml")
	body := "[cache]\nmemory = true\n[session]\npath = \"" + filepath.ToSlash(filepath.Join(dir, "session.json")) + "\"\n"
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o644))

	_, _, err := execute(t, context.Background(), "-c", cfg, "cache", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "cache.memory")
}
