package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/homesync/internal/state"
)

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()
	_, ok, err := m.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_PutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	e := state.Default()
	e.Device.Lamp = true
	require.NoError(t, m.Put(ctx, "alice", e))

	got, ok, err := m.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e, got)
	assert.Equal(t, 1, m.Puts())
}

func TestMemory_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := state.Default()
	a.Device.Door = true
	require.NoError(t, m.Put(ctx, "alice", a))
	require.NoError(t, m.Put(ctx, "bob", state.Default()))

	got, _, err := m.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Device.Door)

	rows, err := m.Users(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].Namespace)
	assert.Equal(t, a.MustDigest(), rows[0].Digest)
	assert.Equal(t, "bob", rows[1].Namespace)
}

func TestMemory_RejectsEmptyUser(t *testing.T) {
	m := NewMemory()
	assert.Error(t, m.Put(context.Background(), " ", state.Default()))
	assert.Equal(t, 0, m.Puts())
}
