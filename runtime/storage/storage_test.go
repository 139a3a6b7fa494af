package storage

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// storeUnderTest exercises the Store contract shared by all backends.
func storeUnderTest(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "agent:u1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "agent:u1", []byte(`{"id":"u1"}`)))
	require.NoError(t, store.Set(ctx, "agent:u2", []byte(`{"id":"u2"}`)))
	require.NoError(t, store.Set(ctx, "manifest:u1", []byte(`{"agent_id":"u1"}`)))

	val, ok, err := store.Get(ctx, "agent:u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"id":"u1"}`, string(val))

	exists, err := store.Exists(ctx, "agent:u2")
	require.NoError(t, err)
	require.True(t, exists)

	keys, err := store.ListKeys(ctx, "agent:")
	require.NoError(t, err)
	sort.Strings(keys)
	require.Equal(t, []string{"agent:u1", "agent:u2"}, keys)

	all, err := store.ListKeys(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	deleted, err := store.Delete(ctx, "agent:u1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = store.Delete(ctx, "agent:u1")
	require.NoError(t, err)
	require.False(t, deleted)

	exists, err = store.Exists(ctx, "agent:u1")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, NewMemory())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	buf := []byte(`{"id":"u1"}`)
	require.NoError(t, store.Set(ctx, "agent:u1", buf))
	buf[0] = 'X'

	val, ok, err := store.Get(ctx, "agent:u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, byte('{'), val[0])
}

func TestFileStore(t *testing.T) {
	store, err := NewFile(t.TempDir())
	require.NoError(t, err)
	storeUnderTest(t, store)
}

func TestFileStoreEscapesKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewFile(t.TempDir())
	require.NoError(t, err)

	key := "tasks/send:abc"
	require.NoError(t, store.Set(ctx, key, []byte(`1`)))

	val, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`1`), val)

	keys, err := store.ListKeys(ctx, "tasks/")
	require.NoError(t, err)
	require.Equal(t, []string{key}, keys)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "workflow:w1", []byte(`{"id":"w1"}`)))

	second, err := NewFile(dir)
	require.NoError(t, err)
	val, ok, err := second.Get(ctx, "workflow:w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"id":"w1"}`, string(val))
}
