package sync

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"drivesync/internal/database"
	"drivesync/internal/fs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolverStore(t *testing.T) *database.Store {
	t.Helper()
	store, err := database.Open(filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResolveOrCreateFolder(t *testing.T) {
	store := newResolverStore(t)
	r := NewResolver(store)
	ctx := context.Background()

	id, created, err := r.resolve(ctx, "Backup", database.RootID)
	require.NoError(t, err)
	assert.True(t, created)

	again, err := r.ResolveOrCreateFolder(ctx, "Backup", database.RootID)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// 同名文件不算
	fileParent, err := store.CreateFolder(ctx, "mixed", database.RootID)
	require.NoError(t, err)
	_, err = store.UploadNew(ctx, "Backup", fileParent, strings.NewReader("not a folder"), "")
	require.NoError(t, err)

	folderID, created, err := r.resolve(ctx, "Backup", fileParent)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, id, folderID)
}

func TestResolveOrCreateFolder_FirstMatchWins(t *testing.T) {
	store := newResolverStore(t)
	ctx := context.Background()
	first, err := store.CreateFolder(ctx, "dup", database.RootID)
	require.NoError(t, err)
	_, err = store.CreateFolder(ctx, "dup", database.RootID)
	require.NoError(t, err)

	id, err := NewResolver(store).ResolveOrCreateFolder(ctx, "dup", database.RootID)
	require.NoError(t, err)
	assert.Equal(t, first, id)
}

func TestResolveOrCreateFolder_Concurrent(t *testing.T) {
	store := newResolverStore(t)
	r := NewResolver(store)

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.ResolveOrCreateFolder(context.Background(), "shared", database.RootID)
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	items, err := store.ListChildren(context.Background(), database.RootID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestResolveOrCreateFolder_Errors(t *testing.T) {
	store := newResolverStore(t)
	r := NewResolver(store)

	_, err := r.ResolveOrCreateFolder(context.Background(), "", database.RootID)
	assert.Error(t, err)

	_, err = r.ResolveOrCreateFolder(context.Background(), "x", "missing-parent")
	assert.ErrorIs(t, err, fs.ErrNotFound)
}
