package photostore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pixvault/go-common/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir, err := NewDirectory(filepath.Join(t.TempDir(), "photos"))
	require.NoError(t, err)
	mem, err := NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	file, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "photos.db"))
	require.NoError(t, err)
	stores := map[string]Store{"directory": dir, "sqlite-memory": mem, "sqlite-file": file}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key, err := store.Import(ctx, "beach.jpg", []byte("pixels"))
			require.NoError(t, err)
			assert.True(t, validKey(key))

			data, err := store.LoadSourceBytes(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("pixels"), data)

			meta, err := store.Meta(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "beach.jpg", meta.Name)
			assert.Equal(t, int64(6), meta.Size)
			assert.False(t, meta.Imported.IsZero())
		})
	}
}

func TestStoreKeysInImportOrder(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var want []cache.Key
			for _, n := range []string{"a.jpg", "b.jpg", "c.jpg"} {
				key, err := store.Import(ctx, n, []byte(n))
				require.NoError(t, err)
				want = append(want, key)
			}
			keys, err := store.Keys(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, want, keys)
			assert.Len(t, keys, 3)
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.LoadSourceBytes(ctx, "6f1c1f3e-8d0a-4a51-9a55-1c2b3d4e5f60")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.LoadSourceBytes(ctx, "../etc/passwd")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.Meta(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Delete(ctx, "6f1c1f3e-8d0a-4a51-9a55-1c2b3d4e5f60"), ErrNotFound)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key, err := store.Import(ctx, "x.png", []byte("data"))
			require.NoError(t, err)
			require.NoError(t, store.Delete(ctx, key))

			_, err = store.LoadSourceBytes(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)
			keys, err := store.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestStoreRejectsEmptyImport(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Import(context.Background(), "empty.jpg", nil)
			assert.Error(t, err)
		})
	}
}

func TestDirectoryLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "photos")
	dir, err := NewDirectory(root)
	require.NoError(t, err)

	key, err := dir.Import(context.Background(), "a.jpg", []byte("abc"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, string(key)+sourceExt))
	assert.FileExists(t, filepath.Join(root, string(key)+metaExt))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	reopened, err := NewDirectory(root)
	require.NoError(t, err)
	keys, err := reopened.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []cache.Key{key}, keys)
}

func TestSQLitePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photos.db")
	ctx := context.Background()
	s, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	key, err := s.Import(ctx, "a.jpg", []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = NewSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	data, err := s.LoadSourceBytes(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}
