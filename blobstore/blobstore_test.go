package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStores(t *testing.T) {
	ctx := context.Background()

	stores := map[string]func(t *testing.T) BlobStore{
		"Memory": func(t *testing.T) BlobStore {
			return NewMemoryStore()
		},
		"Local": func(t *testing.T) BlobStore {
			s, err := NewLocalStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)

			t.Run("PutOpenRoundtrip", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "snapshots/a", []byte("alpha")))

				rc, err := store.Open(ctx, "snapshots/a")
				require.NoError(t, err)
				data, err := io.ReadAll(rc)
				require.NoError(t, err)
				require.NoError(t, rc.Close())
				assert.Equal(t, []byte("alpha"), data)
			})

			t.Run("PutReplaces", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "snapshots/a", []byte("beta")))

				rc, err := store.Open(ctx, "snapshots/a")
				require.NoError(t, err)
				data, err := io.ReadAll(rc)
				require.NoError(t, err)
				require.NoError(t, rc.Close())
				assert.Equal(t, []byte("beta"), data)
			})

			t.Run("OpenMissing", func(t *testing.T) {
				_, err := store.Open(ctx, "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("List", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "snapshots/b", []byte("x")))
				require.NoError(t, store.Put(ctx, "other/c", []byte("y")))

				names, err := store.List(ctx, "snapshots/")
				require.NoError(t, err)
				assert.Equal(t, []string{"snapshots/a", "snapshots/b"}, names)
			})

			t.Run("DeleteIdempotent", func(t *testing.T) {
				require.NoError(t, store.Delete(ctx, "snapshots/a"))
				require.NoError(t, store.Delete(ctx, "snapshots/a"))

				_, err := store.Open(ctx, "snapshots/a")
				assert.ErrorIs(t, err, ErrNotFound)
			})
		})
	}
}
