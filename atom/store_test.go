package atom

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestPutDedup(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			id1, created, err := store.Put(ctx, []byte("hello world"), ModalityText)
			require.NoError(t, err)
			assert.True(t, created)

			id2, created, err := store.Put(ctx, []byte("hello world"), ModalityText)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, id1, id2)

			a, err := store.Get(ctx, id1)
			require.NoError(t, err)
			assert.Equal(t, int64(2), a.ReferenceCount)

			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestCanonicalizationDedup(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			id1, _, err := store.Put(ctx, []byte("line one\r\nline two\n"), ModalityText)
			require.NoError(t, err)

			id2, created, err := store.Put(ctx, []byte("line one\nline two"), ModalityText)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, id1, id2)
		})
	}
}

func TestConcurrentDedup(t *testing.T) {
	// Scenario: N concurrent puts of identical content resolve to exactly
	// one atom with reference count N.
	ctx := context.Background()
	const n = 32

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			ids := make([]ID, n)

			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id, _, err := store.Put(ctx, []byte("concurrent payload"), ModalityText)
					assert.NoError(t, err)
					ids[i] = id
				}(i)
			}
			wg.Wait()

			for _, id := range ids {
				assert.Equal(t, ids[0], id)
			}

			a, err := store.Get(ctx, ids[0])
			require.NoError(t, err)
			assert.Equal(t, int64(n), a.ReferenceCount)

			count, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestContentValidation(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, _, err := store.Put(ctx, nil, ModalityText)
			assert.ErrorIs(t, err, ErrContentInvalid)

			_, _, err = store.Put(ctx, []byte{}, ModalityBinary)
			assert.ErrorIs(t, err, ErrContentInvalid)
		})
	}

	t.Run("oversized", func(t *testing.T) {
		store := NewMemoryStore(WithMaxContentSize(8))
		_, _, err := store.Put(ctx, []byte("way too large for limit"), ModalityBinary)
		assert.ErrorIs(t, err, ErrContentInvalid)
	})
}

func TestRelease(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			id, _, err := store.Put(ctx, []byte("refcounted"), ModalityText)
			require.NoError(t, err)
			_, _, err = store.Put(ctx, []byte("refcounted"), ModalityText)
			require.NoError(t, err)

			remaining, err := store.Release(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(1), remaining)

			remaining, err = store.Release(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(0), remaining)

			_, err = store.Get(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)

			// Re-ingesting the same content after GC creates a fresh atom.
			_, created, err := store.Put(ctx, []byte("refcounted"), ModalityText)
			require.NoError(t, err)
			assert.True(t, created)
		})
	}
}

func TestContentRoundtrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			payload := []byte{0x00, 0x01, 0xfe, 0xff}
			id, _, err := store.Put(ctx, payload, ModalityBinary)
			require.NoError(t, err)

			got, err := store.Content(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			hash := HashContent(payload)
			byHash, ok, err := store.GetByHash(ctx, hash)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, id, byHash)
		})
	}
}

func TestRelations(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			a, _, err := store.Put(ctx, []byte("node a"), ModalityText)
			require.NoError(t, err)
			b, _, err := store.Put(ctx, []byte("node b"), ModalityText)
			require.NoError(t, err)

			require.NoError(t, store.AddRelation(ctx, Relation{Source: a, Target: b, Type: "refines", Weight: 0.5}))
			// Cycles are valid data.
			require.NoError(t, store.AddRelation(ctx, Relation{Source: b, Target: a, Type: "refines", Weight: 0.25}))
			// Upsert replaces weight.
			require.NoError(t, store.AddRelation(ctx, Relation{Source: a, Target: b, Type: "refines", Weight: 0.75}))

			edges, err := store.Relations(ctx, a)
			require.NoError(t, err)
			require.Len(t, edges, 1)
			assert.Equal(t, 0.75, edges[0].Weight)

			require.NoError(t, store.AddRelation(ctx, Relation{Source: a, Target: b, Type: "contradicts", Weight: 1}))
			typed, err := store.RelationsByType(ctx, a, "refines")
			require.NoError(t, err)
			require.Len(t, typed, 1)
			assert.Equal(t, "refines", typed[0].Type)

			err = store.AddRelation(ctx, Relation{Source: a, Target: 9999, Type: "refines"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestForEachOrder(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, c := range []string{"first", "second", "third"} {
				_, _, err := store.Put(ctx, []byte(c), ModalityText)
				require.NoError(t, err)
			}

			var seen []ID
			err := store.ForEach(ctx, func(a *Atom) error {
				seen = append(seen, a.ID)
				return nil
			})
			require.NoError(t, err)
			require.Len(t, seen, 3)
			assert.IsIncreasing(t, seen)
		})
	}
}
