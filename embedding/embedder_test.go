package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyEmbedder struct {
	calls    atomic.Int64
	failures int64
}

func (f *flakyEmbedder) Embed(_ context.Context, content []byte) ([]float32, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("model overloaded")
	}
	return []float32{float32(len(content)), 0, 0}, nil
}

func (f *flakyEmbedder) ModelID() string { return "flaky-v1" }

func TestRetryEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("RecoversAfterFailures", func(t *testing.T) {
		inner := &flakyEmbedder{failures: 2}
		emb := NewRetryEmbedder(inner, func(o *RetryOptions) {
			o.MaxAttempts = 3
			o.InitialBackoff = time.Millisecond
		})

		vec, err := emb.Embed(ctx, []byte("abc"))
		require.NoError(t, err)
		assert.Equal(t, []float32{3, 0, 0}, vec)
		assert.Equal(t, int64(3), inner.calls.Load())
	})

	t.Run("ExhaustsAttempts", func(t *testing.T) {
		inner := &flakyEmbedder{failures: 100}
		emb := NewRetryEmbedder(inner, func(o *RetryOptions) {
			o.MaxAttempts = 2
			o.InitialBackoff = time.Millisecond
		})

		_, err := emb.Embed(ctx, []byte("abc"))
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, int64(2), inner.calls.Load())
	})

	t.Run("RespectsCancellation", func(t *testing.T) {
		inner := &flakyEmbedder{failures: 100}
		emb := NewRetryEmbedder(inner, func(o *RetryOptions) {
			o.MaxAttempts = 10
			o.InitialBackoff = time.Hour
		})

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := emb.Embed(cctx, []byte("abc"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, Embedding{AtomID: 1, ModelID: "m", Vector: []float32{1, 2, 3}}))

	e, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Dimension)

	// Mutating the returned vector must not leak into the store.
	e.Vector[0] = 99
	again, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, float32(1), again.Vector[0])

	ok, err := store.Has(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, 1))
	require.NoError(t, store.Delete(ctx, 1)) // idempotent

	_, err = store.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVectorCodec(t *testing.T) {
	vec := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, vec, decodeVector(encodeVector(vec)))
}
