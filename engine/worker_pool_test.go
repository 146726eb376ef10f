package engine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	ctx := context.Background()

	t.Run("RunsSubmittedTasks", func(t *testing.T) {
		wp := NewWorkerPool(4)

		var ran atomic.Int64
		for i := 0; i < 100; i++ {
			require.NoError(t, wp.Submit(ctx, func() { ran.Add(1) }))
		}
		wp.Close()
		assert.Equal(t, int64(100), ran.Load())
	})

	t.Run("RejectsAfterClose", func(t *testing.T) {
		wp := NewWorkerPool(1)
		wp.Close()
		assert.ErrorIs(t, wp.Submit(ctx, func() {}), ErrClosed)
	})

	t.Run("CloseIsIdempotent", func(t *testing.T) {
		wp := NewWorkerPool(1)
		wp.Close()
		wp.Close()
	})
}

func TestResourceController(t *testing.T) {
	ctx := context.Background()

	t.Run("BoundsConcurrency", func(t *testing.T) {
		c := newResourceController(ResourceConfig{MaxBackgroundJobs: 1})
		require.NoError(t, c.acquireJob(ctx))

		blocked, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, c.acquireJob(blocked))

		c.releaseJob()
		require.NoError(t, c.acquireJob(ctx))
		c.releaseJob()
	})

	t.Run("NilIsNoop", func(t *testing.T) {
		var c *resourceController
		require.NoError(t, c.acquireJob(ctx))
		c.releaseJob()
		require.NoError(t, c.waitIO(ctx, 1<<20))
	})

	t.Run("IOLimiter", func(t *testing.T) {
		c := newResourceController(ResourceConfig{IOLimitBytesPerSec: 1 << 20})
		require.NoError(t, c.waitIO(ctx, 4096))
	})
}
