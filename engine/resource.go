package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ResourceConfig holds the limits the coordinator imposes on background
// work so that reprojection and clustering cannot starve the query path.
type ResourceConfig struct {
	// MaxBackgroundJobs caps concurrently running background jobs
	// (reprojection batches, cluster runs, repairs). Defaults to 2.
	MaxBackgroundJobs int64

	// IOLimitBytesPerSec throttles snapshot and rebuild IO. 0 means
	// unlimited.
	IOLimitBytesPerSec int64
}

// resourceController enforces ResourceConfig with a weighted semaphore for
// job slots and a token bucket for IO bytes. A nil controller is a no-op.
type resourceController struct {
	cfg       ResourceConfig
	bgSem     *semaphore.Weighted
	ioLimiter *rate.Limiter
}

func newResourceController(cfg ResourceConfig) *resourceController {
	if cfg.MaxBackgroundJobs <= 0 {
		cfg.MaxBackgroundJobs = 2
	}

	c := &resourceController{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundJobs),
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// acquireJob blocks until a background slot is available.
func (c *resourceController) acquireJob(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

func (c *resourceController) releaseJob() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// waitIO blocks until n bytes of IO budget are available.
func (c *resourceController) waitIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil || n <= 0 {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := c.ioLimiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
