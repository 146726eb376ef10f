package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrUnavailable is returned when the external embedder failed or timed out
// after all retries. The owning atom stays durable; it is merely absent from
// spatial queries until a later retry succeeds.
var ErrUnavailable = errors.New("embedder unavailable")

// Embedder is the external embedding model collaborator.
// Implementations are expected to be safe for concurrent use.
type Embedder interface {
	// Embed maps content bytes to a fixed-length vector.
	Embed(ctx context.Context, content []byte) ([]float32, error)

	// ModelID identifies the model producing the vectors.
	ModelID() string
}

// RetryOptions configures the RetryEmbedder.
type RetryOptions struct {
	// MaxAttempts bounds retries per call. Default 3.
	MaxAttempts int

	// Timeout applies per attempt. Default 10s.
	Timeout time.Duration

	// InitialBackoff is the delay after the first failure; it doubles per
	// attempt. Default 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff growth. Default 5s.
	MaxBackoff time.Duration

	// RequestsPerSecond throttles calls to the external model.
	// Zero disables throttling.
	RequestsPerSecond float64
}

// DefaultRetryOptions returns the default retry configuration.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:    3,
		Timeout:        10 * time.Second,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// RetryEmbedder wraps an Embedder with per-attempt timeouts, bounded
// exponential backoff and an optional request rate limit.
type RetryEmbedder struct {
	inner   Embedder
	opts    RetryOptions
	limiter *rate.Limiter
}

// NewRetryEmbedder wraps inner with retry behavior.
func NewRetryEmbedder(inner Embedder, optFns ...func(o *RetryOptions)) *RetryEmbedder {
	opts := DefaultRetryOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &RetryEmbedder{inner: inner, opts: opts, limiter: limiter}
}

// ModelID implements Embedder.
func (r *RetryEmbedder) ModelID() string { return r.inner.ModelID() }

// Embed implements Embedder. On exhaustion it returns ErrUnavailable wrapping
// the last attempt's error.
func (r *RetryEmbedder) Embed(ctx context.Context, content []byte) ([]float32, error) {
	backoff := r.opts.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > r.opts.MaxBackoff {
				backoff = r.opts.MaxBackoff
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if r.opts.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		}
		vec, err := r.inner.Embed(attemptCtx, content)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return vec, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}
