package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/resilience"
)

type RetryConfig struct {
	// MaxAttempts counts the first call; 2 means one retry.
	MaxAttempts int
	Backoff     resilience.Backoff
	// AttemptTimeout bounds each call; 0 leaves ctx as is.
	AttemptTimeout time.Duration
	IsRetryable    func(error) bool
}

// Retry calls fn up to MaxAttempts times. A failure after the last attempt
// is tagged gateway_unavailable unless it already carries a reason; the
// caller's own cancellation is returned untouched.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) (Response, error)) (Response, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	var lastErr error
	for n := 0; n < cfg.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		resp, err := attempt(ctx, cfg.AttemptTimeout, fn)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if !cfg.IsRetryable(err) || n == cfg.MaxAttempts-1 {
			break
		}
		if err := resilience.Wait(ctx, cfg.Backoff.Delay(n)); err != nil {
			return Response{}, err
		}
	}
	return Response{}, errorsx.Wrap(fmt.Errorf("gateway: %w", lastErr), errorsx.ReasonGatewayUnavailable)
}

func attempt(ctx context.Context, timeout time.Duration, fn func(context.Context) (Response, error)) (Response, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

// DefaultIsRetryable retries transient provider failures. Cancellation, an
// open breaker and bad configuration are final. A per-attempt deadline is
// retried; the parent's deadline is checked by Retry.
func DefaultIsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, resilience.ErrOpen):
		return false
	case errorsx.HasReason(err, errorsx.ReasonConfigInvalid):
		return false
	default:
		return true
	}
}

// RetryGateway applies Retry to every Generate call.
type RetryGateway struct {
	inner Gateway
	cfg   RetryConfig
}

func NewRetryGateway(inner Gateway, cfg RetryConfig) *RetryGateway {
	return &RetryGateway{inner: inner, cfg: cfg}
}

func (g *RetryGateway) Name() string { return g.inner.Name() }

func (g *RetryGateway) Generate(ctx context.Context, req Request) (Response, error) {
	return Retry(ctx, g.cfg, func(ctx context.Context) (Response, error) {
		return g.inner.Generate(ctx, req)
	})
}
