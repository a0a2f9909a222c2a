package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// limited gates an adapter behind a token bucket so a shared upstream is not
// hammered by bursts of resolutions.
type limited struct {
	Adapter
	limiter *rate.Limiter
}

// WithRateLimit wraps a so that at most perSecond calls start per second, with
// the given burst. Waiting for a token is bounded by the caller's deadline.
func WithRateLimit(a Adapter, perSecond float64, burst int) Adapter {
	if burst < 1 {
		burst = 1
	}
	return &limited{Adapter: a, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *limited) Resolve(ctx context.Context, contentID string) (Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Result{}, NewFailure(l.Endpoint(), "rate limited", ctx.Err())
		}
		// Wait refuses up front when no token can arrive before the deadline.
		return Result{}, NewFailure(l.Endpoint(), "rate limited", ErrRateLimited)
	}
	return l.Adapter.Resolve(ctx, contentID)
}
