package streaming

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"musicy-stream/internal/platform/metrics"
	"musicy-stream/internal/provider"
)

// DefaultResolveDeadline bounds one resolution across all providers.
const DefaultResolveDeadline = 8 * time.Second

// ResolverOptions holds the tunables of a Resolver.
type ResolverOptions struct {
	Deadline  time.Duration
	Validator Validator
}

// Resolver turns a ContentID into a ResolvedStream: cache first, then the
// configured strategy over the provider adapters. Concurrent misses for the
// same id share one resolution.
type Resolver struct {
	adapters  []provider.Adapter
	strategy  Strategy
	cache     *URLCache
	validator Validator
	deadline  time.Duration
	group     singleflight.Group
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewResolver returns a Resolver. Metrics may be nil.
func NewResolver(adapters []provider.Adapter, strategy Strategy, cache *URLCache, opts ResolverOptions, log *slog.Logger, m *metrics.Metrics) *Resolver {
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultResolveDeadline
	}
	return &Resolver{
		adapters:  adapters,
		strategy:  strategy,
		cache:     cache,
		validator: opts.Validator,
		deadline:  opts.Deadline,
		log:       log,
		metrics:   m,
	}
}

// Cached returns the unexpired cache entry for id without resolving.
func (r *Resolver) Cached(id ContentID) (ResolvedStream, bool) {
	s, ok := r.cache.Get(id)
	r.metrics.IncCacheLookup(ok)
	return s, ok
}

// Resolve returns a stream for id and whether it came from the cache.
// The shared resolution runs under its own deadline; ctx only bounds how long
// this caller waits for it.
func (r *Resolver) Resolve(ctx context.Context, id ContentID) (ResolvedStream, bool, error) {
	if s, ok := r.Cached(id); ok {
		return s, true, nil
	}

	ch := r.group.DoChan(string(id), func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return ResolvedStream{}, false, res.Err
		}
		return res.Val.(ResolvedStream), false, nil
	case <-ctx.Done():
		return ResolvedStream{}, false, ctx.Err()
	}
}

// Invalidate drops the cached entry for id.
func (r *Resolver) Invalidate(id ContentID) bool {
	return r.cache.Invalidate(id)
}

// CacheLen is used to refresh the cache gauge at scrape time.
func (r *Resolver) CacheLen() int {
	return r.cache.Len()
}

func (r *Resolver) resolve(ctx context.Context, id ContentID) (ResolvedStream, error) {
	// A flight that finished just before this one started has filled the cache.
	if s, ok := r.cache.Get(id); ok {
		return s, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()
	defer r.metrics.TrackInFlight()()

	resolutionID := uuid.NewString()
	log := r.log.With(
		slog.String("content_id", string(id)),
		slog.String("resolution_id", resolutionID),
		slog.String("mode", string(r.strategy.Mode())),
	)
	start := time.Now()

	win, err := r.strategy.Run(ctx, id, r.adapters, r.attemptFunc(id, log))
	if err != nil {
		r.metrics.IncResolution(string(r.strategy.Mode()), "exhausted")
		var ex *ExhaustedError
		if errors.As(err, &ex) {
			log.Warn("all providers exhausted",
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Bool("not_found", ex.NotFound()),
				slog.Any("failures", lo.Map(ex.Failures, func(f *provider.Failure, _ int) string {
					return f.Error()
				})),
			)
		}
		return ResolvedStream{}, err
	}

	s := r.cache.Put(id, ResolvedStream{
		URL:      win.Result.URL,
		MimeType: lo.Ternary(win.Result.MimeType != "", win.Result.MimeType, provider.PreferredMimeType),
		Provider: win.Provider.Name,
	})
	r.metrics.IncResolution(string(r.strategy.Mode()), "success")
	log.Info("stream resolved",
		slog.String("provider", win.Provider.Name),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		slog.Time("expires_at", s.ExpiresAt),
	)
	return s, nil
}

// attemptFunc wraps every adapter call with its endpoint timeout, URL
// validation and metrics.
func (r *Resolver) attemptFunc(id ContentID, log *slog.Logger) AttemptFunc {
	return func(ctx context.Context, a provider.Adapter) (provider.Result, error) {
		ep := a.Endpoint()
		ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
		defer cancel()

		start := time.Now()
		res, err := a.Resolve(ctx, string(id))
		if err == nil {
			if verr := r.validator.Check(res.URL, ep); verr != nil {
				err = provider.NewFailure(ep, "rejected url", verr)
			}
		}
		elapsed := time.Since(start)

		outcome := attemptOutcome(err)
		r.metrics.ObserveAttempt(ep.Name, outcome, elapsed)
		if err != nil {
			log.Debug("provider attempt failed",
				slog.String("provider", ep.Name),
				slog.String("outcome", outcome),
				slog.Int64("duration_ms", elapsed.Milliseconds()),
				slog.String("error", err.Error()))
			return provider.Result{}, err
		}
		return res, nil
	}
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, provider.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, provider.ErrNoStreams):
		return "not_found"
	case errors.Is(err, provider.ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, provider.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
