package streaming

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// Stream is an open upstream response for a resolved content id.
type Stream struct {
	Resolved ResolvedStream
	Cached   bool
	Status   int
	Header   http.Header
	Body     io.ReadCloser
}

// Close releases the upstream connection.
func (s *Stream) Close() error {
	if s.Body == nil {
		return nil
	}
	return s.Body.Close()
}

// Service resolves content ids and opens their upstream byte streams.
type Service struct {
	resolver *Resolver
	upstream *Upstream
	log      *slog.Logger
}

// NewService returns a Service that resolves through resolver and fetches bytes
// through upstream.
func NewService(resolver *Resolver, upstream *Upstream, log *slog.Logger) *Service {
	return &Service{resolver: resolver, upstream: upstream, log: log}
}

// Resolve returns the stream URL for id, from cache when possible.
func (s *Service) Resolve(ctx context.Context, id ContentID) (ResolvedStream, bool, error) {
	return s.resolver.Resolve(ctx, id)
}

// Open resolves id and opens the upstream range. method is GET or HEAD.
// When the origin rejects the URL as stale the cache entry is dropped so the
// next request re-resolves.
func (s *Service) Open(ctx context.Context, id ContentID, method, rangeHeader string) (*Stream, error) {
	rs, cached, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	resp, err := s.upstream.Open(ctx, method, rs.URL, rangeHeader)
	if err != nil {
		var up *UpstreamError
		if errors.As(err, &up) && up.stale() && s.resolver.Invalidate(id) {
			s.log.Info("cached url rejected by origin, invalidated",
				slog.String("content_id", string(id)),
				slog.String("provider", rs.Provider),
				slog.Int("upstream_status", up.Status))
		}
		return nil, err
	}

	return &Stream{
		Resolved: rs,
		Cached:   cached,
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     resp.Body,
	}, nil
}

// Invalidate drops the cache entry for id.
func (s *Service) Invalidate(id ContentID) bool {
	return s.resolver.Invalidate(id)
}
