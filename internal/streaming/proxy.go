package streaming

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"musicy-stream/internal/provider"
)

// UpstreamOptions configures how media bytes are fetched from the origin.
type UpstreamOptions struct {
	HeaderTimeout time.Duration
	IdleTimeout   time.Duration
	ProxyURL      string
	UserAgent     string
	Referer       string
}

// Upstream fetches byte ranges of resolved media URLs.
type Upstream struct {
	client      *http.Client
	userAgent   string
	referer     string
	idleTimeout time.Duration
}

// NewUpstream builds an Upstream with its own transport. HeaderTimeout bounds the
// wait for response headers; IdleTimeout cancels a body that stops making progress.
func NewUpstream(opts UpstreamOptions) (*Upstream, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = opts.HeaderTimeout
	// Media bytes are relayed as-is; never let the transport decode them.
	tr.DisableCompression = true
	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream proxy: %w", err)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	return newUpstream(&http.Client{Transport: tr}, opts), nil
}

func newUpstream(client *http.Client, opts UpstreamOptions) *Upstream {
	if opts.UserAgent == "" {
		opts.UserAgent = provider.DefaultUserAgent
	}
	return &Upstream{
		client:      client,
		userAgent:   opts.UserAgent,
		referer:     opts.Referer,
		idleTimeout: opts.IdleTimeout,
	}
}

// Client exposes the transport so provider adapters can share the egress path.
func (u *Upstream) Client() *http.Client {
	return u.client
}

// Open requests target with the given Range (bytes=0- when empty). On 200 or 206
// the response is returned with an idle-guarded body the caller must close. Any
// other status is returned as *UpstreamError.
func (u *Upstream) Open(ctx context.Context, method, target, rangeHeader string) (*http.Response, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, method, target, http.NoBody)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", u.userAgent)
	if u.referer != "" {
		req.Header.Set("Referer", u.referer)
	}
	req.Header.Set("Range", defaultRange(rangeHeader))

	resp, err := u.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		cancel()
		return nil, &UpstreamError{Status: resp.StatusCode, ContentRange: resp.Header.Get("Content-Range")}
	}

	resp.Body = newIdleReader(resp.Body, u.idleTimeout, cancel)
	return resp, nil
}

// idleReader cancels the upstream request when no bytes arrive for timeout.
type idleReader struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	once    sync.Once
}

func newIdleReader(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	r := &idleReader{body: body, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		r.timer = time.AfterFunc(timeout, cancel)
	}
	return r
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 && r.timer != nil {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleReader) Close() error {
	var err error
	r.once.Do(func() {
		if r.timer != nil {
			r.timer.Stop()
		}
		err = r.body.Close()
		r.cancel()
	})
	return err
}
