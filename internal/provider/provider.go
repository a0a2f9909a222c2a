// Package provider wraps the upstream services and tools that can turn a content
// identifier into a playable audio URL. Each Kind has its own wire contract; all of
// them normalize to a Result or a *Failure.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Kind selects the wire contract an Endpoint speaks.
type Kind string

const (
	KindPiped     Kind = "piped"
	KindCobalt    Kind = "cobalt"
	KindInvidious Kind = "invidious"
	KindExtractor Kind = "direct-extractor"
)

// DefaultTimeout bounds a single adapter call when the endpoint does not set one.
const DefaultTimeout = 5 * time.Second

// DefaultUserAgent is sent to HTTP providers that reject non-browser clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var (
	ErrNoStreams   = errors.New("no audio streams")
	ErrTimeout     = errors.New("provider timed out")
	ErrRateLimited = errors.New("rate limited")
	ErrBadStatus   = errors.New("unexpected status")
	ErrBadPayload  = errors.New("malformed payload")
	ErrRejected    = errors.New("provider rejected request")
	ErrInvalidURL  = errors.New("invalid media url")
)

// Result is the normalized output of a successful adapter call.
type Result struct {
	URL      string
	MimeType string
}

// Adapter resolves a content identifier against one upstream provider.
// Resolve must honor ctx cancellation at the transport level.
type Adapter interface {
	Endpoint() Endpoint
	Resolve(ctx context.Context, contentID string) (Result, error)
}

// Failure describes why a single adapter call did not produce a Result.
type Failure struct {
	Provider string
	Kind     Kind
	Reason   string
	Status   int // upstream HTTP status, 0 when not applicable
	Err      error
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(f.Provider)
	b.WriteString(": ")
	b.WriteString(f.Reason)
	if f.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", f.Status)
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure builds a Failure for ep. A context deadline in err is reported as
// ErrTimeout so callers can tell slow providers from broken ones.
func NewFailure(ep Endpoint, reason string, err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		reason, err = "timeout", ErrTimeout
	}
	return &Failure{Provider: ep.Name, Kind: ep.Kind, Reason: reason, Err: err}
}

func statusFailure(ep Endpoint, status int) *Failure {
	f := NewFailure(ep, "unexpected status", ErrBadStatus)
	f.Status = status
	if status == http.StatusNotFound {
		f.Err = ErrNoStreams
	}
	return f
}

// CanonicalURL returns the watch URL that extractors and cobalt-style providers expect.
func CanonicalURL(contentID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(contentID)
}

// New builds the adapter for ep. The returned adapter is rate limited when the
// endpoint declares a rate.
func New(ep Endpoint, client *http.Client) (Adapter, error) {
	if client == nil {
		client = http.DefaultClient
	}

	var a Adapter
	switch ep.Kind {
	case KindPiped:
		a = NewPiped(ep, client)
	case KindCobalt:
		a = NewCobalt(ep, client)
	case KindInvidious:
		a = NewInvidious(ep, client)
	case KindExtractor:
		if ep.Extractor.Mode == ModeLibrary {
			a = NewLibrary(ep, client)
		} else {
			a = NewYtDlp(ep)
		}
	default:
		return nil, fmt.Errorf("provider %q: unknown kind %q", ep.Name, ep.Kind)
	}

	if ep.RatePerSecond > 0 {
		a = WithRateLimit(a, ep.RatePerSecond, ep.Burst)
	}
	return a, nil
}

// NewSet builds adapters for every endpoint, preserving order.
func NewSet(eps []Endpoint, client *http.Client) ([]Adapter, error) {
	out := make([]Adapter, 0, len(eps))
	for _, ep := range eps {
		a, err := New(ep, client)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// trimMime drops parameters such as codecs from a mime type.
func trimMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.TrimSpace(mimeType)
}

var extMimeTypes = map[string]string{
	"m4a":  "audio/mp4",
	"mp4":  "audio/mp4",
	"webm": "audio/webm",
	"weba": "audio/webm",
	"mp3":  "audio/mpeg",
	"opus": "audio/ogg",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	"wav":  "audio/wav",
}

// mimeFromExt maps a container extension to an audio mime type.
func mimeFromExt(ext string) string {
	return extMimeTypes[strings.TrimPrefix(strings.ToLower(ext), ".")]
}

// mimeFromURL reads the mime hint that signed media URLs carry in their query.
func mimeFromURL(raw, fallback string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	if m := trimMime(u.Query().Get("mime")); m != "" {
		return m
	}
	if i := strings.LastIndexByte(u.Path, '.'); i >= 0 {
		if m := mimeFromExt(u.Path[i+1:]); m != "" {
			return m
		}
	}
	return fallback
}
