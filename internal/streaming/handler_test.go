package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"musicy-stream/internal/provider"

	"github.com/go-chi/chi/v5"
)

// audioPayload is served by the fake origin.
var audioPayload = bytes.Repeat([]byte("0123456789"), 100)

// newOrigin serves audioPayload with Range support and a header that must not leak.
func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio.m4a" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Referer") != "https://www.youtube.com/" {
			t.Errorf("expected referer, got %q", r.Header.Get("Referer"))
		}
		if r.Header.Get("Range") == "" {
			t.Error("upstream request should always carry a Range")
		}
		w.Header().Set("X-Origin-Node", "edge-17")
		w.Header().Set("Content-Type", "audio/mp4")
		http.ServeContent(w, r, "audio.m4a", time.Time{}, bytes.NewReader(audioPayload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	router    *chi.Mux
	resolver  *Resolver
	preloader *Preloader
}

func newTestEnv(t *testing.T, adapters ...provider.Adapter) *testEnv {
	t.Helper()
	log := discardLogger()
	strategy, _ := NewStrategy(ModeSequential)
	resolver := NewResolver(adapters, strategy, NewURLCache(time.Hour, 0),
		ResolverOptions{Deadline: 2 * time.Second, Validator: Validator{AllowPrivate: true}}, log, nil)
	upstream, err := NewUpstream(UpstreamOptions{
		HeaderTimeout: time.Second,
		IdleTimeout:   time.Second,
		Referer:       "https://www.youtube.com/",
	})
	if err != nil {
		t.Fatalf("NewUpstream: %v", err)
	}
	preloader := NewPreloader(resolver, 2, 8, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		preloader.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := NewHandler(NewService(resolver, upstream, log), preloader, log, nil)
	r := chi.NewRouter()
	h.Register(r)
	return &testEnv{router: r, resolver: resolver, preloader: preloader}
}

func (e *testEnv) do(method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// Without a client Range the proxy asks for bytes=0- and relays whatever
// status the origin answers with.
func TestHandler_Stream_full(t *testing.T) {
	origin := newOrigin(t)
	env := newTestEnv(t, newFake("cobalt", time.Millisecond, origin.URL+"/audio.m4a", nil))

	rec := env.do(http.MethodGet, "/stream/abc123", nil, nil)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected origin's 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-999/1000" {
		t.Errorf("unexpected content range %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), audioPayload) {
		t.Errorf("body mismatch: got %d bytes", rec.Body.Len())
	}
	if rec.Header().Get("Content-Type") != "audio/mp4" {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Errorf("expected accept-ranges relayed, got %q", rec.Header().Get("Accept-Ranges"))
	}
	if rec.Header().Get("Content-Length") != strconv.Itoa(len(audioPayload)) {
		t.Errorf("unexpected content length %q", rec.Header().Get("Content-Length"))
	}
	if rec.Header().Get("X-Origin-Node") != "" || rec.Header().Get("Last-Modified") != "" {
		t.Error("non-whitelisted upstream headers leaked")
	}
}

func TestHandler_Stream_range(t *testing.T) {
	origin := newOrigin(t)
	env := newTestEnv(t, newFake("cobalt", time.Millisecond, origin.URL+"/audio.m4a", nil))

	rec := env.do(http.MethodGet, "/stream/abc123", nil, http.Header{"Range": {"bytes=100-199"}})

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Errorf("unexpected content range %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), audioPayload[100:200]) {
		t.Errorf("unexpected slice %q", rec.Body.String())
	}
}

func TestHandler_Stream_range_not_satisfiable(t *testing.T) {
	origin := newOrigin(t)
	env := newTestEnv(t, newFake("cobalt", time.Millisecond, origin.URL+"/audio.m4a", nil))

	rec := env.do(http.MethodGet, "/stream/abc123", nil, http.Header{"Range": {"bytes=5000-"}})

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */1000" {
		t.Errorf("unexpected content range %q", got)
	}
}

func TestHandler_Stream_head(t *testing.T) {
	origin := newOrigin(t)
	env := newTestEnv(t, newFake("cobalt", time.Millisecond, origin.URL+"/audio.m4a", nil))

	rec := env.do(http.MethodHead, "/stream/abc123", nil, nil)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD must not carry a body, got %d bytes", rec.Body.Len())
	}
	if rec.Header().Get("Content-Length") != strconv.Itoa(len(audioPayload)) {
		t.Errorf("unexpected content length %q", rec.Header().Get("Content-Length"))
	}
}

func TestHandler_Stream_errors(t *testing.T) {
	origin := newOrigin(t)

	tests := []struct {
		name       string
		adapters   []provider.Adapter
		path       string
		wantStatus int
		wantHeader string
	}{
		{
			name:       "malformed id",
			adapters:   []provider.Adapter{newFake("cobalt", time.Millisecond, origin.URL+"/audio.m4a", nil)},
			path:       "/stream/abc%20123",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "not found everywhere",
			adapters: []provider.Adapter{
				newFake("piped", time.Millisecond, "", provider.ErrNoStreams),
				newFake("cobalt", time.Millisecond, "", provider.ErrNoStreams),
			},
			path:       "/stream/abc123",
			wantStatus: http.StatusNotFound,
		},
		{
			name: "providers unavailable",
			adapters: []provider.Adapter{
				newFake("piped", time.Millisecond, "", provider.ErrNoStreams),
				newFake("cobalt", time.Millisecond, "", provider.ErrBadStatus),
			},
			path:       "/stream/abc123",
			wantStatus: http.StatusServiceUnavailable,
			wantHeader: "Retry-After",
		},
		{
			name:       "upstream rejects url",
			adapters:   []provider.Adapter{newFake("cobalt", time.Millisecond, origin.URL+"/expired.m4a", nil)},
			path:       "/stream/abc123",
			wantStatus: http.StatusInternalServerError,
			wantHeader: "X-Upstream-Status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.adapters...)
			rec := env.do(http.MethodGet, tt.path, nil, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantHeader != "" && rec.Header().Get(tt.wantHeader) == "" {
				t.Errorf("expected %s header", tt.wantHeader)
			}
		})
	}
}

func TestHandler_Stream_stale_url_invalidates_cache(t *testing.T) {
	origin := newOrigin(t)
	a := newFake("cobalt", time.Millisecond, origin.URL+"/expired.m4a", nil)
	env := newTestEnv(t, a)

	rec := env.do(http.MethodGet, "/stream/abc123", nil, nil)
	if rec.Code != http.StatusInternalServerError || rec.Header().Get("X-Upstream-Status") != "404" {
		t.Fatalf("expected 500 with upstream 404, got %d %q", rec.Code, rec.Header().Get("X-Upstream-Status"))
	}
	if env.resolver.CacheLen() != 0 {
		t.Error("stale url should have been dropped from the cache")
	}

	env.do(http.MethodGet, "/stream/abc123", nil, nil)
	if n := a.calls.Load(); n != 2 {
		t.Errorf("expected re-resolution on the next request, got %d calls", n)
	}
}

func TestHandler_Preload(t *testing.T) {
	a := newFake("cobalt", 20*time.Millisecond, "https://cdn.example/a.mp4", nil)
	env := newTestEnv(t, a)

	post := func(body string) map[string]any {
		t.Helper()
		rec := env.do(http.MethodPost, "/preload", strings.NewReader(body), http.Header{"Content-Type": {"application/json"}})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}
		var out map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}

	if out := post(`{"contentId":"abc123"}`); out["success"] != true {
		t.Errorf("expected success, got %v", out)
	}
	if out := post(`{"videoId":"abc123"}`); out["cached"] != true {
		t.Errorf("expected cached on second preload, got %v", out)
	}
	if n := a.calls.Load(); n != 1 {
		t.Errorf("expected one resolution, got %d", n)
	}
}

func TestHandler_Preload_failure_and_bad_input(t *testing.T) {
	env := newTestEnv(t, newFake("cobalt", time.Millisecond, "", provider.ErrBadStatus))

	rec := env.do(http.MethodPost, "/preload", strings.NewReader(`{"contentId":"abc123"}`), nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Errorf("expected success=false, got %d %s", rec.Code, rec.Body.String())
	}

	for _, body := range []string{`not json`, `{}`, `{"contentId":"a/b"}`} {
		rec := env.do(http.MethodPost, "/preload", strings.NewReader(body), nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestHandler_Preload_async(t *testing.T) {
	a := newFake("cobalt", 10*time.Millisecond, "https://cdn.example/a.mp4", nil)
	env := newTestEnv(t, a)

	rec := env.do(http.MethodPost, "/preload?async=true", strings.NewReader(`{"contentId":"abc123"}`), nil)
	if rec.Code != http.StatusAccepted || !strings.Contains(rec.Body.String(), `"queued":true`) {
		t.Fatalf("expected 202 queued, got %d %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.resolver.CacheLen() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.resolver.CacheLen() != 1 {
		t.Fatal("async preload did not warm the cache")
	}

	rec = env.do(http.MethodPost, "/preload?async=true", strings.NewReader(`{"contentId":"abc123"}`), nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"cached":true`) {
		t.Errorf("expected cached answer, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_Resolve(t *testing.T) {
	env := newTestEnv(t, newFake("cobalt", time.Millisecond, "https://cdn.example/a.mp4", nil))

	rec := env.do(http.MethodGet, "/resolve/abc123", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		URL      string `json:"url"`
		MimeType string `json:"mimeType"`
		Provider string `json:"provider"`
		Cached   bool   `json:"cached"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.URL != "https://cdn.example/a.mp4" || out.Provider != "cobalt" || out.Cached {
		t.Errorf("unexpected body %+v", out)
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.HasPrefix(cc, "private, max-age=") {
		t.Errorf("unexpected cache control %q", cc)
	}
}

func TestHandler_InvalidateCache(t *testing.T) {
	a := newFake("cobalt", time.Millisecond, "https://cdn.example/a.mp4", nil)
	env := newTestEnv(t, a)

	env.do(http.MethodGet, "/resolve/abc123", nil, nil)
	rec := env.do(http.MethodDelete, "/cache/abc123", nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	env.do(http.MethodGet, "/resolve/abc123", nil, nil)
	if n := a.calls.Load(); n != 2 {
		t.Errorf("expected re-resolution after invalidation, got %d calls", n)
	}
}

func TestHandler_Healthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected healthz response %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_Stream_truncated_midstream(t *testing.T) {
	var upstreamHits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits.Add(1)
		w.Header().Set("Content-Type", "audio/mp4")
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(audioPayload[:100])
		w.(http.Flusher).Flush()

		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		_ = conn.Close()
	}))
	t.Cleanup(origin.Close)

	fake := newFake("cobalt", time.Millisecond, origin.URL+"/audio.m4a", nil)
	env := newTestEnv(t, fake)

	rec := env.do(http.MethodGet, "/stream/abc123", nil, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected upstream status relayed, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Length") != "1000" {
		t.Errorf("expected declared length relayed, got %q", rec.Header().Get("Content-Length"))
	}
	if !bytes.Equal(rec.Body.Bytes(), audioPayload[:100]) {
		t.Errorf("expected the 100 bytes sent before the drop, got %d", rec.Body.Len())
	}
	if n := upstreamHits.Load(); n != 1 {
		t.Errorf("expected a single upstream request, got %d", n)
	}
	if n := fake.calls.Load(); n != 1 {
		t.Errorf("expected a single resolution, got %d", n)
	}
}
