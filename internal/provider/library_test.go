package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"
)

func TestPickAudioFormat(t *testing.T) {
	formats := youtube.FormatList{
		{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Bitrate: 500000},
		{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000},
		{ItagNo: 139, MimeType: `audio/mp4; codecs="mp4a.40.5"`, Bitrate: 48000},
		{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, AverageBitrate: 128000},
	}

	got := pickAudioFormat(formats)
	if got == nil || got.ItagNo != 140 {
		t.Fatalf("expected itag 140, got %+v", got)
	}

	webmOnly := youtube.FormatList{
		{ItagNo: 250, MimeType: `audio/webm; codecs="opus"`, Bitrate: 70000},
		{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000},
	}
	if got := pickAudioFormat(webmOnly); got == nil || got.ItagNo != 251 {
		t.Errorf("expected highest bitrate webm, got %+v", got)
	}

	if got := pickAudioFormat(youtube.FormatList{formats[0]}); got != nil {
		t.Errorf("expected no audio format, got %+v", got)
	}
}

// redirectTransport sends every request to target, whatever host it names.
type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	req.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

// newTestLibrary points a library adapter at a fake player API.
func newTestLibrary(t *testing.T, h http.HandlerFunc) *Library {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	target, _ := url.Parse(srv.URL)

	ep := Endpoint{Name: "library", Kind: KindExtractor, Extractor: Extractor{Mode: ModeLibrary}}
	ep.applyDefaults(0)
	return NewLibrary(ep, &http.Client{Transport: redirectTransport{target: target}})
}

func playerResponse(formats string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/youtubei/v1/player") {
			http.NotFound(w, r)
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"playabilityStatus":{"status":"OK","playableInEmbed":true},`+
			`"streamingData":{"adaptiveFormats":`+formats+`}}`)
	}
}

func TestLibrary_Resolve(t *testing.T) {
	lib := newTestLibrary(t, playerResponse(`[
		{"itag":137,"mimeType":"video/mp4; codecs=\"avc1.640028\"","bitrate":4000000,"url":"https://cdn.example/video"},
		{"itag":251,"mimeType":"audio/webm; codecs=\"opus\"","bitrate":160000,"url":"https://cdn.example/251"},
		{"itag":140,"mimeType":"audio/mp4; codecs=\"mp4a.40.2\"","bitrate":130000,"url":"https://cdn.example/140"}
	]`))

	res, err := lib.Resolve(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.URL != "https://cdn.example/140" || res.MimeType != "audio/mp4" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestLibrary_Resolve_failures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantErr    error
		wantReason string
	}{
		{
			name: "player api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", http.StatusInternalServerError)
			},
			wantReason: "fetch video",
		},
		{
			name: "video only",
			handler: playerResponse(`[
				{"itag":137,"mimeType":"video/mp4","bitrate":4000000,"url":"https://cdn.example/video"}
			]`),
			wantErr:    ErrNoStreams,
			wantReason: "no audio-only formats",
		},
		{
			name: "no url and no cipher",
			handler: playerResponse(`[
				{"itag":140,"mimeType":"audio/mp4","bitrate":130000}
			]`),
			wantErr:    youtube.ErrCipherNotFound,
			wantReason: "decipher stream url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := newTestLibrary(t, tt.handler)
			_, err := lib.Resolve(context.Background(), "dQw4w9WgXcQ")

			var f *Failure
			if !errors.As(err, &f) {
				t.Fatalf("expected *Failure, got %v", err)
			}
			if f.Provider != "library" {
				t.Errorf("unexpected provider %q", f.Provider)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, f.Err)
			}
			if !strings.HasPrefix(f.Reason, tt.wantReason) {
				t.Errorf("reason %q does not start with %q", f.Reason, tt.wantReason)
			}
		})
	}
}

func TestLibrary_Resolve_deadline(t *testing.T) {
	lib := newTestLibrary(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := lib.Resolve(ctx, "dQw4w9WgXcQ")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}
