package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

type invidiousVideo struct {
	AdaptiveFormats []invidiousFormat `json:"adaptiveFormats"`
}

type invidiousFormat struct {
	URL     string `json:"url"`
	Type    string `json:"type"`
	Bitrate string `json:"bitrate"`
}

// Invidious resolves through an Invidious instance: GET {base}/api/v1/videos/{id}.
type Invidious struct {
	ep     Endpoint
	client *http.Client
}

// NewInvidious returns an adapter for an invidious endpoint.
func NewInvidious(ep Endpoint, client *http.Client) *Invidious {
	return &Invidious{ep: ep, client: client}
}

func (v *Invidious) Endpoint() Endpoint { return v.ep }

func (v *Invidious) Resolve(ctx context.Context, contentID string) (Result, error) {
	req, err := http.NewRequest(http.MethodGet, v.ep.BaseURL+"/api/v1/videos/"+url.PathEscape(contentID), http.NoBody)
	if err != nil {
		return Result{}, NewFailure(v.ep, "build request", err)
	}

	status, body, err := fetch(ctx, v.client, v.ep, req)
	if err != nil {
		return Result{}, err
	}
	if !isSuccess(status) {
		return Result{}, statusFailure(v.ep, status)
	}

	var doc invidiousVideo
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{}, NewFailure(v.ep, "decode video", ErrBadPayload)
	}

	var fallback *invidiousFormat
	for i := range doc.AdaptiveFormats {
		f := &doc.AdaptiveFormats[i]
		if f.URL == "" || !strings.HasPrefix(f.Type, "audio/") {
			continue
		}
		if strings.Contains(f.Type, PreferredMimeType) {
			return Result{URL: f.URL, MimeType: trimMime(f.Type)}, nil
		}
		if fallback == nil {
			fallback = f
		}
	}
	if fallback == nil {
		return Result{}, NewFailure(v.ep, "no audio formats", ErrNoStreams)
	}
	return Result{URL: fallback.URL, MimeType: trimMime(fallback.Type)}, nil
}
