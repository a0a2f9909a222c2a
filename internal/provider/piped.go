package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// PreferredMimeType is the audio container piped-style selection looks for first.
const PreferredMimeType = "audio/mp4"

type pipedStreams struct {
	AudioStreams []pipedAudioStream `json:"audioStreams"`
}

type pipedAudioStream struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Bitrate  int    `json:"bitrate"`
}

// Piped resolves through a Piped API instance: GET {base}/streams/{id}.
type Piped struct {
	ep     Endpoint
	client *http.Client
}

// NewPiped returns an adapter for a piped-style endpoint.
func NewPiped(ep Endpoint, client *http.Client) *Piped {
	return &Piped{ep: ep, client: client}
}

func (p *Piped) Endpoint() Endpoint { return p.ep }

// Resolve fetches the stream list and picks the first audio/mp4 descriptor,
// falling back to the first descriptor in the list.
func (p *Piped) Resolve(ctx context.Context, contentID string) (Result, error) {
	target := p.ep.BaseURL + "/streams/" + url.PathEscape(contentID)
	if p.ep.RelayURL != "" {
		target = p.ep.RelayURL + url.QueryEscape(target)
	}

	req, err := http.NewRequest(http.MethodGet, target, http.NoBody)
	if err != nil {
		return Result{}, NewFailure(p.ep, "build request", err)
	}

	status, body, err := fetch(ctx, p.client, p.ep, req)
	if err != nil {
		return Result{}, err
	}
	if !isSuccess(status) {
		return Result{}, statusFailure(p.ep, status)
	}

	var doc pipedStreams
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{}, NewFailure(p.ep, "decode streams", ErrBadPayload)
	}

	s, ok := selectPiped(doc.AudioStreams)
	if !ok {
		return Result{}, NewFailure(p.ep, "empty audio stream list", ErrNoStreams)
	}
	return Result{URL: s.URL, MimeType: trimMime(s.MimeType)}, nil
}

func selectPiped(streams []pipedAudioStream) (pipedAudioStream, bool) {
	if len(streams) == 0 {
		return pipedAudioStream{}, false
	}
	for _, s := range streams {
		if trimMime(s.MimeType) == PreferredMimeType {
			return s, true
		}
	}
	return streams[0], true
}
