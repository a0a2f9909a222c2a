package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path"

	"github.com/tidwall/gjson"
)

type cobaltRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

// Cobalt resolves through a cobalt-style API: POST {base} with the canonical URL.
type Cobalt struct {
	ep     Endpoint
	client *http.Client
}

// NewCobalt returns an adapter for a cobalt-style endpoint.
func NewCobalt(ep Endpoint, client *http.Client) *Cobalt {
	return &Cobalt{ep: ep, client: client}
}

func (c *Cobalt) Endpoint() Endpoint { return c.ep }

// Resolve succeeds iff the response carries a non-empty url field. Any other
// answer is a failure carrying the provider's own error text.
func (c *Cobalt) Resolve(ctx context.Context, contentID string) (Result, error) {
	payload, err := json.Marshal(cobaltRequest{URL: CanonicalURL(contentID), Format: "audio-only"})
	if err != nil {
		return Result{}, NewFailure(c.ep, "encode request", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.ep.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, NewFailure(c.ep, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ep.APIKey != "" {
		req.Header.Set("Authorization", "Api-Key "+c.ep.APIKey)
	}

	status, body, err := fetch(ctx, c.client, c.ep, req)
	if err != nil {
		return Result{}, err
	}

	if !gjson.ValidBytes(body) {
		if !isSuccess(status) {
			return Result{}, statusFailure(c.ep, status)
		}
		return Result{}, NewFailure(c.ep, "decode response", ErrBadPayload)
	}

	doc := gjson.ParseBytes(body)
	if u := doc.Get("url"); u.Type == gjson.String && u.String() != "" && isSuccess(status) {
		mimeType := mimeFromExt(path.Ext(doc.Get("filename").String()))
		return Result{URL: u.String(), MimeType: mimeFromURL(u.String(), orDefault(mimeType, "audio/mpeg"))}, nil
	}

	f := NewFailure(c.ep, cobaltErrorText(doc), ErrRejected)
	if !isSuccess(status) {
		f.Status = status
		f.Err = ErrBadStatus
	}
	return Result{}, f
}

// cobaltErrorText extracts the error message across the response shapes cobalt
// instances have used: {text}, {error: {code}} and {error: "..."}.
func cobaltErrorText(doc gjson.Result) string {
	for _, p := range []string{"text", "error.code", "error"} {
		if v := doc.Get(p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	if s := doc.Get("status"); s.Exists() {
		return "status " + s.String()
	}
	return "response has no url"
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
