package provider

import (
	"context"
	"io"
	"net/http"
)

// maxPayload caps how much of a provider response is read into memory.
const maxPayload = 4 << 20

// fetch performs req and returns the status and body. The body is read fully
// because every provider answers with a small JSON document.
func fetch(ctx context.Context, client *http.Client, ep Endpoint, req *http.Request) (int, []byte, error) {
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", ep.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, NewFailure(ep, "request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return resp.StatusCode, nil, NewFailure(ep, "read response", err)
	}
	return resp.StatusCode, body, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
