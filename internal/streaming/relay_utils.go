package streaming

import (
	"io"
	"net/http"
	"strings"
	"time"
)

// copyBufferSize is the chunk size used when relaying media bytes.
const copyBufferSize = 32 << 10

// relayHeaders are the only upstream headers passed to clients.
var relayHeaders = []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges"}

// defaultRange returns the inbound Range header, or a whole-resource range when
// the client sent none.
func defaultRange(h string) string {
	if h = strings.TrimSpace(h); h != "" {
		return h
	}
	return "bytes=0-"
}

// copyRelayHeaders copies the whitelisted headers from src to dst. Content-Type
// falls back to mimeType when the upstream omits it or sends a generic type.
func copyRelayHeaders(dst, src http.Header, mimeType string) {
	for _, k := range relayHeaders {
		if v := src.Get(k); v != "" {
			dst.Set(k, v)
		}
	}
	if ct := dst.Get("Content-Type"); (ct == "" || ct == "application/octet-stream") && mimeType != "" {
		dst.Set("Content-Type", mimeType)
	}
}

// writerOnly hides io.ReaderFrom so io.CopyBuffer uses buf.
type writerOnly struct {
	io.Writer
}

// relayBody streams src to dst in copyBufferSize chunks and returns the number
// of bytes written. A read error mid-stream ends the copy; nothing is retried.
func relayBody(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	return io.CopyBuffer(writerOnly{dst}, src, buf)
}

// maxAgeSeconds is the Cache-Control max-age for a stream expiring at exp.
func maxAgeSeconds(exp, now time.Time) int {
	if !exp.After(now) {
		return 0
	}
	return int(exp.Sub(now) / time.Second)
}
