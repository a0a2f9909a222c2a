package streaming

import (
	"time"
)

// MaxContentIDLength bounds accepted content identifiers.
const MaxContentIDLength = 64

// ContentID is the opaque track identifier used as the cache key.
type ContentID string

// ParseContentID validates raw. Accepted identifiers are 1..64 characters from
// [A-Za-z0-9_-].
func ParseContentID(raw string) (ContentID, error) {
	if raw == "" || len(raw) > MaxContentIDLength {
		return "", ErrInvalidContentID
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return "", ErrInvalidContentID
		}
	}
	return ContentID(raw), nil
}

// ResolvedStream is a playable URL obtained from one provider.
type ResolvedStream struct {
	URL        string    `json:"url"`
	MimeType   string    `json:"mimeType"`
	Provider   string    `json:"provider"`
	ResolvedAt time.Time `json:"resolvedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Fresh reports whether the stream is still usable at now.
func (s ResolvedStream) Fresh(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
