package streaming

import (
	"errors"
	"fmt"
	"strings"

	"musicy-stream/internal/provider"
)

var (
	// ErrInvalidContentID is returned for a missing or malformed content id.
	// No provider is called.
	ErrInvalidContentID = errors.New("invalid content id")

	// ErrAllProvidersExhausted is matched by every *ExhaustedError.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrNotAttempted marks providers skipped because the resolve deadline passed.
	ErrNotAttempted = errors.New("not attempted")

	// ErrQueueFull is returned when the preload queue has no room.
	ErrQueueFull = errors.New("preload queue full")

	// ErrPreloaderStopped is returned for jobs submitted after shutdown.
	ErrPreloaderStopped = errors.New("preloader stopped")
)

// ExhaustedError reports that no provider produced a usable URL. Failures are in
// configured provider order.
type ExhaustedError struct {
	ContentID ContentID
	Mode      Mode
	Failures  []*provider.Failure
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, f.Error())
	}
	return fmt.Sprintf("%s for %s (%s): %s", ErrAllProvidersExhausted, e.ContentID, e.Mode, strings.Join(reasons, "; "))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// NotFound reports whether every provider said the content has no streams, as
// opposed to being slow or broken.
func (e *ExhaustedError) NotFound() bool {
	if len(e.Failures) == 0 {
		return false
	}
	for _, f := range e.Failures {
		if !errors.Is(f, provider.ErrNoStreams) {
			return false
		}
	}
	return true
}

// UpstreamError is a non-2xx answer from the media origin.
type UpstreamError struct {
	Status       int
	ContentRange string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// stale reports statuses that mean the signed URL itself is no longer valid.
func (e *UpstreamError) stale() bool {
	switch e.Status {
	case 403, 404, 410:
		return true
	}
	return false
}
