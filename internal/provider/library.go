package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/kkdai/youtube/v2"
)

// Library extracts in-process with kkdai/youtube instead of spawning a tool.
type Library struct {
	ep     Endpoint
	client *youtube.Client
}

// NewLibrary returns a direct-extractor adapter in library mode.
func NewLibrary(ep Endpoint, client *http.Client) *Library {
	return &Library{ep: ep, client: &youtube.Client{HTTPClient: client}}
}

func (l *Library) Endpoint() Endpoint { return l.ep }

func (l *Library) Resolve(ctx context.Context, contentID string) (Result, error) {
	video, err := l.client.GetVideoContext(ctx, contentID)
	if err != nil {
		return Result{}, NewFailure(l.ep, "fetch video: "+err.Error(), err)
	}

	format := pickAudioFormat(video.Formats)
	if format == nil {
		return Result{}, NewFailure(l.ep, "no audio-only formats", ErrNoStreams)
	}

	u, err := l.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return Result{}, NewFailure(l.ep, "decipher stream url", err)
	}
	if u == "" {
		return Result{}, NewFailure(l.ep, "empty stream url", ErrNoStreams)
	}
	return Result{URL: u, MimeType: trimMime(format.MimeType)}, nil
}

// pickAudioFormat returns the best audio-only format: audio/mp4 beats other
// containers, then higher bitrate wins.
func pickAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		if best == nil || betterAudio(f, best) {
			best = f
		}
	}
	return best
}

func betterAudio(a, b *youtube.Format) bool {
	aPref := trimMime(a.MimeType) == PreferredMimeType
	bPref := trimMime(b.MimeType) == PreferredMimeType
	if aPref != bPref {
		return aPref
	}
	return formatBitrate(a) > formatBitrate(b)
}

func formatBitrate(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	return f.AverageBitrate
}
