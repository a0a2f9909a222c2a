package provider

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// stderrLimit bounds how much extractor stderr ends up in a failure reason.
const stderrLimit = 300

// killGrace is how long Resolve waits for output pipes after the extractor is
// killed. Wrapper scripts can leave children holding them open.
const killGrace = 500 * time.Millisecond

// YtDlp runs the external extraction tool as a subprocess. The process and
// everything it spawned are killed when ctx ends.
type YtDlp struct {
	ep Endpoint
}

// NewYtDlp returns a direct-extractor adapter in subprocess mode.
func NewYtDlp(ep Endpoint) *YtDlp {
	return &YtDlp{ep: ep}
}

func (y *YtDlp) Endpoint() Endpoint { return y.ep }

// Args returns the command line used for contentID, without the binary.
func (y *YtDlp) Args(contentID string) []string {
	x := y.ep.Extractor
	args := []string{CanonicalURL(contentID), "-f", "bestaudio", "--no-warnings"}
	if x.JSON {
		args = append(args, "--dump-json")
	} else {
		args = append(args, "--get-url")
	}
	if x.Proxy != "" {
		args = append(args, "--proxy", x.Proxy)
	}
	if x.CookiesFile != "" {
		args = append(args, "--cookies", x.CookiesFile)
	}
	if x.PlayerClient != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+x.PlayerClient)
	}
	if x.ForceIPv4 {
		args = append(args, "--force-ipv4")
	}
	return args
}

func (y *YtDlp) Resolve(ctx context.Context, contentID string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, y.ep.Extractor.Binary, y.Args(contentID)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace
	killProcessGroup(cmd)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, NewFailure(y.ep, "extractor interrupted", ctx.Err())
		}
		reason := "extractor failed"
		if msg := firstLine(stderr.String()); msg != "" {
			reason += ": " + truncate(msg, stderrLimit)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			reason = "extractor not runnable: " + err.Error()
		}
		return Result{}, NewFailure(y.ep, reason, err)
	}

	if y.ep.Extractor.JSON {
		return y.parseJSON(stdout.Bytes())
	}

	u := firstLine(stdout.String())
	if u == "" {
		return Result{}, NewFailure(y.ep, "extractor returned no url", ErrNoStreams)
	}
	return Result{URL: u, MimeType: mimeFromURL(u, "")}, nil
}

func (y *YtDlp) parseJSON(out []byte) (Result, error) {
	if !gjson.ValidBytes(out) {
		return Result{}, NewFailure(y.ep, "extractor returned invalid json", ErrBadPayload)
	}
	doc := gjson.ParseBytes(out)
	u := doc.Get("url").String()
	if u == "" {
		// merged formats report their parts under requested_formats
		u = doc.Get("requested_formats.0.url").String()
	}
	if u == "" {
		return Result{}, NewFailure(y.ep, "extractor returned no url", ErrNoStreams)
	}
	return Result{URL: u, MimeType: mimeFromURL(u, mimeFromExt(doc.Get("ext").String()))}, nil
}

func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
