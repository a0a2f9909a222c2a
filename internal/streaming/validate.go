package streaming

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"musicy-stream/internal/provider"
)

// Validator decides whether a URL returned by a provider is safe to fetch.
// MediaHosts is the global allowlist; an endpoint's own media_hosts replaces it
// for that endpoint. An empty allowlist accepts any public host.
type Validator struct {
	AllowPrivate bool
	MediaHosts   []string
}

// Check returns an error wrapping provider.ErrInvalidURL when raw must not be used.
func (v Validator) Check(raw string, ep provider.Endpoint) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", provider.ErrInvalidURL, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: userinfo present", provider.ErrInvalidURL)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("%w: empty host", provider.ErrInvalidURL)
	}

	if !v.AllowPrivate && privateHost(host) {
		return fmt.Errorf("%w: private host %s", provider.ErrInvalidURL, host)
	}

	allow := v.MediaHosts
	if len(ep.MediaHosts) > 0 {
		allow = ep.MediaHosts
	}
	if len(allow) > 0 && !hostAllowed(host, allow) {
		return fmt.Errorf("%w: host %s not in media allowlist", provider.ErrInvalidURL, host)
	}
	return nil
}

func privateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// hostAllowed matches host against allow entries as equal or subdomain.
func hostAllowed(host string, allow []string) bool {
	for _, a := range allow {
		a = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a), "."))
		if a == "" {
			continue
		}
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}
