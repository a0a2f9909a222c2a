package provider

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Extractor modes for KindExtractor endpoints.
const (
	ModeSubprocess = "subprocess"
	ModeLibrary    = "library"
)

// Endpoint is the static configuration of one provider. The order of endpoints in
// a set is the fallback priority.
type Endpoint struct {
	Name          string        `yaml:"name"`
	Kind          Kind          `yaml:"kind"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	APIKey        string        `yaml:"api_key"`
	RelayURL      string        `yaml:"relay_url"`
	UserAgent     string        `yaml:"user_agent"`
	MediaHosts    []string      `yaml:"media_hosts"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Extractor     Extractor     `yaml:"extractor"`
}

// Extractor configures a direct-extractor endpoint.
type Extractor struct {
	Mode         string `yaml:"mode"`
	Binary       string `yaml:"binary"`
	JSON         bool   `yaml:"json"`
	Proxy        string `yaml:"proxy"`
	CookiesFile  string `yaml:"cookies_file"`
	PlayerClient string `yaml:"player_client"`
	ForceIPv4    bool   `yaml:"force_ipv4"`
}

type endpointsFile struct {
	Providers []Endpoint `yaml:"providers"`
}

// DefaultEndpoints is used when no providers file exists.
func DefaultEndpoints() []Endpoint {
	eps := []Endpoint{
		{Name: "piped-kavin", Kind: KindPiped, BaseURL: "https://pipedapi.kavin.rocks", Timeout: 6 * time.Second},
		{Name: "cobalt", Kind: KindCobalt, BaseURL: "https://api.cobalt.tools", Timeout: 5 * time.Second},
		{Name: "yt-dlp", Kind: KindExtractor, Timeout: 8 * time.Second, Extractor: Extractor{
			PlayerClient: "android",
			ForceIPv4:    true,
		}},
	}
	for i := range eps {
		eps[i].applyDefaults(i)
	}
	return eps
}

// LoadEndpoints reads a YAML providers file. A missing file yields DefaultEndpoints.
func LoadEndpoints(path string) ([]Endpoint, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultEndpoints(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open providers file: %w", err)
	}
	defer f.Close()
	return ParseEndpoints(f)
}

// ParseEndpoints decodes and validates a providers document.
func ParseEndpoints(r io.Reader) ([]Endpoint, error) {
	var doc endpointsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse providers: %w", err)
	}
	if len(doc.Providers) == 0 {
		return nil, errors.New("parse providers: no providers configured")
	}

	seen := make(map[string]bool, len(doc.Providers))
	for i := range doc.Providers {
		ep := &doc.Providers[i]
		ep.applyDefaults(i)
		if err := ep.validate(); err != nil {
			return nil, err
		}
		if seen[ep.Name] {
			return nil, fmt.Errorf("provider %q: duplicate name", ep.Name)
		}
		seen[ep.Name] = true
	}
	return doc.Providers, nil
}

func (ep *Endpoint) applyDefaults(index int) {
	if ep.Name == "" {
		ep.Name = fmt.Sprintf("%s-%d", ep.Kind, index)
	}
	if ep.Timeout <= 0 {
		ep.Timeout = DefaultTimeout
	}
	if ep.UserAgent == "" {
		ep.UserAgent = DefaultUserAgent
	}
	if ep.RatePerSecond > 0 && ep.Burst <= 0 {
		ep.Burst = 1
	}
	ep.BaseURL = strings.TrimRight(ep.BaseURL, "/")
	if ep.Kind == KindExtractor {
		if ep.Extractor.Mode == "" {
			ep.Extractor.Mode = ModeSubprocess
		}
		if ep.Extractor.Binary == "" {
			ep.Extractor.Binary = "yt-dlp"
		}
	}
}

func (ep *Endpoint) validate() error {
	switch ep.Kind {
	case KindPiped, KindCobalt, KindInvidious:
		if ep.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required for kind %s", ep.Name, ep.Kind)
		}
	case KindExtractor:
		if ep.Extractor.Mode != ModeSubprocess && ep.Extractor.Mode != ModeLibrary {
			return fmt.Errorf("provider %q: unknown extractor mode %q", ep.Name, ep.Extractor.Mode)
		}
	default:
		return fmt.Errorf("provider %q: unknown kind %q", ep.Name, ep.Kind)
	}
	return nil
}
