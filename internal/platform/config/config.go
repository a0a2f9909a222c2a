package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port          string        `env:"PORT" envDefault:"8080"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string        `env:"LOG_FORMAT" envDefault:"json"`
	ProvidersFile string        `env:"PROVIDERS_FILE" envDefault:"providers.yaml"`
	ShutdownAfter time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Strategy        string        `env:"RESOLVE_STRATEGY" envDefault:"race"`
	ResolveDeadline time.Duration `env:"RESOLVE_DEADLINE" envDefault:"8s"`

	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"1h"`
	CacheSize    int           `env:"CACHE_SIZE" envDefault:"10000"`
	ExpiryMargin time.Duration `env:"EXPIRY_MARGIN" envDefault:"5m"`

	MediaHosts   []string `env:"MEDIA_HOSTS" envSeparator:","`
	AllowPrivate bool     `env:"ALLOW_PRIVATE_MEDIA_HOSTS" envDefault:"false"`

	UpstreamHeaderTimeout time.Duration `env:"UPSTREAM_HEADER_TIMEOUT" envDefault:"10s"`
	UpstreamIdleTimeout   time.Duration `env:"UPSTREAM_IDLE_TIMEOUT" envDefault:"30s"`
	UpstreamProxy         string        `env:"UPSTREAM_PROXY"`
	UserAgent             string        `env:"USER_AGENT"`
	Referer               string        `env:"REFERER" envDefault:"https://www.youtube.com/"`

	PreloadWorkers   int `env:"PRELOAD_WORKERS" envDefault:"4"`
	PreloadQueueSize int `env:"PRELOAD_QUEUE_SIZE" envDefault:"64"`
}

// Load reads the given .env files (".env" when none are given) into the process
// environment. A missing file is not an error; the system environment and the
// defaults still apply.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Parse builds a Config from the environment and validates it.
func Parse() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values that would make the service misbehave silently.
func (c Config) Validate() error {
	var errs []error
	if c.Strategy != "race" && c.Strategy != "sequential" {
		errs = append(errs, fmt.Errorf("RESOLVE_STRATEGY must be race or sequential, got %q", c.Strategy))
	}
	if c.ResolveDeadline <= 0 {
		errs = append(errs, errors.New("RESOLVE_DEADLINE must be positive"))
	}
	if c.UpstreamHeaderTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_HEADER_TIMEOUT must be positive"))
	}
	if c.UpstreamIdleTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_IDLE_TIMEOUT must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, errors.New("CACHE_SIZE must be positive"))
	}
	if c.PreloadWorkers <= 0 || c.PreloadQueueSize <= 0 {
		errs = append(errs, errors.New("PRELOAD_WORKERS and PRELOAD_QUEUE_SIZE must be positive"))
	}
	return errors.Join(errs...)
}
