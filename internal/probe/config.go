package probe

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultContentType = "application/zip"
	DefaultUserAgent   = "putprobe/1.0"
	DefaultSampleSize  = 50
)

type Config struct {
	// URL is the pre-signed destination of the PUT.
	URL string
	// Timeout bounds the whole round trip.
	Timeout time.Duration
	// ContentType is the only header set by the caller.
	ContentType string
	// UserAgent is sent explicitly so the footprint never depends on the
	// transport's default. An empty value suppresses the header.
	UserAgent string
	// SampleSize is the number of body bytes printed.
	SampleSize int
	// Redact hides the signature and access key in everything printed.
	Redact bool
	// Strict makes failures visible through the exit status.
	Strict bool
	// HTTPClient overrides the client built by NewProber.
	HTTPClient *http.Client
}

type ConfigOption func(*Config)

func WithURL(url string) ConfigOption {
	return func(cfg *Config) {
		cfg.URL = url
	}
}

// WithTimeout bounds the round trip. A non-positive timeout keeps the
// default; the wait is never unbounded.
func WithTimeout(timeout time.Duration) ConfigOption {
	return func(cfg *Config) {
		if timeout > 0 {
			cfg.Timeout = timeout
		}
	}
}

func WithContentType(contentType string) ConfigOption {
	return func(cfg *Config) {
		cfg.ContentType = contentType
	}
}

func WithUserAgent(userAgent string) ConfigOption {
	return func(cfg *Config) {
		cfg.UserAgent = userAgent
	}
}

func WithSampleSize(n int) ConfigOption {
	return func(cfg *Config) {
		cfg.SampleSize = n
	}
}

func WithRedaction(redact bool) ConfigOption {
	return func(cfg *Config) {
		cfg.Redact = redact
	}
}

func WithStrictExit(strict bool) ConfigOption {
	return func(cfg *Config) {
		cfg.Strict = strict
	}
}

func WithHTTPClient(client *http.Client) ConfigOption {
	return func(cfg *Config) {
		cfg.HTTPClient = client
	}
}

// NewConfig returns the default configuration with opts applied on top.
func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		Timeout:     DefaultTimeout,
		ContentType: DefaultContentType,
		UserAgent:   DefaultUserAgent,
		SampleSize:  DefaultSampleSize,
		Redact:      true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
