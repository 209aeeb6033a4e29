package analysis

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds client configuration.
type Config struct {
	Endpoint        string // analyze URL
	RefreshEndpoint string // refresh URL, optional

	Timeout time.Duration

	// HTTPClient overrides the default session client. Supply one with a
	// cookie jar to keep ambient credentials.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithEndpoint sets the analyze endpoint URL.
func WithEndpoint(url string) Option {
	return func(c *Config) { c.Endpoint = url }
}

// WithRefreshEndpoint sets the refresh endpoint URL.
func WithRefreshEndpoint(url string) Option {
	return func(c *Config) { c.RefreshEndpoint = url }
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Config) { c.HTTPClient = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for a service on localhost.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:        "http://localhost:8000/api/analyze",
		RefreshEndpoint: "http://localhost:8000/api/refresh",
		Timeout:         30 * time.Second,
		Logger:          slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}
	return nil
}
