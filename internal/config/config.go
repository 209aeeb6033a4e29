// Package config loads framewatch configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (FRAMEWATCH_POLL_INTERVAL, FRAMEWATCH_ANALYSIS_ENDPOINT, ...)
//  2. YAML config file
//  3. Defaults
//
// A .env file in the working directory is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FRAMEWATCH_"

const maxConfigFileSize = 1024 * 1024 // 1MB

// Source kinds.
const (
	SourceImage  = "image"
	SourceWebcam = "webcam"
	SourceWebRTC = "webrtc"
)

// Config is the complete framewatch configuration.
type Config struct {
	Source   SourceConfig   `koanf:"source"`
	Analysis AnalysisConfig `koanf:"analysis"`
	Poll     PollConfig     `koanf:"poll"`
	Web      WebConfig      `koanf:"web"`
	Log      LogConfig      `koanf:"log"`
}

// SourceConfig selects and configures the live video source.
type SourceConfig struct {
	Kind string `koanf:"kind"` // image, webcam, webrtc

	// image
	Image string `koanf:"image"`

	// webcam
	Device    string `koanf:"device"` // index ("0") or path/URL
	Width     int    `koanf:"width"`
	Height    int    `koanf:"height"`
	Framerate int    `koanf:"framerate"`

	// webrtc
	SignallingURL string `koanf:"signalling"`
	Producer      string `koanf:"producer"`
}

// AnalysisConfig points at the remote analysis service.
type AnalysisConfig struct {
	Endpoint        string        `koanf:"endpoint"`
	RefreshEndpoint string        `koanf:"refresh"`
	Timeout         time.Duration `koanf:"timeout"`

	// Optional bearer credentials. Token wins over client credentials.
	Token        string `koanf:"token"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	TokenURL     string `koanf:"token_url"`
}

// PollConfig controls the sampling loop.
type PollConfig struct {
	Interval    time.Duration `koanf:"interval"`
	HistorySize int           `koanf:"history_size"`
	TargetEdge  int           `koanf:"target_edge"`
}

// WebConfig controls the dashboard server.
type WebConfig struct {
	Port string `koanf:"port"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `koanf:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Kind:          SourceWebcam,
			Device:        "0",
			Width:         1280,
			Height:        720,
			Framerate:     30,
			SignallingURL: "ws://localhost:8443",
			Producer:      "framewatch",
		},
		Analysis: AnalysisConfig{
			Endpoint:        "http://localhost:8000/api/analyze",
			RefreshEndpoint: "http://localhost:8000/api/refresh",
			Timeout:         30 * time.Second,
		},
		Poll: PollConfig{
			Interval:    5 * time.Second,
			HistorySize: 50,
			TargetEdge:  640,
		},
		Web: WebConfig{
			Port: "8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional YAML file and the environment.
// An empty path skips the file; a named file that does not exist is an error.
// Load does not validate, so callers can apply overrides first and then call
// Check.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// FRAMEWATCH_POLL_HISTORY_SIZE -> poll.history_size
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Check returns an error listing every problem Validate finds.
func (c *Config) Check() error {
	if problems := c.Validate(); len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// Validate checks the config values.
// Returns a list of problems, or nil if valid.
func (c *Config) Validate() []string {
	var problems []string

	switch c.Source.Kind {
	case SourceImage:
		if c.Source.Image == "" {
			problems = append(problems, "source.image is required for the image source")
		}
	case SourceWebcam:
		if c.Source.Device == "" {
			problems = append(problems, "source.device is required for the webcam source")
		}
	case SourceWebRTC:
		if c.Source.SignallingURL == "" {
			problems = append(problems, "source.signalling is required for the webrtc source")
		}
	default:
		problems = append(problems, fmt.Sprintf("source.kind must be image, webcam or webrtc (got %q)", c.Source.Kind))
	}

	if c.Analysis.Endpoint == "" {
		problems = append(problems, "analysis.endpoint is required")
	}
	if c.Analysis.ClientID != "" && c.Analysis.TokenURL == "" {
		problems = append(problems, "analysis.token_url is required with analysis.client_id")
	}
	if c.Poll.Interval <= 0 {
		problems = append(problems, "poll.interval must be positive")
	}
	if c.Poll.HistorySize < 1 {
		problems = append(problems, "poll.history_size must be at least 1")
	}
	if c.Poll.TargetEdge < 1 {
		problems = append(problems, "poll.target_edge must be at least 1")
	}

	return problems
}
