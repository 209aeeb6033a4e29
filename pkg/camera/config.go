// Package camera captures frames from a local webcam through OpenCV and keeps
// its runtime-tunable settings.
package camera

import "fmt"

// Config holds the webcam settings. It can be changed at runtime through a
// Manager.
type Config struct {
	// Device is the capture device: an index ("0") or a path/URL.
	Device string `json:"device"`

	Width     int `json:"width"`
	Height    int `json:"height"`
	Framerate int `json:"framerate"`

	// Brightness adjustment (-1.0 to +1.0), 0 keeps the driver default.
	Brightness float64 `json:"brightness"`

	// ZoomLevel is a digital center crop factor (1.0 to 4.0).
	ZoomLevel float64 `json:"zoom_level"`

	// Mirror flips frames horizontally.
	Mirror bool `json:"mirror"`
}

// Capture limits.
const (
	MinWidth     = 160
	MinHeight    = 120
	MaxWidth     = 3840
	MaxHeight    = 2160
	MaxFramerate = 120
	MaxZoom      = 4.0
)

// DefaultConfig returns 720p at 30 FPS on the first device.
func DefaultConfig() Config {
	return Config{
		Device:    "0",
		Width:     1280,
		Height:    720,
		Framerate: 30,
		ZoomLevel: 1.0,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errs []string

	if c.Device == "" {
		errs = append(errs, "device is required")
	}
	if c.Width < MinWidth || c.Width > MaxWidth {
		errs = append(errs, fmt.Sprintf("width must be between %d and %d", MinWidth, MaxWidth))
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errs = append(errs, fmt.Sprintf("height must be between %d and %d", MinHeight, MaxHeight))
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errs = append(errs, fmt.Sprintf("framerate must be between 1 and %d", MaxFramerate))
	}
	if c.Brightness < -1.0 || c.Brightness > 1.0 {
		errs = append(errs, "brightness must be between -1.0 and 1.0")
	}
	if c.ZoomLevel < 1.0 || c.ZoomLevel > MaxZoom {
		errs = append(errs, "zoom_level must be between 1.0 and 4.0")
	}

	return errs
}
