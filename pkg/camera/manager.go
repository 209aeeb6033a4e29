package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrInvalidConfig is returned for settings outside the valid ranges.
var ErrInvalidConfig = errors.New("camera: invalid config")

// Manager holds the current camera configuration and handles updates.
type Manager struct {
	config Config
	mu     sync.RWMutex

	// Callback when config changes (for applying to camera)
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager holding cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the current camera configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig updates the camera configuration.
func (m *Manager) SetConfig(cfg Config) error {
	if problems := cfg.Validate(); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	m.mu.Lock()
	m.config = cfg
	callback := m.OnConfigChange
	m.mu.Unlock()

	// Notify callback if set
	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("failed to apply config: %w", err)
		}
	}

	return nil
}

// UpdateConfig updates specific fields of the configuration.
// Accepts a map of field names to values.
func (m *Manager) UpdateConfig(params map[string]interface{}) error {
	m.mu.Lock()
	cfg := m.config
	m.mu.Unlock()

	// Check for preset first
	if presetName, ok := params["preset"].(string); ok {
		preset := GetPreset(presetName)
		if preset == nil {
			return fmt.Errorf("unknown preset: %s", presetName)
		}
		device := cfg.Device
		cfg = *preset
		cfg.Device = device
		// Remove preset from params so we can still apply other overrides
		delete(params, "preset")
	}

	// Apply individual parameters
	for key, value := range params {
		switch key {
		case "device":
			if v, ok := value.(string); ok {
				cfg.Device = v
			}
		case "width":
			if v, ok := toInt(value); ok {
				cfg.Width = v
			}
		case "height":
			if v, ok := toInt(value); ok {
				cfg.Height = v
			}
		case "framerate":
			if v, ok := toInt(value); ok {
				cfg.Framerate = v
			}
		case "brightness":
			if v, ok := toFloat(value); ok {
				cfg.Brightness = v
			}
		case "zoom_level":
			if v, ok := toFloat(value); ok {
				cfg.ZoomLevel = v
			}
		case "mirror":
			if v, ok := value.(bool); ok {
				cfg.Mirror = v
			}
		default:
			return fmt.Errorf("unknown camera setting: %s", key)
		}
	}

	return m.SetConfig(cfg)
}

// GetConfigJSON returns the current config as a map for JSON serialization.
func (m *Manager) GetConfigJSON() map[string]interface{} {
	cfg := m.GetConfig()

	// Convert to map via JSON for consistent serialization
	data, _ := json.Marshal(cfg)
	var result map[string]interface{}
	_ = json.Unmarshal(data, &result)

	return result
}

// Helper functions for type conversion

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err == nil {
			return f, true
		}
	}
	return 0, false
}




