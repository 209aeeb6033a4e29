package camera

// Preset names for common configurations
const (
	PresetDefault = "default"
	PresetLegacy  = "legacy"
	Preset1080p   = "1080p"
	PresetNight   = "night"
	PresetZoom2x  = "zoom2x"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault: DefaultConfig(),
		PresetLegacy:  LegacyConfig(),
		Preset1080p:   HD1080Config(),
		PresetNight:   NightModeConfig(),
		PresetZoom2x:  Zoom2xConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetLegacy,
		Preset1080p,
		PresetNight,
		PresetZoom2x,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// LegacyConfig returns 640x480, which every UVC camera supports.
func LegacyConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 640
	cfg.Height = 480
	return cfg
}

// HD1080Config returns 1080p Full HD configuration.
func HD1080Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1920
	cfg.Height = 1080
	return cfg
}

// NightModeConfig trades framerate for a brighter picture.
func NightModeConfig() Config {
	cfg := DefaultConfig()
	cfg.Framerate = 15
	cfg.Brightness = 0.5
	return cfg
}

// Zoom2xConfig returns 2x digital zoom configuration.
func Zoom2xConfig() Config {
	cfg := DefaultConfig()
	cfg.ZoomLevel = 2.0
	return cfg
}
