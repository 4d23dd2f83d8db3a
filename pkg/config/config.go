package config

// Config is the umbrella configuration object returned by Initialize and
// used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// Server holds HTTP/WebSocket settings.
	Server *ServerConfig

	// Orchestrator holds run-level delegation limits.
	Orchestrator *OrchestratorConfig

	// Presets is the resolved sub-agent preset registry.
	Presets *PresetRegistry
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Presets int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Presets != nil {
		s.Presets = c.Presets.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetPreset retrieves a sub-agent preset by name.
// This is a convenience method that wraps Presets.Get().
func (c *Config) GetPreset(name string) (PresetEntry, error) {
	return c.Presets.Get(name)
}
