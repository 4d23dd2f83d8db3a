package config

import "time"

// OrchestratorConfig contains run-level delegation limits. Preset-level
// settings override the per-attempt values.
type OrchestratorConfig struct {
	// MaxConcurrentSubAgents bounds sub-agents executing simultaneously
	// within one run. Siblings beyond the limit queue in spawn order.
	MaxConcurrentSubAgents int `yaml:"max_concurrent_sub_agents"`

	// AttemptTimeoutMS is the default per-attempt timeout for presets that
	// don't set their own.
	AttemptTimeoutMS int64 `yaml:"attempt_timeout_ms"`

	// MaxRetries is the default retry budget beyond the first attempt.
	MaxRetries int `yaml:"max_retries"`

	// MaxDelegationDepth caps nested child delegation across the run.
	MaxDelegationDepth int `yaml:"max_delegation_depth"`

	// GracefulShutdownTimeoutMS is the max time to wait for active
	// sub-agents to finish during shutdown.
	GracefulShutdownTimeoutMS int64 `yaml:"graceful_shutdown_timeout_ms"`
}

// GracefulShutdownTimeout returns the shutdown budget as a duration.
func (o *OrchestratorConfig) GracefulShutdownTimeout() time.Duration {
	return time.Duration(o.GracefulShutdownTimeoutMS) * time.Millisecond
}

// DefaultOrchestratorConfig returns the built-in orchestrator defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		MaxConcurrentSubAgents:    3,
		AttemptTimeoutMS:          (10 * time.Minute).Milliseconds(),
		MaxRetries:                1,
		MaxDelegationDepth:        2,
		GracefulShutdownTimeoutMS: (30 * time.Second).Milliseconds(),
	}
}

// ServerConfig contains HTTP/WebSocket server settings.
type ServerConfig struct {
	ListenAddr       string   `yaml:"listen_addr"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr: ":8080",
	}
}
