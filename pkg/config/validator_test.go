package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	orch := DefaultOrchestratorConfig()
	return &Config{
		Server:       DefaultServerConfig(),
		Orchestrator: orch,
		Presets: BuildPresetRegistry(map[string]*PresetConfig{
			"worker": {AllowedTools: []string{"search"}},
		}, orch),
	}
}

func TestValidateAllPasses(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateServer(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ListenAddr = ""

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_addr")
}

func TestValidateOrchestrator(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*OrchestratorConfig)
		wantText string
	}{
		{
			name:     "zero concurrency",
			mutate:   func(o *OrchestratorConfig) { o.MaxConcurrentSubAgents = 0 },
			wantText: "max_concurrent_sub_agents",
		},
		{
			name:     "non-positive attempt timeout",
			mutate:   func(o *OrchestratorConfig) { o.AttemptTimeoutMS = 0 },
			wantText: "attempt_timeout_ms",
		},
		{
			name:     "negative retries",
			mutate:   func(o *OrchestratorConfig) { o.MaxRetries = -1 },
			wantText: "max_retries",
		},
		{
			name:     "zero delegation depth",
			mutate:   func(o *OrchestratorConfig) { o.MaxDelegationDepth = 0 },
			wantText: "max_delegation_depth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg.Orchestrator)

			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantText)
		})
	}
}

func TestValidatePresets(t *testing.T) {
	orch := DefaultOrchestratorConfig()

	tests := []struct {
		name     string
		preset   *PresetConfig
		wantText string
	}{
		{
			name:     "no tools",
			preset:   &PresetConfig{},
			wantText: "allowed_tools",
		},
		{
			name: "negative retries",
			preset: &PresetConfig{
				AllowedTools: []string{"search"},
				MaxRetries:   intPtr(-1),
			},
			wantText: "max_retries",
		},
		{
			name: "spawn children without depth",
			preset: &PresetConfig{
				AllowedTools:     []string{"search"},
				CanSpawnChildren: true,
			},
			wantText: "max_delegation_depth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Presets = BuildPresetRegistry(map[string]*PresetConfig{"bad": tt.preset}, orch)

			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantText)
		})
	}
}
