package config

import (
	"fmt"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := v.validateOrchestrator(); err != nil {
		return fmt.Errorf("orchestrator validation failed: %w", err)
	}

	if err := v.validatePresets(); err != nil {
		return fmt.Errorf("preset validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateServer() error {
	if v.cfg.Server.ListenAddr == "" {
		return NewValidationError("server", "server", "listen_addr", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validateOrchestrator() error {
	o := v.cfg.Orchestrator

	if o.MaxConcurrentSubAgents < 1 {
		return NewValidationError("orchestrator", "orchestrator", "max_concurrent_sub_agents",
			fmt.Errorf("must be at least 1"))
	}
	if o.AttemptTimeoutMS <= 0 {
		return NewValidationError("orchestrator", "orchestrator", "attempt_timeout_ms",
			fmt.Errorf("must be positive"))
	}
	if o.MaxRetries < 0 {
		return NewValidationError("orchestrator", "orchestrator", "max_retries",
			fmt.Errorf("must be non-negative"))
	}
	if o.MaxDelegationDepth < 1 {
		return NewValidationError("orchestrator", "orchestrator", "max_delegation_depth",
			fmt.Errorf("must be at least 1"))
	}

	return nil
}

func (v *ConfigValidator) validatePresets() error {
	for _, preset := range v.cfg.Presets.Entries() {
		if len(preset.AllowedTools) == 0 {
			return NewValidationError("preset", preset.Name, "allowed_tools",
				fmt.Errorf("at least one tool required"))
		}
		if preset.AttemptTimeoutMS <= 0 {
			return NewValidationError("preset", preset.Name, "attempt_timeout_ms",
				fmt.Errorf("must be positive"))
		}
		if preset.MaxRetries < 0 {
			return NewValidationError("preset", preset.Name, "max_retries",
				fmt.Errorf("must be non-negative"))
		}
		if preset.CanSpawnChildren && preset.MaxDelegationDepth < 1 {
			return NewValidationError("preset", preset.Name, "max_delegation_depth",
				fmt.Errorf("must be set when can_spawn_children is enabled"))
		}
	}

	return nil
}
