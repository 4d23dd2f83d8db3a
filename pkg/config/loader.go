package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// RunloomYAMLConfig represents the complete runloom.yaml file structure
type RunloomYAMLConfig struct {
	Server       *ServerConfig           `yaml:"server"`
	Orchestrator *OrchestratorConfig     `yaml:"orchestrator"`
	Presets      map[string]PresetConfig `yaml:"presets"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load runloom.yaml from configDir (built-in defaults when absent)
//  2. Expand environment variables
//  3. Merge built-in + user-defined presets
//  4. Merge server/orchestrator settings over built-in defaults
//  5. Build the preset registry
//  6. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"presets", cfg.Stats().Presets,
		"listen_addr", cfg.Server.ListenAddr)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	userCfg, err := loader.loadRunloomYAML()
	if err != nil {
		return nil, NewLoadError("runloom.yaml", err)
	}

	builtin := GetBuiltinConfig()
	presets := mergePresets(builtin.Presets, userCfg.Presets)

	// Merge user settings over defaults; non-zero user values override.
	serverCfg := DefaultServerConfig()
	if userCfg.Server != nil {
		if err := mergo.Merge(serverCfg, userCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	orchestratorCfg := DefaultOrchestratorConfig()
	if userCfg.Orchestrator != nil {
		if err := mergo.Merge(orchestratorCfg, userCfg.Orchestrator, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge orchestrator config: %w", err)
		}
	}

	return &Config{
		configDir:    configDir,
		Server:       serverCfg,
		Orchestrator: orchestratorCfg,
		Presets:      BuildPresetRegistry(presets, orchestratorCfg),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

// mergePresets merges built-in and user-defined presets. User-defined
// presets override built-in presets with the same name wholesale.
func mergePresets(builtin map[string]PresetConfig, user map[string]PresetConfig) map[string]*PresetConfig {
	result := make(map[string]*PresetConfig)

	for name, preset := range builtin {
		presetCopy := preset
		result[name] = &presetCopy
	}
	for name, preset := range user {
		presetCopy := preset
		result[name] = &presetCopy
	}

	return result
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through original data on parse/execution errors,
	// letting the YAML parser produce the clearer failure.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadRunloomYAML() (*RunloomYAMLConfig, error) {
	config := RunloomYAMLConfig{
		Presets: make(map[string]PresetConfig),
	}

	if err := l.loadYAML("runloom.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			// No config file: the built-in presets and defaults are a
			// complete working configuration.
			slog.Warn("runloom.yaml not found, using built-in configuration",
				"config_dir", l.configDir)
			return &config, nil
		}
		return nil, err
	}

	return &config, nil
}
