package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runloom.yaml"), []byte(content), 0o644))
}

func TestInitializeWithoutConfigFile(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	// Built-in presets and defaults form a complete configuration.
	assert.Equal(t, 3, cfg.Stats().Presets)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 3, cfg.Orchestrator.MaxConcurrentSubAgents)

	entry, err := cfg.GetPreset("implementer")
	require.NoError(t, err)
	assert.Equal(t, cfg.Orchestrator.AttemptTimeoutMS, entry.AttemptTimeoutMS)
}

func TestInitializeUserOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
server:
  listen_addr: ":9090"
orchestrator:
  max_concurrent_sub_agents: 5
  attempt_timeout_ms: 60000
presets:
  implementer:
    description: "Custom implementer"
    allowed_tools: ["apply_patch", "complete_objective"]
    max_retries: 3
  reviewer:
    description: "Reviews diffs"
    allowed_tools: ["read_file", "complete_objective"]
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, 5, cfg.Orchestrator.MaxConcurrentSubAgents)

	// User preset overrides the built-in of the same name wholesale.
	impl, err := cfg.GetPreset("implementer")
	require.NoError(t, err)
	assert.Equal(t, "Custom implementer", impl.Description)
	assert.Equal(t, []string{"apply_patch", "complete_objective"}, impl.AllowedTools)
	assert.Equal(t, 3, impl.MaxRetries)
	assert.Equal(t, int64(60000), impl.AttemptTimeoutMS)

	// New user presets register alongside remaining built-ins.
	_, err = cfg.GetPreset("reviewer")
	require.NoError(t, err)
	_, err = cfg.GetPreset("coordinator")
	require.NoError(t, err)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "presets: [not: a: map")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeValidationFailure(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
presets:
  broken:
    description: "No tools at all"
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "broken")
}

func TestExpandEnvInConfig(t *testing.T) {
	t.Setenv("RUNLOOM_TEST_ADDR", ":7070")

	dir := t.TempDir()
	writeConfigFile(t, dir, `
server:
  listen_addr: "{{.RUNLOOM_TEST_ADDR}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
}

func TestExpandEnvPreservesDollarSigns(t *testing.T) {
	in := []byte(`pattern: "src/$generated/.*$"`)
	out := ExpandEnv(in)
	assert.Equal(t, in, out)
}

func TestExpandEnvMissingVariable(t *testing.T) {
	out := ExpandEnv([]byte(`value: "{{.RUNLOOM_DOES_NOT_EXIST}}"`))
	assert.Equal(t, `value: ""`, string(out))
}
