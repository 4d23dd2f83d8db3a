package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/pkg/contract"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func testDefaults() *OrchestratorConfig {
	return &OrchestratorConfig{
		MaxConcurrentSubAgents: 3,
		AttemptTimeoutMS:       120000,
		MaxRetries:             1,
		MaxDelegationDepth:     2,
	}
}

func TestBuildPresetRegistryAppliesDefaults(t *testing.T) {
	reg := BuildPresetRegistry(map[string]*PresetConfig{
		"minimal": {
			AllowedTools: []string{"search"},
		},
		"explicit": {
			AllowedTools:      []string{"search"},
			AttemptTimeoutMS:  5000,
			MaxRetries:        intPtr(0),
			CloseOnCompletion: boolPtr(false),
		},
	}, testDefaults())

	minimal, err := reg.Get("minimal")
	require.NoError(t, err)
	assert.Equal(t, int64(120000), minimal.AttemptTimeoutMS)
	assert.Equal(t, 1, minimal.MaxRetries)
	assert.True(t, minimal.CloseOnCompletion)

	explicit, err := reg.Get("explicit")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), explicit.AttemptTimeoutMS)
	assert.Equal(t, 0, explicit.MaxRetries)
	assert.False(t, explicit.CloseOnCompletion)
}

func TestPresetRegistryEntriesSortedAndCopied(t *testing.T) {
	reg := BuildPresetRegistry(map[string]*PresetConfig{
		"zeta":  {AllowedTools: []string{"b", "a"}},
		"alpha": {AllowedTools: []string{"search"}},
	}, testDefaults())

	entries := reg.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].Name)
	assert.Equal(t, "zeta", entries[1].Name)

	// Tool lists are sorted on build and copied on read.
	assert.Equal(t, []string{"a", "b"}, entries[1].AllowedTools)
	entries[1].AllowedTools[0] = "mutated"
	again, err := reg.Get("zeta")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, again.AllowedTools)
}

func TestPresetRegistryGetUnknown(t *testing.T) {
	reg := BuildPresetRegistry(nil, testDefaults())
	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, ErrPresetNotFound)
}

func TestPresetRegistryFilter(t *testing.T) {
	reg := BuildPresetRegistry(map[string]*PresetConfig{
		"a": {AllowedTools: []string{"search"}},
		"b": {AllowedTools: []string{"search"}},
		"c": {AllowedTools: []string{"search"}},
	}, testDefaults())

	filtered := reg.Filter([]string{"a", "c"})
	assert.Equal(t, 2, filtered.Len())
	_, err := filtered.Get("b")
	assert.ErrorIs(t, err, ErrPresetNotFound)

	all := reg.Filter(nil)
	assert.Equal(t, 3, all.Len())
}

func TestPresetContract(t *testing.T) {
	reg := BuildPresetRegistry(map[string]*PresetConfig{
		"worker": {
			AllowedTools:       []string{"apply_patch", "complete_objective"},
			CanSpawnChildren:   true,
			MaxDelegationDepth: 2,
			ReportFormat:       "markdown",
		},
	}, testDefaults())

	entry, err := reg.Get("worker")
	require.NoError(t, err)

	c := entry.Contract(
		contract.Parent{RunID: "run-1", StepIdx: 2, TaskPrompt: "fix the bug"},
		contract.Step{Title: "patch the parser", Ownership: []string{"src/parser"}},
	)
	require.NoError(t, c.Validate())

	assert.Equal(t, "run-1", c.Parent.RunID)
	assert.Equal(t, "patch the parser", c.Step.Title)
	assert.True(t, c.Permissions.Allows("apply_patch"))
	assert.False(t, c.Permissions.Allows("delete_everything"))
	assert.True(t, c.Permissions.CanSpawnChildren)
	assert.Equal(t, int64(120000), c.Execution.AttemptTimeoutMS)
	assert.Equal(t, "markdown", c.Outputs.ReportFormat)

	// The contract's tool list is independent of the entry's.
	c.Permissions.AllowedTools[0] = "mutated"
	assert.Equal(t, "apply_patch", entry.AllowedTools[0])
}
