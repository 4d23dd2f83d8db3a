package config

import "github.com/runloom/runloom/pkg/models"

// BuiltinConfig holds the presets shipped with the binary. User-defined
// presets with the same name override them wholesale.
type BuiltinConfig struct {
	Presets map[string]PresetConfig
}

// GetBuiltinConfig returns the built-in preset catalog.
func GetBuiltinConfig() *BuiltinConfig {
	return &BuiltinConfig{
		Presets: map[string]PresetConfig{
			"implementer": {
				Description: "Edits files within its ownership to complete one plan step",
				AllowedTools: []string{
					"search",
					"read_file",
					models.ToolApplyPatch,
					models.ToolSetTodoList,
					models.ToolCompleteObjective,
				},
			},
			"investigator": {
				Description: "Read-only exploration; reports findings without touching files",
				AllowedTools: []string{
					"search",
					"read_file",
					models.ToolCompleteObjective,
				},
			},
			"coordinator": {
				Description:        "Splits a large step across child sub-agents",
				CanSpawnChildren:   true,
				MaxDelegationDepth: 2,
				AllowedTools: []string{
					"search",
					"read_file",
					models.ToolSetTodoList,
					models.ToolCompleteObjective,
				},
			},
		},
	}
}
