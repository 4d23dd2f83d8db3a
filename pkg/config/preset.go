package config

import (
	"github.com/runloom/runloom/pkg/contract"
)

// PresetConfig is the YAML shape of a sub-agent preset: a named bundle of
// permissions and execution limits the orchestrator stamps onto delegation
// contracts.
type PresetConfig struct {
	Description        string   `yaml:"description"`
	AllowedTools       []string `yaml:"allowed_tools"`
	CanSpawnChildren   bool     `yaml:"can_spawn_children"`
	MaxDelegationDepth int      `yaml:"max_delegation_depth,omitempty"`

	// AttemptTimeoutMS and MaxRetries override the orchestrator defaults
	// when set. Pointer fields distinguish "unset" from an explicit zero.
	AttemptTimeoutMS  int64 `yaml:"attempt_timeout_ms,omitempty"`
	MaxRetries        *int  `yaml:"max_retries,omitempty"`
	CloseOnCompletion *bool `yaml:"close_on_completion,omitempty"`

	ReportFormat string `yaml:"report_format,omitempty"`
}

// PresetEntry is a fully resolved preset: orchestrator defaults applied,
// ready to stamp contracts.
type PresetEntry struct {
	Name               string
	Description        string
	AllowedTools       []string
	CanSpawnChildren   bool
	MaxDelegationDepth int
	AttemptTimeoutMS   int64
	MaxRetries         int
	CloseOnCompletion  bool
	ReportFormat       string
}

// Contract builds a delegation contract from this preset for the given
// parent binding and step. The caller still owns step ownership and parent
// identity; the preset contributes permissions and execution limits.
func (e PresetEntry) Contract(parent contract.Parent, step contract.Step) *contract.Contract {
	tools := make([]string, len(e.AllowedTools))
	copy(tools, e.AllowedTools)

	return &contract.Contract{
		Parent: parent,
		Step:   step,
		Permissions: contract.Permissions{
			AllowedTools:       tools,
			CanSpawnChildren:   e.CanSpawnChildren,
			MaxDelegationDepth: e.MaxDelegationDepth,
		},
		Execution: contract.Execution{
			AttemptTimeoutMS:  e.AttemptTimeoutMS,
			MaxRetries:        e.MaxRetries,
			CloseOnCompletion: e.CloseOnCompletion,
		},
		Outputs: contract.Outputs{
			ReportFormat: e.ReportFormat,
		},
	}
}

func (e PresetEntry) clone() PresetEntry {
	c := e
	if len(e.AllowedTools) > 0 {
		c.AllowedTools = make([]string, len(e.AllowedTools))
		copy(c.AllowedTools, e.AllowedTools)
	}
	return c
}
