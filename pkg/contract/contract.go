// Package contract defines the immutable delegation contract a parent run
// attaches to a sub-agent at creation. The document is serialized alongside
// the sub-agent record and never mutated afterwards.
package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Parent references the delegating run and step.
type Parent struct {
	RunID       string `json:"run_id"`
	StepIdx     int    `json:"step_idx"`
	TaskPrompt  string `json:"task_prompt"`
	GoalSummary string `json:"goal_summary,omitempty"`
}

// Step describes the delegated plan step.
type Step struct {
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	SuccessCriteria string `json:"success_criteria,omitempty"`
	// Ownership lists path prefixes this step claims exclusively. Siblings
	// with overlapping ownership are never started concurrently.
	Ownership []string `json:"ownership,omitempty"`
}

// Permissions bounds what the sub-agent may do.
type Permissions struct {
	AllowedTools       []string `json:"allowed_tools"`
	CanSpawnChildren   bool     `json:"can_spawn_children"`
	MaxDelegationDepth int      `json:"max_delegation_depth,omitempty"`
}

// Allows reports whether the named tool is in the allowlist.
func (p Permissions) Allows(tool string) bool {
	for _, t := range p.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// Execution bounds how long and how often the sub-agent may try.
type Execution struct {
	AttemptTimeoutMS  int64 `json:"attempt_timeout_ms"`
	MaxRetries        int   `json:"max_retries"`
	CloseOnCompletion bool  `json:"close_on_completion"`
}

// AttemptTimeout returns the per-attempt timeout as a duration.
func (e Execution) AttemptTimeout() time.Duration {
	return time.Duration(e.AttemptTimeoutMS) * time.Millisecond
}

// Outputs specifies where and how the sub-agent reports its result.
type Outputs struct {
	ReportFormat      string `json:"report_format,omitempty"`
	ReportPathPattern string `json:"report_path_pattern,omitempty"`
}

// Contract is the full delegation specification. Immutable once the
// sub-agent is created.
type Contract struct {
	Parent      Parent      `json:"parent"`
	Step        Step        `json:"step"`
	Permissions Permissions `json:"permissions"`
	Execution   Execution   `json:"execution"`
	Outputs     Outputs     `json:"outputs"`
}

// Validate checks the contract is internally consistent.
func (c *Contract) Validate() error {
	if c.Parent.RunID == "" {
		return fmt.Errorf("contract: %w", newFieldError("parent.run_id", "required"))
	}
	if c.Parent.StepIdx < 0 {
		return fmt.Errorf("contract: %w", newFieldError("parent.step_idx", "must be non-negative"))
	}
	if c.Step.Title == "" {
		return fmt.Errorf("contract: %w", newFieldError("step.title", "required"))
	}
	if c.Execution.AttemptTimeoutMS <= 0 {
		return fmt.Errorf("contract: %w", newFieldError("execution.attempt_timeout_ms", "must be positive"))
	}
	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("contract: %w", newFieldError("execution.max_retries", "must be non-negative"))
	}
	if c.Permissions.CanSpawnChildren && c.Permissions.MaxDelegationDepth <= 0 {
		return fmt.Errorf("contract: %w", newFieldError("permissions.max_delegation_depth",
			"must be set when can_spawn_children is enabled"))
	}
	return nil
}

// Marshal serializes the contract document for persistence.
func (c *Contract) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contract: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes a persisted contract document.
func Unmarshal(data []byte) (*Contract, error) {
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contract: %w", err)
	}
	return &c, nil
}

// OwnershipOverlaps reports whether two steps claim overlapping path
// prefixes. A step with no declared ownership overlaps everything — the
// planner must declare non-overlapping boundaries for steps to run in
// parallel.
func OwnershipOverlaps(a, b Step) bool {
	if len(a.Ownership) == 0 || len(b.Ownership) == 0 {
		return true
	}
	for _, pa := range a.Ownership {
		for _, pb := range b.Ownership {
			if prefixOverlap(pa, pb) {
				return true
			}
		}
	}
	return false
}

// prefixOverlap is segment-aware: "src" overlaps "src/parser" but not "src2".
func prefixOverlap(a, b string) bool {
	a = strings.TrimSuffix(a, "/")
	b = strings.TrimSuffix(b, "/")
	if len(a) > len(b) {
		a, b = b, a
	}
	return a == b || strings.HasPrefix(b, a+"/")
}

// FieldError is a field-specific contract validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid field '%s': %s", e.Field, e.Message)
}

func newFieldError(field, message string) error {
	return &FieldError{Field: field, Message: message}
}
