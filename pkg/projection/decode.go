package projection

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Typed payload decoding at the dispatch boundary. Handlers never narrow
// loose maps field-by-field: the payload is decoded into the event type's
// struct and required fields are checked up front. A failed decode is the
// "malformed payload" error kind — the handler degrades (no-op or empty
// value) and Ingest never fails.

var errMissingField = errors.New("missing required payload field")

// decodePayload round-trips the loose payload map through JSON into the
// typed struct, then runs its required-field validation.
func decodePayload[T interface{ validate() error }](payload map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("malformed payload: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("malformed payload: %w", err)
	}
	if err := out.validate(); err != nil {
		return out, err
	}
	return out, nil
}

type planStepPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ToolIntents []string `json:"tool_intents"`
}

type planReadyPayload struct {
	GoalSummary        string            `json:"goal_summary"`
	Steps              []planStepPayload `json:"steps"`
	CompletionCriteria string            `json:"completion_criteria"`
}

func (p planReadyPayload) validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: steps", errMissingField)
	}
	return nil
}

type streamDeltaPayload struct {
	StreamID   string `json:"stream_id"`
	Delta      string `json:"delta"`
	SubAgentID string `json:"sub_agent_id"`
}

func (p streamDeltaPayload) validate() error {
	if p.StreamID == "" {
		return fmt.Errorf("%w: stream_id", errMissingField)
	}
	return nil
}

type messagePayload struct {
	Content    string `json:"content"`
	SubAgentID string `json:"sub_agent_id"`
}

func (p messagePayload) validate() error {
	if p.Content == "" {
		return fmt.Errorf("%w: content", errMissingField)
	}
	return nil
}

type transientPayload struct {
	Label      string `json:"label"`
	SubAgentID string `json:"sub_agent_id"`
}

func (p transientPayload) validate() error { return nil }

type toolCallStartedPayload struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Args       map[string]any `json:"args"`
	SubAgentID string         `json:"sub_agent_id"`
}

func (p toolCallStartedPayload) validate() error {
	if p.ToolCallID == "" {
		return fmt.Errorf("%w: tool_call_id", errMissingField)
	}
	if p.ToolName == "" {
		return fmt.Errorf("%w: tool_name", errMissingField)
	}
	return nil
}

type todoItemPayload struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

type toolCallFinishedPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Status     string `json:"status"`
	Output     string `json:"output"`
	Error      string `json:"error"`
	SubAgentID string `json:"sub_agent_id"`

	// set_todo_list: the structured list replacing the agent's todos.
	Todos json.RawMessage `json:"todos"`

	// complete_objective: structured summary of the finished objective.
	Summary string   `json:"summary"`
	Outputs []string `json:"outputs"`
}

func (p toolCallFinishedPayload) validate() error {
	if p.ToolCallID == "" {
		return fmt.Errorf("%w: tool_call_id", errMissingField)
	}
	return nil
}

func (p toolCallFinishedPayload) succeeded() bool {
	return p.Status == "succeeded" || p.Status == "success"
}

type subAgentPayload struct {
	SubAgentID   string `json:"sub_agent_id"`
	StepIdx      int    `json:"step_idx"`
	Name         string `json:"name"`
	Attempt      int    `json:"attempt"`
	Error        string `json:"error"`
	FinalStatus  string `json:"final_status"`
	CloseReason  string `json:"close_reason"`
	WorktreePath string `json:"worktree_path"`
}

func (p subAgentPayload) validate() error {
	if p.SubAgentID == "" {
		return fmt.Errorf("%w: sub_agent_id", errMissingField)
	}
	return nil
}

// worktreeMergedPayload has no required fields: the merge event may be
// emitted at run scope without a sub-agent reference.
type worktreeMergedPayload struct {
	SubAgentID   string `json:"sub_agent_id"`
	WorktreePath string `json:"worktree_path"`
}

func (p worktreeMergedPayload) validate() error { return nil }

type taskStatusPayload struct {
	Status string `json:"status"`
}

func (p taskStatusPayload) validate() error {
	if p.Status == "" {
		return fmt.Errorf("%w: status", errMissingField)
	}
	return nil
}

// terminal reports whether the task status ends the run from the consumer's
// perspective — nothing may appear to be "still streaming" afterwards.
func (p taskStatusPayload) terminal() bool {
	switch p.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

type userMessagePayload struct {
	Content string `json:"content"`
}

func (p userMessagePayload) validate() error {
	if p.Content == "" {
		return fmt.Errorf("%w: content", errMissingField)
	}
	return nil
}

type approvalRequestedPayload struct {
	ApprovalID string `json:"approval_id"`
	SubAgentID string `json:"sub_agent_id"`
	ToolName   string `json:"tool_name"`
	Reason     string `json:"reason"`
}

func (p approvalRequestedPayload) validate() error {
	if p.ApprovalID == "" {
		return fmt.Errorf("%w: approval_id", errMissingField)
	}
	return nil
}

type approvalResolvedPayload struct {
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason"`
}

func (p approvalResolvedPayload) validate() error {
	if p.ApprovalID == "" {
		return fmt.Errorf("%w: approval_id", errMissingField)
	}
	return nil
}

type fileChangedPayload struct {
	Path       string `json:"path"`
	Action     string `json:"action"`
	SubAgentID string `json:"sub_agent_id"`
}

func (p fileChangedPayload) validate() error {
	if p.Path == "" {
		return fmt.Errorf("%w: path", errMissingField)
	}
	return nil
}
