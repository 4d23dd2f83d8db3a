package models

import "time"

// SubAgentStatus is the lifecycle state of a delegated sub-agent.
//
// State machine: created → running → waiting_for_merge → (completed | failed) → closed.
// Transitions are owned exclusively by the orchestrator; see pkg/lifecycle.
type SubAgentStatus string

const (
	SubAgentStatusCreated         SubAgentStatus = "created"
	SubAgentStatusRunning         SubAgentStatus = "running"
	SubAgentStatusWaitingForMerge SubAgentStatus = "waiting_for_merge"
	SubAgentStatusCompleted       SubAgentStatus = "completed"
	SubAgentStatusFailed          SubAgentStatus = "failed"
	SubAgentStatusClosed          SubAgentStatus = "closed"
)

// IsTerminalOutcome reports whether the status is one of the two outcomes
// that permit closing. Note that completed/failed are not "finished" for
// run-gating purposes — only closed is.
func (s SubAgentStatus) IsTerminalOutcome() bool {
	return s == SubAgentStatusCompleted || s == SubAgentStatusFailed
}

// FinalStatus is the outcome recorded when a sub-agent is closed.
type FinalStatus string

const (
	FinalStatusCompleted FinalStatus = "completed"
	FinalStatusFailed    FinalStatus = "failed"
)

// SubAgent is the record of one contract-bound child execution unit.
// Status transitions are the only mutation path after creation.
type SubAgent struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	StepIdx      int            `json:"step_idx"`
	Name         string         `json:"name"`
	Status       SubAgentStatus `json:"status"`
	WorktreePath *string        `json:"worktree_path,omitempty"`
	Contract     []byte         `json:"contract"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	Error        *string        `json:"error,omitempty"`
	FinalStatus  FinalStatus    `json:"final_status,omitempty"`
	CloseReason  string         `json:"close_reason,omitempty"`
}

// SubAgentsResponse contains the sub-agents spawned for a run.
type SubAgentsResponse struct {
	SubAgents []SubAgent `json:"sub_agents"`
}
