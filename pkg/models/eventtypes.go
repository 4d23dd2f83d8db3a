package models

// Domain event types are namespaced strings; the prefix is the category:
//
//	agent.*    — produced by the parent agent or its sub-agents
//	tool.*     — tool call lifecycle
//	task.*     — task-level status
//	user.*     — operator input (messages, approvals)
//	artifact.* — produced outputs (file changes)
//
// Sub-agent audit contract — the full sequence is always emitted in order,
// never partially:
//
//	subagent_created → subagent_started → [subagent_attempt]* →
//	(subagent_waiting_for_merge | subagent_failed) →
//	[integration events]* → subagent_closed
//
// The subagent_closed payload always carries sub_agent_id, step_idx,
// final_status and close_reason.

// Agent event types.
const (
	EventTypePlanReady    = "agent.plan_ready"
	EventTypePlanDelta    = "agent.plan_delta"
	EventTypeMessage      = "agent.message"
	EventTypeMessageDelta = "agent.message_delta"

	// Transient status — superseded by the next substantive event.
	EventTypeThinking           = "agent.thinking"
	EventTypePreparingToolCalls = "agent.preparing_tool_calls"

	// Sub-agent lifecycle (audit contract — see above).
	EventTypeSubAgentCreated         = "agent.subagent_created"
	EventTypeSubAgentStarted         = "agent.subagent_started"
	EventTypeSubAgentAttempt         = "agent.subagent_attempt"
	EventTypeSubAgentWaitingForMerge = "agent.subagent_waiting_for_merge"
	EventTypeSubAgentCompleted       = "agent.subagent_completed"
	EventTypeSubAgentFailed          = "agent.subagent_failed"
	EventTypeSubAgentClosed          = "agent.subagent_closed"
	EventTypeWorktreeMerged          = "agent.worktree_merged"
)

// Tool event types.
const (
	EventTypeToolCallStarted  = "tool.call_started"
	EventTypeToolCallFinished = "tool.call_finished"
)

// Task event types.
const (
	EventTypeTaskStatusChanged = "task.status_changed"
)

// User event types.
const (
	EventTypeUserMessage       = "user.message"
	EventTypeApprovalRequested = "user.approval_requested"
	EventTypeApprovalResolved  = "user.approval_resolved"
)

// Artifact event types.
const (
	EventTypeFileChanged = "artifact.file_changed"
)

// Tool names with handler-level significance.
const (
	// ToolApplyPatch synthesizes a companion file_change item when started.
	ToolApplyPatch = "apply_patch"
	// ToolSetTodoList upserts the calling agent's to-do list on success.
	ToolSetTodoList = "set_todo_list"
	// ToolCompleteObjective synthesizes a completion message on success.
	ToolCompleteObjective = "complete_objective"
)
