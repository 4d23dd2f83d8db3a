package models

import "time"

// ApprovalStatus is the resolution state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusDenied   ApprovalStatus = "denied"
)

// Approval is a pending or resolved request for an operator decision,
// raised by a sub-agent (e.g. before an irreversible tool call).
type Approval struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id"`
	SubAgentID  string         `json:"sub_agent_id,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// ResolveApprovalRequest is the body for resolving an approval.
type ResolveApprovalRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

// ApprovalsResponse contains pending approvals for a task.
type ApprovalsResponse struct {
	Approvals []Approval `json:"approvals"`
}
