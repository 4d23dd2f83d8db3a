package models

import "time"

// ItemKind discriminates ConversationItem variants.
type ItemKind string

const (
	ItemKindUserMessage  ItemKind = "user_message"
	ItemKindAgentMessage ItemKind = "agent_message"
	ItemKindPlanStep     ItemKind = "plan_step"
	ItemKindToolCall     ItemKind = "tool_call"
	ItemKindFileChange   ItemKind = "file_change"
	ItemKindStatusChange ItemKind = "status_change"
	ItemKindError        ItemKind = "error"
	ItemKindThinking     ItemKind = "thinking"
)

// ToolStatus is the lifecycle state of a tool_call item.
type ToolStatus string

const (
	ToolStatusRunning ToolStatus = "running"
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// ItemSeq orders conversation items. Seq is the primary ordering key (the
// originating event's sequence number); Tie breaks ties between a real event
// and the synthetic items inserted immediately after it, so inserting a
// synthetic item never renumbers existing items.
type ItemSeq struct {
	Seq int64 `json:"seq"`
	Tie int32 `json:"tie"`
}

// Less reports whether s orders strictly before other.
func (s ItemSeq) Less(other ItemSeq) bool {
	if s.Seq != other.Seq {
		return s.Seq < other.Seq
	}
	return s.Tie < other.Tie
}

// After returns the position immediately following s at the same primary
// sequence, used for synthetic companion items (plan steps, file changes).
func (s ItemSeq) After() ItemSeq {
	return ItemSeq{Seq: s.Seq, Tie: s.Tie + 1}
}

// ConversationItem is one entry in a task's materialized timeline. Variant
// fields are populated according to Kind; the zero value of an unused field
// is omitted from JSON.
type ConversationItem struct {
	ID         string   `json:"id"`
	Kind       ItemKind `json:"kind"`
	Seq        ItemSeq  `json:"item_seq"`
	Timestamp  time.Time `json:"timestamp"`
	SubAgentID string   `json:"sub_agent_id,omitempty"`

	// user_message / agent_message / plan_step / thinking / status_change
	Content string `json:"content,omitempty"`

	// tool_call
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`
	ToolStatus ToolStatus     `json:"tool_status,omitempty"`

	// file_change
	FilePath   string `json:"file_path,omitempty"`
	FileAction string `json:"file_action,omitempty"`

	// status_change
	Status string `json:"status,omitempty"`

	// error
	ErrorMessage string `json:"error_message,omitempty"`

	// Streaming marks an agent_message still being assembled from deltas.
	Streaming bool `json:"streaming,omitempty"`
}

// TimelineResponse contains a snapshot of a task's conversation items.
type TimelineResponse struct {
	Items []ConversationItem `json:"items"`
}
