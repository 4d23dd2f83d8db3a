package models

import "time"

// AgentMessageStream is the transient accumulator for an in-progress model
// response. It exists only while deltas are arriving and is flushed into a
// permanent agent_message ConversationItem on completion, or earlier when a
// competing event (e.g. a tool call) must causally precede the text.
type AgentMessageStream struct {
	StreamID    string    `json:"stream_id"`
	Content     string    `json:"content"`
	IsStreaming bool      `json:"is_streaming"`
	SubAgentID  string    `json:"sub_agent_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Seq         ItemSeq   `json:"item_seq"`
}

// StreamResponse wraps the current streaming text (null when idle).
type StreamResponse struct {
	Stream *AgentMessageStream `json:"stream"`
}
