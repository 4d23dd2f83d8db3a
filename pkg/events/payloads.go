package events

// StateChangedPayload is broadcast on a task channel after the projection
// engine ingests an event for that task. The three flags tell consumers what
// to re-query; none of them implies the others.
type StateChangedPayload struct {
	Type               string `json:"type"` // always NotifyTypeStateChanged
	TaskID             string `json:"task_id"`
	EventID            string `json:"event_id"` // ingested domain event
	PlanChanged        bool   `json:"plan_changed"`
	TimelineChanged    bool   `json:"timeline_changed"`
	AgentStreamChanged bool   `json:"agent_stream_changed"`
	Timestamp          string `json:"timestamp"` // RFC3339Nano
}

// EventAppendedPayload is the NOTIFY envelope for a persisted domain event.
// The full event row is carried so local consumers can apply it without a
// readback; oversized payloads are replaced by a truncation envelope.
type EventAppendedPayload struct {
	Type      string         `json:"type"` // always NotifyTypeEvent
	EventID   string         `json:"event_id"`
	RunID     *string        `json:"run_id,omitempty"`
	TaskID    string         `json:"task_id"`
	Seq       int64          `json:"seq"`
	Category  string         `json:"category"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"` // RFC3339Nano
	Truncated bool           `json:"truncated,omitempty"`
}
