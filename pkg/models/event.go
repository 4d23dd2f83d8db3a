package models

import (
	"strings"
	"time"
)

// Event categories. The category is the namespace prefix of the event type
// ("agent.subagent_created" → category "agent").
const (
	CategoryAgent    = "agent"
	CategoryTool     = "tool"
	CategoryTask     = "task"
	CategoryUser     = "user"
	CategoryArtifact = "artifact"
)

// CategoryForType derives the category from a namespaced event type
// ("tool.call_started" → "tool"). An un-namespaced type is its own category.
func CategoryForType(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		return eventType[:i]
	}
	return eventType
}

// Event is an immutable fact appended to the run's event log.
//
// ID is the idempotency key: duplicate delivery of the same ID must be a
// no-op for consumers. Seq is monotonically increasing per run; events for a
// run are delivered to the projection engine in non-decreasing Seq order.
type Event struct {
	ID        string         `json:"id"`
	RunID     *string        `json:"run_id"`
	Seq       int64          `json:"seq"`
	Category  string         `json:"category"`
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateEventRequest contains fields for appending an event to the log.
// Seq is assigned by the log on insert.
type CreateEventRequest struct {
	RunID    *string        `json:"run_id"`
	TaskID   string         `json:"task_id"`
	Category string         `json:"category"`
	Type     string         `json:"event_type"`
	Payload  map[string]any `json:"payload"`
}

// EventsResponse contains a list of events since a given sequence number.
type EventsResponse struct {
	Events []Event `json:"events"`
}
