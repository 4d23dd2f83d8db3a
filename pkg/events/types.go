// Package events provides the event log transport: appending domain events
// to PostgreSQL with transactional NOTIFY, a LISTEN loop feeding the
// projection engine, and WebSocket delivery of change notifications.
//
// Event types and their namespace are defined alongside the Event model in
// pkg/models; this package only cares about moving envelopes around.
package events

// WebSocket notification types (server → client).
const (
	NotifyTypeStateChanged = "state.changed"
	NotifyTypeEvent        = "event.appended"
)

// GlobalTasksChannel carries task-level notifications for list views.
const GlobalTasksChannel = "tasks"

// TaskChannel returns the notification channel for one task's events.
// Format: "task:{task_id}"
func TaskChannel(taskID string) string {
	return "task:" + taskID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // channel name (e.g. "task:abc-123")
	LastEventID *int64 `json:"last_event_id,omitempty"` // for catchup
}
