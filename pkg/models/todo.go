package models

// TodoStatus is the state of a single to-do entry.
type TodoStatus string

const (
	TodoStatusPending    TodoStatus = "pending"
	TodoStatusInProgress TodoStatus = "in_progress"
	TodoStatusCompleted  TodoStatus = "completed"
)

// TodoItem is one entry in an agent's to-do list.
type TodoItem struct {
	ID       string     `json:"id"`
	Content  string     `json:"content"`
	Status   TodoStatus `json:"status"`
	Priority string     `json:"priority,omitempty"`
}

// TodoList is the ordered to-do set owned by one agent. The whole list is
// upserted each time the agent's todo tool call finishes.
type TodoList struct {
	AgentID string     `json:"agent_id"`
	Items   []TodoItem `json:"items"`
}

// TodoListsResponse contains the per-agent to-do lists for a task, with the
// main agent first and the rest sorted lexicographically.
type TodoListsResponse struct {
	Lists []TodoList `json:"lists"`
}
