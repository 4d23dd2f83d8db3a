package projection

import (
	"sort"

	"github.com/runloom/runloom/pkg/models"
)

// Read API. Every accessor copies under the task read lock, so concurrent
// reads of one task proceed in parallel; callers get snapshots that stay
// valid after the lock is released and never reflect a half-applied event.
// An unknown task yields empty results, not an error.

// Timeline returns a copy of the task's conversation items in seq order.
func (e *Engine) Timeline(taskID string) []models.ConversationItem {
	st := e.taskState(taskID, false)
	if st == nil {
		return []models.ConversationItem{}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	items := make([]models.ConversationItem, len(st.items))
	copy(items, st.items)
	return items
}

// Plan returns the current plan, or nil when no plan has been produced yet.
func (e *Engine) Plan(taskID string) *models.PlanData {
	st := e.taskState(taskID, false)
	if st == nil {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.plan == nil {
		return nil
	}
	plan := &models.PlanData{
		GoalSummary:        st.plan.GoalSummary,
		Steps:              make([]models.PlanStep, len(st.plan.Steps)),
		CompletionCriteria: st.plan.CompletionCriteria,
	}
	copy(plan.Steps, st.plan.Steps)
	return plan
}

// PlanStreamText returns the partially streamed plan text, empty when no
// plan stream is in flight.
func (e *Engine) PlanStreamText(taskID string) string {
	st := e.taskState(taskID, false)
	if st == nil {
		return ""
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.planStream == nil {
		return ""
	}
	return st.planStream.Content
}

// CurrentMessage returns the in-progress agent message stream, or nil when
// nothing is streaming.
func (e *Engine) CurrentMessage(taskID string) *models.AgentMessageStream {
	st := e.taskState(taskID, false)
	if st == nil {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.msgStream == nil {
		return nil
	}
	stream := *st.msgStream
	return &stream
}

// RawEvents returns the retained tail of raw events, oldest first. At most
// the last rawRingCap events are available; older ones live only in the
// database.
func (e *Engine) RawEvents(taskID string) []models.Event {
	st := e.taskState(taskID, false)
	if st == nil {
		return []models.Event{}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	return st.ring.snapshot()
}

// TodoLists returns all agent to-do lists, the main agent's first and the
// rest ordered by agent id so repeated reads render stably.
func (e *Engine) TodoLists(taskID string) []models.TodoList {
	st := e.taskState(taskID, false)
	if st == nil {
		return []models.TodoList{}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	lists := make([]models.TodoList, 0, len(st.todos))
	for _, list := range st.todos {
		items := make([]models.TodoItem, len(list.Items))
		copy(items, list.Items)
		lists = append(lists, models.TodoList{AgentID: list.AgentID, Items: items})
	}
	sort.Slice(lists, func(i, j int) bool {
		if lists[i].AgentID == MainAgentID {
			return true
		}
		if lists[j].AgentID == MainAgentID {
			return false
		}
		return lists[i].AgentID < lists[j].AgentID
	})
	return lists
}

// PendingApprovals returns unresolved approvals ordered by request time.
func (e *Engine) PendingApprovals(taskID string) []models.Approval {
	st := e.taskState(taskID, false)
	if st == nil {
		return []models.Approval{}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	pending := make([]models.Approval, 0)
	for _, a := range st.approvals {
		if a.Status == models.ApprovalStatusPending {
			pending = append(pending, a)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].RequestedAt.Equal(pending[j].RequestedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].RequestedAt.Before(pending[j].RequestedAt)
	})
	return pending
}

// ToolCalls returns the tool_call items of the timeline in seq order,
// completed and still-running alike.
func (e *Engine) ToolCalls(taskID string) []models.ConversationItem {
	st := e.taskState(taskID, false)
	if st == nil {
		return []models.ConversationItem{}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	calls := make([]models.ConversationItem, 0)
	for _, item := range st.items {
		if item.Kind == models.ItemKindToolCall {
			calls = append(calls, item)
		}
	}
	return calls
}
