package projection

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runloom/runloom/pkg/models"
)

// taskState is the full projection for one task. All fields are guarded by
// mu; the engine is the only package that touches them.
type taskState struct {
	mu sync.RWMutex

	seen map[string]struct{}
	ring *eventRing

	items []models.ConversationItem
	plan  *models.PlanData

	// planStream accumulates streaming plan text until plan_ready arrives.
	planStream *streamBuffer
	// msgStream is the in-flight agent message, flushed into a permanent
	// item on completion or when a competing event must precede it.
	msgStream *models.AgentMessageStream
	// recentFlushed remembers the last flushed stream contents for dedup
	// against a trailing non-incremental message event.
	recentFlushed []string

	todos map[string]models.TodoList

	// toolIndex maps tool_call_id → conversation item id for completion
	// lookups (item ids are stable across trims; indexes are not).
	toolIndex map[string]string

	// transientID is the id of the last transient ("thinking"/"preparing")
	// item; the next substantive event removes it before inserting its own.
	transientID string

	approvals map[string]models.Approval
}

// streamBuffer accumulates incremental text keyed by a stream id.
type streamBuffer struct {
	StreamID   string
	Content    string
	SubAgentID string
	StartedAt  time.Time
	UpdatedAt  time.Time
	Seq        models.ItemSeq
}

func newTaskState() *taskState {
	return &taskState{
		seen:      make(map[string]struct{}),
		ring:      newEventRing(rawRingCap),
		todos:     make(map[string]models.TodoList),
		toolIndex: make(map[string]string),
		approvals: make(map[string]models.Approval),
	}
}

// appendItem inserts an item in ItemSeq order. The common case is an append
// at the tail; synthetic items with tie-broken seqs land just after their
// anchor without renumbering anything.
func (st *taskState) appendItem(item models.ConversationItem) {
	n := len(st.items)
	if n == 0 || st.items[n-1].Seq.Less(item.Seq) {
		st.items = append(st.items, item)
		return
	}
	at := sort.Search(n, func(i int) bool {
		return item.Seq.Less(st.items[i].Seq)
	})
	st.items = append(st.items, models.ConversationItem{})
	copy(st.items[at+1:], st.items[at:])
	st.items[at] = item
}

// itemByID returns a pointer to the live item, or nil.
func (st *taskState) itemByID(id string) *models.ConversationItem {
	for i := range st.items {
		if st.items[i].ID == id {
			return &st.items[i]
		}
	}
	return nil
}

// removeItem deletes the item with the given id, reporting whether it existed.
func (st *taskState) removeItem(id string) bool {
	for i := range st.items {
		if st.items[i].ID == id {
			st.items = append(st.items[:i], st.items[i+1:]...)
			return true
		}
	}
	return false
}

// trimItems drops oldest items beyond the limit, reporting whether any were
// dropped. Dropped tool calls are also evicted from the completion index.
func (st *taskState) trimItems(limit int) bool {
	if len(st.items) <= limit {
		return false
	}
	dropped := st.items[:len(st.items)-limit]
	for _, item := range dropped {
		if item.ToolCallID != "" {
			delete(st.toolIndex, item.ToolCallID)
		}
	}
	st.items = st.items[len(st.items)-limit:]
	return true
}

// removeTransient removes the remembered transient item, if any.
func (st *taskState) removeTransient() bool {
	if st.transientID == "" {
		return false
	}
	removed := st.removeItem(st.transientID)
	st.transientID = ""
	return removed
}

// flushMsgStream converts the in-flight agent message stream into a
// permanent agent_message item at the stream's original position, so text
// causally precedes whatever triggered the flush. No-op when idle or empty.
func (st *taskState) flushMsgStream(now time.Time) bool {
	s := st.msgStream
	st.msgStream = nil
	if s == nil || s.Content == "" {
		return false
	}
	st.rememberFlushed(s.Content)
	st.appendItem(models.ConversationItem{
		ID:         uuid.New().String(),
		Kind:       models.ItemKindAgentMessage,
		Seq:        s.Seq,
		Timestamp:  now,
		SubAgentID: s.SubAgentID,
		Content:    s.Content,
	})
	return true
}

func (st *taskState) rememberFlushed(content string) {
	st.recentFlushed = append(st.recentFlushed, content)
	if len(st.recentFlushed) > dedupWindow {
		st.recentFlushed = st.recentFlushed[len(st.recentFlushed)-dedupWindow:]
	}
}

// isDuplicateMessage checks a candidate message against the in-flight
// stream, recently flushed stream contents, and the last few timeline items
// — not the whole history.
func (st *taskState) isDuplicateMessage(content string) bool {
	if content == "" {
		return false
	}
	if st.msgStream != nil && st.msgStream.Content == content {
		return true
	}
	for _, c := range st.recentFlushed {
		if c == content {
			return true
		}
	}
	start := len(st.items) - dedupWindow
	if start < 0 {
		start = 0
	}
	for _, item := range st.items[start:] {
		if item.Kind == models.ItemKindAgentMessage && item.Content == content {
			return true
		}
	}
	return false
}
