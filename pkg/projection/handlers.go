package projection

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/runloom/runloom/pkg/models"
)

// handlerContext is the task-bound view a handler mutates. The caller holds
// the task state lock for the whole handler call, so consumers never observe
// a partially-applied event.
type handlerContext struct {
	taskID string
	state  *taskState
}

// handlerFunc applies one event to the task projection and reports what
// changed.
type handlerFunc func(hc *handlerContext, evt *models.Event) Flags

// newRegistry builds the static dispatch table. Adding an event type is a
// compile-time-checked change here — there is no reflection fallback.
func newRegistry() map[string]handlerFunc {
	return map[string]handlerFunc{
		models.EventTypePlanReady:    handlePlanReady,
		models.EventTypePlanDelta:    handlePlanDelta,
		models.EventTypeMessage:      handleAgentMessage,
		models.EventTypeMessageDelta: handleMessageDelta,

		models.EventTypeThinking:           handleTransient,
		models.EventTypePreparingToolCalls: handleTransient,

		models.EventTypeToolCallStarted:  handleToolCallStarted,
		models.EventTypeToolCallFinished: handleToolCallFinished,

		models.EventTypeSubAgentCreated:         handleSubAgentStatus,
		models.EventTypeSubAgentStarted:         handleSubAgentStatus,
		models.EventTypeSubAgentAttempt:         handleSubAgentAttempt,
		models.EventTypeSubAgentWaitingForMerge: handleSubAgentStatus,
		models.EventTypeSubAgentCompleted:       handleSubAgentStatus,
		models.EventTypeSubAgentFailed:          handleSubAgentFailed,
		models.EventTypeSubAgentClosed:          handleSubAgentClosed,
		models.EventTypeWorktreeMerged:          handleWorktreeMerged,

		models.EventTypeTaskStatusChanged: handleTaskStatus,

		models.EventTypeUserMessage:       handleUserMessage,
		models.EventTypeApprovalRequested: handleApprovalRequested,
		models.EventTypeApprovalResolved:  handleApprovalResolved,

		models.EventTypeFileChanged: handleFileChanged,
	}
}

func baseSeq(evt *models.Event) models.ItemSeq {
	return models.ItemSeq{Seq: evt.Seq}
}

// handlePlanReady replaces the plan wholesale and inserts a synthetic
// plan_step item for every step not already on the timeline, tie-ordered
// immediately after the plan event so existing items keep their positions.
func handlePlanReady(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[planReadyPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	plan := &models.PlanData{
		GoalSummary:        p.GoalSummary,
		Steps:              make([]models.PlanStep, 0, len(p.Steps)),
		CompletionCriteria: p.CompletionCriteria,
	}
	for _, s := range p.Steps {
		plan.Steps = append(plan.Steps, models.PlanStep{
			Title:       s.Title,
			Description: s.Description,
			ToolIntents: s.ToolIntents,
		})
	}
	st.plan = plan

	flags := Flags{PlanChanged: true}
	if st.planStream != nil {
		st.rememberFlushed(st.planStream.Content)
		st.planStream = nil
		flags.AgentStreamChanged = true
	}

	existing := make(map[string]bool)
	for _, item := range st.items {
		if item.Kind == models.ItemKindPlanStep {
			existing[item.Content] = true
		}
	}
	seq := baseSeq(evt)
	for _, s := range plan.Steps {
		if existing[s.Title] {
			continue
		}
		seq = seq.After()
		st.appendItem(models.ConversationItem{
			ID:        uuid.New().String(),
			Kind:      models.ItemKindPlanStep,
			Seq:       seq,
			Timestamp: evt.CreatedAt,
			Content:   s.Title,
		})
		flags.TimelineChanged = true
	}
	return flags
}

// handlePlanDelta appends streaming plan text to the buffer keyed by stream
// id, creating the buffer on first delta.
func handlePlanDelta(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[streamDeltaPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	if st.planStream == nil || st.planStream.StreamID != p.StreamID {
		st.planStream = &streamBuffer{
			StreamID:   p.StreamID,
			SubAgentID: p.SubAgentID,
			StartedAt:  evt.CreatedAt,
			Seq:        baseSeq(evt),
		}
	}
	st.planStream.Content += p.Delta
	st.planStream.UpdatedAt = evt.CreatedAt
	return Flags{AgentStreamChanged: true}
}

// handleMessageDelta appends to the in-progress agent message stream,
// creating it on first delta.
func handleMessageDelta(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[streamDeltaPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	if st.msgStream == nil || st.msgStream.StreamID != p.StreamID {
		st.msgStream = &models.AgentMessageStream{
			StreamID:   p.StreamID,
			SubAgentID: p.SubAgentID,
			StartedAt:  evt.CreatedAt,
			Seq:        baseSeq(evt),
		}
	}
	st.msgStream.Content += p.Delta
	st.msgStream.IsStreaming = true
	st.msgStream.UpdatedAt = evt.CreatedAt
	return Flags{AgentStreamChanged: true}
}

// handleAgentMessage materializes a final (non-incremental) agent message.
// When the same logical text also arrived as a stream, exactly one item is
// produced: the matching buffer is consumed instead of a second append.
func handleAgentMessage(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[messagePayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	flags := Flags{}
	if st.removeTransient() {
		flags.TimelineChanged = true
	}

	// Streamed form of the same text: flush the buffer into the single
	// permanent item rather than appending a duplicate.
	if st.msgStream != nil && st.msgStream.Content == p.Content {
		if st.flushMsgStream(evt.CreatedAt) {
			flags.TimelineChanged = true
		}
		flags.AgentStreamChanged = true
		return flags
	}
	if st.planStream != nil && st.planStream.Content == p.Content {
		st.rememberFlushed(st.planStream.Content)
		st.planStream = nil
		flags.AgentStreamChanged = true
		st.appendItem(models.ConversationItem{
			ID:         uuid.New().String(),
			Kind:       models.ItemKindAgentMessage,
			Seq:        baseSeq(evt),
			Timestamp:  evt.CreatedAt,
			SubAgentID: p.SubAgentID,
			Content:    p.Content,
		})
		flags.TimelineChanged = true
		return flags
	}
	if st.isDuplicateMessage(p.Content) {
		return flags
	}

	st.appendItem(models.ConversationItem{
		ID:         uuid.New().String(),
		Kind:       models.ItemKindAgentMessage,
		Seq:        baseSeq(evt),
		Timestamp:  evt.CreatedAt,
		SubAgentID: p.SubAgentID,
		Content:    p.Content,
	})
	flags.TimelineChanged = true
	return flags
}

// handleTransient records a fleeting status item ("thinking", "preparing
// tool calls"); the next substantive event removes it before inserting its
// own content.
func handleTransient(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, _ := decodePayload[transientPayload](evt.Payload)

	st.removeTransient()
	label := p.Label
	if label == "" {
		label = transientLabel(evt.Type)
	}
	id := uuid.New().String()
	st.appendItem(models.ConversationItem{
		ID:         id,
		Kind:       models.ItemKindThinking,
		Seq:        baseSeq(evt),
		Timestamp:  evt.CreatedAt,
		SubAgentID: p.SubAgentID,
		Content:    label,
	})
	st.transientID = id
	return Flags{TimelineChanged: true}
}

func transientLabel(eventType string) string {
	if eventType == models.EventTypePreparingToolCalls {
		return "Preparing tool calls"
	}
	return "Thinking"
}

// handleToolCallStarted flushes in-flight message text (text causally
// precedes tool use), clears any transient indicator, and appends a running
// tool_call item indexed for later completion. apply_patch additionally
// synthesizes a companion file_change item tie-ordered right after it.
func handleToolCallStarted(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[toolCallStartedPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	flags := Flags{TimelineChanged: true}
	if st.msgStream != nil {
		st.flushMsgStream(evt.CreatedAt)
		flags.AgentStreamChanged = true
	}
	st.removeTransient()

	itemID := uuid.New().String()
	seq := baseSeq(evt)
	st.appendItem(models.ConversationItem{
		ID:         itemID,
		Kind:       models.ItemKindToolCall,
		Seq:        seq,
		Timestamp:  evt.CreatedAt,
		SubAgentID: p.SubAgentID,
		ToolCallID: p.ToolCallID,
		ToolName:   p.ToolName,
		ToolArgs:   p.Args,
		ToolStatus: models.ToolStatusRunning,
	})
	st.toolIndex[p.ToolCallID] = itemID

	if p.ToolName == models.ToolApplyPatch {
		path, _ := p.Args["path"].(string)
		action, _ := p.Args["action"].(string)
		if action == "" {
			action = "modify"
		}
		st.appendItem(models.ConversationItem{
			ID:         uuid.New().String(),
			Kind:       models.ItemKindFileChange,
			Seq:        seq.After(),
			Timestamp:  evt.CreatedAt,
			SubAgentID: p.SubAgentID,
			FilePath:   path,
			FileAction: action,
		})
	}
	return flags
}

// handleToolCallFinished completes the pending tool_call in place, or — for
// an orphaned completion with no matching start — synthesizes a standalone
// finished item rather than dropping the event.
func handleToolCallFinished(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[toolCallFinishedPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	status := models.ToolStatusError
	if p.succeeded() {
		status = models.ToolStatusSuccess
	}

	toolName := p.ToolName
	if itemID, ok := st.toolIndex[p.ToolCallID]; ok {
		if item := st.itemByID(itemID); item != nil {
			item.ToolStatus = status
			item.ToolResult = p.Output
			if p.Error != "" {
				item.ErrorMessage = p.Error
			}
			if toolName == "" {
				toolName = item.ToolName
			}
		}
		delete(st.toolIndex, p.ToolCallID)
	} else {
		st.appendItem(models.ConversationItem{
			ID:           uuid.New().String(),
			Kind:         models.ItemKindToolCall,
			Seq:          baseSeq(evt),
			Timestamp:    evt.CreatedAt,
			SubAgentID:   p.SubAgentID,
			ToolCallID:   p.ToolCallID,
			ToolName:     toolName,
			ToolResult:   p.Output,
			ToolStatus:   status,
			ErrorMessage: p.Error,
		})
	}
	flags := Flags{TimelineChanged: true}

	if !p.succeeded() {
		return flags
	}

	switch toolName {
	case models.ToolSetTodoList:
		agentID := p.SubAgentID
		if agentID == "" {
			agentID = MainAgentID
		}
		st.todos[agentID] = models.TodoList{AgentID: agentID, Items: decodeTodos(p.Todos)}

	case models.ToolCompleteObjective:
		content := completionMessage(p)
		if !st.isDuplicateMessage(content) {
			st.appendItem(models.ConversationItem{
				ID:         uuid.New().String(),
				Kind:       models.ItemKindAgentMessage,
				Seq:        baseSeq(evt).After(),
				Timestamp:  evt.CreatedAt,
				SubAgentID: p.SubAgentID,
				Content:    content,
			})
		}
	}
	return flags
}

// decodeTodos parses the structured list; any malformed payload degrades to
// an empty list rather than failing ingestion.
func decodeTodos(raw json.RawMessage) []models.TodoItem {
	if len(raw) == 0 {
		return []models.TodoItem{}
	}
	var entries []todoItemPayload
	if err := json.Unmarshal(raw, &entries); err != nil {
		return []models.TodoItem{}
	}
	items := make([]models.TodoItem, 0, len(entries))
	for _, e := range entries {
		if e.Content == "" {
			continue
		}
		status := models.TodoStatus(e.Status)
		switch status {
		case models.TodoStatusPending, models.TodoStatusInProgress, models.TodoStatusCompleted:
		default:
			status = models.TodoStatusPending
		}
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		items = append(items, models.TodoItem{
			ID:       id,
			Content:  e.Content,
			Status:   status,
			Priority: e.Priority,
		})
	}
	return items
}

func completionMessage(p toolCallFinishedPayload) string {
	if p.Summary != "" {
		msg := p.Summary
		for _, out := range p.Outputs {
			msg += "\n- " + out
		}
		return msg
	}
	return "Objective complete."
}

// handleSubAgentStatus appends a status_change item for a sub-agent
// lifecycle event, carrying the originating sub-agent id so the timeline
// can be grouped by delegated unit.
func handleSubAgentStatus(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[subAgentPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	st.appendItem(models.ConversationItem{
		ID:         uuid.New().String(),
		Kind:       models.ItemKindStatusChange,
		Seq:        baseSeq(evt),
		Timestamp:  evt.CreatedAt,
		SubAgentID: p.SubAgentID,
		Status:     subAgentStatusLabel(evt.Type),
		Content:    subAgentStatusContent(evt.Type, p),
	})
	return Flags{TimelineChanged: true}
}

// handleSubAgentAttempt surfaces retries only: attempt 1 is the normal
// first try, not a signal worth flagging.
func handleSubAgentAttempt(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[subAgentPayload](evt.Payload)
	if err != nil || p.Attempt <= 1 {
		return Flags{}
	}

	st.appendItem(models.ConversationItem{
		ID:         uuid.New().String(),
		Kind:       models.ItemKindStatusChange,
		Seq:        baseSeq(evt),
		Timestamp:  evt.CreatedAt,
		SubAgentID: p.SubAgentID,
		Status:     "retrying",
		Content:    fmt.Sprintf("retry (attempt %d)", p.Attempt),
	})
	return Flags{TimelineChanged: true}
}

// handleSubAgentFailed appends a first-class error item — failures are never
// swallowed from the timeline.
func handleSubAgentFailed(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[subAgentPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	msg := p.Error
	if msg == "" {
		msg = "sub-agent failed"
	}
	st.appendItem(models.ConversationItem{
		ID:           uuid.New().String(),
		Kind:         models.ItemKindError,
		Seq:          baseSeq(evt),
		Timestamp:    evt.CreatedAt,
		SubAgentID:   p.SubAgentID,
		ErrorMessage: msg,
	})
	return Flags{TimelineChanged: true}
}

func handleSubAgentClosed(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[subAgentPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	content := fmt.Sprintf("sub-agent closed: %s", p.FinalStatus)
	if p.CloseReason != "" {
		content += " (" + p.CloseReason + ")"
	}
	st.appendItem(models.ConversationItem{
		ID:         uuid.New().String(),
		Kind:       models.ItemKindStatusChange,
		Seq:        baseSeq(evt),
		Timestamp:  evt.CreatedAt,
		SubAgentID: p.SubAgentID,
		Status:     "closed",
		Content:    content,
	})
	return Flags{TimelineChanged: true}
}

func handleWorktreeMerged(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, _ := decodePayload[worktreeMergedPayload](evt.Payload)

	st.appendItem(models.ConversationItem{
		ID:         uuid.New().String(),
		Kind:       models.ItemKindStatusChange,
		Seq:        baseSeq(evt),
		Timestamp:  evt.CreatedAt,
		SubAgentID: p.SubAgentID,
		Status:     "worktree_merged",
		Content:    "worktree merged",
	})
	return Flags{TimelineChanged: true}
}

func subAgentStatusLabel(eventType string) string {
	switch eventType {
	case models.EventTypeSubAgentCreated:
		return "created"
	case models.EventTypeSubAgentStarted:
		return "started"
	case models.EventTypeSubAgentWaitingForMerge:
		return "waiting_for_merge"
	case models.EventTypeSubAgentCompleted:
		return "completed"
	}
	return "updated"
}

func subAgentStatusContent(eventType string, p subAgentPayload) string {
	name := p.Name
	if name == "" {
		name = p.SubAgentID
	}
	switch eventType {
	case models.EventTypeSubAgentCreated:
		return fmt.Sprintf("sub-agent %s created for step %d", name, p.StepIdx)
	case models.EventTypeSubAgentStarted:
		return fmt.Sprintf("sub-agent %s started", name)
	case models.EventTypeSubAgentWaitingForMerge:
		return fmt.Sprintf("sub-agent %s waiting for merge", name)
	case models.EventTypeSubAgentCompleted:
		return fmt.Sprintf("sub-agent %s completed", name)
	}
	return fmt.Sprintf("sub-agent %s updated", name)
}

// handleTaskStatus records a task status change; terminal statuses also end
// any in-flight agent message stream — nothing may appear to be "still
// streaming" after the task ends.
func handleTaskStatus(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[taskStatusPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	flags := Flags{TimelineChanged: true}
	st.appendItem(models.ConversationItem{
		ID:        uuid.New().String(),
		Kind:      models.ItemKindStatusChange,
		Seq:       baseSeq(evt),
		Timestamp: evt.CreatedAt,
		Status:    p.Status,
		Content:   "task " + p.Status,
	})

	if p.terminal() {
		if st.msgStream != nil {
			st.flushMsgStream(evt.CreatedAt)
			flags.AgentStreamChanged = true
		}
		if st.planStream != nil {
			st.planStream = nil
			flags.AgentStreamChanged = true
		}
	}
	return flags
}

func handleUserMessage(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[userMessagePayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	st.appendItem(models.ConversationItem{
		ID:        uuid.New().String(),
		Kind:      models.ItemKindUserMessage,
		Seq:       baseSeq(evt),
		Timestamp: evt.CreatedAt,
		Content:   p.Content,
	})
	return Flags{TimelineChanged: true}
}

func handleApprovalRequested(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[approvalRequestedPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	st.approvals[p.ApprovalID] = models.Approval{
		ID:          p.ApprovalID,
		TaskID:      hc.taskID,
		SubAgentID:  p.SubAgentID,
		ToolName:    p.ToolName,
		Reason:      p.Reason,
		Status:      models.ApprovalStatusPending,
		RequestedAt: evt.CreatedAt,
	}
	st.appendItem(models.ConversationItem{
		ID:         uuid.New().String(),
		Kind:       models.ItemKindStatusChange,
		Seq:        baseSeq(evt),
		Timestamp:  evt.CreatedAt,
		SubAgentID: p.SubAgentID,
		Status:     "approval_requested",
		Content:    approvalContent(p),
	})
	return Flags{TimelineChanged: true}
}

func approvalContent(p approvalRequestedPayload) string {
	if p.ToolName != "" {
		return "approval requested: " + p.ToolName
	}
	return "approval requested"
}

func handleApprovalResolved(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[approvalResolvedPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	approval, ok := st.approvals[p.ApprovalID]
	if ok {
		if p.Approved {
			approval.Status = models.ApprovalStatusApproved
		} else {
			approval.Status = models.ApprovalStatusDenied
		}
		t := evt.CreatedAt
		approval.ResolvedAt = &t
		st.approvals[p.ApprovalID] = approval
	}

	status := "denied"
	if p.Approved {
		status = "approved"
	}
	st.appendItem(models.ConversationItem{
		ID:        uuid.New().String(),
		Kind:      models.ItemKindStatusChange,
		Seq:       baseSeq(evt),
		Timestamp: evt.CreatedAt,
		Status:    "approval_" + status,
		Content:   "approval " + status,
	})
	return Flags{TimelineChanged: true}
}

// handleFileChanged appends a file_change item for an externally observed
// artifact change, clearing any transient indicator first.
func handleFileChanged(hc *handlerContext, evt *models.Event) Flags {
	st := hc.state
	p, err := decodePayload[fileChangedPayload](evt.Payload)
	if err != nil {
		return Flags{}
	}

	st.removeTransient()
	action := p.Action
	if action == "" {
		action = "modify"
	}
	st.appendItem(models.ConversationItem{
		ID:         uuid.New().String(),
		Kind:       models.ItemKindFileChange,
		Seq:        baseSeq(evt),
		Timestamp:  evt.CreatedAt,
		SubAgentID: p.SubAgentID,
		FilePath:   p.Path,
		FileAction: action,
	})
	return Flags{TimelineChanged: true}
}
