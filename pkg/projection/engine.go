// Package projection materializes per-task state (conversation timeline,
// plan, to-do lists, streaming text) from the ordered event log. It is pure
// in-memory state transformation: no handler performs I/O.
//
// Concurrency model: one logical writer per task. Ingest calls for the same
// task must arrive in non-decreasing seq order — the engine does not reorder
// (out-of-order feeding is a documented precondition, not a recoverable
// condition). Different tasks are fully independent and may be ingested in
// parallel; reads for a task observe a consistent snapshot.
package projection

import (
	"hash/fnv"
	"sync"

	"github.com/runloom/runloom/pkg/models"
)

const (
	// maxConversationItems caps a task's timeline; oldest items are trimmed
	// first after every ingest.
	maxConversationItems = 500

	// rawRingCap bounds the diagnostic ring buffer of raw events. The buffer
	// is not authoritative state.
	rawRingCap = 200

	// dedupWindow is how many trailing items are checked when deduplicating
	// a non-incremental message against streamed/recently-appended content.
	dedupWindow = 5

	// MainAgentID designates the parent agent's to-do list, sorted first.
	MainAgentID = "main"

	shardCount = 16
)

// Flags reports what changed during one Ingest call. Consumers use them to
// decide what to re-query; no flag implies another.
type Flags struct {
	PlanChanged        bool
	TimelineChanged    bool
	AgentStreamChanged bool
}

// None reports whether nothing changed.
func (f Flags) None() bool {
	return !f.PlanChanged && !f.TimelineChanged && !f.AgentStreamChanged
}

func (f Flags) merge(other Flags) Flags {
	return Flags{
		PlanChanged:        f.PlanChanged || other.PlanChanged,
		TimelineChanged:    f.TimelineChanged || other.TimelineChanged,
		AgentStreamChanged: f.AgentStreamChanged || other.AgentStreamChanged,
	}
}

// Engine is the single access point to all per-task projection state.
// State is sharded by task id; each task state carries its own lock.
type Engine struct {
	registry map[string]handlerFunc
	shards   [shardCount]*shard
}

type shard struct {
	mu    sync.RWMutex
	tasks map[string]*taskState
}

// NewEngine creates an engine with the static handler registry.
func NewEngine() *Engine {
	e := &Engine{registry: newRegistry()}
	for i := range e.shards {
		e.shards[i] = &shard{tasks: make(map[string]*taskState)}
	}
	return e
}

// Ingest applies one event to the task's projection and returns the change
// flags. It never returns an error: duplicates are no-ops, unknown event
// types are ignored at the dispatch boundary, and malformed payloads degrade
// per handler rather than failing ingestion.
func (e *Engine) Ingest(evt *models.Event, taskID string) Flags {
	if evt == nil || taskID == "" {
		return Flags{}
	}

	st := e.taskState(taskID, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	// 1. Idempotency gate: retries may deliver duplicates.
	if _, dup := st.seen[evt.ID]; dup {
		return Flags{}
	}
	st.seen[evt.ID] = struct{}{}

	// 2. Raw retention for debug views, bounded.
	st.ring.push(*evt)

	// 3. Dispatch. Unknown types never pollute the visible timeline.
	handler, ok := e.registry[evt.Type]
	if !ok {
		return Flags{}
	}

	// 4. Handler execution against the task-bound context.
	flags := handler(&handlerContext{taskID: taskID, state: st}, evt)

	// 5. Post-processing: trim oldest-first to the cap.
	if st.trimItems(maxConversationItems) {
		flags.TimelineChanged = true
	}
	return flags
}

// taskState returns the state for a task, creating it when create is set.
func (e *Engine) taskState(taskID string, create bool) *taskState {
	sh := e.shardFor(taskID)
	sh.mu.RLock()
	st, ok := sh.tasks[taskID]
	sh.mu.RUnlock()
	if ok || !create {
		return st
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if st, ok = sh.tasks[taskID]; ok {
		return st
	}
	st = newTaskState()
	sh.tasks[taskID] = st
	return st
}

func (e *Engine) shardFor(taskID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskID))
	return e.shards[h.Sum32()%shardCount]
}
