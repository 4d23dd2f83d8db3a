package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/runloom/runloom/pkg/models"
	"github.com/runloom/runloom/pkg/projection"
)

// ingestQueueDepth bounds each task's pending-apply queue. The projection
// engine is pure in-memory work, so the queue only absorbs NOTIFY bursts.
const ingestQueueDepth = 256

// EventFetcher reads the persisted log: single rows when a NOTIFY envelope
// was truncated, ranges for replaying a task's projection. Implemented by
// services.EventService.
type EventFetcher interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	GetEventsSince(ctx context.Context, taskID string, sinceSeq int64, limit int) ([]models.Event, error)
}

// Notifier broadcasts change flags after an event is applied. Implemented by
// Publisher (transient pg_notify, so every pod's WebSocket clients see it).
type Notifier interface {
	NotifyStateChanged(ctx context.Context, payload StateChangedPayload) error
}

// Ingestor feeds persisted events into the projection engine. It is a
// listener Sink: each task gets one logical writer goroutine, so events for
// a task are applied strictly in arrival order while different tasks proceed
// in parallel.
type Ingestor struct {
	engine   *projection.Engine
	fetcher  EventFetcher
	notifier Notifier

	mu      sync.Mutex
	workers map[string]chan queuedEvent
	primed  map[string]bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

type queuedEvent struct {
	taskID string
	event  *models.Event
}

// NewIngestor creates an ingestor over the given engine.
func NewIngestor(engine *projection.Engine, fetcher EventFetcher, notifier Notifier) *Ingestor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		engine:   engine,
		fetcher:  fetcher,
		notifier: notifier,
		workers:  make(map[string]chan queuedEvent),
		primed:   make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dispatch implements Sink. Non-event payloads (state.changed echoes) are
// ignored; truncated envelopes are re-fetched from the log before applying.
// Events arrive on the global channel and, when a WebSocket client has the
// task channel LISTENed, on that too; the engine's idempotency gate drops
// the duplicate.
func (in *Ingestor) Dispatch(channel string, payload []byte) {
	if channel != GlobalTasksChannel && !strings.HasPrefix(channel, "task:") {
		return
	}

	var env EventAppendedPayload
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Warn("Ignoring malformed NOTIFY payload", "channel", channel, "error", err)
		return
	}
	if env.Type != NotifyTypeEvent {
		return
	}

	evt := &models.Event{
		ID:       env.EventID,
		RunID:    env.RunID,
		Seq:      env.Seq,
		Category: env.Category,
		Type:     env.EventType,
		Payload:  env.Payload,
	}
	if ts, err := time.Parse(time.RFC3339Nano, env.Timestamp); err == nil {
		evt.CreatedAt = ts
	}

	if env.Truncated && in.fetcher != nil {
		full, err := in.fetcher.GetEvent(in.ctx, env.EventID)
		if err != nil {
			slog.Error("Failed to fetch truncated event", "event_id", env.EventID, "error", err)
			return
		}
		evt = full
	}

	in.enqueue(env.TaskID, evt)
}

// Apply ingests an event synchronously, bypassing the worker queue. Used by
// callers that already hold the event.
func (in *Ingestor) Apply(taskID string, evt *models.Event) projection.Flags {
	flags := in.engine.Ingest(evt, taskID)
	in.notifyFlags(taskID, evt.ID, flags)
	return flags
}

// Prime replays a task's persisted events into the projection, once per
// process. The projection is in-memory: after a restart, or for events
// appended before the global LISTEN was active, the log is the only copy.
// Events arriving over NOTIFY during the replay are safe — ingestion is
// idempotent and insertion is seq-ordered. No change flags are broadcast;
// the caller is about to read the fresh state anyway.
func (in *Ingestor) Prime(ctx context.Context, taskID string) error {
	if in.fetcher == nil || taskID == "" {
		return nil
	}
	in.mu.Lock()
	done := in.primed[taskID]
	in.mu.Unlock()
	if done {
		return nil
	}

	evts, err := in.fetcher.GetEventsSince(ctx, taskID, 0, 0)
	if err != nil {
		return fmt.Errorf("replay events for task %s: %w", taskID, err)
	}
	for i := range evts {
		in.engine.Ingest(&evts[i], taskID)
	}

	in.mu.Lock()
	in.primed[taskID] = true
	in.mu.Unlock()
	return nil
}

// enqueue hands the event to the task's writer goroutine, starting one if
// this is the first event seen for the task.
func (in *Ingestor) enqueue(taskID string, evt *models.Event) {
	in.mu.Lock()
	ch, ok := in.workers[taskID]
	if !ok {
		ch = make(chan queuedEvent, ingestQueueDepth)
		in.workers[taskID] = ch
		in.wg.Add(1)
		go in.runWorker(ch)
	}
	in.mu.Unlock()

	select {
	case ch <- queuedEvent{taskID: taskID, event: evt}:
	case <-in.ctx.Done():
	}
}

func (in *Ingestor) runWorker(ch chan queuedEvent) {
	defer in.wg.Done()
	for {
		select {
		case q := <-ch:
			flags := in.engine.Ingest(q.event, q.taskID)
			in.notifyFlags(q.taskID, q.event.ID, flags)
		case <-in.ctx.Done():
			return
		}
	}
}

func (in *Ingestor) notifyFlags(taskID, eventID string, flags projection.Flags) {
	if in.notifier == nil || flags.None() {
		return
	}
	payload := StateChangedPayload{
		TaskID:             taskID,
		EventID:            eventID,
		PlanChanged:        flags.PlanChanged,
		TimelineChanged:    flags.TimelineChanged,
		AgentStreamChanged: flags.AgentStreamChanged,
		Timestamp:          time.Now().UTC().Format(time.RFC3339Nano),
	}
	notifyCtx, cancel := context.WithTimeout(in.ctx, 5*time.Second)
	defer cancel()
	if err := in.notifier.NotifyStateChanged(notifyCtx, payload); err != nil {
		slog.Warn("Failed to broadcast state change", "task_id", taskID, "error", err)
	}
}

// Stop shuts down all task writers. Queued events are dropped; the log is
// authoritative and catchup replay restores state on restart.
func (in *Ingestor) Stop() {
	in.cancel()
	in.wg.Wait()
}
