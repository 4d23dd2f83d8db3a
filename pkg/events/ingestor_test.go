package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/pkg/models"
	"github.com/runloom/runloom/pkg/projection"
)

type fakeFetcher struct {
	mu         sync.Mutex
	events     map[string]*models.Event
	calls      int
	rangeCalls int
}

func (f *fakeFetcher) GetEvent(_ context.Context, eventID string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.events[eventID], nil
}

func (f *fakeFetcher) GetEventsSince(_ context.Context, _ string, sinceSeq int64, _ int) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeCalls++
	out := make([]models.Event, 0, len(f.events))
	for _, evt := range f.events {
		if evt.Seq > sinceSeq {
			out = append(out, *evt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

type captureNotifier struct {
	mu       sync.Mutex
	payloads []StateChangedPayload
}

func (n *captureNotifier) NotifyStateChanged(_ context.Context, p StateChangedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, p)
	return nil
}

func (n *captureNotifier) last() (StateChangedPayload, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.payloads) == 0 {
		return StateChangedPayload{}, false
	}
	return n.payloads[len(n.payloads)-1], true
}

func envelopeJSON(t *testing.T, env EventAppendedPayload) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func userMessageEnvelope(taskID, eventID, content string, seq int64) EventAppendedPayload {
	return EventAppendedPayload{
		Type:      NotifyTypeEvent,
		EventID:   eventID,
		TaskID:    taskID,
		Seq:       seq,
		Category:  models.CategoryUser,
		EventType: models.EventTypeUserMessage,
		Payload:   map[string]any{"content": content},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func TestIngestorDispatchAppliesEvent(t *testing.T) {
	engine := projection.NewEngine()
	notifier := &captureNotifier{}
	in := NewIngestor(engine, nil, notifier)
	defer in.Stop()

	env := userMessageEnvelope("task-1", "ev-1", "hello", 1)
	in.Dispatch(TaskChannel("task-1"), envelopeJSON(t, env))

	require.Eventually(t, func() bool {
		return len(engine.Timeline("task-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "hello", engine.Timeline("task-1")[0].Content)

	p, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, "task-1", p.TaskID)
	assert.Equal(t, "ev-1", p.EventID)
	assert.True(t, p.TimelineChanged)
}

func TestIngestorDispatchPerTaskOrder(t *testing.T) {
	engine := projection.NewEngine()
	in := NewIngestor(engine, nil, nil)
	defer in.Stop()

	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("ev-%d", i)
		env := userMessageEnvelope("task-seq", id, id, int64(i))
		in.Dispatch(TaskChannel("task-seq"), envelopeJSON(t, env))
	}

	require.Eventually(t, func() bool {
		return len(engine.Timeline("task-seq")) == 5
	}, 2*time.Second, 10*time.Millisecond)

	items := engine.Timeline("task-seq")
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("ev-%d", i+1), items[i].Content)
	}
}

func TestIngestorAppliesGlobalChannelOnce(t *testing.T) {
	engine := projection.NewEngine()
	in := NewIngestor(engine, nil, nil)
	defer in.Stop()

	// The publisher mirrors every event to the global channel; when a
	// WebSocket client has the task channel LISTENed too, the same envelope
	// arrives twice and must be applied once.
	env := envelopeJSON(t, userMessageEnvelope("task-1", "ev-1", "hello", 1))
	in.Dispatch(GlobalTasksChannel, env)
	in.Dispatch(TaskChannel("task-1"), env)

	require.Eventually(t, func() bool {
		return len(engine.Timeline("task-1")) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, engine.Timeline("task-1"), 1)
}

func TestIngestorIgnoresUnrelatedChannel(t *testing.T) {
	engine := projection.NewEngine()
	in := NewIngestor(engine, nil, nil)
	defer in.Stop()

	env := userMessageEnvelope("task-1", "ev-1", "hello", 1)
	in.Dispatch("audit", envelopeJSON(t, env))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, engine.Timeline("task-1"))
}

func TestIngestorIgnoresStateChangedEcho(t *testing.T) {
	engine := projection.NewEngine()
	in := NewIngestor(engine, nil, nil)
	defer in.Stop()

	echo, err := json.Marshal(StateChangedPayload{
		Type:    NotifyTypeStateChanged,
		TaskID:  "task-1",
		EventID: "ev-1",
	})
	require.NoError(t, err)
	in.Dispatch(TaskChannel("task-1"), echo)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, engine.Timeline("task-1"))
}

func TestIngestorIgnoresMalformedPayload(t *testing.T) {
	engine := projection.NewEngine()
	in := NewIngestor(engine, nil, nil)
	defer in.Stop()

	in.Dispatch(TaskChannel("task-1"), []byte("{not json"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, engine.Timeline("task-1"))
}

func TestIngestorFetchesTruncatedEvent(t *testing.T) {
	engine := projection.NewEngine()
	fetcher := &fakeFetcher{events: map[string]*models.Event{
		"ev-big": {
			ID:        "ev-big",
			Seq:       1,
			Category:  models.CategoryUser,
			Type:      models.EventTypeUserMessage,
			Payload:   map[string]any{"content": "the full content"},
			CreatedAt: time.Now().UTC(),
		},
	}}
	in := NewIngestor(engine, fetcher, nil)
	defer in.Stop()

	env := EventAppendedPayload{
		Type:      NotifyTypeEvent,
		EventID:   "ev-big",
		TaskID:    "task-1",
		Seq:       1,
		Category:  models.CategoryUser,
		EventType: models.EventTypeUserMessage,
		Truncated: true,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	in.Dispatch(TaskChannel("task-1"), envelopeJSON(t, env))

	require.Eventually(t, func() bool {
		return len(engine.Timeline("task-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "the full content", engine.Timeline("task-1")[0].Content)
	fetcher.mu.Lock()
	assert.Equal(t, 1, fetcher.calls)
	fetcher.mu.Unlock()
}

func TestIngestorPrimeReplaysPersistedLog(t *testing.T) {
	engine := projection.NewEngine()
	fetcher := &fakeFetcher{events: map[string]*models.Event{
		"ev-1": {
			ID: "ev-1", Seq: 1, Category: models.CategoryUser,
			Type:      models.EventTypeUserMessage,
			Payload:   map[string]any{"content": "first"},
			CreatedAt: time.Now().UTC(),
		},
		"ev-2": {
			ID: "ev-2", Seq: 2, Category: models.CategoryUser,
			Type:      models.EventTypeUserMessage,
			Payload:   map[string]any{"content": "second"},
			CreatedAt: time.Now().UTC(),
		},
	}}
	in := NewIngestor(engine, fetcher, nil)
	defer in.Stop()

	require.NoError(t, in.Prime(context.Background(), "task-cold"))

	items := engine.Timeline("task-cold")
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Content)
	assert.Equal(t, "second", items[1].Content)

	// Second prime for the same task is a no-op, not a re-query.
	require.NoError(t, in.Prime(context.Background(), "task-cold"))
	fetcher.mu.Lock()
	assert.Equal(t, 1, fetcher.rangeCalls)
	fetcher.mu.Unlock()
}

func TestIngestorApplySynchronous(t *testing.T) {
	engine := projection.NewEngine()
	notifier := &captureNotifier{}
	in := NewIngestor(engine, nil, notifier)
	defer in.Stop()

	flags := in.Apply("task-sync", &models.Event{
		ID:        "ev-sync",
		Seq:       1,
		Category:  models.CategoryUser,
		Type:      models.EventTypeUserMessage,
		Payload:   map[string]any{"content": "applied inline"},
		CreatedAt: time.Now().UTC(),
	})

	assert.True(t, flags.TimelineChanged)
	assert.Len(t, engine.Timeline("task-sync"), 1)

	p, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, "ev-sync", p.EventID)
}
