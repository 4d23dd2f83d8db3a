package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/pkg/models"
)

func TestTaskChannel(t *testing.T) {
	assert.Equal(t, "task:task-1", TaskChannel("task-1"))
	assert.Equal(t, "tasks", GlobalTasksChannel)
}

func TestBuildNotifyPayload(t *testing.T) {
	runID := "run-1"
	evt := &models.Event{
		ID:        "ev-1",
		RunID:     &runID,
		Seq:       7,
		Category:  models.CategoryAgent,
		Type:      models.EventTypeMessage,
		Payload:   map[string]any{"content": "hello"},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	payload, err := buildNotifyPayload(evt, "task-1")
	require.NoError(t, err)

	var env EventAppendedPayload
	require.NoError(t, json.Unmarshal([]byte(payload), &env))
	assert.Equal(t, NotifyTypeEvent, env.Type)
	assert.Equal(t, "ev-1", env.EventID)
	assert.Equal(t, "task-1", env.TaskID)
	assert.Equal(t, int64(7), env.Seq)
	assert.Equal(t, "hello", env.Payload["content"])
	assert.False(t, env.Truncated)
}

func TestBuildNotifyPayloadTruncatesOversized(t *testing.T) {
	evt := &models.Event{
		ID:        "ev-big",
		Seq:       1,
		Category:  models.CategoryAgent,
		Type:      models.EventTypeMessage,
		Payload:   map[string]any{"content": strings.Repeat("x", notifySafeLimit+1)},
		CreatedAt: time.Now().UTC(),
	}

	payload, err := buildNotifyPayload(evt, "task-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(payload), notifySafeLimit)

	var env EventAppendedPayload
	require.NoError(t, json.Unmarshal([]byte(payload), &env))
	assert.True(t, env.Truncated)
	assert.Nil(t, env.Payload)

	// Routing fields survive so the consumer can fetch the full row.
	assert.Equal(t, "ev-big", env.EventID)
	assert.Equal(t, "task-1", env.TaskID)
	assert.Equal(t, models.EventTypeMessage, env.EventType)
}
