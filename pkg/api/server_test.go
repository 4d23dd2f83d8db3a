package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/pkg/contract"
	"github.com/runloom/runloom/pkg/events"
	"github.com/runloom/runloom/pkg/models"
	"github.com/runloom/runloom/pkg/orchestrator"
	"github.com/runloom/runloom/pkg/projection"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ─── test fixtures ───

var apiSeq int64

func newTestServer(_ *testing.T) (*gin.Engine, *projection.Engine, *orchestrator.Registry) {
	engine := projection.NewEngine()
	registry := orchestrator.NewRegistry()
	s := NewServer(engine, registry, nil, nil, nil, nil, nil)
	return s.Router(), engine, registry
}

func ingestEvent(engine *projection.Engine, taskID, eventType string, payload map[string]any) {
	evt := &models.Event{
		ID:        uuid.NewString(),
		Seq:       atomic.AddInt64(&apiSeq, 1),
		Category:  models.CategoryForType(eventType),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	engine.Ingest(evt, taskID)
}

func doGet(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ─── task-scoped reads ───

func TestGetTimeline(t *testing.T) {
	r, engine, _ := newTestServer(t)
	ingestEvent(engine, "task-api", models.EventTypeUserMessage, map[string]any{
		"content": "please fix the parser",
	})

	rec := doGet(t, r, "/api/v1/tasks/task-api/timeline")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[models.TimelineResponse](t, rec)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "please fix the parser", resp.Items[0].Content)
}

func TestTaskReadsEmptyForUnknownTask(t *testing.T) {
	r, _, _ := newTestServer(t)

	paths := []string{
		"/api/v1/tasks/nope/timeline",
		"/api/v1/tasks/nope/plan",
		"/api/v1/tasks/nope/plan/stream",
		"/api/v1/tasks/nope/message",
		"/api/v1/tasks/nope/todos",
		"/api/v1/tasks/nope/events",
		"/api/v1/tasks/nope/approvals",
	}
	for _, path := range paths {
		rec := doGet(t, r, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	timeline := decodeBody[models.TimelineResponse](t, doGet(t, r, "/api/v1/tasks/nope/timeline"))
	assert.Empty(t, timeline.Items)

	plan := decodeBody[models.PlanResponse](t, doGet(t, r, "/api/v1/tasks/nope/plan"))
	assert.Nil(t, plan.Plan)
}

func TestGetPlanAndPlanStream(t *testing.T) {
	r, engine, _ := newTestServer(t)

	ingestEvent(engine, "task-plan", models.EventTypePlanDelta, map[string]any{
		"stream_id": "ps-1",
		"delta":     "1. Read the code",
	})

	rec := doGet(t, r, "/api/v1/tasks/task-plan/plan/stream")
	require.Equal(t, http.StatusOK, rec.Code)
	stream := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "1. Read the code", stream["text"])

	ingestEvent(engine, "task-plan", models.EventTypePlanReady, map[string]any{
		"goal_summary": "refactor the parser",
		"steps": []any{
			map[string]any{"title": "Read the code"},
		},
	})

	plan := decodeBody[models.PlanResponse](t, doGet(t, r, "/api/v1/tasks/task-plan/plan"))
	require.NotNil(t, plan.Plan)
	assert.Equal(t, "refactor the parser", plan.Plan.GoalSummary)
	require.Len(t, plan.Plan.Steps, 1)

	// plan_ready consumes the stream
	stream = decodeBody[map[string]string](t, doGet(t, r, "/api/v1/tasks/task-plan/plan/stream"))
	assert.Empty(t, stream["text"])
}

func TestGetCurrentMessage(t *testing.T) {
	r, engine, _ := newTestServer(t)

	ingestEvent(engine, "task-msg", models.EventTypeMessageDelta, map[string]any{
		"stream_id": "ms-1",
		"delta":     "Working on it",
	})

	resp := decodeBody[models.StreamResponse](t, doGet(t, r, "/api/v1/tasks/task-msg/message"))
	require.NotNil(t, resp.Stream)
	assert.Equal(t, "Working on it", resp.Stream.Content)
}

func TestGetPendingApprovals(t *testing.T) {
	r, engine, _ := newTestServer(t)

	ingestEvent(engine, "task-appr", models.EventTypeApprovalRequested, map[string]any{
		"approval_id":  "ap-1",
		"sub_agent_id": "sa-1",
		"tool_name":    "apply_patch",
		"reason":       "writes outside ownership",
	})

	resp := decodeBody[models.ApprovalsResponse](t, doGet(t, r, "/api/v1/tasks/task-appr/approvals"))
	require.Len(t, resp.Approvals, 1)
	assert.Equal(t, "ap-1", resp.Approvals[0].ID)
	assert.Equal(t, "apply_patch", resp.Approvals[0].ToolName)
}

func TestGetRawEvents(t *testing.T) {
	r, engine, _ := newTestServer(t)

	ingestEvent(engine, "task-raw", models.EventTypeUserMessage, map[string]any{"content": "hi"})
	ingestEvent(engine, "task-raw", "custom.unknown_type", map[string]any{"x": 1})

	resp := decodeBody[models.EventsResponse](t, doGet(t, r, "/api/v1/tasks/task-raw/events"))
	assert.Len(t, resp.Events, 2)
}

// ─── cold reads from the persisted log ───

type logFetcher struct {
	events []models.Event
}

func (f *logFetcher) GetEvent(_ context.Context, eventID string) (*models.Event, error) {
	for i := range f.events {
		if f.events[i].ID == eventID {
			return &f.events[i], nil
		}
	}
	return nil, errors.New("event not found")
}

func (f *logFetcher) GetEventsSince(_ context.Context, _ string, sinceSeq int64, _ int) ([]models.Event, error) {
	out := make([]models.Event, 0, len(f.events))
	for _, evt := range f.events {
		if evt.Seq > sinceSeq {
			out = append(out, evt)
		}
	}
	return out, nil
}

// A polling consumer with no WebSocket client must still see events that
// were persisted before this process touched the task.
func TestColdReadReplaysPersistedLog(t *testing.T) {
	engine := projection.NewEngine()
	registry := orchestrator.NewRegistry()
	fetcher := &logFetcher{events: []models.Event{{
		ID:        uuid.NewString(),
		Seq:       1,
		Category:  models.CategoryUser,
		Type:      models.EventTypeUserMessage,
		Payload:   map[string]any{"content": "appended before startup"},
		CreatedAt: time.Now(),
	}}}
	ingestor := events.NewIngestor(engine, fetcher, nil)
	t.Cleanup(ingestor.Stop)

	s := NewServer(engine, registry, nil, nil, nil, ingestor, nil)
	r := s.Router()

	resp := decodeBody[models.TimelineResponse](t, doGet(t, r, "/api/v1/tasks/task-cold/timeline"))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "appended before startup", resp.Items[0].Content)
}

// ─── run-scoped reads ───

func TestGetRunSubAgentsNoRunner(t *testing.T) {
	r, _, _ := newTestServer(t)

	rec := doGet(t, r, "/api/v1/runs/run-missing/subagents")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type discardSink struct{ seq int64 }

func (s *discardSink) Append(_ context.Context, req models.CreateEventRequest) (*models.Event, error) {
	return &models.Event{
		ID:        uuid.NewString(),
		RunID:     req.RunID,
		Seq:       atomic.AddInt64(&s.seq, 1),
		Category:  req.Category,
		Type:      req.Type,
		Payload:   req.Payload,
		CreatedAt: time.Now(),
	}, nil
}

func TestGetRunSubAgentsLiveRunner(t *testing.T) {
	r, _, registry := newTestServer(t)

	runner := orchestrator.NewRunner(context.Background(), &discardSink{},
		orchestrator.IntegratorFunc(func(context.Context, *models.SubAgent) error { return nil }),
		orchestrator.Options{RunID: "run-live", TaskID: "task-live"})
	registry.Register("run-live", runner)
	t.Cleanup(func() { registry.Remove("run-live") })

	c := &contract.Contract{
		Parent: contract.Parent{RunID: "run-live", StepIdx: 0, TaskPrompt: "do the thing"},
		Step:   contract.Step{Title: "step one"},
		Permissions: contract.Permissions{
			AllowedTools: []string{"search"},
		},
		Execution: contract.Execution{AttemptTimeoutMS: 2000, CloseOnCompletion: true},
	}
	ex := orchestrator.ExecutorFunc(func(context.Context, *orchestrator.ExecEnv) (*orchestrator.ExecResult, error) {
		return &orchestrator.ExecResult{Report: "done"}, nil
	})
	_, err := runner.Spawn(context.Background(), "worker", c, ex)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = runner.WaitForNext(ctx)
	require.NoError(t, err)

	resp := decodeBody[models.SubAgentsResponse](t, doGet(t, r, "/api/v1/runs/run-live/subagents"))
	require.Len(t, resp.SubAgents, 1)
	assert.Equal(t, "worker", resp.SubAgents[0].Name)
	assert.Equal(t, models.SubAgentStatusClosed, resp.SubAgents[0].Status)
}

// ─── approvals ───

func TestResolveApprovalUnknown(t *testing.T) {
	r, _, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"approve": true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals/ap-missing/resolve", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveApprovalBadBody(t *testing.T) {
	r, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals/ap-1/resolve",
		bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ─── infrastructure ───

func TestWebSocketUnavailableWithoutManager(t *testing.T) {
	r, _, _ := newTestServer(t)

	rec := doGet(t, r, "/ws")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthUnavailableWithoutDatabase(t *testing.T) {
	r, _, _ := newTestServer(t)

	rec := doGet(t, r, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	r, _, _ := newTestServer(t)

	rec := doGet(t, r, "/api/v1/tasks/any/timeline")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
