package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runloom/runloom/pkg/models"
)

// notifyLimit is PostgreSQL's NOTIFY payload ceiling (8000 bytes); payloads
// above notifySafeLimit are replaced by a truncation envelope and consumers
// fetch the full row from the log.
const notifySafeLimit = 7900

// Publisher appends domain events to the log. Each append persists the event
// row and broadcasts it via NOTIFY in a single transaction, so persistence
// and delivery are atomic (pg_notify is held until COMMIT).
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a Publisher over the given database handle.
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// Append assigns the next per-task sequence number, persists the event and
// notifies the task channel. Returns the stored event.
func (p *Publisher) Append(ctx context.Context, req models.CreateEventRequest) (*models.Event, error) {
	if req.TaskID == "" {
		return nil, fmt.Errorf("append event: task_id is required")
	}
	if req.Type == "" {
		return nil, fmt.Errorf("append event: event_type is required")
	}

	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	evt := &models.Event{
		ID:        uuid.New().String(),
		RunID:     req.RunID,
		Category:  req.Category,
		Type:      req.Type,
		Payload:   req.Payload,
		CreatedAt: time.Now().UTC(),
	}

	// Seq is assigned per task, never per run: it is the total order of the
	// task's channel, and a task can have multiple runs whose events must
	// interleave consistently in the projection and in catchup. Run-scoped
	// reads stay ordered because a run's events are a subset of its task's.
	// Concurrent appends can race on MAX(seq); the unique (task_id, seq)
	// index turns the lost race into an insert error instead of a silent gap.
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE task_id = $1`,
		req.TaskID,
	).Scan(&evt.Seq)
	if err != nil {
		return nil, fmt.Errorf("failed to assign event seq: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, run_id, task_id, seq, category, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		evt.ID, evt.RunID, req.TaskID, evt.Seq, evt.Category, evt.Type, payloadJSON, evt.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to persist event: %w", err)
	}

	notifyPayload, err := buildNotifyPayload(evt, req.TaskID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, TaskChannel(req.TaskID), notifyPayload); err != nil {
		return nil, fmt.Errorf("pg_notify failed: %w", err)
	}
	// Mirror on the global channel. The projection feed LISTENs there from
	// startup; per-task channels only get LISTENed when a WebSocket client
	// subscribes, and REST-only consumers never open one.
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, GlobalTasksChannel, notifyPayload); err != nil {
		return nil, fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return evt, nil
}

// NotifyStateChanged broadcasts a change-flag notification on the task
// channel without persisting anything (transient, like streaming chunks).
func (p *Publisher) NotifyStateChanged(ctx context.Context, payload StateChangedPayload) error {
	payload.Type = NotifyTypeStateChanged
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal state-changed payload: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, TaskChannel(payload.TaskID), string(data)); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// buildNotifyPayload marshals the NOTIFY envelope, replacing it with a
// minimal truncation envelope when it exceeds the NOTIFY size limit.
func buildNotifyPayload(evt *models.Event, taskID string) (string, error) {
	env := EventAppendedPayload{
		Type:      NotifyTypeEvent,
		EventID:   evt.ID,
		RunID:     evt.RunID,
		TaskID:    taskID,
		Seq:       evt.Seq,
		Category:  evt.Category,
		EventType: evt.Type,
		Payload:   evt.Payload,
		Timestamp: evt.CreatedAt.Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal NOTIFY envelope: %w", err)
	}
	if len(data) <= notifySafeLimit {
		return string(data), nil
	}

	// Too large for NOTIFY: drop the payload, keep routing fields so the
	// consumer can fetch the full row from the log.
	env.Payload = nil
	env.Truncated = true
	data, err = json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated NOTIFY envelope: %w", err)
	}
	return string(data), nil
}
