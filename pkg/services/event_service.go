package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/runloom/runloom/pkg/events"
	"github.com/runloom/runloom/pkg/models"
)

// EventService reads the persisted event log. Appends go through
// events.Publisher; this service covers the read side: single-row fetches
// for truncated NOTIFY envelopes, raw listings for the REST API, and the
// WebSocket catchup query.
type EventService struct {
	db *sql.DB
}

// NewEventService creates an EventService over the shared pool.
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db}
}

const eventColumns = `id, run_id, task_id, seq, category, event_type, payload, created_at`

// GetEvent fetches one event by id. Used to recover the full payload when
// the NOTIFY envelope was truncated.
func (s *EventService) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID)
	evt, _, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return evt, nil
}

// GetEventsSince lists a task's events with seq greater than sinceSeq, in
// seq order. limit <= 0 means no limit.
func (s *EventService) GetEventsSince(ctx context.Context, taskID string, sinceSeq int64, limit int) ([]models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE task_id = $1 AND seq > $2 ORDER BY seq ASC`
	args := []any{taskID, sinceSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	out := make([]models.Event, 0)
	for rows.Next() {
		evt, _, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan event: %w", scanErr)
		}
		out = append(out, *evt)
	}
	return out, rows.Err()
}

// GetCatchupEvents implements events.CatchupQuerier: missed events for a
// task channel since a sequence number, each marshaled as the NOTIFY
// envelope a live subscriber would have received.
func (s *EventService) GetCatchupEvents(ctx context.Context, channel string, sinceSeq int64, limit int) ([]events.CatchupEvent, error) {
	taskID, ok := strings.CutPrefix(channel, "task:")
	if !ok {
		return nil, fmt.Errorf("%w: catchup is only supported on task channels, got %q", ErrInvalidInput, channel)
	}

	evts, err := s.GetEventsSince(ctx, taskID, sinceSeq, limit)
	if err != nil {
		return nil, err
	}

	out := make([]events.CatchupEvent, 0, len(evts))
	for i := range evts {
		envelope, marshalErr := json.Marshal(events.EventAppendedPayload{
			Type:      events.NotifyTypeEvent,
			EventID:   evts[i].ID,
			RunID:     evts[i].RunID,
			TaskID:    taskID,
			Seq:       evts[i].Seq,
			Category:  evts[i].Category,
			EventType: evts[i].Type,
			Payload:   evts[i].Payload,
			Timestamp: evts[i].CreatedAt.Format(time.RFC3339Nano),
		})
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal catchup envelope: %w", marshalErr)
		}
		out = append(out, events.CatchupEvent{Seq: evts[i].Seq, Envelope: envelope})
	}
	return out, nil
}

// GetRunEvents lists a run's events in seq order.
func (s *EventService) GetRunEvents(ctx context.Context, runID string) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE run_id = $1 ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run events: %w", err)
	}
	defer rows.Close()

	out := make([]models.Event, 0)
	for rows.Next() {
		evt, _, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan event: %w", scanErr)
		}
		out = append(out, *evt)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, string, error) {
	var (
		evt         models.Event
		runID       sql.NullString
		taskID      string
		payloadJSON []byte
	)
	if err := row.Scan(&evt.ID, &runID, &taskID, &evt.Seq, &evt.Category, &evt.Type, &payloadJSON, &evt.CreatedAt); err != nil {
		return nil, "", err
	}
	if runID.Valid {
		evt.RunID = &runID.String
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &evt.Payload); err != nil {
			return nil, "", fmt.Errorf("malformed stored payload: %w", err)
		}
	}
	return &evt, taskID, nil
}
