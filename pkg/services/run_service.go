package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runloom/runloom/pkg/models"
)

// RunService manages run records: one row per execution of a task's plan.
type RunService struct {
	db *sql.DB
}

// NewRunService creates a RunService over the shared pool.
func NewRunService(db *sql.DB) *RunService {
	return &RunService{db: db}
}

// CreateRun persists a new pending run for a task.
func (s *RunService) CreateRun(ctx context.Context, taskID string) (*models.Run, error) {
	if taskID == "" {
		return nil, fmt.Errorf("create run: %w", NewValidationError("task_id", "required"))
	}
	run := &models.Run{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Status:    models.RunStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, task_id, status, created_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.TaskID, run.Status, run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// UpdateRunStatus moves a run to the given status, stamping finished_at for
// terminal statuses.
func (s *RunService) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus) error {
	var finishedAt any
	if status.IsTerminal() {
		finishedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $2, finished_at = COALESCE($3, finished_at) WHERE id = $1`,
		runID, status, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun fetches one run by id.
func (s *RunService) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return s.queryRun(ctx, `SELECT id, task_id, status, created_at, finished_at FROM runs WHERE id = $1`, runID)
}

// GetLatestRun returns the most recently created run for a task.
func (s *RunService) GetLatestRun(ctx context.Context, taskID string) (*models.Run, error) {
	return s.queryRun(ctx,
		`SELECT id, task_id, status, created_at, finished_at FROM runs
		 WHERE task_id = $1 ORDER BY created_at DESC LIMIT 1`, taskID)
}

func (s *RunService) queryRun(ctx context.Context, query string, arg any) (*models.Run, error) {
	var (
		run        models.Run
		finishedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&run.ID, &run.TaskID, &run.Status, &run.CreatedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
