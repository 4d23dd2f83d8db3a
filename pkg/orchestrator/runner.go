// Package orchestrator runs contract-bound sub-agents on behalf of a parent
// run. It owns every sub-agent status transition (children never transition
// themselves), emits the full audit event sequence for each delegation, and
// gates run-level success on all sub-agents closing completed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/runloom/runloom/pkg/contract"
	"github.com/runloom/runloom/pkg/lifecycle"
	"github.com/runloom/runloom/pkg/models"
)

// EventSink receives the audit events the runner emits. Satisfied by
// events.Publisher; tests use an in-memory sink.
type EventSink interface {
	Append(ctx context.Context, req models.CreateEventRequest) (*models.Event, error)
}

// Integrator performs the parent's integration step after a sub-agent
// reaches waiting_for_merge (e.g. merging the worktree back). A merge
// conflict is a hard failure, never a warning.
type Integrator interface {
	Merge(ctx context.Context, record *models.SubAgent) error
}

// IntegratorFunc adapts a function to the Integrator interface.
type IntegratorFunc func(ctx context.Context, record *models.SubAgent) error

func (f IntegratorFunc) Merge(ctx context.Context, record *models.SubAgent) error {
	return f(ctx, record)
}

// ExecEnv is what an executor gets to work with: its identity, its
// contract, the tool gate, and a spawner for auditable child delegation.
type ExecEnv struct {
	SubAgentID string
	Contract   *contract.Contract
	Tools      *ToolGate

	// SpawnChild delegates a nested step one level deeper. Depth and
	// can_spawn_children are checked against this sub-agent's contract; a
	// violation is permanent and fails the step.
	SpawnChild func(ctx context.Context, name string, c *contract.Contract, ex Executor) (string, error)
}

// ExecResult is a successful attempt's output.
type ExecResult struct {
	Report       string
	WorktreePath string
}

// Executor performs one attempt of the delegated work. The context carries
// the per-attempt timeout; a nil error means the attempt produced output
// ready for integration.
type Executor interface {
	Execute(ctx context.Context, env *ExecEnv) (*ExecResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, env *ExecEnv) (*ExecResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, env *ExecEnv) (*ExecResult, error) {
	return f(ctx, env)
}

// Result is delivered on the results channel when a sub-agent reaches a
// terminal outcome (completed or failed).
type Result struct {
	SubAgentID  string
	Name        string
	StepIdx     int
	FinalStatus models.FinalStatus
	Report      string
	Err         string
}

// subAgentRun couples a lifecycle machine with its executor and goroutine
// bookkeeping. status reads/writes go through the machine under r.mu.
type subAgentRun struct {
	machine  *lifecycle.Machine
	executor Executor
	depth    int
	cancel   context.CancelFunc
	done     chan struct{}
	queued   bool
}

// Options configures a Runner for one run.
type Options struct {
	RunID  string
	TaskID string
	// MaxConcurrent bounds simultaneously executing sub-agents. Zero means 1.
	MaxConcurrent int
}

// Runner manages the sub-agent goroutines of one run. It provides
// push-based result delivery via a buffered channel and lifecycle
// management (cancel, wait) the same way across normal completion,
// failure and shutdown.
type Runner struct {
	mu        sync.Mutex
	subagents map[string]*subAgentRun
	// queue holds sub-agents waiting for a free slot or for an overlapping
	// sibling to finish, in spawn order.
	queue []*subAgentRun

	resultsCh chan *Result
	// closeCh is closed during CancelAll; undelivered results are dropped.
	closeCh   chan struct{}
	closeOnce sync.Once
	pending   int32

	// parentCtx outlives individual attempts; per-attempt contexts derive
	// from it with the contract's timeout.
	parentCtx context.Context

	sink       EventSink
	integrator Integrator
	gate       *RunGate

	runID         string
	taskID        string
	maxConcurrent int

	approvalMu sync.Mutex
	approvals  map[string]chan bool
}

// NewRunner creates a runner for one run. parentCtx should be the run-level
// context so sub-agent goroutines outlive the caller's iteration contexts.
func NewRunner(parentCtx context.Context, sink EventSink, integrator Integrator, opts Options) *Runner {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		subagents:     make(map[string]*subAgentRun),
		resultsCh:     make(chan *Result, maxConcurrent),
		closeCh:       make(chan struct{}),
		parentCtx:     parentCtx,
		sink:          sink,
		integrator:    integrator,
		gate:          NewRunGate(),
		runID:         opts.RunID,
		taskID:        opts.TaskID,
		maxConcurrent: maxConcurrent,
		approvals:     make(map[string]chan bool),
	}
}

// Gate exposes the run-level success gate.
func (r *Runner) Gate() *RunGate { return r.gate }

// Spawn creates a sub-agent under the given contract and starts it as soon
// as a slot is free and no running sibling claims overlapping ownership.
// Returns the sub-agent id immediately; the outcome arrives on the results
// channel.
func (r *Runner) Spawn(ctx context.Context, name string, c *contract.Contract, ex Executor) (string, error) {
	return r.spawn(ctx, name, c, ex, 1)
}

func (r *Runner) spawn(ctx context.Context, name string, c *contract.Contract, ex Executor, depth int) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if r.gate.Latched() {
		return "", ErrRunFailureLatched
	}

	contractDoc, err := c.Marshal()
	if err != nil {
		return "", err
	}
	record := &models.SubAgent{
		ID:        uuid.New().String(),
		RunID:     r.runID,
		StepIdx:   c.Parent.StepIdx,
		Name:      name,
		Status:    models.SubAgentStatusCreated,
		Contract:  contractDoc,
		CreatedAt: time.Now(),
	}
	run := &subAgentRun{
		machine:  lifecycle.New(record, c),
		executor: ex,
		depth:    depth,
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	r.subagents[record.ID] = run
	r.mu.Unlock()
	r.gate.Register()
	atomic.AddInt32(&r.pending, 1)

	r.emit(ctx, models.EventTypeSubAgentCreated, map[string]any{
		"sub_agent_id": record.ID,
		"name":         name,
		"step_idx":     record.StepIdx,
	})

	r.mu.Lock()
	if r.canStartLocked(run) {
		r.startLocked(run)
	} else {
		run.queued = true
		r.queue = append(r.queue, run)
	}
	r.mu.Unlock()

	return record.ID, nil
}

// canStartLocked checks the concurrency slot and sibling ownership overlap.
// Caller holds r.mu.
func (r *Runner) canStartLocked(run *subAgentRun) bool {
	active := 0
	for _, other := range r.subagents {
		if other == run || !r.isActiveLocked(other) {
			continue
		}
		active++
		if contract.OwnershipOverlaps(run.machine.Contract().Step, other.machine.Contract().Step) {
			return false
		}
	}
	return active < r.maxConcurrent
}

func (r *Runner) isActiveLocked(run *subAgentRun) bool {
	switch run.machine.Status() {
	case models.SubAgentStatusRunning, models.SubAgentStatusWaitingForMerge:
		return true
	}
	return false
}

// startLocked launches the execution goroutine. Caller holds r.mu; the
// running transition happens here so concurrent canStartLocked calls count
// this sub-agent as active.
func (r *Runner) startLocked(run *subAgentRun) {
	if err := run.machine.Transition(models.SubAgentStatusRunning); err != nil {
		slog.Error("Failed to start sub-agent", "sub_agent_id", run.machine.Record().ID, "error", err)
		close(run.done)
		return
	}
	subCtx, cancel := context.WithCancel(r.parentCtx)
	run.cancel = cancel
	go r.execute(subCtx, run)
}

// execute drives one sub-agent from running to a terminal outcome: the
// attempt loop, integration, close and result delivery.
func (r *Runner) execute(ctx context.Context, run *subAgentRun) {
	defer close(run.done)
	defer run.cancel()

	record := run.machine.Record()
	c := run.machine.Contract()
	logger := slog.With("run_id", r.runID, "sub_agent_id", record.ID, "sub_agent", record.Name)

	r.emit(ctx, models.EventTypeSubAgentStarted, map[string]any{
		"sub_agent_id": record.ID,
		"name":         record.Name,
		"step_idx":     record.StepIdx,
	})

	env := &ExecEnv{
		SubAgentID: record.ID,
		Contract:   c,
		Tools:      NewToolGate(c.Permissions),
		SpawnChild: r.childSpawner(run),
	}

	result, execErr := r.attemptLoop(ctx, run, env, logger)
	if execErr != nil {
		r.fail(ctx, run, execErr.Error())
		return
	}

	if result.WorktreePath != "" {
		wt := result.WorktreePath
		r.mu.Lock()
		record.WorktreePath = &wt
		r.mu.Unlock()
	}

	// Worker completion is not run completion: the parent must integrate
	// the output before the step counts as done.
	if err := r.transition(ctx, run, models.SubAgentStatusWaitingForMerge, models.EventTypeSubAgentWaitingForMerge); err != nil {
		r.fail(ctx, run, err.Error())
		return
	}

	if err := r.integrator.Merge(ctx, record); err != nil {
		logger.Error("Sub-agent integration failed", "error", err)
		r.fail(ctx, run, fmt.Sprintf("merge failed: %v", err))
		return
	}
	r.emit(ctx, models.EventTypeWorktreeMerged, map[string]any{
		"sub_agent_id":  record.ID,
		"worktree_path": derefOrEmpty(record.WorktreePath),
	})

	if err := r.transition(ctx, run, models.SubAgentStatusCompleted, models.EventTypeSubAgentCompleted); err != nil {
		r.fail(ctx, run, err.Error())
		return
	}

	if c.Execution.CloseOnCompletion {
		r.close(ctx, run, models.FinalStatusCompleted, "merged")
	}
	r.deliver(&Result{
		SubAgentID:  record.ID,
		Name:        record.Name,
		StepIdx:     record.StepIdx,
		FinalStatus: models.FinalStatusCompleted,
		Report:      result.Report,
	})
	r.pump(ctx)
}

// attemptLoop runs the executor up to 1+max_retries times, each attempt
// bounded by the contract timeout. Contract violations and cancellation are
// permanent; everything else is transient and consumes the retry budget.
func (r *Runner) attemptLoop(ctx context.Context, run *subAgentRun, env *ExecEnv, logger *slog.Logger) (*ExecResult, error) {
	c := run.machine.Contract()
	maxAttempts := 1 + c.Execution.MaxRetries

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r.emit(ctx, models.EventTypeSubAgentAttempt, map[string]any{
			"sub_agent_id": env.SubAgentID,
			"attempt":      attempt,
		})

		attemptCtx, cancel := context.WithTimeout(ctx, c.Execution.AttemptTimeout())
		result, err := run.executor.Execute(attemptCtx, env)
		cancel()

		if err == nil {
			if result == nil {
				result = &ExecResult{}
			}
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, errors.New("cancelled")
		}
		if isPermanent(err) {
			logger.Error("Sub-agent contract violation", "error", err)
			return nil, err
		}
		if attempt < maxAttempts {
			logger.Warn("Sub-agent attempt failed, retrying",
				"attempt", attempt, "max_attempts", maxAttempts, "error", err)
		}
	}
	return nil, fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// childSpawner builds the nested delegation entry point for an executor.
// Grandchildren emit the full audit sequence one level deeper.
func (r *Runner) childSpawner(parent *subAgentRun) func(context.Context, string, *contract.Contract, Executor) (string, error) {
	return func(ctx context.Context, name string, c *contract.Contract, ex Executor) (string, error) {
		if err := parent.machine.CheckDelegation(parent.depth + 1); err != nil {
			return "", Permanent(err)
		}
		return r.spawn(ctx, name, c, ex, parent.depth+1)
	}
}

// transition applies a lifecycle move and emits its audit event.
func (r *Runner) transition(ctx context.Context, run *subAgentRun, to models.SubAgentStatus, eventType string) error {
	record := run.machine.Record()
	r.mu.Lock()
	err := run.machine.Transition(to)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.emit(ctx, eventType, map[string]any{
		"sub_agent_id": record.ID,
		"name":         record.Name,
		"step_idx":     record.StepIdx,
	})
	return nil
}

// fail records a hard failure, closes the sub-agent, and delivers the
// result. Failures are always surfaced, never downgraded.
func (r *Runner) fail(ctx context.Context, run *subAgentRun, reason string) {
	record := run.machine.Record()

	r.mu.Lock()
	err := run.machine.Fail(reason)
	r.mu.Unlock()
	if err != nil {
		slog.Error("Failed to mark sub-agent failed",
			"sub_agent_id", record.ID, "reason", reason, "error", err)
		return
	}

	r.emit(ctx, models.EventTypeSubAgentFailed, map[string]any{
		"sub_agent_id": record.ID,
		"name":         record.Name,
		"step_idx":     record.StepIdx,
		"error":        reason,
	})
	r.close(ctx, run, models.FinalStatusFailed, reason)
	r.deliver(&Result{
		SubAgentID:  record.ID,
		Name:        record.Name,
		StepIdx:     record.StepIdx,
		FinalStatus: models.FinalStatusFailed,
		Err:         reason,
	})
	r.pump(ctx)
}

// close moves the sub-agent to the terminal administrative state, emits the
// closed audit event, and feeds the run gate.
func (r *Runner) close(ctx context.Context, run *subAgentRun, final models.FinalStatus, reason string) {
	record := run.machine.Record()

	r.mu.Lock()
	err := run.machine.Close(final, reason)
	r.mu.Unlock()
	if err != nil {
		slog.Error("Failed to close sub-agent", "sub_agent_id", record.ID, "error", err)
		return
	}

	r.emit(ctx, models.EventTypeSubAgentClosed, map[string]any{
		"sub_agent_id": record.ID,
		"name":         record.Name,
		"step_idx":     record.StepIdx,
		"final_status": string(final),
		"close_reason": reason,
	})
	r.gate.ObserveClose(final)
}

// Close explicitly closes a completed sub-agent whose contract did not
// request close_on_completion. Failed sub-agents are closed by the runner
// itself.
func (r *Runner) Close(ctx context.Context, subAgentID, reason string) error {
	r.mu.Lock()
	run, ok := r.subagents[subAgentID]
	var status models.SubAgentStatus
	if ok {
		status = run.machine.Status()
	}
	r.mu.Unlock()
	if !ok {
		return ErrSubAgentNotFound
	}
	if status != models.SubAgentStatusCompleted {
		return fmt.Errorf("%w: status is %s", lifecycle.ErrNotCloseable, status)
	}
	r.close(ctx, run, models.FinalStatusCompleted, reason)
	return nil
}

// pump starts queued sub-agents whose constraints cleared. After a latch,
// queued sub-agents are failed instead of left dangling: the run can never
// succeed and they must not start.
func (r *Runner) pump(ctx context.Context) {
	latched := r.gate.Latched()

	r.mu.Lock()
	var rejected []*subAgentRun
	remaining := r.queue[:0]
	for _, queued := range r.queue {
		switch {
		case latched:
			queued.queued = false
			rejected = append(rejected, queued)
		case r.canStartLocked(queued):
			queued.queued = false
			r.startLocked(queued)
		default:
			remaining = append(remaining, queued)
		}
	}
	r.queue = remaining
	r.mu.Unlock()

	for _, run := range rejected {
		r.fail(ctx, run, "run failure latched before start")
		close(run.done)
	}
}

// deliver pushes a result unless CancelAll already signalled shutdown.
func (r *Runner) deliver(result *Result) {
	select {
	case r.resultsCh <- result:
	case <-r.closeCh:
		atomic.AddInt32(&r.pending, -1)
	}
}

// TryGetNext returns a terminal result without blocking.
func (r *Runner) TryGetNext() (*Result, bool) {
	select {
	case result := <-r.resultsCh:
		atomic.AddInt32(&r.pending, -1)
		return result, true
	default:
		return nil, false
	}
}

// WaitForNext blocks until a result is available or the context ends.
func (r *Runner) WaitForNext(ctx context.Context) (*Result, error) {
	select {
	case result := <-r.resultsCh:
		atomic.AddInt32(&r.pending, -1)
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HasPending reports whether any spawned sub-agent has not delivered its
// terminal result yet.
func (r *Runner) HasPending() bool {
	return atomic.LoadInt32(&r.pending) > 0
}

// Get returns a snapshot of one sub-agent record.
func (r *Runner) Get(subAgentID string) (models.SubAgent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.subagents[subAgentID]
	if !ok {
		return models.SubAgent{}, ErrSubAgentNotFound
	}
	return *run.machine.Record(), nil
}

// List returns a snapshot of all spawned sub-agents.
func (r *Runner) List() []models.SubAgent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SubAgent, 0, len(r.subagents))
	for _, run := range r.subagents {
		out = append(out, *run.machine.Record())
	}
	return out
}

// Cancel requests cancellation of one running sub-agent.
func (r *Runner) Cancel(subAgentID string) error {
	r.mu.Lock()
	run, ok := r.subagents[subAgentID]
	r.mu.Unlock()
	if !ok {
		return ErrSubAgentNotFound
	}
	if run.cancel != nil {
		run.cancel()
	}
	return nil
}

// CancelAll cancels every running sub-agent and force-closes queued ones so
// no record is left dangling. Undelivered results are dropped.
func (r *Runner) CancelAll(ctx context.Context) {
	r.closeOnce.Do(func() { close(r.closeCh) })

	r.mu.Lock()
	queued := r.queue
	r.queue = nil
	for _, run := range queued {
		run.queued = false
	}
	var cancels []context.CancelFunc
	for _, run := range r.subagents {
		if r.isActiveLocked(run) && run.cancel != nil {
			cancels = append(cancels, run.cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, run := range queued {
		r.fail(ctx, run, "cancelled")
		close(run.done)
	}
}

// WaitAll blocks until every sub-agent goroutine finished or the context
// ends.
func (r *Runner) WaitAll(ctx context.Context) {
	r.mu.Lock()
	runs := make([]*subAgentRun, 0, len(r.subagents))
	for _, run := range r.subagents {
		if run.queued {
			continue
		}
		runs = append(runs, run)
	}
	r.mu.Unlock()

	for _, run := range runs {
		select {
		case <-run.done:
		case <-ctx.Done():
			return
		}
	}
}

// AwaitApproval publishes an approval request and blocks until an operator
// resolves it or the context ends. Returns the decision.
func (r *Runner) AwaitApproval(ctx context.Context, subAgentID, toolName, reason string) (bool, error) {
	approvalID := uuid.New().String()
	ch := make(chan bool, 1)

	r.approvalMu.Lock()
	r.approvals[approvalID] = ch
	r.approvalMu.Unlock()

	r.emit(ctx, models.EventTypeApprovalRequested, map[string]any{
		"approval_id":  approvalID,
		"sub_agent_id": subAgentID,
		"tool_name":    toolName,
		"reason":       reason,
	})

	select {
	case approved := <-ch:
		return approved, nil
	case <-ctx.Done():
		r.approvalMu.Lock()
		delete(r.approvals, approvalID)
		r.approvalMu.Unlock()
		return false, ctx.Err()
	}
}

// ResolveApproval records the operator decision, publishes the resolution
// event, and unblocks the waiting sub-agent.
func (r *Runner) ResolveApproval(ctx context.Context, approvalID string, approve bool, reason string) error {
	r.approvalMu.Lock()
	ch, ok := r.approvals[approvalID]
	if ok {
		delete(r.approvals, approvalID)
	}
	r.approvalMu.Unlock()
	if !ok {
		return ErrApprovalNotFound
	}

	r.emit(ctx, models.EventTypeApprovalResolved, map[string]any{
		"approval_id": approvalID,
		"approved":    approve,
		"reason":      reason,
	})
	ch <- approve
	return nil
}

// emitTimeout bounds one audit append so a wedged sink cannot stall
// shutdown.
const emitTimeout = 5 * time.Second

// emit appends an audit event. The triggering context is often already
// cancelled when a terminal event is written (attempt timeout, CancelAll),
// and the failed/closed records must land in the log regardless, so the
// append runs on a detached context. Emission failure is logged, never
// fatal: losing one notification must not wedge the lifecycle.
func (r *Runner) emit(ctx context.Context, eventType string, payload map[string]any) {
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()

	runID := r.runID
	_, err := r.sink.Append(emitCtx, models.CreateEventRequest{
		RunID:    &runID,
		TaskID:   r.taskID,
		Category: models.CategoryForType(eventType),
		Type:     eventType,
		Payload:  payload,
	})
	if err != nil {
		slog.Warn("Failed to append audit event",
			"run_id", r.runID, "event_type", eventType, "error", err)
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
