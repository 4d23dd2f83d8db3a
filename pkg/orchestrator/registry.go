package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/runloom/runloom/pkg/models"
)

// Registry is the process-wide access point to live runners, indexed by run
// id. No package-level singleton: one Registry is created in main and
// injected where needed.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]*Runner)}
}

// Register adds a runner for a run id, replacing any previous entry.
func (reg *Registry) Register(runID string, r *Runner) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.runners[runID] = r
}

// Remove drops a finished run's runner.
func (reg *Registry) Remove(runID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.runners, runID)
}

// Get returns the runner for a run id.
func (reg *Registry) Get(runID string) (*Runner, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.runners[runID]
	return r, ok
}

// ListSubAgents returns the sub-agents of a run, or ErrSubAgentNotFound
// when the run has no live runner.
func (reg *Registry) ListSubAgents(runID string) ([]models.SubAgent, error) {
	r, ok := reg.Get(runID)
	if !ok {
		return nil, errors.New("no live runner for run")
	}
	return r.List(), nil
}

// ResolveApproval routes an operator decision to whichever runner is
// waiting on the approval id.
func (reg *Registry) ResolveApproval(ctx context.Context, approvalID string, approve bool, reason string) error {
	reg.mu.RLock()
	runners := make([]*Runner, 0, len(reg.runners))
	for _, r := range reg.runners {
		runners = append(runners, r)
	}
	reg.mu.RUnlock()

	for _, r := range runners {
		err := r.ResolveApproval(ctx, approvalID, approve, reason)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrApprovalNotFound) {
			return err
		}
	}
	return ErrApprovalNotFound
}

// CancelAll cancels every live runner. Used during graceful shutdown.
func (reg *Registry) CancelAll(ctx context.Context) {
	reg.mu.RLock()
	runners := make([]*Runner, 0, len(reg.runners))
	for _, r := range reg.runners {
		runners = append(runners, r)
	}
	reg.mu.RUnlock()

	for _, r := range runners {
		r.CancelAll(ctx)
	}
}

// WaitAll waits for every live runner's sub-agents to finish.
func (reg *Registry) WaitAll(ctx context.Context) {
	reg.mu.RLock()
	runners := make([]*Runner, 0, len(reg.runners))
	for _, r := range reg.runners {
		runners = append(runners, r)
	}
	reg.mu.RUnlock()

	for _, r := range runners {
		r.WaitAll(ctx)
	}
}
