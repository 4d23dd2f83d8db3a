package orchestrator

import (
	"sync"

	"github.com/runloom/runloom/pkg/models"
)

// RunGate tracks run-level success across all spawned sub-agents.
//
// Run success requires every spawned sub-agent to have reached closed with
// final_status completed. The first failed close latches run failure
// permanently: already-running siblings may finish, but no new sibling may
// start and the run can never become eligible again.
type RunGate struct {
	mu              sync.Mutex
	spawned         int
	closedCompleted int
	latched         bool
}

// NewRunGate creates an empty gate.
func NewRunGate() *RunGate {
	return &RunGate{}
}

// Register counts a newly spawned sub-agent toward the closure requirement.
func (g *RunGate) Register() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spawned++
}

// ObserveClose records a sub-agent close. A failed close latches.
func (g *RunGate) ObserveClose(final models.FinalStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if final == models.FinalStatusCompleted {
		g.closedCompleted++
		return
	}
	g.latched = true
}

// Eligible reports whether the run currently qualifies for success: at
// least one sub-agent spawned, all of them closed completed, no failure
// latched. A completed-but-not-closed sub-agent does not count.
func (g *RunGate) Eligible() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.latched && g.spawned > 0 && g.closedCompleted == g.spawned
}

// Latched reports whether run failure has been latched.
func (g *RunGate) Latched() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latched
}
