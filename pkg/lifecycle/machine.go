// Package lifecycle implements the sub-agent status state machine. A Machine
// owns exactly one SubAgent record; the orchestrator is the only caller —
// children never transition themselves.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/runloom/runloom/pkg/contract"
	"github.com/runloom/runloom/pkg/models"
)

var (
	// ErrIllegalTransition is returned when a requested status change is not
	// in the transition table.
	ErrIllegalTransition = errors.New("illegal sub-agent status transition")

	// ErrNotCloseable is returned when Close is called before the sub-agent
	// reached a completed/failed outcome.
	ErrNotCloseable = errors.New("sub-agent must be completed or failed before close")
)

// transitions is the closed table of legal status moves. running → running
// expresses a retry re-entry after a transient failure.
var transitions = map[models.SubAgentStatus][]models.SubAgentStatus{
	models.SubAgentStatusCreated: {models.SubAgentStatusRunning, models.SubAgentStatusFailed},
	models.SubAgentStatusRunning: {
		models.SubAgentStatusRunning,
		models.SubAgentStatusWaitingForMerge,
		models.SubAgentStatusFailed,
	},
	models.SubAgentStatusWaitingForMerge: {models.SubAgentStatusCompleted, models.SubAgentStatusFailed},
	models.SubAgentStatusCompleted:       {models.SubAgentStatusClosed},
	models.SubAgentStatusFailed:          {models.SubAgentStatusClosed},
	models.SubAgentStatusClosed:          {},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to models.SubAgentStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Machine enforces the lifecycle of one sub-agent under its contract.
type Machine struct {
	record   *models.SubAgent
	contract *contract.Contract
	now      func() time.Time
}

// New creates a machine owning the given record. The contract must be the
// record's deserialized contract document.
func New(record *models.SubAgent, c *contract.Contract) *Machine {
	return &Machine{record: record, contract: c, now: time.Now}
}

// Record returns the owned sub-agent record.
func (m *Machine) Record() *models.SubAgent { return m.record }

// Contract returns the immutable delegation contract.
func (m *Machine) Contract() *contract.Contract { return m.contract }

// Status returns the current status.
func (m *Machine) Status() models.SubAgentStatus { return m.record.Status }

// Transition moves the sub-agent to the given status, rejecting moves not in
// the table. Close must be used for the terminal administrative state.
func (m *Machine) Transition(to models.SubAgentStatus) error {
	if to == models.SubAgentStatusClosed {
		return fmt.Errorf("%w: use Close for %s → closed", ErrIllegalTransition, m.record.Status)
	}
	return m.apply(to)
}

// Fail records the error message and moves to failed. Contract violations,
// timeouts past the retry budget, and merge failures all land here — hard
// failures, never downgraded.
func (m *Machine) Fail(reason string) error {
	if err := m.apply(models.SubAgentStatusFailed); err != nil {
		return err
	}
	m.record.Error = &reason
	return nil
}

// Close moves to the terminal closed state, recording the final status and
// close reason. Only reachable from completed or failed.
func (m *Machine) Close(final models.FinalStatus, reason string) error {
	if !m.record.Status.IsTerminalOutcome() {
		return fmt.Errorf("%w: status is %s", ErrNotCloseable, m.record.Status)
	}
	m.record.Status = models.SubAgentStatusClosed
	m.record.FinalStatus = final
	m.record.CloseReason = reason
	t := m.now()
	m.record.ClosedAt = &t
	return nil
}

// CheckTool validates a tool invocation against the contract allowlist.
// A disallowed tool is a contract violation: the caller must fail the step,
// not silently skip the call.
func (m *Machine) CheckTool(name string) error {
	if !m.contract.Permissions.Allows(name) {
		return fmt.Errorf("tool %q is not in the contract allowlist", name)
	}
	return nil
}

// CheckDelegation validates that this sub-agent may spawn a child at the
// given depth (depth 1 = this sub-agent's direct children).
func (m *Machine) CheckDelegation(depth int) error {
	if !m.contract.Permissions.CanSpawnChildren {
		return errors.New("contract does not permit spawning children")
	}
	if depth > m.contract.Permissions.MaxDelegationDepth {
		return fmt.Errorf("delegation depth %d exceeds contract limit %d",
			depth, m.contract.Permissions.MaxDelegationDepth)
	}
	return nil
}

func (m *Machine) apply(to models.SubAgentStatus) error {
	from := m.record.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, from, to)
	}
	m.record.Status = to
	if to == models.SubAgentStatusRunning && m.record.StartedAt == nil {
		t := m.now()
		m.record.StartedAt = &t
	}
	return nil
}
