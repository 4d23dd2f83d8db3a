package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/pkg/contract"
	"github.com/runloom/runloom/pkg/models"
)

func testContract() *contract.Contract {
	return &contract.Contract{
		Parent: contract.Parent{RunID: "run-1", TaskPrompt: "do it"},
		Step:   contract.Step{Title: "step"},
		Permissions: contract.Permissions{
			AllowedTools:       []string{"search", "apply_patch"},
			CanSpawnChildren:   true,
			MaxDelegationDepth: 2,
		},
		Execution: contract.Execution{AttemptTimeoutMS: 1000},
	}
}

func newMachine() *Machine {
	return New(&models.SubAgent{
		ID:     "sa-1",
		Status: models.SubAgentStatusCreated,
	}, testContract())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.SubAgentStatus
		want     bool
	}{
		{models.SubAgentStatusCreated, models.SubAgentStatusRunning, true},
		{models.SubAgentStatusCreated, models.SubAgentStatusFailed, true},
		{models.SubAgentStatusCreated, models.SubAgentStatusCompleted, false},
		{models.SubAgentStatusCreated, models.SubAgentStatusWaitingForMerge, false},
		// retry re-entry
		{models.SubAgentStatusRunning, models.SubAgentStatusRunning, true},
		{models.SubAgentStatusRunning, models.SubAgentStatusWaitingForMerge, true},
		{models.SubAgentStatusRunning, models.SubAgentStatusFailed, true},
		{models.SubAgentStatusRunning, models.SubAgentStatusCompleted, false},
		{models.SubAgentStatusWaitingForMerge, models.SubAgentStatusCompleted, true},
		{models.SubAgentStatusWaitingForMerge, models.SubAgentStatusFailed, true},
		{models.SubAgentStatusWaitingForMerge, models.SubAgentStatusRunning, false},
		{models.SubAgentStatusCompleted, models.SubAgentStatusClosed, true},
		{models.SubAgentStatusCompleted, models.SubAgentStatusRunning, false},
		{models.SubAgentStatusFailed, models.SubAgentStatusClosed, true},
		{models.SubAgentStatusClosed, models.SubAgentStatusRunning, false},
		{models.SubAgentStatusClosed, models.SubAgentStatusClosed, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s → %s", tt.from, tt.to)
	}
}

func TestTransitionHappyPath(t *testing.T) {
	m := newMachine()

	require.NoError(t, m.Transition(models.SubAgentStatusRunning))
	require.NotNil(t, m.Record().StartedAt)

	require.NoError(t, m.Transition(models.SubAgentStatusWaitingForMerge))
	require.NoError(t, m.Transition(models.SubAgentStatusCompleted))
	require.NoError(t, m.Close(models.FinalStatusCompleted, "merged"))

	assert.Equal(t, models.SubAgentStatusClosed, m.Status())
	assert.Equal(t, models.FinalStatusCompleted, m.Record().FinalStatus)
	assert.Equal(t, "merged", m.Record().CloseReason)
	assert.NotNil(t, m.Record().ClosedAt)
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	m := newMachine()
	err := m.Transition(models.SubAgentStatusWaitingForMerge)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, models.SubAgentStatusCreated, m.Status())
}

func TestTransitionRejectsClosed(t *testing.T) {
	m := newMachine()
	err := m.Transition(models.SubAgentStatusClosed)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRetryReentry(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Transition(models.SubAgentStatusRunning))
	first := m.Record().StartedAt

	require.NoError(t, m.Transition(models.SubAgentStatusRunning))
	// StartedAt records the first start, not the retry.
	assert.Equal(t, first, m.Record().StartedAt)
}

func TestFailRecordsReason(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Transition(models.SubAgentStatusRunning))
	require.NoError(t, m.Fail("all 3 attempts failed"))

	assert.Equal(t, models.SubAgentStatusFailed, m.Status())
	require.NotNil(t, m.Record().Error)
	assert.Equal(t, "all 3 attempts failed", *m.Record().Error)

	require.NoError(t, m.Close(models.FinalStatusFailed, "auto-closed"))
	assert.Equal(t, models.FinalStatusFailed, m.Record().FinalStatus)
}

func TestCloseBeforeTerminalRejected(t *testing.T) {
	m := newMachine()
	assert.ErrorIs(t, m.Close(models.FinalStatusCompleted, "nope"), ErrNotCloseable)

	require.NoError(t, m.Transition(models.SubAgentStatusRunning))
	assert.ErrorIs(t, m.Close(models.FinalStatusCompleted, "nope"), ErrNotCloseable)

	require.NoError(t, m.Transition(models.SubAgentStatusWaitingForMerge))
	assert.ErrorIs(t, m.Close(models.FinalStatusCompleted, "nope"), ErrNotCloseable)
}

func TestCheckTool(t *testing.T) {
	m := newMachine()
	assert.NoError(t, m.CheckTool("search"))
	assert.Error(t, m.CheckTool("delete_branch"))
}

func TestCheckDelegation(t *testing.T) {
	m := newMachine()
	assert.NoError(t, m.CheckDelegation(1))
	assert.NoError(t, m.CheckDelegation(2))
	assert.Error(t, m.CheckDelegation(3))

	noKids := testContract()
	noKids.Permissions.CanSpawnChildren = false
	leaf := New(&models.SubAgent{ID: "sa-2", Status: models.SubAgentStatusCreated}, noKids)
	assert.Error(t, leaf.CheckDelegation(1))
}
