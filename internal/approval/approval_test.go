package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkPlanned_InitialTransition(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.MarkPlanned("p1"))
	assert.Equal(t, StateAwaitingPlanApproval, m.CurrentState("p1"))
}

func TestSubmitPlanApproval_ApprovedPath(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.MarkPlanned("p1"))

	require.NoError(t, m.SubmitPlanApproval("p1", true, []string{"a", "b"}, nil, ""))

	assert.Equal(t, StatePlanApproved, m.CurrentState("p1"))
	assert.True(t, m.IsPlanApproved("p1"))
	seq, ok := m.ApprovedSequence("p1")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, seq)
}

func TestSubmitPlanApproval_RejectedPath(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.MarkPlanned("p1"))

	require.NoError(t, m.SubmitPlanApproval("p1", false, []string{"a"}, nil, "not now"))

	assert.Equal(t, StatePlanRejected, m.CurrentState("p1"))
	assert.False(t, m.IsPlanApproved("p1"))
}

func TestSubmitPlanApproval_ModifiedSequenceOverridesOriginal(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.MarkPlanned("p1"))

	require.NoError(t, m.SubmitPlanApproval("p1", true, []string{"a", "b"}, []string{"a"}, "trimmed"))

	seq, ok := m.ApprovedSequence("p1")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, seq)
}

func TestInvalidTransition_Rejected(t *testing.T) {
	m := NewManager()
	// freshly created plan is PLANNING; jumping straight to EXECUTING is illegal.
	err := m.MarkExecuting("p1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatePlanning, m.CurrentState("p1"))
}

func TestAcquireLock_RequiresPlanApprovedAndIsNotRecursive(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.MarkPlanned("p1"))

	assert.False(t, m.AcquireLock("p1"), "lock cannot be acquired before PLAN_APPROVED")

	require.NoError(t, m.SubmitPlanApproval("p1", true, []string{"a"}, nil, ""))

	assert.True(t, m.AcquireLock("p1"))
	assert.False(t, m.AcquireLock("p1"), "lock must not be recursive")

	m.ReleaseLock("p1")
	assert.True(t, m.AcquireLock("p1"), "lock is reacquirable after release")
}

func TestFullHappyPathTransitions(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.MarkPlanned("p1"))
	require.NoError(t, m.SubmitPlanApproval("p1", true, []string{"a"}, nil, ""))
	require.True(t, m.AcquireLock("p1"))
	require.NoError(t, m.MarkExecuting("p1"))
	require.NoError(t, m.MarkAwaitingResultApproval("p1"))
	require.NoError(t, m.SubmitResultApproval("p1", true, "done", ""))

	assert.Equal(t, StateCompleted, m.CurrentState("p1"))

	history := m.History("p1")
	require.Len(t, history, 5)
	assert.Equal(t, StatePlanning, history[0].From)
	assert.Equal(t, StateCompleted, history[len(history)-1].To)
}

func TestMarkFailedAndTimeout(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.MarkPlanned("p1"))
	require.NoError(t, m.SubmitPlanApproval("p1", true, []string{"a"}, nil, ""))
	require.NoError(t, m.MarkExecuting("p1"))
	require.NoError(t, m.MarkFailed("p1"))
	assert.Equal(t, StateFailed, m.CurrentState("p1"))

	m2 := NewManager()
	require.NoError(t, m2.MarkPlanned("p2"))
	require.NoError(t, m2.SubmitPlanApproval("p2", true, []string{"a"}, nil, ""))
	require.NoError(t, m2.MarkExecuting("p2"))
	require.NoError(t, m2.MarkTimeout("p2"))
	assert.Equal(t, StateTimeout, m2.CurrentState("p2"))
}

func TestCleanup_RemovesOldTerminalRecordsOnly(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.MarkPlanned("old"))
	require.NoError(t, m.SubmitPlanApproval("old", true, []string{"a"}, nil, ""))
	require.NoError(t, m.MarkExecuting("old"))
	require.NoError(t, m.MarkFailed("old"))

	require.NoError(t, m.MarkPlanned("active"))

	removed := m.Cleanup(-time.Hour) // treat everything as "older than cutoff"
	assert.Equal(t, 1, removed)
	assert.Equal(t, StateAwaitingPlanApproval, m.CurrentState("active"), "non-terminal plan untouched")
}

func TestReset_ClearsAllRecords(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.MarkPlanned("p1"))
	m.Reset()
	assert.Equal(t, StatePlanning, m.CurrentState("p1"), "reset forgets prior state, getOrCreate starts fresh")
}
