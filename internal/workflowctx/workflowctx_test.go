package workflowctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddEvent_AccumulatesAndOrdersEvents(t *testing.T) {
	s := New()
	s.AddEvent("p1", Event{Type: EventWorkflowCreated, Message: "start"})
	s.AddEvent("p1", Event{Type: EventAgentStarted, AgentName: "gmail"})

	events := s.GetRecentEvents("p1", 0)
	require.Len(t, events, 2)
	assert.Equal(t, EventWorkflowCreated, events[0].Type)
	assert.Equal(t, EventAgentStarted, events[1].Type)
}

func TestAddEvent_TracksAgentTiming(t *testing.T) {
	s := New()
	start := time.Now()
	s.AddEvent("p1", Event{Type: EventAgentStarted, AgentName: "gmail", Timestamp: start})
	s.AddEvent("p1", Event{Type: EventAgentCompleted, AgentName: "gmail", Timestamp: start.Add(200 * time.Millisecond)})

	summary, ok := s.GetSummary("p1")
	require.True(t, ok)
	require.Contains(t, summary.AgentTimings, "gmail")
	assert.Equal(t, 200*time.Millisecond, summary.AgentTimings["gmail"])
}

func TestAddEvent_TracksLatestApprovalStatus(t *testing.T) {
	s := New()
	s.AddEvent("p1", Event{Type: EventPlanApproved})
	s.AddEvent("p1", Event{Type: EventFinalApproved})

	summary, ok := s.GetSummary("p1")
	require.True(t, ok)
	assert.Equal(t, string(EventFinalApproved), summary.ApprovalStatus)
}

func TestGetSummary_UnknownPlan(t *testing.T) {
	s := New()
	_, ok := s.GetSummary("missing")
	assert.False(t, ok)
}

func TestGetRecentEvents_RespectsLimit(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.AddEvent("p1", Event{Type: EventProgressUpdated})
	}

	events := s.GetRecentEvents("p1", 2)
	assert.Len(t, events, 2)
}

func TestCleanup_RemovesStaleLogsOnly(t *testing.T) {
	s := New()
	s.AddEvent("old", Event{Type: EventWorkflowCreated, Timestamp: time.Now().Add(-48 * time.Hour)})
	s.AddEvent("fresh", Event{Type: EventWorkflowCreated})

	removed := s.Cleanup(24 * time.Hour)

	assert.Equal(t, 1, removed)
	_, oldExists := s.GetSummary("old")
	assert.False(t, oldExists)
	_, freshExists := s.GetSummary("fresh")
	assert.True(t, freshExists)
}

func TestReset_ClearsAllLogs(t *testing.T) {
	s := New()
	s.AddEvent("p1", Event{Type: EventWorkflowCreated})
	s.Reset()

	_, ok := s.GetSummary("p1")
	assert.False(t, ok)
}
