package orchestrator

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finflow-ai/orchestrator/internal/approval"
	"github.com/finflow-ai/orchestrator/internal/config"
	"github.com/finflow-ai/orchestrator/internal/errs"
	"github.com/finflow-ai/orchestrator/internal/fanout"
	"github.com/finflow-ai/orchestrator/internal/graph"
	"github.com/finflow-ai/orchestrator/internal/metrics"
	"github.com/finflow-ai/orchestrator/internal/persistence"
	"github.com/finflow-ai/orchestrator/internal/planner"
	"github.com/finflow-ai/orchestrator/internal/registry"
	"github.com/finflow-ai/orchestrator/internal/state"
	"github.com/finflow-ai/orchestrator/internal/workflowctx"
)

func newCore(t *testing.T) *Core {
	t.Helper()
	agents := registry.NewAgentRegistry()
	for _, name := range []string{"planner", "gmail", "invoice", "analysis"} {
		name := name
		require.NoError(t, agents.Register(registry.Descriptor{
			Name: name,
			Fn: func(ctx context.Context, in state.State) (state.State, error) {
				return state.State{
					Messages:      []state.Message{{Agent: name, Content: name + " done", Timestamp: time.Now()}},
					CollectedData: map[string]any{name: "ok"},
				}, nil
			},
		}))
	}

	approvals := approval.NewManager()
	broker := fanout.New(fanout.Config{BacklogPerPlan: 10, SlowSubscriberHWM: 10}, nil)
	compiler := graph.NewCompiler(agents, 16, nil)
	p := planner.New(nil, planner.DefaultConfig())
	ctxSvc := workflowctx.New()
	monitor := metrics.New(metrics.Config{})

	cfg := config.Default()
	cfg.AgentTimeoutSeconds = 5
	cfg.WorkflowTimeoutSeconds = 5

	return New(Deps{
		Cfg:       cfg,
		Log:       slog.Default(),
		Agents:    agents,
		Planner:   p,
		Compiler:  compiler,
		Approvals: approvals,
		Broker:    broker,
		Messages:  persistence.NewMemoryMessageRepository(),
		Plans:     persistence.NewMemoryPlanRepository(),
		CtxSvc:    ctxSvc,
		Monitor:   monitor,
		Mock:      errs.MockPolicy{},
	})
}

func TestSubmitRequest_CreatesPlanAwaitingApproval(t *testing.T) {
	c := newCore(t)
	res, err := c.SubmitRequest(context.Background(), "process an invoice", "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.PlanID)
	assert.Equal(t, "created", res.Status)

	view, err := c.GetPlan(context.Background(), res.PlanID)
	require.NoError(t, err)
	assert.Equal(t, persistence.PlanPendingApproval, view.Plan.Status)
	assert.Equal(t, approval.StateAwaitingPlanApproval, c.approvals.CurrentState(res.PlanID))
}

func TestSubmitRequest_GeneratesSessionIDWhenOmitted(t *testing.T) {
	c := newCore(t)
	res, err := c.SubmitRequest(context.Background(), "do something", "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
}

func TestSubmitPlanApproval_ApprovedLaunchesExecutorToCompletion(t *testing.T) {
	c := newCore(t)
	res, err := c.SubmitRequest(context.Background(), "send an invoice", "s1", nil)
	require.NoError(t, err)

	require.NoError(t, c.SubmitPlanApproval(context.Background(), res.PlanID, true, "", nil))

	require.Eventually(t, func() bool {
		st := c.approvals.CurrentState(res.PlanID)
		return st == approval.StateCompleted || st == approval.StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, approval.StateCompleted, c.approvals.CurrentState(res.PlanID))

	view, err := c.GetPlan(context.Background(), res.PlanID)
	require.NoError(t, err)
	assert.Equal(t, persistence.PlanCompleted, view.Plan.Status)
}

func TestSubmitPlanApproval_RejectedNeverExecutes(t *testing.T) {
	c := newCore(t)
	res, err := c.SubmitRequest(context.Background(), "send an invoice", "s1", nil)
	require.NoError(t, err)

	require.NoError(t, c.SubmitPlanApproval(context.Background(), res.PlanID, false, "not now", nil))

	assert.Equal(t, approval.StatePlanRejected, c.approvals.CurrentState(res.PlanID))
	// No execution lock was ever acquired for a rejected plan.
	assert.False(t, c.approvals.IsExecutionAllowed(res.PlanID))
}

func TestSubmitPlanApproval_UnknownPlanErrors(t *testing.T) {
	c := newCore(t)
	err := c.SubmitPlanApproval(context.Background(), "never-requested", true, "", nil)
	assert.Error(t, err)
}

func TestSubmitUserClarification_NoSuspendedPlanReturnsError(t *testing.T) {
	c := newCore(t)
	// No suspended executor is waiting, so Resume should report no waiter
	// rather than panicking.
	err := c.SubmitUserClarification("no-such-plan", "yes, approved")
	assert.Error(t, err)
}

func TestCancel_OnUnknownPlanIsANoop(t *testing.T) {
	c := newCore(t)
	assert.NotPanics(t, func() { c.Cancel("never-started") })
}

func TestListPlans_ReturnsOnlyMatchingSession(t *testing.T) {
	c := newCore(t)
	_, err := c.SubmitRequest(context.Background(), "task one", "session-a", nil)
	require.NoError(t, err)
	_, err = c.SubmitRequest(context.Background(), "task two", "session-b", nil)
	require.NoError(t, err)

	plans, err := c.ListPlans(context.Background(), "session-a")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "session-a", plans[0].SessionID)
}

func TestGetPlan_UnknownPlanErrors(t *testing.T) {
	c := newCore(t)
	_, err := c.GetPlan(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRunGC_SweepsOldCompletedWorkflows(t *testing.T) {
	c := newCore(t)
	res, err := c.SubmitRequest(context.Background(), "send an invoice", "s1", nil)
	require.NoError(t, err)
	require.NoError(t, c.SubmitPlanApproval(context.Background(), res.PlanID, true, "", nil))

	require.Eventually(t, func() bool {
		return c.approvals.CurrentState(res.PlanID) == approval.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	c.cfg.ContextGCHours = 0
	c.RunGC()

	assert.Equal(t, approval.StatePlanning, c.approvals.CurrentState(res.PlanID), "a swept record starts fresh at PLANNING if touched again")
}

func TestBrokerAndMonitorAccessors(t *testing.T) {
	c := newCore(t)
	assert.NotNil(t, c.Broker())
	assert.NotNil(t, c.Monitor())
}
