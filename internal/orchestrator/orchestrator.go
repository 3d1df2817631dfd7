// Package orchestrator wires the state, registry, planner, graph, executor,
// approval, fanout, persistence, workflowctx, and metrics collaborators
// into the request/response surface the HTTP layer exposes: request ->
// plan -> compile -> approve -> execute.
//
// Grounded on kadirpekel/hector's team.Team, which plays the analogous
// composition-root role (workflowService + agentService +
// coordinationService wired into one façade).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finflow-ai/orchestrator/internal/approval"
	"github.com/finflow-ai/orchestrator/internal/config"
	"github.com/finflow-ai/orchestrator/internal/errs"
	"github.com/finflow-ai/orchestrator/internal/executor"
	"github.com/finflow-ai/orchestrator/internal/fanout"
	"github.com/finflow-ai/orchestrator/internal/graph"
	"github.com/finflow-ai/orchestrator/internal/metrics"
	"github.com/finflow-ai/orchestrator/internal/persistence"
	"github.com/finflow-ai/orchestrator/internal/planner"
	"github.com/finflow-ai/orchestrator/internal/registry"
	"github.com/finflow-ai/orchestrator/internal/state"
	"github.com/finflow-ai/orchestrator/internal/workflowctx"
)

// Core is the composition root: the wiring layer that owns every
// collaborator and exposes the operations the HTTP/WS handlers call.
type Core struct {
	cfg config.Config
	log *slog.Logger

	agents     *registry.AgentRegistry
	planner    *planner.Planner
	compiler   *graph.Compiler
	approvals  *approval.Manager
	broker     *fanout.Broker
	writer     *persistence.Writer
	messages   persistence.MessageRepository
	plans      persistence.PlanRepository
	ctxSvc     *workflowctx.Service
	monitor    *metrics.Monitor
	executor   *executor.Executor

	mu        sync.Mutex
	sequences map[string]planner.AgentSequence // plan_id -> original AgentSequence, for approval display
	states    map[string]state.State           // plan_id -> last known canonical state
}

// Deps bundles Core's collaborators, assembled by cmd/orchestratord.
type Deps struct {
	Cfg       config.Config
	Log       *slog.Logger
	Agents    *registry.AgentRegistry
	Planner   *planner.Planner
	Compiler  *graph.Compiler
	Approvals *approval.Manager
	Broker    *fanout.Broker
	Messages  persistence.MessageRepository
	Plans     persistence.PlanRepository
	CtxSvc    *workflowctx.Service
	Monitor   *metrics.Monitor
	Mock      errs.MockPolicy
}

// New assembles a Core from deps.
func New(d Deps) *Core {
	writer := persistence.NewWriter(d.Messages, d.Broker)

	execCfg := executor.DefaultConfig()
	execCfg.AgentTimeout = time.Duration(d.Cfg.AgentTimeoutSeconds) * time.Second
	execCfg.WorkflowTimeout = time.Duration(d.Cfg.WorkflowTimeoutSeconds) * time.Second

	exec := executor.New(execCfg, d.Agents, d.Approvals, writer, d.CtxSvc, d.Broker, d.Monitor, d.Mock, d.Log)

	return &Core{
		cfg:       d.Cfg,
		log:       d.Log,
		agents:    d.Agents,
		planner:   d.Planner,
		compiler:  d.Compiler,
		approvals: d.Approvals,
		broker:    d.Broker,
		writer:    writer,
		messages:  d.Messages,
		plans:     d.Plans,
		ctxSvc:    d.CtxSvc,
		monitor:   d.Monitor,
		executor:  exec,
		sequences: make(map[string]planner.AgentSequence),
		states:    make(map[string]state.State),
	}
}

// SubmitResult is /process_request's immediate response.
type SubmitResult struct {
	PlanID    string
	SessionID string
	Status    string
}

// SubmitRequest implements POST /process_request: plan, compile, persist
// the durable Plan record, and move the state machine to
// AWAITING_PLAN_APPROVAL. Planning and compilation run synchronously
// inside this call, which returns once the plan is ready for operator
// review; only execution, launched by SubmitPlanApproval, runs
// asynchronously.
func (c *Core) SubmitRequest(ctx context.Context, description, sessionID string, requireHITL *bool) (SubmitResult, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	planID := uuid.New().String()

	hitl := c.cfg.HITLEnabled
	if requireHITL != nil {
		hitl = *requireHITL
	}

	c.ctxSvc.AddEvent(planID, workflowctx.Event{Type: workflowctx.EventWorkflowCreated, Message: description})

	seq, err := c.planner.Plan(ctx, description, c.agents)
	if err != nil {
		c.ctxSvc.AddEvent(planID, workflowctx.Event{Type: workflowctx.EventErrorOccurred, Message: err.Error()})
		return SubmitResult{}, fmt.Errorf("orchestrator: planning failed: %w", err)
	}

	graphType := graph.TypeDefault
	if hitl {
		graphType = graph.TypeHITLEnabled
	}
	if seq.ComplexityScore >= 0.7 {
		graphType = graph.TypeAIDriven
	}

	if _, err := c.compiler.Compile(graph.Options{Sequence: seq.Agents, Type: graphType, EnableHITL: hitl}); err != nil {
		c.approvals.MarkFailed(planID)
		return SubmitResult{}, fmt.Errorf("orchestrator: compile failed: %w", err)
	}

	steps := make([]persistence.PlanStep, len(seq.Agents))
	for i, agent := range seq.Agents {
		steps[i] = persistence.PlanStep{ID: fmt.Sprintf("%s-%d", planID, i), Agent: agent, Status: "pending", Description: seq.Reasoning[agent]}
	}
	now := time.Now()
	if err := c.plans.Create(ctx, persistence.Plan{
		ID: planID, SessionID: sessionID, Description: description,
		Status: persistence.PlanPendingApproval, Steps: steps, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return SubmitResult{}, fmt.Errorf("orchestrator: persist plan: %w", err)
	}

	if err := c.approvals.MarkPlanned(planID); err != nil {
		return SubmitResult{}, err
	}

	c.mu.Lock()
	c.sequences[planID] = seq
	c.states[planID] = state.New(planID, sessionID, description, seq.Agents, hitl)
	c.mu.Unlock()

	c.broker.Publish(planID, fanout.Event{Type: fanout.EventPlanCreated, Data: map[string]any{"plan_id": planID, "session_id": sessionID}})
	c.broker.Publish(planID, fanout.Event{Type: fanout.EventPlanApprovalRequest, Data: map[string]any{"plan_id": planID, "agents": seq.Agents}})
	c.ctxSvc.AddEvent(planID, workflowctx.Event{Type: workflowctx.EventStatusChanged, Message: string(approval.StateAwaitingPlanApproval)})

	return SubmitResult{PlanID: planID, SessionID: sessionID, Status: "created"}, nil
}

// SubmitPlanApproval implements POST /plan_approval. On approval it
// recompiles (from cache — identical sequence/type/hitl) and launches
// the executor in its own goroutine; the approval manager's
// PLAN_APPROVED transition is the operator-decision step of the data
// flow.
func (c *Core) SubmitPlanApproval(ctx context.Context, planID string, approved bool, feedback string, modifiedSequence []string) error {
	c.mu.Lock()
	seq, ok := c.sequences[planID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: unknown plan %s", planID)
	}

	if err := c.approvals.SubmitPlanApproval(planID, approved, seq.Agents, modifiedSequence, feedback); err != nil {
		return err
	}

	if !approved {
		c.ctxSvc.AddEvent(planID, workflowctx.Event{Type: workflowctx.EventPlanRejected, Message: feedback})
		return nil
	}
	c.ctxSvc.AddEvent(planID, workflowctx.Event{Type: workflowctx.EventPlanApproved})

	approvedSeq, _ := c.approvals.ApprovedSequence(planID)

	c.mu.Lock()
	hitl := c.states[planID].ApprovalRequired
	c.mu.Unlock()
	graphType := graph.TypeDefault
	if hitl {
		graphType = graph.TypeHITLEnabled
	}
	if seq.ComplexityScore >= 0.7 {
		graphType = graph.TypeAIDriven
	}

	g, err := c.compiler.Compile(graph.Options{Sequence: approvedSeq, Type: graphType, EnableHITL: hitl})
	if err != nil {
		return err
	}

	c.mu.Lock()
	st := c.states[planID]
	st.AgentSequence = approvedSeq
	c.states[planID] = st
	c.mu.Unlock()

	go c.runExecutor(planID, g, st)

	return nil
}

func (c *Core) runExecutor(planID string, g *graph.Graph, st state.State) {
	final, err := c.executor.Run(context.Background(), planID, g, st)

	c.mu.Lock()
	c.states[planID] = final
	c.mu.Unlock()

	status := persistence.PlanCompleted
	if err != nil {
		status = persistence.PlanFailed
		c.log.Warn("workflow terminated with error", "plan_id", planID, "error", err)
	}

	if p, ok, getErr := c.plans.Get(context.Background(), planID); getErr == nil && ok {
		p.Status = status
		c.plans.Update(context.Background(), p)
	}
}

// SubmitUserClarification implements POST /user_clarification: interprets
// free text via config.InterpretClarification and resumes the suspended
// executor.
func (c *Core) SubmitUserClarification(planID, answer string) error {
	approved := config.InterpretClarification(answer)
	if !approved {
		c.ctxSvc.AddEvent(planID, workflowctx.Event{Type: workflowctx.EventRestartRequested, Message: answer})
	}
	return c.executor.Resume(planID, executor.Signal{Approved: approved})
}

// SubmitExtractionApproval implements POST /extraction_approval: a
// domain-specific specialization of the same HITL gate, routed through
// the identical resume path.
func (c *Core) SubmitExtractionApproval(planID string, approved bool, feedback string) error {
	return c.executor.Resume(planID, executor.Signal{Approved: approved})
}

// Cancel requests cooperative cancellation of planID's in-flight run.
func (c *Core) Cancel(planID string) {
	c.executor.Cancel(planID)
}

// PlanView is GET /plan's response shape.
type PlanView struct {
	Plan     persistence.Plan
	Messages []persistence.Message
}

// GetPlan implements GET /plan?plan_id=….
func (c *Core) GetPlan(ctx context.Context, planID string) (PlanView, error) {
	p, ok, err := c.plans.Get(ctx, planID)
	if err != nil {
		return PlanView{}, err
	}
	if !ok {
		return PlanView{}, fmt.Errorf("orchestrator: plan %s not found", planID)
	}
	msgs, err := c.messages.ByPlan(ctx, planID)
	if err != nil {
		return PlanView{}, err
	}
	return PlanView{Plan: p, Messages: msgs}, nil
}

// ListPlans implements GET /plans?session_id=….
func (c *Core) ListPlans(ctx context.Context, sessionID string) ([]persistence.Plan, error) {
	return c.plans.BySession(ctx, sessionID)
}

// Broker exposes the fan-out broker for the WS handler.
func (c *Core) Broker() *fanout.Broker { return c.broker }

// Monitor exposes the performance monitor for a /metrics handler.
func (c *Core) Monitor() *metrics.Monitor { return c.monitor }

// RunGC sweeps completed workflows older than CONTEXT_GC_HOURS from the
// approval manager and context service.
func (c *Core) RunGC() {
	maxAge := time.Duration(c.cfg.ContextGCHours) * time.Hour
	removedApprovals := c.approvals.Cleanup(maxAge)
	removedCtx := c.ctxSvc.Cleanup(maxAge)
	c.log.Info("garbage collection swept completed workflows", "approvals_removed", removedApprovals, "context_removed", removedCtx)
}
