// Package executor implements the linear executor that drives a
// compiled graph to completion one node at a time, honoring cancellation,
// HITL suspension, and per-agent/per-workflow timeouts.
//
// Grounded on kadirpekel/hector's workflow.ExecutionContext for the
// mutex-guarded shared-state shape, and on v2/task.Awaiter (via
// executor/awaiter.go) for the suspend/resume handshake.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/finflow-ai/orchestrator/internal/approval"
	"github.com/finflow-ai/orchestrator/internal/errs"
	"github.com/finflow-ai/orchestrator/internal/fanout"
	"github.com/finflow-ai/orchestrator/internal/graph"
	"github.com/finflow-ai/orchestrator/internal/metrics"
	"github.com/finflow-ai/orchestrator/internal/persistence"
	"github.com/finflow-ai/orchestrator/internal/registry"
	"github.com/finflow-ai/orchestrator/internal/state"
	"github.com/finflow-ai/orchestrator/internal/workflowctx"
)

// ErrUnknownAgent is a step-level failure, distinct from
// graph.ErrUnknownAgent which is a compile-time failure: the graph
// compiler already rejected sequences naming agents absent at compile
// time, so this only fires if an agent was deregistered after compile.
var ErrUnknownAgent = fmt.Errorf("executor: agent not found at invocation time")

// Config controls the executor's timeouts.
type Config struct {
	AgentTimeout     time.Duration // default 120s
	WorkflowTimeout  time.Duration // default 1800s
	CancelGrace      time.Duration // default 10s
}

// DefaultConfig returns the standard timeout defaults.
func DefaultConfig() Config {
	return Config{
		AgentTimeout:    120 * time.Second,
		WorkflowTimeout: 30 * time.Minute,
		CancelGrace:     10 * time.Second,
	}
}

type run struct {
	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
}

// Executor drives a compiled graph to completion.
type Executor struct {
	cfg       Config
	agents    *registry.AgentRegistry
	approvals *approval.Manager
	writer    *persistence.Writer
	ctxSvc    *workflowctx.Service
	broker    *fanout.Broker
	monitor   *metrics.Monitor
	mockPolicy errs.MockPolicy
	retry     errs.RetryPolicy
	log       *slog.Logger

	gate *gate

	mu   sync.Mutex
	runs map[string]*run
}

// New creates an Executor wired to its collaborators.
func New(
	cfg Config,
	agents *registry.AgentRegistry,
	approvals *approval.Manager,
	writer *persistence.Writer,
	ctxSvc *workflowctx.Service,
	broker *fanout.Broker,
	monitor *metrics.Monitor,
	mockPolicy errs.MockPolicy,
	log *slog.Logger,
) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		cfg:        cfg,
		agents:     agents,
		approvals:  approvals,
		writer:     writer,
		ctxSvc:     ctxSvc,
		broker:     broker,
		monitor:    monitor,
		mockPolicy: mockPolicy,
		retry:      errs.DefaultRetryPolicy(),
		log:        log,
		gate:       newGate(),
		runs:       make(map[string]*run),
	}
}

// Cancel marks planID's run cancelled. The cancellation flag is checked
// at every suspension point and before each agent call; an in-flight
// agent call's context is cancelled immediately so cooperative agents
// can stop early.
func (e *Executor) Cancel(planID string) {
	e.mu.Lock()
	r, ok := e.runs[planID]
	e.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	r.cancelled = true
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	e.gate.resume(planID, Signal{Approved: false})
}

// Resume delivers sig to a plan_id suspended at a HITL interrupt (either
// the result-approval gate or a step-wise interrupt). The orchestrator
// core calls it for the user_clarification and extraction_approval
// endpoints.
func (e *Executor) Resume(planID string, sig Signal) error {
	return e.gate.resume(planID, sig)
}

func (e *Executor) isCancelled(planID string) bool {
	e.mu.Lock()
	r, ok := e.runs[planID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Run drives g to completion starting at st.CurrentStep: a resumed
// workflow never re-executes a completed step, since the loop always
// starts from the canonical CurrentStep.
//
// The caller must have already transitioned the plan to PLAN_APPROVED;
// Run acquires the per-plan_id exclusivity token itself and holds it
// across any intra-workflow suspension, releasing it only on a terminal
// state or cancellation.
func (e *Executor) Run(ctx context.Context, planID string, g *graph.Graph, st state.State) (state.State, error) {
	if !e.approvals.AcquireLock(planID) {
		return st, fmt.Errorf("executor: plan %s is not eligible for execution", planID)
	}
	defer e.approvals.ReleaseLock(planID)

	if err := e.approvals.MarkExecuting(planID); err != nil {
		return st, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.WorkflowTimeout)
	defer cancel()

	e.mu.Lock()
	e.runs[planID] = &run{cancel: cancel}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.runs, planID)
		e.mu.Unlock()
	}()

	e.ctxSvc.AddEvent(planID, workflowctx.Event{Type: workflowctx.EventStatusChanged, Message: "executing"})

	for i := st.CurrentStep; i < len(g.Nodes); i++ {
		node := g.Nodes[i]

		if e.isCancelled(planID) || runCtx.Err() != nil {
			return e.fail(planID, st, "cancelled")
		}

		if node.InterruptBefore {
			st.AwaitingUserInput = true
			e.broker.Publish(planID, fanout.Event{
				Type: fanout.EventPlanApprovalRequest,
				Data: map[string]any{"plan_id": planID, "step": i, "agent": node.Agent},
			})

			sig, err := e.gate.wait(runCtx, planID)
			st.AwaitingUserInput = false
			if err != nil {
				return e.timeoutOrCancel(planID, st)
			}
			if !sig.Approved {
				return e.fail(planID, st, "rejected_at_step")
			}
		}

		if e.isCancelled(planID) || runCtx.Err() != nil {
			return e.fail(planID, st, "cancelled")
		}

		desc, ok := e.agents.Lookup(node.Agent)
		if !ok {
			result := state.ExecutionResult{Agent: node.Agent, Status: state.ExecStatusFailed, Error: ErrUnknownAgent.Error()}
			st = st.Merge(node.Agent, state.State{}, result)
			if !e.canTolerate(node.Agent, g, i) {
				return e.fail(planID, st, "unknown_agent")
			}
			continue
		}

		e.ctxSvc.AddEvent(planID, workflowctx.Event{Type: workflowctx.EventAgentStarted, AgentName: node.Agent})
		e.broker.Publish(planID, fanout.Event{Type: fanout.EventProgressUpdate, Data: map[string]any{
			"current_step": i, "total_steps": len(g.Nodes), "current_agent": node.Agent,
		}})

		delta, dur, runErr := e.invokeAgent(runCtx, planID, desc, st)

		result := state.ExecutionResult{Agent: node.Agent, DurationMS: dur.Milliseconds()}
		if runErr != nil {
			result.Status = state.ExecStatusFailed
			result.Error = runErr.Error()
			e.monitor.RecordAgentDuration(node.Agent, dur, false)

			st = st.Merge(node.Agent, state.State{}, result)

			kind := errs.KindOf(runErr)
			switch kind {
			case errs.KindCancellation:
				return e.fail(planID, st, "cancelled")
			case errs.KindFatal:
				return e.fail(planID, st, "fatal")
			default: // transient (exhausted) or authoritative
				if !e.canTolerate(node.Agent, g, i) {
					failed, err := e.fail(planID, st, "agent_failed")
					return failed, fmt.Errorf("%w: %w", err, runErr)
				}
				continue
			}
		}

		result.Status = state.ExecStatusCompleted
		e.monitor.RecordAgentDuration(node.Agent, dur, false)

		for _, m := range delta.Messages {
			if _, err := e.writer.Write(runCtx, persistence.Message{
				PlanID:    planID,
				AgentName: node.Agent,
				AgentType: node.Agent,
				Content:   m.Content,
				Timestamp: m.Timestamp,
			}); err != nil {
				result.Status = state.ExecStatusFailed
				result.Error = err.Error()
				st = st.Merge(node.Agent, state.State{}, result)
				return e.fail(planID, st, "persistence_failed")
			}
		}

		st = st.Merge(node.Agent, delta, result)
		e.ctxSvc.AddEvent(planID, workflowctx.Event{Type: workflowctx.EventAgentCompleted, AgentName: node.Agent})
		e.broker.Publish(planID, fanout.Event{Type: fanout.EventProgressUpdate, Data: map[string]any{
			"current_step": i + 1, "total_steps": len(g.Nodes), "current_agent": node.Agent,
		}})
	}

	return e.finish(runCtx, planID, g, st)
}

// canTolerate reports whether the agent after index i in g can run
// despite a gap left by a failed upstream agent: the workflow continues
// only if the downstream agent can tolerate missing data, otherwise the
// default is fail-fast.
func (e *Executor) canTolerate(failedAgent string, g *graph.Graph, i int) bool {
	if i+1 >= len(g.Nodes) {
		return false
	}
	next, ok := e.agents.Lookup(g.Nodes[i+1].Agent)
	return ok && next.TolerateMissingUpstream
}

// invokeAgent calls desc.Fn with a per-agent timeout, applying the retry
// policy for transient failures. It returns the agent's delta state, the
// wall-clock duration, and a classified error.
func (e *Executor) invokeAgent(ctx context.Context, planID string, desc registry.Descriptor, st state.State) (state.State, time.Duration, error) {
	start := time.Now()
	in := st.Clone()

	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxRetries+1; attempt++ {
		agentCtx, cancel := context.WithTimeout(ctx, e.cfg.AgentTimeout)
		delta, err := e.callWithGrace(agentCtx, desc, in)
		cancel()

		if err == nil {
			return delta, time.Since(start), nil
		}

		lastErr = err
		if errs.KindOf(err) != errs.KindTransient {
			return state.State{}, time.Since(start), err
		}
		if e.mockPolicy.UseMockMode {
			return e.syntheticDelta(desc.Name, st), time.Since(start), nil
		}
		if attempt <= e.retry.MaxRetries {
			select {
			case <-time.After(e.retry.Delay(attempt)):
			case <-ctx.Done():
				return state.State{}, time.Since(start), errs.New(errs.KindCancellation, "executor", desc.Name, "cancelled during retry backoff", ctx.Err())
			}
		}
	}

	return state.State{}, time.Since(start), errs.New(errs.KindTransient, "executor", desc.Name, fmt.Sprintf("retries exhausted: %v", lastErr), errs.ErrTransientExhausted)
}

// callWithGrace invokes desc.Fn and, if agentCtx is exceeded, waits up to
// CancelGrace for a cooperative return before abandoning the call and
// discarding its eventual output.
func (e *Executor) callWithGrace(agentCtx context.Context, desc registry.Descriptor, in state.State) (state.State, error) {
	type outcome struct {
		st  state.State
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		st, err := desc.Fn(agentCtx, in)
		done <- outcome{st, err}
	}()

	select {
	case o := <-done:
		return o.st, o.err
	case <-agentCtx.Done():
		select {
		case o := <-done:
			return o.st, o.err
		case <-time.After(e.cfg.CancelGrace):
			return state.State{}, errs.New(errs.KindCancellation, "executor", desc.Name, "agent abandoned after grace period", agentCtx.Err())
		}
	}
}

// syntheticDelta stands in for an external transient failure when mock
// mode is on; it never substitutes for a core-originated failure.
func (e *Executor) syntheticDelta(agent string, st state.State) state.State {
	return state.State{
		Messages: []state.Message{{Agent: agent, Content: fmt.Sprintf("[mock] %s completed", agent), Timestamp: time.Now()}},
		CollectedData: map[string]any{agent: map[string]any{"mock": true}},
	}
}

func (e *Executor) fail(planID string, st state.State, reason string) (state.State, error) {
	e.ctxSvc.AddEvent(planID, workflowctx.Event{Type: workflowctx.EventErrorOccurred, Message: reason})
	e.broker.Publish(planID, fanout.Event{Type: fanout.EventError, Data: map[string]any{"error": reason, "recoverable": false}})

	err := e.approvals.MarkFailed(planID)
	e.monitor.RecordWorkflowCompletion("failed", 0)
	return st, combineNamed(reason, err)
}

func (e *Executor) timeoutOrCancel(planID string, st state.State) (state.State, error) {
	if e.isCancelled(planID) {
		return e.fail(planID, st, "cancelled")
	}
	e.ctxSvc.AddEvent(planID, workflowctx.Event{Type: workflowctx.EventErrorOccurred, Message: "timeout"})
	err := e.approvals.MarkTimeout(planID)
	e.monitor.RecordWorkflowCompletion("timeout", 0)
	return st, combineNamed("timeout", err)
}

// finish handles the terminal node: set final_result, then transition to
// AWAITING_RESULT_APPROVAL. If the compiled graph has no result-approval
// gate, the executor auto-approves on the workflow's behalf so the state
// machine still passes through AWAITING_RESULT_APPROVAL en route to
// COMPLETED, since COMPLETED is only reached via submit_result_approval.
func (e *Executor) finish(ctx context.Context, planID string, g *graph.Graph, st state.State) (state.State, error) {
	if !st.LastResultOK() {
		return e.fail(planID, st, "incomplete")
	}

	final := summarize(st)
	st = st.SetFinalResult(final)

	if err := e.approvals.MarkAwaitingResultApproval(planID); err != nil {
		return st, err
	}
	e.broker.Publish(planID, fanout.Event{Type: fanout.EventFinalResultMessage, Data: map[string]any{"content": final, "status": "completed"}})

	if !g.ResultApprovalGate {
		if err := e.approvals.SubmitResultApproval(planID, true, final, ""); err != nil {
			return st, err
		}
		e.monitor.RecordWorkflowCompletion("completed", 0)
		return st, nil
	}

	sig, err := e.gate.wait(ctx, planID)
	if err != nil {
		return e.timeoutOrCancel(planID, st)
	}
	if err := e.approvals.SubmitResultApproval(planID, sig.Approved, final, ""); err != nil {
		return st, err
	}
	if sig.Approved {
		e.monitor.RecordWorkflowCompletion("completed", 0)
	} else {
		e.monitor.RecordWorkflowCompletion("restarted", 0)
	}
	return st, nil
}

func summarize(st state.State) string {
	if len(st.ExecutionResults) == 0 {
		return ""
	}
	last := st.ExecutionResults[len(st.ExecutionResults)-1]
	return fmt.Sprintf("workflow %s completed via %s", st.PlanID, last.Agent)
}

func combineNamed(reason string, err error) error {
	if err != nil {
		return fmt.Errorf("executor: %s: %w", reason, err)
	}
	return fmt.Errorf("executor: %s", reason)
}
