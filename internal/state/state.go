// Package state defines the Workflow State record that is threaded
// through the compiled graph and merged by the executor after every
// agent invocation.
package state

import "time"

// ExecutionStatus is the per-agent outcome recorded in ExecutionResults.
type ExecutionStatus string

const (
	ExecStatusCompleted ExecutionStatus = "completed"
	ExecStatusPartial   ExecutionStatus = "partial"
	ExecStatusFailed    ExecutionStatus = "failed"
)

// ExecutionResult is one entry of the workflow's execution_results log.
type ExecutionResult struct {
	Agent      string          `json:"agent"`
	Status     ExecutionStatus `json:"status"`
	DurationMS int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

// Message is one entry of the workflow's append-only message log.
type Message struct {
	Agent     string    `json:"agent"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the typed record threaded through the graph. Agents never
// mutate the State they receive; they return a new State that the
// executor merges into the workflow's canonical copy (Merge below).
type State struct {
	PlanID             string
	SessionID           string
	TaskDescription     string
	AgentSequence       []string
	CurrentStep         int
	Messages            []Message
	CollectedData       map[string]any
	ExecutionResults    []ExecutionResult
	FinalResult         string
	FinalResultSet      bool
	ApprovalRequired    bool
	AwaitingUserInput   bool
}

// New creates the initial state for a freshly approved workflow.
func New(planID, sessionID, taskDescription string, sequence []string, approvalRequired bool) State {
	return State{
		PlanID:           planID,
		SessionID:        sessionID,
		TaskDescription:  taskDescription,
		AgentSequence:    append([]string(nil), sequence...),
		CollectedData:    make(map[string]any),
		ApprovalRequired: approvalRequired,
	}
}

// Clone returns a deep-enough copy suitable for handing to an agent:
// agents must not observe mutations made by the executor concurrently,
// and must not be able to corrupt the executor's canonical copy.
func (s State) Clone() State {
	out := s
	out.AgentSequence = append([]string(nil), s.AgentSequence...)
	out.Messages = append([]Message(nil), s.Messages...)
	out.ExecutionResults = append([]ExecutionResult(nil), s.ExecutionResults...)
	out.CollectedData = make(map[string]any, len(s.CollectedData))
	for k, v := range s.CollectedData {
		out.CollectedData[k] = v
	}
	return out
}

// Merge folds an agent-returned delta into the canonical state: union of
// messages, overwrite of the agent's collected_data entry, append to
// execution_results, and an increment of current_step. agent is the name
// of the node that produced delta.
func (s State) Merge(agent string, delta State, result ExecutionResult) State {
	out := s.Clone()
	out.Messages = append(out.Messages, delta.Messages...)
	if result.Status == ExecStatusCompleted || result.Status == ExecStatusPartial {
		if v, ok := delta.CollectedData[agent]; ok {
			out.CollectedData[agent] = v
		}
	}
	out.ExecutionResults = append(out.ExecutionResults, result)
	out.CurrentStep++
	return out
}

// SetFinalResult marks the terminal result, satisfying the invariant that
// FinalResult is set iff CurrentStep == len(AgentSequence) and the last
// execution result is non-error.
func (s State) SetFinalResult(result string) State {
	out := s.Clone()
	out.FinalResult = result
	out.FinalResultSet = true
	return out
}

// IsTerminalStep reports whether CurrentStep has reached the end of the
// approved sequence.
func (s State) IsTerminalStep() bool {
	return s.CurrentStep >= len(s.AgentSequence)
}

// LastResultOK reports whether the most recent execution result is
// non-error, used to gate FinalResult assignment.
func (s State) LastResultOK() bool {
	if len(s.ExecutionResults) == 0 {
		return false
	}
	last := s.ExecutionResults[len(s.ExecutionResults)-1]
	return last.Status == ExecStatusCompleted || last.Status == ExecStatusPartial
}
