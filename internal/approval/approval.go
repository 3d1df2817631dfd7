// Package approval implements the per-workflow lifecycle state machine,
// the "no execution without approved plan" guarantee, and the
// approval<->resume handshake between the executor and the
// operator-facing API.
//
// Grounded on original_source's
// backend/app/services/approval_state_manager.py, translated from its
// dict-of-dicts bookkeeping into a typed, lock-protected Go struct.
package approval

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the workflow lifecycle enum.
type State string

const (
	StatePlanning                State = "PLANNING"
	StateAwaitingPlanApproval    State = "AWAITING_PLAN_APPROVAL"
	StatePlanApproved            State = "PLAN_APPROVED"
	StatePlanRejected            State = "PLAN_REJECTED"
	StateExecuting               State = "EXECUTING"
	StateAwaitingResultApproval  State = "AWAITING_RESULT_APPROVAL"
	StateCompleted               State = "COMPLETED"
	StateRestarted               State = "RESTARTED"
	StateFailed                  State = "FAILED"
	StateTimeout                 State = "TIMEOUT"
)

// ErrInvalidTransition is returned for any transition not in the allowed
// table below.
var ErrInvalidTransition = errors.New("approval: invalid transition")

// allowed enumerates every legal (from -> to) transition edge.
var allowed = map[State]map[State]bool{
	StatePlanning:               {StateAwaitingPlanApproval: true},
	StateAwaitingPlanApproval:   {StatePlanApproved: true, StatePlanRejected: true},
	StatePlanApproved:           {StateExecuting: true},
	StateExecuting:              {StateAwaitingResultApproval: true, StateFailed: true, StateTimeout: true},
	StateAwaitingResultApproval: {StateCompleted: true, StateRestarted: true},
}

// PlanApproval is the operator's plan-approval decision.
type PlanApproval struct {
	Approved         bool
	OriginalSequence []string
	ApprovedSequence []string
	Feedback         string
	ApprovedAt       time.Time
	SequenceModified bool
}

// ResultApproval is the operator's final-result decision.
type ResultApproval struct {
	Approved     bool
	FinalResults string
	Feedback     string
	ApprovedAt   time.Time
}

// transitionRecord is one entry of a plan's bounded state-change
// history.
type transitionRecord struct {
	From State
	To   State
	At   time.Time
}

const maxHistoryPerPlan = 50

type record struct {
	current  State
	previous State
	changedAt time.Time
	history  []transitionRecord

	planApproval   *PlanApproval
	resultApproval *ResultApproval

	locked bool // execution lock held
}

// Manager owns the per-plan_id lifecycle state. All methods are safe for concurrent use;
// state and lock bookkeeping for a given plan_id is guarded by a single
// mutex over the whole table (per-key sharding is unnecessary at the
// scale this engine targets, and avoids the lock-ordering hazards a
// sharded design would introduce between state reads and lock
// acquisition).
type Manager struct {
	mu      sync.Mutex
	records map[string]*record
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{records: make(map[string]*record)}
}

func (m *Manager) getOrCreate(planID string) *record {
	r, ok := m.records[planID]
	if !ok {
		r = &record{current: StatePlanning, changedAt: time.Now()}
		m.records[planID] = r
	}
	return r
}

func (r *record) transition(to State) error {
	if !allowed[r.current][to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.current, to)
	}
	r.history = append(r.history, transitionRecord{From: r.current, To: to, At: time.Now()})
	if len(r.history) > maxHistoryPerPlan {
		r.history = r.history[len(r.history)-maxHistoryPerPlan:]
	}
	r.previous = r.current
	r.current = to
	r.changedAt = time.Now()
	return nil
}

// MarkPlanned transitions PLANNING -> AWAITING_PLAN_APPROVAL, called
// automatically when the planner completes.
func (m *Manager) MarkPlanned(planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getOrCreate(planID)
	return r.transition(StateAwaitingPlanApproval)
}

// SubmitPlanApproval records the operator's decision and transitions to
// PLAN_APPROVED or PLAN_REJECTED. If modifiedSequence is non-empty, the
// approved record preserves both the original and the approved list; the
// executor must use the approved list verbatim.
func (m *Manager) SubmitPlanApproval(planID string, approved bool, originalSequence, modifiedSequence []string, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.getOrCreate(planID)

	approvedSequence := originalSequence
	modified := false
	if len(modifiedSequence) > 0 {
		approvedSequence = modifiedSequence
		modified = true
	}

	r.planApproval = &PlanApproval{
		Approved:         approved,
		OriginalSequence: append([]string(nil), originalSequence...),
		ApprovedSequence: append([]string(nil), approvedSequence...),
		Feedback:         feedback,
		ApprovedAt:       time.Now(),
		SequenceModified: modified,
	}

	if approved {
		return r.transition(StatePlanApproved)
	}
	return r.transition(StatePlanRejected)
}

// SubmitResultApproval records the operator's final-result decision and
// transitions to COMPLETED or RESTARTED.
func (m *Manager) SubmitResultApproval(planID string, approved bool, finalResults, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.getOrCreate(planID)
	r.resultApproval = &ResultApproval{
		Approved:     approved,
		FinalResults: finalResults,
		Feedback:     feedback,
		ApprovedAt:   time.Now(),
	}

	if approved {
		return r.transition(StateCompleted)
	}
	return r.transition(StateRestarted)
}

// MarkExecuting transitions PLAN_APPROVED -> EXECUTING. Callers must have
// already acquired the execution lock via AcquireLock; MarkExecuting only
// records the state transition.
func (m *Manager) MarkExecuting(planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getOrCreate(planID)
	return r.transition(StateExecuting)
}

// MarkAwaitingResultApproval transitions EXECUTING -> AWAITING_RESULT_APPROVAL.
func (m *Manager) MarkAwaitingResultApproval(planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getOrCreate(planID)
	return r.transition(StateAwaitingResultApproval)
}

// MarkFailed transitions EXECUTING -> FAILED.
func (m *Manager) MarkFailed(planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getOrCreate(planID)
	return r.transition(StateFailed)
}

// MarkTimeout transitions EXECUTING -> TIMEOUT.
func (m *Manager) MarkTimeout(planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getOrCreate(planID)
	return r.transition(StateTimeout)
}

// CurrentState returns the plan's current lifecycle state.
func (m *Manager) CurrentState(planID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getOrCreate(planID)
	return r.current
}

// IsPlanApproved reports whether the plan's most recent plan-approval
// decision was an approval.
func (m *Manager) IsPlanApproved(planID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[planID]
	return ok && r.planApproval != nil && r.planApproval.Approved
}

// IsExecutionAllowed reports whether the plan is in PLAN_APPROVED and the
// lock is not already held.
func (m *Manager) IsExecutionAllowed(planID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[planID]
	if !ok {
		return false
	}
	return r.current == StatePlanApproved && !r.locked
}

// AcquireLock atomically acquires the per-plan_id execution token. It
// returns false if the state isn't PLAN_APPROVED or the lock is already
// held. The lock is not recursive.
func (m *Manager) AcquireLock(planID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[planID]
	if !ok || r.current != StatePlanApproved || r.locked {
		return false
	}
	r.locked = true
	return true
}

// ReleaseLock unconditionally releases the execution token.
func (m *Manager) ReleaseLock(planID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[planID]; ok {
		r.locked = false
	}
}

// ApprovedSequence returns the verbatim agent list the executor must run,
// honoring an operator-supplied modification.
func (m *Manager) ApprovedSequence(planID string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[planID]
	if !ok || r.planApproval == nil || !r.planApproval.Approved {
		return nil, false
	}
	return append([]string(nil), r.planApproval.ApprovedSequence...), true
}

// History returns the plan's transition history, most recent last.
func (m *Manager) History(planID string) []transitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[planID]
	if !ok {
		return nil
	}
	return append([]transitionRecord(nil), r.history...)
}

// Cleanup removes records for completed/failed/timeout/restarted plans
// whose last transition is older than maxAge (default 24h via
// CONTEXT_GC_HOURS).
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for planID, r := range m.records {
		switch r.current {
		case StateCompleted, StateFailed, StateTimeout, StateRestarted:
			if r.changedAt.Before(cutoff) {
				delete(m.records, planID)
				removed++
			}
		}
	}
	return removed
}

// Reset clears all records — the documented test reset hook.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*record)
}
