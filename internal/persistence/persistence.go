// Package persistence implements the dual-write contract (durable
// repository first, fan-out second) plus the repository interfaces and
// their default in-memory and SQLite-backed implementations.
//
// Grounded on mojosolo-mobot2025's catalog.SQLiteDatabase for the
// database/sql + mattn/go-sqlite3 connection/migration shape.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/finflow-ai/orchestrator/internal/fanout"
)

// ErrInvalidMessage is returned by schema validation.
var ErrInvalidMessage = errors.New("persistence: invalid message")

// Message is the durable unit of persistence.
type Message struct {
	PlanID         string    `json:"plan_id"`
	AgentName      string    `json:"agent_name"`
	AgentType      string    `json:"agent_type"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	SequenceNumber int64     `json:"sequence_number"`
}

func validate(m Message) error {
	if m.PlanID == "" || m.AgentName == "" || m.Content == "" || m.Timestamp.IsZero() {
		return fmt.Errorf("%w: plan_id, agent_name, content and timestamp are required", ErrInvalidMessage)
	}
	return nil
}

// PlanStatus is a Plan's lifecycle state.
type PlanStatus string

const (
	PlanPending         PlanStatus = "pending"
	PlanPendingApproval PlanStatus = "pending_approval"
	PlanInProgress      PlanStatus = "in_progress"
	PlanCompleted       PlanStatus = "completed"
	PlanFailed          PlanStatus = "failed"
	PlanRejected        PlanStatus = "rejected"
	PlanRestarted       PlanStatus = "restarted"
)

// PlanStep is one entry of Plan.Steps.
type PlanStep struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Agent       string     `json:"agent"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
}

// Plan is the durable plan record.
type Plan struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Description string     `json:"description"`
	Status      PlanStatus `json:"status"`
	Steps       []PlanStep `json:"steps"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// MessageRepository is the durable message store's contract.
type MessageRepository interface {
	// Append assigns the next sequence_number for m.PlanID under a
	// per-plan_id lock and persists m, returning the stored copy.
	Append(ctx context.Context, m Message) (Message, error)
	ByPlan(ctx context.Context, planID string) ([]Message, error)
}

// PlanRepository is the durable plan store's contract.
type PlanRepository interface {
	Create(ctx context.Context, p Plan) error
	Update(ctx context.Context, p Plan) error
	Get(ctx context.Context, planID string) (Plan, bool, error)
	BySession(ctx context.Context, sessionID string) ([]Plan, error)
}

// MemoryMessageRepository is the default in-memory MessageRepository, used
// by tests and whenever no DSN is configured.
type MemoryMessageRepository struct {
	mu       sync.Mutex
	byPlan   map[string][]Message
	nextSeq  map[string]int64
}

// NewMemoryMessageRepository creates an empty repository.
func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		byPlan:  make(map[string][]Message),
		nextSeq: make(map[string]int64),
	}
}

// Append implements MessageRepository.
func (r *MemoryMessageRepository) Append(ctx context.Context, m Message) (Message, error) {
	if err := validate(m); err != nil {
		return Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq[m.PlanID]++
	m.SequenceNumber = r.nextSeq[m.PlanID]
	r.byPlan[m.PlanID] = append(r.byPlan[m.PlanID], m)
	return m, nil
}

// ByPlan implements MessageRepository.
func (r *MemoryMessageRepository) ByPlan(ctx context.Context, planID string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Message(nil), r.byPlan[planID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

// MemoryPlanRepository is the default in-memory PlanRepository.
type MemoryPlanRepository struct {
	mu    sync.Mutex
	plans map[string]Plan
}

// NewMemoryPlanRepository creates an empty repository.
func NewMemoryPlanRepository() *MemoryPlanRepository {
	return &MemoryPlanRepository{plans: make(map[string]Plan)}
}

// Create implements PlanRepository.
func (r *MemoryPlanRepository) Create(ctx context.Context, p Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[p.ID] = p
	return nil
}

// Update implements PlanRepository.
func (r *MemoryPlanRepository) Update(ctx context.Context, p Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.UpdatedAt = time.Now()
	r.plans[p.ID] = p
	return nil
}

// Get implements PlanRepository.
func (r *MemoryPlanRepository) Get(ctx context.Context, planID string) (Plan, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[planID]
	return p, ok, nil
}

// BySession implements PlanRepository.
func (r *MemoryPlanRepository) BySession(ctx context.Context, sessionID string) ([]Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Plan
	for _, p := range r.plans {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Writer owns the dual-write contract between a MessageRepository and a
// fanout.Broker.
type Writer struct {
	repo   MessageRepository
	broker *fanout.Broker
}

// NewWriter creates a Writer over repo and broker.
func NewWriter(repo MessageRepository, broker *fanout.Broker) *Writer {
	return &Writer{repo: repo, broker: broker}
}

// Write implements the dual-write contract: durable append first; the
// message is broadcast only if the durable write succeeds. On durable
// failure, Write returns the error and nothing is broadcast.
func (w *Writer) Write(ctx context.Context, m Message) (Message, error) {
	stored, err := w.repo.Append(ctx, m)
	if err != nil {
		return Message{}, err
	}

	w.broker.Publish(stored.PlanID, fanout.Event{
		Type: fanout.EventAgentMessage,
		Data: map[string]any{
			"agent_name": stored.AgentName,
			"agent_type": stored.AgentType,
			"content":    stored.Content,
			"status":     "ok",
		},
	})

	return stored, nil
}
