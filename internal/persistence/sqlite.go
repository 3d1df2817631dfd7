package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore backs both MessageRepository and PlanRepository with a
// single SQLite file, indexed on (plan_id, sequence_number) and
// (session_id, created_at). Grounded on catalog.SQLiteDatabase's
// open/migrate/connection-pool shape.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) a SQLite database at path
// and runs its migration. path == ":memory:" is valid for tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver serializes writers; avoid lock contention

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			plan_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			sequence_number INTEGER NOT NULL,
			PRIMARY KEY (plan_id, sequence_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_plan_seq ON messages (plan_id, sequence_number)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			steps TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_session_created ON plans (session_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("persistence: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append implements MessageRepository. The sequence_number is assigned
// inside the same transaction as the insert, serialized by
// SetMaxOpenConns(1) acting as the per-plan_id lock.
func (s *SQLiteStore) Append(ctx context.Context, m Message) (Message, error) {
	if err := validate(m); err != nil {
		return Message{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("persistence: begin: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence_number) FROM messages WHERE plan_id = ?`, m.PlanID).Scan(&maxSeq); err != nil {
		return Message{}, fmt.Errorf("persistence: next sequence: %w", err)
	}
	m.SequenceNumber = maxSeq.Int64 + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (plan_id, agent_name, agent_type, content, timestamp, sequence_number) VALUES (?, ?, ?, ?, ?, ?)`,
		m.PlanID, m.AgentName, m.AgentType, m.Content, m.Timestamp, m.SequenceNumber)
	if err != nil {
		return Message{}, fmt.Errorf("persistence: insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("persistence: commit: %w", err)
	}
	return m, nil
}

// ByPlan implements MessageRepository.
func (s *SQLiteStore) ByPlan(ctx context.Context, planID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plan_id, agent_name, agent_type, content, timestamp, sequence_number FROM messages WHERE plan_id = ? ORDER BY sequence_number ASC`, planID)
	if err != nil {
		return nil, fmt.Errorf("persistence: query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.PlanID, &m.AgentName, &m.AgentType, &m.Content, &m.Timestamp, &m.SequenceNumber); err != nil {
			return nil, fmt.Errorf("persistence: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create implements PlanRepository.
func (s *SQLiteStore) Create(ctx context.Context, p Plan) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("persistence: marshal steps: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = p.CreatedAt

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (id, session_id, description, status, steps, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.Description, p.Status, string(steps), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("persistence: insert plan: %w", err)
	}
	return nil
}

// Update implements PlanRepository.
func (s *SQLiteStore) Update(ctx context.Context, p Plan) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("persistence: marshal steps: %w", err)
	}
	p.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx,
		`UPDATE plans SET session_id=?, description=?, status=?, steps=?, updated_at=? WHERE id=?`,
		p.SessionID, p.Description, p.Status, string(steps), p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("persistence: update plan: %w", err)
	}
	return nil
}

// Get implements PlanRepository.
func (s *SQLiteStore) Get(ctx context.Context, planID string) (Plan, bool, error) {
	var p Plan
	var steps string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, description, status, steps, created_at, updated_at FROM plans WHERE id = ?`, planID).
		Scan(&p.ID, &p.SessionID, &p.Description, &p.Status, &steps, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return Plan{}, false, nil
	}
	if err != nil {
		return Plan{}, false, fmt.Errorf("persistence: get plan: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &p.Steps); err != nil {
		return Plan{}, false, fmt.Errorf("persistence: unmarshal steps: %w", err)
	}
	return p, true, nil
}

// BySession implements PlanRepository.
func (s *SQLiteStore) BySession(ctx context.Context, sessionID string) ([]Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, description, status, steps, created_at, updated_at FROM plans WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: query plans: %w", err)
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		var p Plan
		var steps string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Description, &p.Status, &steps, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("persistence: scan plan: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &p.Steps); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal steps: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
