// Package planner turns a natural-language task description into an
// ordered AgentSequence, with deterministic template fallbacks when the
// LLM call fails or its output cannot be trusted.
//
// Grounded on kadirpekel/hector's llms.LLMProvider (the Generate contract)
// and on original_source's ai_planner module's template table.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Completer is the abstract text-completion interface the planner calls.
// Concrete LLM provider adapters (Anthropic, OpenAI, Bedrock, ...) live
// outside the core; MockCompleter below is the only implementation the
// core ships.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AgentSequence is the planner's output.
type AgentSequence struct {
	Agents             []string          `json:"agents"`
	Reasoning          map[string]string `json:"reasoning"`
	ComplexityScore    float64           `json:"complexity_score"`
	EstimatedDurationS int               `json:"estimated_duration_s"`
}

// Error kinds returned by Plan.
var (
	ErrLLMUnavailable    = errors.New("planner: llm unavailable")
	ErrOutputUnparseable = errors.New("planner: llm output unparseable")
	// ErrAllAgentsUnknown is fatal for the workflow — no fallback exists.
	ErrAllAgentsUnknown = errors.New("planner: all candidate agents unknown")
)

// AgentCatalog is the subset of the agent registry the planner needs:
// existence checks and the list of registered names, to keep the planner
// free of a hard dependency on the registry package's concrete type.
type AgentCatalog interface {
	Exists(name string) bool
	Names() []string
}

// Config controls sanitization and fallback behavior.
type Config struct {
	MaxSequenceLength int // clamp; mirrors MAX_WORKFLOW_STEPS
}

// DefaultConfig returns the standard sanitization defaults.
func DefaultConfig() Config {
	return Config{MaxSequenceLength: 10}
}

// Planner turns task descriptions into AgentSequences.
type Planner struct {
	completer Completer
	cfg       Config
	templates []template
}

// New creates a Planner backed by completer (nil is a valid "no LLM
// configured" state — every request then takes the fallback path).
func New(completer Completer, cfg Config) *Planner {
	return &Planner{completer: completer, cfg: cfg, templates: defaultTemplates()}
}

// Plan turns taskDescription and the available agent catalog into an
// AgentSequence. It is a pure function of its inputs plus whatever the
// LLM call returns; it has no other side effects.
func (p *Planner) Plan(ctx context.Context, taskDescription string, catalog AgentCatalog) (AgentSequence, error) {
	seq, err := p.planViaLLM(ctx, taskDescription, catalog)
	if err == nil {
		sanitized, sanErr := p.sanitize(seq, catalog)
		if sanErr == nil {
			return sanitized, nil
		}
		// Sanitization emptied the sequence; fall through to templates.
	}

	fallback, ferr := p.fallback(taskDescription, catalog)
	if ferr != nil {
		return AgentSequence{}, ferr
	}
	return fallback, nil
}

func (p *Planner) planViaLLM(ctx context.Context, taskDescription string, catalog AgentCatalog) (AgentSequence, error) {
	if p.completer == nil {
		return AgentSequence{}, ErrLLMUnavailable
	}

	prompt := buildPrompt(taskDescription, catalog.Names())
	raw, err := p.completer.Complete(ctx, prompt)
	if err != nil {
		return AgentSequence{}, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}

	var seq AgentSequence
	if jerr := json.Unmarshal([]byte(raw), &seq); jerr != nil {
		return AgentSequence{}, fmt.Errorf("%w: %v", ErrOutputUnparseable, jerr)
	}
	if len(seq.Agents) == 0 {
		return AgentSequence{}, fmt.Errorf("%w: empty agent list", ErrOutputUnparseable)
	}
	if seq.ComplexityScore < 0 || seq.ComplexityScore > 1 {
		return AgentSequence{}, fmt.Errorf("%w: complexity score out of range", ErrOutputUnparseable)
	}
	return seq, nil
}

func buildPrompt(taskDescription string, agents []string) string {
	var b strings.Builder
	b.WriteString("You are planning a back-office finance automation workflow.\n")
	b.WriteString("Task: ")
	b.WriteString(taskDescription)
	b.WriteString("\nAvailable agents: ")
	b.WriteString(strings.Join(agents, ", "))
	b.WriteString("\nRespond with JSON: {\"agents\": [...], \"reasoning\": {...}, \"complexity_score\": 0..1, \"estimated_duration_s\": N}")
	return b.String()
}

// sanitize runs the validation pipeline: drop unknown agent names,
// dedupe preserving first occurrence, clamp length, require at least one
// non-planner agent. An empty result after sanitization is treated as a
// failure so the caller falls back to templates.
func (p *Planner) sanitize(seq AgentSequence, catalog AgentCatalog) (AgentSequence, error) {
	seen := make(map[string]bool, len(seq.Agents))
	cleaned := make([]string, 0, len(seq.Agents))

	for _, name := range seq.Agents {
		if !catalog.Exists(name) {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		cleaned = append(cleaned, name)
	}

	if p.cfg.MaxSequenceLength > 0 && len(cleaned) > p.cfg.MaxSequenceLength {
		cleaned = cleaned[:p.cfg.MaxSequenceLength]
	}

	if !hasNonPlannerAgent(cleaned) {
		return AgentSequence{}, fmt.Errorf("%w: no non-planner agent survived sanitization", ErrOutputUnparseable)
	}

	seq.Agents = cleaned
	if seq.Reasoning == nil {
		seq.Reasoning = make(map[string]string)
	}
	return seq, nil
}

func hasNonPlannerAgent(agents []string) bool {
	for _, a := range agents {
		if a != "planner" {
			return true
		}
	}
	return false
}

// MockCompleter is a deterministic stand-in for a real LLM, used when
// USE_MOCK_LLM is enabled. It always returns the minimum viable sequence
// so callers can exercise the happy path without a real model. Tests
// wanting specific sequences should implement Completer directly
// instead.
type MockCompleter struct{}

// Complete returns a canned JSON AgentSequence.
func (MockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	out := AgentSequence{
		Agents:             []string{"planner", "analysis"},
		Reasoning:          map[string]string{"planner": "mock", "analysis": "mock"},
		ComplexityScore:    0.2,
		EstimatedDurationS: 30,
	}
	b, _ := json.Marshal(out)
	return string(b), nil
}
