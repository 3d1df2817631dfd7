// Package graph compiles an approved AgentSequence into a linear directed
// graph, memoized by content hash. Grounded on kadirpekel/hector's
// workflow.WorkflowExecutorRegistry naming and on original_source's
// graph_factory.py (LinearGraphBuilder), narrowed to no conditional
// edges and no cycles.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Type selects the instrumentation profile for a compiled graph. The
// node sequence is identical across types.
type Type string

const (
	TypeSimple     Type = "simple"
	TypeDefault    Type = "default"
	TypeAIDriven   Type = "ai_driven"
	TypeHITLEnabled Type = "hitl_enabled"
)

// Errors returned by Compile, all fatal at compile time.
var (
	ErrEmptySequence = errors.New("graph: empty sequence")
	ErrUnknownAgent  = errors.New("graph: unknown agent")
	ErrDuplicateAgent = errors.New("graph: duplicate agent in sequence")
)

// Node is one step of the compiled linear graph.
type Node struct {
	Index int
	Agent string
	// InterruptBefore is true when the executor must suspend for HITL
	// approval before invoking this node.
	InterruptBefore bool
}

// Graph is the compiled linear representation of a sequence.
type Graph struct {
	ID              string
	Nodes           []Node
	Type            Type
	HITLEnabled     bool
	ResultApprovalGate bool // interrupt after the final node
}

// AgentCatalog is the subset of the agent registry the compiler needs.
type AgentCatalog interface {
	Exists(name string) bool
}

// Options control compilation: the agent sequence, the instrumentation
// type, and whether HITL gating is enabled.
type Options struct {
	Sequence         []string
	Type             Type
	EnableHITL       bool
	AllowDuplicates  bool // override flag for the duplicate-agent rejection
}

// Compile builds a Graph from opts. It is a pure, idempotent function;
// callers should go through Compiler.Compile for memoization.
func Compile(opts Options, catalog AgentCatalog) (*Graph, error) {
	if len(opts.Sequence) == 0 {
		return nil, ErrEmptySequence
	}

	seen := make(map[string]bool, len(opts.Sequence))
	nodes := make([]Node, 0, len(opts.Sequence))

	for i, name := range opts.Sequence {
		if !catalog.Exists(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
		}
		if seen[name] && !opts.AllowDuplicates {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAgent, name)
		}
		seen[name] = true

		interrupt := false
		switch opts.Type {
		case TypeHITLEnabled:
			interrupt = true
		case TypeAIDriven:
			interrupt = i == 0 && opts.EnableHITL
		default:
			interrupt = i == 0 && opts.EnableHITL
		}

		nodes = append(nodes, Node{Index: i, Agent: name, InterruptBefore: interrupt})
	}

	g := &Graph{
		Nodes:              nodes,
		Type:               opts.Type,
		HITLEnabled:        opts.EnableHITL || opts.Type == TypeHITLEnabled,
		ResultApprovalGate: opts.EnableHITL || opts.Type == TypeAIDriven || opts.Type == TypeHITLEnabled,
	}
	g.ID = contentHash(opts.Sequence, opts.Type, opts.EnableHITL)
	return g, nil
}

// contentHash is the compiler's cache key: a hash of the serialized
// sequence, graph type, and HITL flag.
func contentHash(sequence []string, t Type, enableHITL bool) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(sequence, ",")))
	h.Write([]byte("|"))
	h.Write([]byte(t))
	h.Write([]byte("|"))
	if enableHITL {
		h.Write([]byte("1"))
	} else {
		h.Write([]byte("0"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
