package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct{ known map[string]bool }

func newFakeCatalog(names ...string) fakeCatalog {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	return fakeCatalog{known: known}
}

func (c fakeCatalog) Exists(name string) bool { return c.known[name] }

func TestCompile_EmptySequence(t *testing.T) {
	_, err := Compile(Options{}, newFakeCatalog())
	assert.ErrorIs(t, err, ErrEmptySequence)
}

func TestCompile_UnknownAgent(t *testing.T) {
	catalog := newFakeCatalog("gmail")
	_, err := Compile(Options{Sequence: []string{"gmail", "invoice"}}, catalog)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestCompile_DuplicateAgentRejected(t *testing.T) {
	catalog := newFakeCatalog("gmail")
	_, err := Compile(Options{Sequence: []string{"gmail", "gmail"}}, catalog)
	assert.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestCompile_DuplicateAgentAllowedWithOverride(t *testing.T) {
	catalog := newFakeCatalog("gmail")
	g, err := Compile(Options{Sequence: []string{"gmail", "gmail"}, AllowDuplicates: true}, catalog)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
}

func TestCompile_SimpleTypeHasNoInterrupts(t *testing.T) {
	catalog := newFakeCatalog("a", "b")
	g, err := Compile(Options{Sequence: []string{"a", "b"}, Type: TypeSimple}, catalog)
	require.NoError(t, err)
	for _, n := range g.Nodes {
		assert.False(t, n.InterruptBefore)
	}
	assert.False(t, g.ResultApprovalGate)
}

func TestCompile_HITLEnabledInterruptsEveryNode(t *testing.T) {
	catalog := newFakeCatalog("a", "b", "c")
	g, err := Compile(Options{Sequence: []string{"a", "b", "c"}, Type: TypeHITLEnabled}, catalog)
	require.NoError(t, err)
	for _, n := range g.Nodes {
		assert.True(t, n.InterruptBefore)
	}
	assert.True(t, g.ResultApprovalGate)
}

func TestCompile_AIDrivenInterruptsOnlyFirstNodeWhenEnabled(t *testing.T) {
	catalog := newFakeCatalog("a", "b")
	g, err := Compile(Options{Sequence: []string{"a", "b"}, Type: TypeAIDriven, EnableHITL: true}, catalog)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 2)
	assert.True(t, g.Nodes[0].InterruptBefore)
	assert.False(t, g.Nodes[1].InterruptBefore)
	assert.True(t, g.ResultApprovalGate, "ai_driven always gates the final result")
}

func TestCompile_NodesPreserveOrder(t *testing.T) {
	catalog := newFakeCatalog("a", "b", "c")
	g, err := Compile(Options{Sequence: []string{"a", "b", "c"}, Type: TypeDefault}, catalog)
	require.NoError(t, err)
	for i, n := range g.Nodes {
		assert.Equal(t, i, n.Index)
	}
	assert.Equal(t, []string{"a", "b", "c"}, []string{g.Nodes[0].Agent, g.Nodes[1].Agent, g.Nodes[2].Agent})
}

func TestContentHash_Deterministic(t *testing.T) {
	h1 := contentHash([]string{"a", "b"}, TypeDefault, false)
	h2 := contentHash([]string{"a", "b"}, TypeDefault, false)
	assert.Equal(t, h1, h2)
}

func TestContentHash_DiffersOnAnyDimension(t *testing.T) {
	base := contentHash([]string{"a", "b"}, TypeDefault, false)

	assert.NotEqual(t, base, contentHash([]string{"a", "c"}, TypeDefault, false))
	assert.NotEqual(t, base, contentHash([]string{"a", "b"}, TypeHITLEnabled, false))
	assert.NotEqual(t, base, contentHash([]string{"a", "b"}, TypeDefault, true))
}
