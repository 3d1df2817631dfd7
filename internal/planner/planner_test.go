package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	known map[string]bool
}

func newFakeCatalog(names ...string) fakeCatalog {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	return fakeCatalog{known: known}
}

func (c fakeCatalog) Exists(name string) bool { return c.known[name] }

func (c fakeCatalog) Names() []string {
	out := make([]string, 0, len(c.known))
	for n := range c.known {
		out = append(out, n)
	}
	return out
}

type fakeCompleter struct {
	out string
	err error
}

func (f fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return f.out, f.err
}

func TestPlan_NoCompleter_FallsBackToTemplate(t *testing.T) {
	catalog := newFakeCatalog("planner", "invoice", "analysis")
	p := New(nil, DefaultConfig())

	seq, err := p.Plan(context.Background(), "please verify this invoice", catalog)

	require.NoError(t, err)
	assert.Contains(t, seq.Agents, "invoice")
}

func TestPlan_LLMUnavailable_FallsBackToTemplate(t *testing.T) {
	catalog := newFakeCatalog("planner", "salesforce", "gmail", "analysis")
	p := New(fakeCompleter{err: errors.New("timeout")}, DefaultConfig())

	seq, err := p.Plan(context.Background(), "give me a customer 360 on acme corp", catalog)

	require.NoError(t, err)
	assert.Equal(t, []string{"planner", "salesforce", "gmail", "analysis"}, seq.Agents)
}

func TestPlan_UnparseableOutput_FallsBackToTemplate(t *testing.T) {
	catalog := newFakeCatalog("planner", "invoice", "analysis")
	p := New(fakeCompleter{out: "not json"}, DefaultConfig())

	seq, err := p.Plan(context.Background(), "check payment status on invoice 99", catalog)

	require.NoError(t, err)
	assert.NotEmpty(t, seq.Agents)
}

func TestPlan_ValidLLMOutput_SanitizesUnknownAgents(t *testing.T) {
	catalog := newFakeCatalog("planner", "invoice")
	p := New(fakeCompleter{out: `{"agents":["planner","invoice","unknown_agent"],"complexity_score":0.5}`}, DefaultConfig())

	seq, err := p.Plan(context.Background(), "verify invoice", catalog)

	require.NoError(t, err)
	assert.Equal(t, []string{"planner", "invoice"}, seq.Agents)
}

func TestPlan_AllAgentsUnknown_Fails(t *testing.T) {
	catalog := newFakeCatalog() // empty registry
	p := New(nil, DefaultConfig())

	_, err := p.Plan(context.Background(), "anything at all", catalog)

	assert.ErrorIs(t, err, ErrAllAgentsUnknown)
}

func TestPlan_NoTemplateMatch_UsesMinimalSequence(t *testing.T) {
	catalog := newFakeCatalog("planner", "analysis")
	p := New(nil, DefaultConfig())

	seq, err := p.Plan(context.Background(), "do something unrelated", catalog)

	require.NoError(t, err)
	assert.Equal(t, []string{"planner", "analysis"}, seq.Agents)
}

func TestSanitize_ClampsToMaxSequenceLength(t *testing.T) {
	catalog := newFakeCatalog("a", "b", "c", "d")
	p := New(nil, Config{MaxSequenceLength: 2})

	seq, err := p.sanitize(AgentSequence{Agents: []string{"a", "b", "c", "d"}}, catalog)

	require.NoError(t, err)
	assert.Len(t, seq.Agents, 2)
}

func TestSanitize_DedupesPreservingFirstOccurrence(t *testing.T) {
	catalog := newFakeCatalog("a", "b")
	p := New(nil, DefaultConfig())

	seq, err := p.sanitize(AgentSequence{Agents: []string{"a", "b", "a"}}, catalog)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seq.Agents)
}

func TestMockCompleter_ReturnsValidJSON(t *testing.T) {
	catalog := newFakeCatalog("planner", "analysis")
	p := New(MockCompleter{}, DefaultConfig())

	seq, err := p.Plan(context.Background(), "anything", catalog)

	require.NoError(t, err)
	assert.Equal(t, []string{"planner", "analysis"}, seq.Agents)
	assert.Equal(t, 0.2, seq.ComplexityScore)
}
