package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finflow-ai/orchestrator/internal/state"
)

func noop(ctx context.Context, in state.State) (state.State, error) {
	return in, nil
}

func TestAgentRegistry_RegisterRequiresFn(t *testing.T) {
	r := NewAgentRegistry()
	err := r.Register(Descriptor{Name: "gmail"})
	assert.Error(t, err)
}

func TestAgentRegistry_RegisterAndLookup(t *testing.T) {
	r := NewAgentRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "gmail", Fn: noop, TolerateMissingUpstream: true}))

	d, ok := r.Lookup("gmail")
	require.True(t, ok)
	assert.True(t, d.TolerateMissingUpstream)

	assert.True(t, r.Exists("gmail"))
	assert.False(t, r.Exists("salesforce"))
	assert.Contains(t, r.Names(), "gmail")
}

func TestAgentRegistry_Health(t *testing.T) {
	r := NewAgentRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "healthy", Fn: noop, Health: func(ctx context.Context) error {
		return nil
	}}))
	require.NoError(t, r.Register(Descriptor{Name: "unhealthy", Fn: noop, Health: func(ctx context.Context) error {
		return errors.New("down")
	}}))
	require.NoError(t, r.Register(Descriptor{Name: "no_probe", Fn: noop}))

	health := r.Health(context.Background())

	require.Contains(t, health, "healthy")
	assert.NoError(t, health["healthy"])
	require.Contains(t, health, "unhealthy")
	assert.Error(t, health["unhealthy"])
	assert.NotContains(t, health, "no_probe")
}
