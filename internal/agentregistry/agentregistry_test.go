package agentregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trydirect/deployctl/internal/cperrors"
)

func TestRegisterThenLookup(t *testing.T) {
	store := NewMemStore()
	r := New(store)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, &Agent{AgentID: "agent_1", DeploymentHash: "h1", BaseURL: "http://agent-h1:9000"}))

	id, err := r.AgentIDForDeployment(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "agent_1", id)

	base, ok := r.BaseURL("h1")
	assert.True(t, ok)
	assert.Equal(t, "http://agent-h1:9000", base)
}

func TestBaseURL_UnregisteredReturnsFalse(t *testing.T) {
	r := New(NewMemStore())
	_, ok := r.BaseURL("missing")
	assert.False(t, ok)
}

func TestAgentIDForDeployment_UnregisteredIsNotFound(t *testing.T) {
	r := New(NewMemStore())
	_, err := r.AgentIDForDeployment(context.Background(), "missing")
	assert.Equal(t, cperrors.CategoryNotFound, cperrors.GetCategory(err))
}

func TestHeartbeat_UpdatesStatus(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, &Agent{AgentID: "agent_1", DeploymentHash: "h1"}))
	require.NoError(t, store.Heartbeat(ctx, "h1", StatusOffline))

	a, err := store.GetByDeployment(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, a.Status)
}
