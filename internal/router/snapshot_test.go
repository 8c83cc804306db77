package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trydirect/deployctl/internal/agentregistry"
	"github.com/trydirect/deployctl/internal/command"
)

func TestSnapshot_CombinesAgentAndCommands(t *testing.T) {
	commands := command.NewMemStore(nil)
	require.NoError(t, commands.Insert(context.Background(), &command.Command{
		CommandID: "cmd_1", DeploymentHash: "h1", Type: command.TypeHealth, Status: command.StatusQueued,
	}))

	agents := agentregistry.NewMemStore()
	require.NoError(t, agents.Register(context.Background(), &agentregistry.Agent{AgentID: "agent_1", DeploymentHash: "h1"}))

	sr := NewSnapshotRouter(commands, agentregistry.New(agents))
	m := mux.NewRouter()
	sr.Register(m)

	req := httptest.NewRequest(http.MethodGet, "/agents/deployments/h1", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_1")
	assert.Contains(t, rec.Body.String(), "cmd_1")
}

func TestSnapshot_NoAgentStillReturnsCommands(t *testing.T) {
	commands := command.NewMemStore(nil)
	require.NoError(t, commands.Insert(context.Background(), &command.Command{
		CommandID: "cmd_1", DeploymentHash: "h2", Type: command.TypeHealth, Status: command.StatusQueued,
	}))

	sr := NewSnapshotRouter(commands, agentregistry.New(agentregistry.NewMemStore()))
	m := mux.NewRouter()
	sr.Register(m)

	req := httptest.NewRequest(http.MethodGet, "/agents/deployments/h2", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cmd_1")
	assert.NotContains(t, rec.Body.String(), `"agent"`)
}
