package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trydirect/deployctl/internal/agentregistry"
	"github.com/trydirect/deployctl/internal/command"
	"github.com/trydirect/deployctl/internal/project"
)

// These exercise the real Postgres-backed stores against TEST_DATABASE_URL.
// They're skipped by default since this environment has no database — CI
// wires TEST_DATABASE_URL to a throwaway Postgres instance.
func openTestStore(t *testing.T) *Store {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestCommandStore_InsertAndTransition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	commands := s.Commands()

	c := &command.Command{
		CommandID:      command.NewID(),
		DeploymentHash: "h_store_test",
		Type:           command.TypeLogs,
		Status:         command.StatusQueued,
		Priority:       command.PriorityNormal,
	}
	require.NoError(t, commands.Insert(ctx, c))

	got, err := commands.Get(ctx, "h_store_test", c.CommandID)
	require.NoError(t, err)
	assert.Equal(t, command.StatusQueued, got.Status)

	sent, err := commands.UpdateStatus(ctx, c.CommandID, command.StatusQueued, command.StatusSent)
	require.NoError(t, err)
	assert.Equal(t, command.StatusSent, sent.Status)

	_, err = commands.UpdateStatus(ctx, c.CommandID, command.StatusQueued, command.StatusSent)
	assert.Error(t, err, "re-applying a stale transition must fail")
}

func TestQueueStore_FetchAndRemoveIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	commands := s.Commands()
	queue := s.Queue()

	c := &command.Command{
		CommandID:      command.NewID(),
		DeploymentHash: "h_queue_test",
		Type:           command.TypeHealth,
		Status:         command.StatusQueued,
		Priority:       command.PriorityHigh,
	}
	require.NoError(t, commands.Insert(ctx, c))
	require.NoError(t, queue.AddToQueue(ctx, c.CommandID, c.DeploymentHash, c.Priority))

	entry, err := queue.FetchAndRemove(ctx, c.DeploymentHash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, c.CommandID, entry.CommandID)

	again, err := queue.FetchAndRemove(ctx, c.DeploymentHash)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestAgentStore_RegisterUpsertsOnDeploymentHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	agents := s.Agents()

	hash := "h_agent_test"
	require.NoError(t, agents.Register(ctx, &agentregistry.Agent{AgentID: "agent_a", DeploymentHash: hash, BaseURL: "http://a:9000"}))
	require.NoError(t, agents.Register(ctx, &agentregistry.Agent{AgentID: "agent_b", DeploymentHash: hash, BaseURL: "http://b:9000"}))

	got, err := agents.GetByDeployment(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "agent_b", got.AgentID)
	assert.WithinDuration(t, time.Now(), got.RegisteredAt, time.Minute)
}

func TestAppConfigStore_InsertGetUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	apps := s.AppConfigs()

	a := &project.ProjectApp{ProjectID: 42, Code: "web", Name: "web", Image: "nginx:1", Enabled: true}
	require.NoError(t, apps.Insert(ctx, a))
	assert.NotZero(t, a.ID)

	fetched, err := apps.GetByCode(ctx, 42, "web")
	require.NoError(t, err)
	assert.Equal(t, "nginx:1", fetched.Image)

	fetched.Image = "nginx:2"
	fetched.ConfigVersion++
	require.NoError(t, apps.Update(ctx, fetched))

	reFetched, err := apps.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "nginx:2", reFetched.Image)
}
