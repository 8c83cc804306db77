package router

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/trydirect/deployctl/internal/agentregistry"
	"github.com/trydirect/deployctl/internal/command"
	"github.com/trydirect/deployctl/internal/httpkit"
)

// AgentLookup is the subset of agentregistry.Registry the snapshot endpoint
// needs: the full agent record, not just its base URL.
type AgentLookup interface {
	Get(ctx context.Context, deploymentHash string) (*agentregistry.Agent, error)
}

// SnapshotRouter mounts GET /agents/deployments/{deployment_hash} (spec.md
// §7): a combined view of the agent row and recent commands for a
// deployment. Registered separately so callers without an agent registry
// configured can skip it.
type SnapshotRouter struct {
	commands command.Store
	agents   AgentLookup
}

// NewSnapshotRouter constructs a SnapshotRouter.
func NewSnapshotRouter(commands command.Store, agents AgentLookup) *SnapshotRouter {
	return &SnapshotRouter{commands: commands, agents: agents}
}

// Register attaches the snapshot route to m.
func (sr *SnapshotRouter) Register(m *mux.Router) {
	m.HandleFunc("/agents/deployments/{hash}", sr.get).Methods(http.MethodGet)
}

type deploymentSnapshot struct {
	DeploymentHash string               `json:"deployment_hash"`
	Agent          *agentregistry.Agent `json:"agent,omitempty"`
	RecentCommands []*command.Command   `json:"recent_commands"`
}

func (sr *SnapshotRouter) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hash := mux.Vars(r)["hash"]

	commands, err := sr.commands.List(ctx, hash)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	const recentLimit = 20
	if len(commands) > recentLimit {
		commands = commands[:recentLimit]
	}

	snap := deploymentSnapshot{DeploymentHash: hash, RecentCommands: commands}
	if agent, err := sr.agents.Get(ctx, hash); err == nil {
		snap.Agent = agent
	}
	httpkit.WriteJSON(w, http.StatusOK, snap)
}
