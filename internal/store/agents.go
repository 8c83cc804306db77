package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trydirect/deployctl/internal/agentregistry"
	"github.com/trydirect/deployctl/internal/cperrors"
)

// AgentStore is the Postgres-backed agentregistry.Store implementation.
type AgentStore struct {
	s *Store
}

// Agents returns the agentregistry.Store view of this Store.
func (s *Store) Agents() *AgentStore { return &AgentStore{s: s} }

func (a *AgentStore) Register(ctx context.Context, agent *agentregistry.Agent) error {
	now := time.Now()
	agent.RegisteredAt, agent.LastHeartbeatAt, agent.Status = now, now, agentregistry.StatusOnline
	_, err := a.s.pool.Exec(ctx, `
		INSERT INTO agents (agent_id, deployment_hash, base_url, capabilities, version, system_info, last_heartbeat_at, status, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (deployment_hash) DO UPDATE SET
			agent_id = excluded.agent_id,
			base_url = excluded.base_url,
			capabilities = excluded.capabilities,
			version = excluded.version,
			system_info = excluded.system_info,
			last_heartbeat_at = excluded.last_heartbeat_at,
			status = excluded.status
	`, agent.AgentID, agent.DeploymentHash, agent.BaseURL, nullableJSON(agent.Capabilities),
		agent.Version, nullableJSON(agent.SystemInfo), agent.LastHeartbeatAt, agent.Status, agent.RegisteredAt)
	if err != nil {
		return cperrors.Internal("register agent", err)
	}
	return nil
}

func (a *AgentStore) GetByDeployment(ctx context.Context, deploymentHash string) (*agentregistry.Agent, error) {
	row := a.s.pool.QueryRow(ctx, `
		SELECT agent_id, deployment_hash, base_url, capabilities, version, system_info, last_heartbeat_at, status, registered_at
		FROM agents WHERE deployment_hash = $1
	`, deploymentHash)

	var ag agentregistry.Agent
	var capabilities, systemInfo []byte
	err := row.Scan(&ag.AgentID, &ag.DeploymentHash, &ag.BaseURL, &capabilities, &ag.Version,
		&systemInfo, &ag.LastHeartbeatAt, &ag.Status, &ag.RegisteredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cperrors.NotFound(cperrors.CodeAgentNotFound, "agent", deploymentHash)
		}
		return nil, cperrors.Internal("get agent", err)
	}
	ag.Capabilities = json.RawMessage(capabilities)
	ag.SystemInfo = json.RawMessage(systemInfo)
	return &ag, nil
}

func (a *AgentStore) Heartbeat(ctx context.Context, deploymentHash string, status agentregistry.Status) error {
	tag, err := a.s.pool.Exec(ctx, `
		UPDATE agents SET status = $1, last_heartbeat_at = now() WHERE deployment_hash = $2
	`, status, deploymentHash)
	if err != nil {
		return cperrors.Internal("agent heartbeat", err)
	}
	if tag.RowsAffected() == 0 {
		return cperrors.NotFound(cperrors.CodeAgentNotFound, "agent", deploymentHash)
	}
	return nil
}
