// Package agentregistry models the Agent record: a long-lived registration
// bound to exactly one deployment hash. The bearer token itself is never
// stored here — only in the secret store under agent/{deployment_hash}, per
// spec.md §3.
package agentregistry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/trydirect/deployctl/internal/cperrors"
)

// Status is the agent's last-known connectivity state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// Agent is one registered agent.
type Agent struct {
	AgentID         string          `json:"agent_id"`
	DeploymentHash  string          `json:"deployment_hash"`
	BaseURL         string          `json:"base_url"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	Version         string          `json:"version,omitempty"`
	SystemInfo      json.RawMessage `json:"system_info,omitempty"`
	LastHeartbeatAt time.Time       `json:"last_heartbeat_at"`
	Status          Status          `json:"status"`
	RegisteredAt    time.Time       `json:"registered_at"`
}

// Store persists agent registrations.
type Store interface {
	Register(ctx context.Context, a *Agent) error
	GetByDeployment(ctx context.Context, deploymentHash string) (*Agent, error)
	Heartbeat(ctx context.Context, deploymentHash string, status Status) error
}

// Registry adapts a Store to dispatcher.AgentLookup and router's
// agentBase(deploymentHash) (string, bool) callback.
type Registry struct {
	store Store
}

// New constructs a Registry.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// AgentIDForDeployment implements dispatcher.AgentLookup.
func (r *Registry) AgentIDForDeployment(ctx context.Context, deploymentHash string) (string, error) {
	a, err := r.store.GetByDeployment(ctx, deploymentHash)
	if err != nil {
		return "", err
	}
	return a.AgentID, nil
}

// Get returns the full agent record for a deployment, used by the snapshot
// endpoint. NotFound if no agent is registered.
func (r *Registry) Get(ctx context.Context, deploymentHash string) (*Agent, error) {
	return r.store.GetByDeployment(ctx, deploymentHash)
}

// BaseURL implements the router's agentBase lookup: returns the agent's base
// URL and true if one is registered, false (no error) if not — a missing
// agent just means the command stays queued for pull.
func (r *Registry) BaseURL(deploymentHash string) (string, bool) {
	a, err := r.store.GetByDeployment(context.Background(), deploymentHash)
	if err != nil {
		return "", false
	}
	return a.BaseURL, true
}

// MemStore is an in-memory Store used by tests and local development.
type MemStore struct {
	mu   sync.Mutex
	byID map[string]*Agent // keyed by deployment_hash
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]*Agent)}
}

func (m *MemStore) Register(ctx context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.RegisteredAt = time.Now()
	a.LastHeartbeatAt = a.RegisteredAt
	a.Status = StatusOnline
	clone := *a
	m.byID[a.DeploymentHash] = &clone
	return nil
}

func (m *MemStore) GetByDeployment(ctx context.Context, deploymentHash string) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[deploymentHash]
	if !ok {
		return nil, cperrors.NotFound(cperrors.CodeAgentNotFound, "agent", deploymentHash)
	}
	clone := *a
	return &clone, nil
}

func (m *MemStore) Heartbeat(ctx context.Context, deploymentHash string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[deploymentHash]
	if !ok {
		return cperrors.NotFound(cperrors.CodeAgentNotFound, "agent", deploymentHash)
	}
	a.LastHeartbeatAt = time.Now()
	a.Status = status
	return nil
}
