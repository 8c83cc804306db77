// Package dispatcher translates a logical command dispatch into an
// authenticated HTTP call against the target deployment's agent, falling
// back to leaving the command queued for pull on failure.
package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/trydirect/deployctl/internal/agentclient"
	"github.com/trydirect/deployctl/internal/command"
	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/secretstore"
)

// AgentLookup resolves an agent's id for a deployment hash.
type AgentLookup interface {
	AgentIDForDeployment(ctx context.Context, deploymentHash string) (string, error)
}

// Dispatcher wires the agent client to the agent registry and secret store.
type Dispatcher struct {
	agents  AgentLookup
	secrets *secretstore.Client
}

// New constructs a Dispatcher.
func New(agents AgentLookup, secrets *secretstore.Client) *Dispatcher {
	return &Dispatcher{agents: agents, secrets: secrets}
}

// clientFor reads the agent record to confirm it exists and loads its
// bearer token from the secret store, per spec.md §4.7.
func (d *Dispatcher) clientFor(ctx context.Context, deploymentHash, baseURL string) (*agentclient.Client, error) {
	if _, err := d.agents.AgentIDForDeployment(ctx, deploymentHash); err != nil {
		return nil, cperrors.NotFound(cperrors.CodeAgentNotFound, "agent", deploymentHash)
	}

	var tok secretstore.AgentToken
	if err := d.secrets.Get(ctx, secretstore.AgentTokenPath(deploymentHash), &tok); err != nil {
		return nil, cperrors.New(cperrors.CategoryValidation, cperrors.CodeCredentialsMissing, "agent token not available")
	}

	return agentclient.New(baseURL, tok.Token), nil
}

// Enqueue pushes a command to the agent's enqueue endpoint.
func (d *Dispatcher) Enqueue(ctx context.Context, deploymentHash, baseURL string, c *command.Command) error {
	client, err := d.clientFor(ctx, deploymentHash, baseURL)
	if err != nil {
		return err
	}
	return client.Enqueue(ctx, agentclient.EnqueuePayload{
		CommandID:  c.CommandID,
		Type:       string(c.Type),
		Priority:   string(c.Priority),
		Parameters: c.Parameters,
	})
}

// Execute pushes a command directly to the agent's execute endpoint.
func (d *Dispatcher) Execute(ctx context.Context, deploymentHash, baseURL string, c *command.Command) error {
	client, err := d.clientFor(ctx, deploymentHash, baseURL)
	if err != nil {
		return err
	}
	return client.Execute(ctx, agentclient.EnqueuePayload{
		CommandID:  c.CommandID,
		Type:       string(c.Type),
		Priority:   string(c.Priority),
		Parameters: c.Parameters,
	})
}

// Report forwards a completion report to the agent on the caller's behalf.
func (d *Dispatcher) Report(ctx context.Context, deploymentHash, baseURL, commandID, status string, result, errDoc json.RawMessage) error {
	client, err := d.clientFor(ctx, deploymentHash, baseURL)
	if err != nil {
		return err
	}
	return client.Report(ctx, agentclient.ReportPayload{
		CommandID: commandID,
		Status:    status,
		Result:    result,
		Error:     errDoc,
	})
}

// RotateToken verifies the agent row exists and atomically writes the new
// token; the agent is expected to re-read it on its next cycle.
func (d *Dispatcher) RotateToken(ctx context.Context, deploymentHash, newToken string) error {
	if _, err := d.agents.AgentIDForDeployment(ctx, deploymentHash); err != nil {
		return cperrors.NotFound(cperrors.CodeAgentNotFound, "agent", deploymentHash)
	}
	return d.secrets.Put(ctx, secretstore.AgentTokenPath(deploymentHash), secretstore.AgentToken{Token: newToken})
}
