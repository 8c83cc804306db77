// Package auth is the agent authentication adapter: it verifies inbound
// agent requests against the secret store's stored bearer token.
package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/secretstore"
)

// Principal is installed into the request context on successful auth.
type Principal struct {
	AgentID        string
	DeploymentHash string
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the Principal installed by Authenticate, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// AuditSink records auth success/failure rows; production wires this to the
// database, tests wire an in-memory recorder.
type AuditSink interface {
	RecordSuccess(ctx context.Context, agentID, deploymentHash string)
	RecordFailure(ctx context.Context, agentID, deploymentHash, reason string)
}

// NoopAuditSink discards audit rows; used when no sink is configured.
type NoopAuditSink struct{}

func (NoopAuditSink) RecordSuccess(ctx context.Context, agentID, deploymentHash string) {}
func (NoopAuditSink) RecordFailure(ctx context.Context, agentID, deploymentHash, reason string) {}

// Adapter authenticates inbound agent requests.
//
// AllowTestModeFallback accepts the request-supplied token when the stored
// one cannot be read: it logs a warning and records a success audit row
// instead of failing; no separate warning audit row is written. This MUST be
// an explicit configuration toggle (never inferred from the secret store's
// address) — see the design notes on why address-based inference was
// rejected.
type Adapter struct {
	secrets               *secretstore.Client
	audit                 AuditSink
	log                   *slog.Logger
	AllowTestModeFallback bool
}

// New constructs an Adapter.
func New(secrets *secretstore.Client, audit AuditSink, log *slog.Logger) *Adapter {
	if audit == nil {
		audit = NoopAuditSink{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{secrets: secrets, audit: audit, log: log}
}

// Authenticate reads X-Agent-Id and Authorization: Bearer <token> from req,
// compares the supplied token against the secret store's value at
// agent/{deploymentHash} in constant time, and returns a context carrying
// the installed Principal on success.
func (a *Adapter) Authenticate(ctx context.Context, req *http.Request, deploymentHash string) (context.Context, error) {
	agentID := req.Header.Get("X-Agent-Id")
	token := bearerToken(req.Header.Get("Authorization"))

	if agentID == "" || token == "" {
		a.audit.RecordFailure(ctx, agentID, deploymentHash, "missing_credentials")
		return ctx, cperrors.Forbidden("missing agent credentials")
	}

	var stored secretstore.AgentToken
	err := a.secrets.Get(ctx, secretstore.AgentTokenPath(deploymentHash), &stored)
	if err != nil {
		if a.AllowTestModeFallback {
			a.log.Warn("test-mode auth fallback engaged: accepting caller-supplied token", "agent_id", agentID, "deployment_hash", deploymentHash)
			a.audit.RecordSuccess(ctx, agentID, deploymentHash)
			return WithPrincipal(ctx, Principal{AgentID: agentID, DeploymentHash: deploymentHash}), nil
		}
		a.audit.RecordFailure(ctx, agentID, deploymentHash, "token_unavailable")
		return ctx, cperrors.Forbidden("agent token unavailable")
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(stored.Token)) != 1 {
		a.audit.RecordFailure(ctx, agentID, deploymentHash, "token_mismatch")
		return ctx, cperrors.Forbidden("agent token mismatch")
	}

	a.audit.RecordSuccess(ctx, agentID, deploymentHash)
	return WithPrincipal(ctx, Principal{AgentID: agentID, DeploymentHash: deploymentHash}), nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return ""
	}
	return header[len(prefix):]
}
