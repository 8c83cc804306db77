// Package router is the caller-facing REST surface: create/cancel/get/list
// commands, plus the agent-facing enqueue variant used when an MCP tool path
// routes through the agent.
package router

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/trydirect/deployctl/internal/command"
	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/deployment"
	"github.com/trydirect/deployctl/internal/dispatcher"
	"github.com/trydirect/deployctl/internal/httpkit"
	"github.com/trydirect/deployctl/internal/queue"
)

// ParamValidator validates a command's parameters object by type before
// insertion, returning the normalized (possibly clamped) parameters that
// must be persisted in place of the caller-supplied value.
type ParamValidator func(typ command.Type, parameters json.RawMessage) (json.RawMessage, error)

// Router wires the command store, queue, resolver, validator, and an
// optional dispatcher for the push path.
type Router struct {
	commands   command.Store
	queues     queue.Store
	resolver   deployment.Resolver
	validate   ParamValidator
	dispatcher *dispatcher.Dispatcher
	agentBase  func(deploymentHash string) (string, bool)
}

// New constructs a Router. agentBase, when non-nil, returns the configured
// agent base URL for a deployment (if any) so create can attempt a push.
func New(commands command.Store, queues queue.Store, resolver deployment.Resolver, validate ParamValidator, d *dispatcher.Dispatcher, agentBase func(string) (string, bool)) *Router {
	return &Router{commands: commands, queues: queues, resolver: resolver, validate: validate, dispatcher: d, agentBase: agentBase}
}

// Register attaches the router's routes to m.
func (rt *Router) Register(m *mux.Router) {
	m.HandleFunc("/commands", rt.create).Methods(http.MethodPost)
	m.HandleFunc("/commands/enqueue", rt.enqueue).Methods(http.MethodPost)
	m.HandleFunc("/commands/{hash}/{id}/cancel", rt.cancel).Methods(http.MethodPost)
	m.HandleFunc("/commands/{hash}/{id}", rt.get).Methods(http.MethodGet)
	m.HandleFunc("/commands/{hash}", rt.list).Methods(http.MethodGet)
}

type createRequest struct {
	DeploymentHash *string          `json:"deployment_hash"`
	DeploymentID   *int64           `json:"deployment_id"`
	CommandType    command.Type     `json:"command_type"`
	Priority       command.Priority `json:"priority"`
	Parameters     json.RawMessage  `json:"parameters"`
	TimeoutSeconds *int             `json:"timeout_seconds"`
	Metadata       json.RawMessage  `json:"metadata"`
}

type createResponse struct {
	CommandID      string `json:"command_id"`
	DeploymentHash string `json:"deployment_hash"`
	Status         string `json:"status"`
}

func (rt *Router) create(w http.ResponseWriter, r *http.Request) {
	rt.handleCreate(w, r)
}

// enqueue is the agent-authenticated create variant used when an MCP tool
// path is routed through the agent rather than the caller's own session;
// the creation semantics are identical, only the external auth middleware
// guarding the route differs.
func (rt *Router) enqueue(w http.ResponseWriter, r *http.Request) {
	rt.handleCreate(w, r)
}

func (rt *Router) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpkit.WriteError(ctx, w, cperrors.Validation("malformed request body"))
		return
	}

	id, err := deployment.FromOptions(req.DeploymentHash, req.DeploymentID)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	hash, err := rt.resolver.Resolve(ctx, id)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}

	if !command.KnownTypes[req.CommandType] {
		httpkit.WriteError(ctx, w, cperrors.Newf(cperrors.CategoryValidation, cperrors.CodeUnknownCommand, "unknown command type %q", req.CommandType))
		return
	}
	if rt.validate != nil {
		normalized, err := rt.validate(req.CommandType, req.Parameters)
		if err != nil {
			httpkit.WriteError(ctx, w, err)
			return
		}
		req.Parameters = normalized
	}

	priority := req.Priority
	if priority == "" {
		priority = command.PriorityNormal
	}

	c := &command.Command{
		CommandID:      command.NewID(),
		DeploymentHash: hash,
		Type:           req.CommandType,
		Status:         command.StatusQueued,
		Priority:       priority,
		Parameters:     req.Parameters,
		TimeoutSeconds: req.TimeoutSeconds,
		Metadata:       req.Metadata,
	}
	if err := rt.commands.Insert(ctx, c); err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	if err := rt.queues.AddToQueue(ctx, c.CommandID, hash, priority); err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}

	if rt.dispatcher != nil && rt.agentBase != nil {
		if base, ok := rt.agentBase(hash); ok {
			pushCtx := context.WithoutCancel(ctx)
			go func() {
				if err := rt.dispatcher.Enqueue(pushCtx, hash, base, c); err != nil {
					httpkit.LogPushFailure(pushCtx, err)
				}
			}()
		}
	}

	httpkit.WriteJSON(w, http.StatusCreated, createResponse{CommandID: c.CommandID, DeploymentHash: hash, Status: string(c.Status)})
}

func (rt *Router) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	c, err := rt.commands.Cancel(ctx, vars["hash"], vars["id"], "user_requested")
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, c)
}

func (rt *Router) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	c, err := rt.commands.Get(ctx, vars["hash"], vars["id"])
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, c)
}

func (rt *Router) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	commands, err := rt.commands.List(ctx, vars["hash"])
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, commands)
}
