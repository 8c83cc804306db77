package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/httpkit"
	"github.com/trydirect/deployctl/internal/hydrator"
	"github.com/trydirect/deployctl/internal/project"
	"github.com/trydirect/deployctl/internal/template"
)

// Deployer is the subset of orchestrator.Orchestrator the router drives.
type Deployer interface {
	Deploy(ctx context.Context, p *project.Project, apps []*project.ProjectApp, cred *project.CloudCredential) error
}

// Hydrater is the subset of hydrator.Hydrator the router drives.
type Hydrater interface {
	Hydrate(ctx context.Context, p *project.Project, app *project.ProjectApp) (*hydrator.HydratedProjectApp, error)
}

// LocalBuilder is the subset of orchestrator.LocalBuilder the router drives
// for the dev-mode "?local=true" deploy path.
type LocalBuilder interface {
	Build(ctx context.Context, compose string, noCache bool) error
}

// DeployRouter mounts the initial-deploy trigger and the hydrated app-view
// endpoint. The control plane holds no Project store of its own (Project
// is owned by the caller's system), so both routes accept the project
// document inline in the request body rather than looking one up by id.
type DeployRouter struct {
	apps        AppService
	orchestrate Deployer
	hydrate     Hydrater
	localBuild  LocalBuilder
}

// NewDeployRouter constructs a DeployRouter. localBuild may be nil, in
// which case ?local=true deploy requests fall through to the MQ path.
func NewDeployRouter(apps AppService, orchestrate Deployer, hydrate Hydrater, localBuild LocalBuilder) *DeployRouter {
	return &DeployRouter{apps: apps, orchestrate: orchestrate, hydrate: hydrate, localBuild: localBuild}
}

// Register attaches the deploy and hydrate routes to m.
func (dr *DeployRouter) Register(m *mux.Router) {
	m.HandleFunc("/project/{project_id}/deploy", dr.deploy).Methods(http.MethodPost)
	m.HandleFunc("/project/{project_id}/apps/{code}/hydrate", dr.hydrateApp).Methods(http.MethodPost)
}

type deployRequest struct {
	Project    project.Project         `json:"project"`
	Credential *project.CloudCredential `json:"cloud_credential"`
}

func (dr *DeployRouter) projectID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["project_id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, cperrors.Validationf("project_id %q is not a valid integer", raw)
	}
	return id, nil
}

// deploy renders the project's current app set and publishes the initial
// deploy message (spec.md §4.12 / §6 routing-key rule). ?local=true skips
// the MQ publish and instead runs `docker compose build` against the
// rendered document, for dev/staging environments with no provisioning
// worker on the other end of the "install" exchange.
func (dr *DeployRouter) deploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, err := dr.projectID(r)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpkit.WriteError(ctx, w, cperrors.Validation("malformed request body"))
		return
	}
	req.Project.ID = projectID

	apps, err := dr.apps.ListByProject(ctx, projectID)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}

	if r.URL.Query().Get("local") == "true" && dr.localBuild != nil {
		dr.deployLocal(w, r, &req.Project, apps)
		return
	}

	if err := dr.orchestrate.Deploy(ctx, &req.Project, apps, req.Credential); err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "deploy_queued"})
}

func (dr *DeployRouter) deployLocal(w http.ResponseWriter, r *http.Request, p *project.Project, apps []*project.ProjectApp) {
	ctx := r.Context()
	compose, err := template.RenderCompose(p, apps)
	if err != nil {
		httpkit.WriteError(ctx, w, cperrors.Internal("render compose", err))
		return
	}
	noCache := r.URL.Query().Get("no_cache") == "true"
	if err := dr.localBuild.Build(ctx, compose, noCache); err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "local_build_complete"})
}

type hydrateRequest struct {
	Project project.Project `json:"project"`
}

// hydrateApp returns the redacted, secret-store-overlaid view of a single
// project app (spec.md §4.4).
func (dr *DeployRouter) hydrateApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, err := dr.projectID(r)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	code := mux.Vars(r)["code"]

	var req hydrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpkit.WriteError(ctx, w, cperrors.Validation("malformed request body"))
		return
	}
	req.Project.ID = projectID

	app, err := dr.apps.GetByCode(ctx, projectID, code)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	view, err := dr.hydrate.Hydrate(ctx, &req.Project, app)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, view)
}
