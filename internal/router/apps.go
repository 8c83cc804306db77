package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/trydirect/deployctl/internal/configrender"
	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/httpkit"
	"github.com/trydirect/deployctl/internal/project"
)

// AppService is the subset of appconfig.Service the router drives: app CRUD
// plus a deployment_hash-triggered sync on every mutation.
type AppService interface {
	Get(ctx context.Context, id int64) (*project.ProjectApp, error)
	GetByCode(ctx context.Context, projectID int64, code string) (*project.ProjectApp, error)
	ListByProject(ctx context.Context, projectID int64) ([]*project.ProjectApp, error)
	Create(ctx context.Context, a *project.ProjectApp, p *project.Project, deploymentHash string) (*project.ProjectApp, error)
	Update(ctx context.Context, a *project.ProjectApp, p *project.Project, deploymentHash string) (*project.ProjectApp, error)
	Upsert(ctx context.Context, a *project.ProjectApp, p *project.Project, deploymentHash string) (*project.ProjectApp, error)
	Delete(ctx context.Context, id int64, deploymentHash string) error
	PreviewBundle(p *project.Project, apps []*project.ProjectApp, deploymentHash string) (*configrender.ConfigBundle, error)
}

// AppsRouter mounts the project-app CRUD surface (spec.md §7: "PUT/GET/DELETE
// /project/{id}/apps[/{code}]…"). It is registered separately from Router so
// callers without an AppService configured can skip it.
type AppsRouter struct {
	apps AppService
}

// NewAppsRouter constructs an AppsRouter.
func NewAppsRouter(apps AppService) *AppsRouter {
	return &AppsRouter{apps: apps}
}

// Register attaches the app-CRUD routes to m.
func (ar *AppsRouter) Register(m *mux.Router) {
	m.HandleFunc("/project/{project_id}/apps", ar.list).Methods(http.MethodGet)
	m.HandleFunc("/project/{project_id}/apps", ar.create).Methods(http.MethodPost)
	m.HandleFunc("/project/{project_id}/apps/{code}", ar.get).Methods(http.MethodGet)
	m.HandleFunc("/project/{project_id}/apps/{code}", ar.upsert).Methods(http.MethodPut)
	m.HandleFunc("/project/{project_id}/apps/{code}", ar.delete).Methods(http.MethodDelete)
}

type appMutationRequest struct {
	App            project.ProjectApp `json:"app"`
	DeploymentHash string             `json:"deployment_hash,omitempty"`
}

func (ar *AppsRouter) projectID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["project_id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, cperrors.Validationf("project_id %q is not a valid integer", raw)
	}
	return id, nil
}

func (ar *AppsRouter) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, err := ar.projectID(r)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	apps, err := ar.apps.ListByProject(ctx, projectID)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, apps)
}

func (ar *AppsRouter) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, err := ar.projectID(r)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	code := mux.Vars(r)["code"]
	app, err := ar.apps.GetByCode(ctx, projectID, code)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, app)
}

func (ar *AppsRouter) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, err := ar.projectID(r)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	var req appMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpkit.WriteError(ctx, w, cperrors.Validation("malformed request body"))
		return
	}
	req.App.ProjectID = projectID
	created, err := ar.apps.Create(ctx, &req.App, nil, req.DeploymentHash)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusCreated, created)
}

// upsert implements the "deploy-app" merge path: creates the app when its
// code is new for this project, otherwise merges the incoming fields onto
// the existing row (see appconfig.mergeApp).
func (ar *AppsRouter) upsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, err := ar.projectID(r)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	var req appMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpkit.WriteError(ctx, w, cperrors.Validation("malformed request body"))
		return
	}
	req.App.ProjectID = projectID
	req.App.Code = mux.Vars(r)["code"]
	updated, err := ar.apps.Upsert(ctx, &req.App, nil, req.DeploymentHash)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, updated)
}

func (ar *AppsRouter) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, err := ar.projectID(r)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	code := mux.Vars(r)["code"]
	deploymentHash := r.URL.Query().Get("deployment_hash")

	app, err := ar.apps.GetByCode(ctx, projectID, code)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	if err := ar.apps.Delete(ctx, app.ID, deploymentHash); err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, nil)
}
