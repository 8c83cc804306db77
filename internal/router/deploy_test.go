package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trydirect/deployctl/internal/appconfig"
	"github.com/trydirect/deployctl/internal/hydrator"
	"github.com/trydirect/deployctl/internal/project"
)

type fakeDeployer struct {
	called bool
	cred   *project.CloudCredential
}

func (f *fakeDeployer) Deploy(ctx context.Context, p *project.Project, apps []*project.ProjectApp, cred *project.CloudCredential) error {
	f.called = true
	f.cred = cred
	return nil
}

type fakeHydrater struct {
	view *hydrator.HydratedProjectApp
}

func (f *fakeHydrater) Hydrate(ctx context.Context, p *project.Project, app *project.ProjectApp) (*hydrator.HydratedProjectApp, error) {
	return f.view, nil
}

func TestDeployRouter_Deploy_PublishesAndReturnsAccepted(t *testing.T) {
	mem := appconfig.NewMemStore()
	require.NoError(t, mem.Insert(context.Background(), &project.ProjectApp{ID: 1, ProjectID: 9, Code: "web"}))
	svc := appconfig.New(mem, nil, nil, nil)

	dep := &fakeDeployer{}
	dr := NewDeployRouter(svc, dep, &fakeHydrater{}, nil)
	m := mux.NewRouter()
	dr.Register(m)

	body, _ := json.Marshal(map[string]any{
		"project":          map[string]any{"id": 9, "name": "demo"},
		"cloud_credential": map[string]any{"provider": "own-hetzner"},
	})
	req := httptest.NewRequest(http.MethodPost, "/project/9/deploy", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, dep.called)
	require.NotNil(t, dep.cred)
	assert.Equal(t, "own-hetzner", dep.cred.Provider)
}

func TestDeployRouter_HydrateApp_ReturnsView(t *testing.T) {
	mem := appconfig.NewMemStore()
	require.NoError(t, mem.Insert(context.Background(), &project.ProjectApp{ID: 1, ProjectID: 9, Code: "web", Name: "web"}))
	svc := appconfig.New(mem, nil, nil, nil)

	hyd := &fakeHydrater{view: &hydrator.HydratedProjectApp{Code: "web", Name: "web"}}
	dr := NewDeployRouter(svc, &fakeDeployer{}, hyd, nil)
	m := mux.NewRouter()
	dr.Register(m)

	body, _ := json.Marshal(map[string]any{"project": map[string]any{"id": 9, "name": "demo"}})
	req := httptest.NewRequest(http.MethodPost, "/project/9/apps/web/hydrate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"web"`)
}
