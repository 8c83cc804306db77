package appconfig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trydirect/deployctl/internal/configrender"
	"github.com/trydirect/deployctl/internal/project"
	"github.com/trydirect/deployctl/internal/secretstore"
)

func newTestService(t *testing.T, putOK bool) (*Service, *MemStore) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if putOK {
			w.WriteHeader(http.StatusNoContent)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)

	secrets := secretstore.New(srv.URL, "tok", "secret")
	renderer := configrender.New(secrets, "")
	store := NewMemStore()
	return New(store, renderer, secrets, nil), store
}

func TestCreate_ValidatesBeforeInsert(t *testing.T) {
	svc, _ := newTestService(t, true)
	_, err := svc.Create(context.Background(), &project.ProjectApp{Code: "", Name: "x"}, &project.Project{}, "")
	assert.Error(t, err)
}

func TestCreate_SyncFailureStillReturnsRow(t *testing.T) {
	svc, _ := newTestService(t, false)
	app, err := svc.Create(context.Background(), &project.ProjectApp{Code: "web", Name: "web", Image: "nginx", Enabled: true}, &project.Project{}, "h1")
	require.NoError(t, err)
	assert.Equal(t, "web", app.Code)
}

func TestUpdate_PreservesCreatedAtBumpsVersion(t *testing.T) {
	svc, _ := newTestService(t, true)
	app, err := svc.Create(context.Background(), &project.ProjectApp{Code: "web", Name: "web", Image: "nginx", Enabled: true}, &project.Project{}, "")
	require.NoError(t, err)
	createdAt := app.CreatedAt

	time.Sleep(time.Millisecond)
	app.Name = "web-updated"
	updated, err := svc.Update(context.Background(), app, &project.Project{}, "")
	require.NoError(t, err)
	assert.Equal(t, createdAt, updated.CreatedAt)
	assert.Equal(t, int64(2), updated.ConfigVersion)
	assert.True(t, updated.UpdatedAt.After(createdAt) || updated.UpdatedAt.Equal(createdAt))
}

func TestUpsert_MergePreservesUnsetFields(t *testing.T) {
	svc, _ := newTestService(t, true)
	created, err := svc.Create(context.Background(), &project.ProjectApp{
		ProjectID: 1, Code: "web", Name: "web", Image: "nginx:1", Enabled: true,
		Domain: "example.com",
	}, &project.Project{}, "")
	require.NoError(t, err)

	partial := &project.ProjectApp{ProjectID: 1, Code: "web", Name: "", Image: "nginx:2", Enabled: true}
	merged, err := svc.Upsert(context.Background(), partial, &project.Project{}, "")
	require.NoError(t, err)

	assert.Equal(t, "web", merged.Name, "empty incoming name falls back to existing")
	assert.Equal(t, "nginx:2", merged.Image, "non-empty incoming image overrides existing")
	assert.Equal(t, "example.com", merged.Domain, "unset incoming field falls back to existing")
	assert.Equal(t, created.ID, merged.ID)
}

func TestUpsert_CreatesWhenAbsent(t *testing.T) {
	svc, _ := newTestService(t, true)
	app, err := svc.Upsert(context.Background(), &project.ProjectApp{ProjectID: 2, Code: "new", Name: "new", Image: "x", Enabled: true}, &project.Project{}, "")
	require.NoError(t, err)
	assert.Equal(t, "new", app.Code)
}

func TestDelete_BestEffortSecretCleanup(t *testing.T) {
	svc, _ := newTestService(t, false) // secret delete will fail; Delete must still succeed
	app, err := svc.Create(context.Background(), &project.ProjectApp{Code: "web", Name: "web", Image: "nginx", Enabled: true}, &project.Project{}, "")
	require.NoError(t, err)

	err = svc.Delete(context.Background(), app.ID, "h1")
	assert.NoError(t, err)

	_, err = svc.Get(context.Background(), app.ID)
	assert.Error(t, err)
}
