package configrender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trydirect/deployctl/internal/project"
	"github.com/trydirect/deployctl/internal/secretstore"
)

func TestRenderBundle_SkipsDisabled(t *testing.T) {
	store := secretstore.New("http://unused.invalid", "tok", "secret")
	r := New(store, "")

	p := &project.Project{Name: "demo"}
	apps := []*project.ProjectApp{
		{Code: "web", Name: "web", Image: "nginx", Enabled: true, Environment: json.RawMessage(`{"PORT":"8080"}`)},
		{Code: "off", Name: "off", Image: "x", Enabled: false},
	}

	bundle, err := r.RenderBundle(p, apps, "h1")
	require.NoError(t, err)
	assert.Contains(t, bundle.ComposeContent, "web:")
	assert.NotContains(t, bundle.ComposeContent, "off:")
	assert.Contains(t, bundle.AppConfigs, "web")
	assert.Equal(t, "PORT=8080\n", bundle.AppConfigs["web"].Content)
}

func TestSyncToVault_PartialFailureNotRolledBack(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := secretstore.New(srv.URL, "tok", "secret")
	r := New(store, "")

	bundle := &ConfigBundle{
		DeploymentHash: "h1",
		Version:        1,
		ComposeContent: "version: \"3.8\"\n",
		AppConfigs: map[string]secretstore.AppConfig{
			"web": {Content: "PORT=8080\n"},
		},
	}

	result, err := r.SyncToVault(context.Background(), bundle)
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.Len(t, result.Failed, 1)
	assert.Contains(t, result.Synced, "web_env")
}
