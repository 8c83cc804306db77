package deployment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromOptions(t *testing.T) {
	h := "abc"
	var id int64 = 7

	got, err := FromOptions(&h, &id)
	require.NoError(t, err)
	assert.Equal(t, KindHash, got.Kind())
	assert.Equal(t, "abc", got.HashValue())

	got, err = FromOptions(nil, &id)
	require.NoError(t, err)
	assert.Equal(t, KindInstallationID, got.Kind())
	assert.Equal(t, int64(7), got.InstallationIDValue())

	_, err = FromOptions(nil, nil)
	assert.Error(t, err)
}

func TestNativeOnlyResolver(t *testing.T) {
	var r NativeOnlyResolver

	hash, err := r.Resolve(context.Background(), Hash("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", hash)

	_, err = r.Resolve(context.Background(), InstallationID(7))
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestExternalResolver_HashPassthrough(t *testing.T) {
	r := NewExternalResolver("http://unused.invalid", "tok")
	hash, err := r.Resolve(context.Background(), Hash("direct"))
	require.NoError(t, err)
	assert.Equal(t, "direct", hash)
}

func TestExternalResolver_InstallationID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/installations/7", req.URL.Path)
		assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deployment_hash":"h1","status":"running"}`))
	}))
	defer srv.Close()

	r := NewExternalResolver(srv.URL, "tok")
	hash, err := r.Resolve(context.Background(), InstallationID(7))
	require.NoError(t, err)
	assert.Equal(t, "h1", hash)

	info, err := r.ResolveWithInfo(context.Background(), InstallationID(7))
	require.NoError(t, err)
	assert.Equal(t, "running", info.Status)
}

func TestExternalResolver_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewExternalResolver(srv.URL, "tok")
	_, err := r.Resolve(context.Background(), InstallationID(7))
	assert.Error(t, err)
}

func TestExternalResolver_NoHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"running"}`))
	}))
	defer srv.Close()

	r := NewExternalResolver(srv.URL, "tok")
	_, err := r.Resolve(context.Background(), InstallationID(7))
	assert.Error(t, err)
}
