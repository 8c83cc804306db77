package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trydirect/deployctl/internal/appconfig"
)

func newTestAppsRouter() (*mux.Router, *appconfig.Service) {
	svc := appconfig.New(appconfig.NewMemStore(), nil, nil, nil)
	ar := NewAppsRouter(svc)
	m := mux.NewRouter()
	ar.Register(m)
	return m, svc
}

func TestAppsRouter_CreateThenGet(t *testing.T) {
	m, _ := newTestAppsRouter()

	body, _ := json.Marshal(map[string]any{
		"app": map[string]any{"code": "web", "name": "web", "image": "nginx", "enabled": true},
	})
	req := httptest.NewRequest(http.MethodPost, "/project/7/apps", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/project/7/apps/web", nil)
	getRec := httptest.NewRecorder()
	m.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestAppsRouter_UpsertMergesOnExistingCode(t *testing.T) {
	m, _ := newTestAppsRouter()

	createBody, _ := json.Marshal(map[string]any{
		"app": map[string]any{"code": "web", "name": "web", "image": "nginx:1", "enabled": true},
	})
	req := httptest.NewRequest(http.MethodPost, "/project/7/apps", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	upsertBody, _ := json.Marshal(map[string]any{
		"app": map[string]any{"name": "web-renamed", "enabled": true},
	})
	upsertReq := httptest.NewRequest(http.MethodPut, "/project/7/apps/web", bytes.NewReader(upsertBody))
	upsertRec := httptest.NewRecorder()
	m.ServeHTTP(upsertRec, upsertReq)
	require.Equal(t, http.StatusOK, upsertRec.Code)

	var updated map[string]any
	require.NoError(t, json.Unmarshal(upsertRec.Body.Bytes(), &updated))
	assert.Equal(t, "web-renamed", updated["name"])
	assert.Equal(t, "nginx:1", updated["image"], "image must fall back to the existing value when omitted")
}

func TestAppsRouter_DeleteRemovesApp(t *testing.T) {
	m, _ := newTestAppsRouter()

	createBody, _ := json.Marshal(map[string]any{
		"app": map[string]any{"code": "web", "name": "web", "image": "nginx", "enabled": true},
	})
	req := httptest.NewRequest(http.MethodPost, "/project/7/apps", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	delReq := httptest.NewRequest(http.MethodDelete, "/project/7/apps/web", nil)
	delRec := httptest.NewRecorder()
	m.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/project/7/apps/web", nil)
	getRec := httptest.NewRecorder()
	m.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}
