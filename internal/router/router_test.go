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

	"github.com/trydirect/deployctl/internal/command"
	"github.com/trydirect/deployctl/internal/deployment"
	"github.com/trydirect/deployctl/internal/queue"
)

func newTestRouter() (*mux.Router, command.Store, *queue.MemStore) {
	queues := queue.NewMemStore()
	commands := command.NewMemStore(func(id string) { _ = queues.RemoveFromQueue(context.Background(), id) })
	rt := New(commands, queues, deployment.NativeOnlyResolver{}, command.ValidateParameters, nil, nil)
	m := mux.NewRouter()
	rt.Register(m)
	return m, commands, queues
}

func TestCreateThenCancel(t *testing.T) {
	m, _, queues := newTestRouter()

	body, _ := json.Marshal(map[string]any{"deployment_hash": "h1", "command_type": "logs"})
	req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "h1", created.DeploymentHash)
	assert.Equal(t, "queued", created.Status)

	getReq := httptest.NewRequest(http.MethodGet, "/commands/h1/"+created.CommandID, nil)
	getRec := httptest.NewRecorder()
	m.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)

	cancelReq := httptest.NewRequest(http.MethodPost, "/commands/h1/"+created.CommandID+"/cancel", nil)
	cancelRec := httptest.NewRecorder()
	m.ServeHTTP(cancelRec, cancelReq)
	assert.Equal(t, http.StatusOK, cancelRec.Code)

	entry, err := queues.FetchNextForDeployment(req.Context(), "h1")
	require.NoError(t, err)
	assert.Nil(t, entry, "cancel must remove the queue row")
}

func TestCreate_MissingIdentifierIsBadRequest(t *testing.T) {
	m, _, _ := newTestRouter()
	body, _ := json.Marshal(map[string]any{"command_type": "logs"})
	req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreate_UnknownCommandTypeIsBadRequest(t *testing.T) {
	m, _, _ := newTestRouter()
	body, _ := json.Marshal(map[string]any{"deployment_hash": "h1", "command_type": "not_a_real_type"})
	req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreate_RestartWithoutAppCodeIsBadRequestAndNotPersisted(t *testing.T) {
	m, commands, queues := newTestRouter()
	body, _ := json.Marshal(map[string]any{"deployment_hash": "h1", "command_type": "restart", "parameters": map[string]any{}})
	req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list, err := commands.List(req.Context(), "h1")
	require.NoError(t, err)
	assert.Empty(t, list, "validation failure must short-circuit before touching the database")

	entry, err := queues.FetchNextForDeployment(req.Context(), "h1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCreate_StopClampsTimeoutBeforePersisting(t *testing.T) {
	m, commands, _ := newTestRouter()
	body, _ := json.Marshal(map[string]any{"deployment_hash": "h1", "command_type": "stop", "parameters": map[string]any{"timeout": 5000}})
	req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	stored, err := commands.Get(req.Context(), "h1", created.CommandID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timeout":600}`, string(stored.Parameters))
}

func TestCreate_LogsForcesRedactTrue(t *testing.T) {
	m, commands, _ := newTestRouter()
	body, _ := json.Marshal(map[string]any{"deployment_hash": "h1", "command_type": "logs", "parameters": map[string]any{"limit": 5000, "redact": false}})
	req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	stored, err := commands.Get(req.Context(), "h1", created.CommandID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"limit":500,"redact":true}`, string(stored.Parameters))
}

func TestList_OrdersNewestFirst(t *testing.T) {
	m, _, _ := newTestRouter()
	for i := 0; i < 2; i++ {
		body, _ := json.Marshal(map[string]any{"deployment_hash": "h1", "command_type": "health"})
		req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		m.ServeHTTP(rec, req)
	}
	listReq := httptest.NewRequest(http.MethodGet, "/commands/h1", nil)
	listRec := httptest.NewRecorder()
	m.ServeHTTP(listRec, listReq)
	assert.Equal(t, http.StatusOK, listRec.Code)

	var commands []*command.Command
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &commands))
	assert.Len(t, commands, 2)
	assert.False(t, commands[0].CreatedAt.Before(commands[1].CreatedAt))
}
