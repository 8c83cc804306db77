package agentapi

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
	"github.com/trydirect/deployctl/internal/logcache"
	"github.com/trydirect/deployctl/internal/queue"
	"github.com/trydirect/deployctl/internal/secretstore"
)

func newTestAPI(t *testing.T) (*mux.Router, command.Store, *queue.MemStore) {
	return newTestAPIWithSecrets(t, nil)
}

func newTestAPIWithSecrets(t *testing.T, secrets *secretstore.Client) (*mux.Router, command.Store, *queue.MemStore) {
	commands := command.NewMemStore(nil)
	queues := queue.NewMemStore()
	a := New(commands, queues, nil, logcache.New(), secrets)
	m := mux.NewRouter()
	a.Register(m)
	return m, commands, queues
}

func TestWait_ServesQueuedCommand(t *testing.T) {
	m, commands, queues := newTestAPI(t)
	c := &command.Command{CommandID: "cmd_1", DeploymentHash: "h1", Status: command.StatusQueued, Priority: command.PriorityNormal}
	require.NoError(t, commands.Insert(context.Background(), c))
	require.NoError(t, queues.AddToQueue(context.Background(), c.CommandID, "h1", command.PriorityNormal))

	req := httptest.NewRequest(http.MethodGet, "/commands/wait?deployment_hash=h1", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got command.Command
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, command.StatusSent, got.Status)

	entry, err := queues.FetchNextForDeployment(context.Background(), "h1")
	require.NoError(t, err)
	assert.Nil(t, entry, "wait must dequeue transactionally")
}

func TestReport_UnknownCommandIsNotFound(t *testing.T) {
	m, _, _ := newTestAPI(t)
	body, _ := json.Marshal(map[string]any{"command_id": "cmd_missing", "status": "completed"})
	req := httptest.NewRequest(http.MethodPost, "/commands/report", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReport_IllegalTransitionFromCompletedIsConflict(t *testing.T) {
	m, commands, _ := newTestAPI(t)
	c := &command.Command{CommandID: "cmd_1", DeploymentHash: "h1", Status: command.StatusCompleted}
	require.NoError(t, commands.Insert(context.Background(), c))

	body, _ := json.Marshal(map[string]any{"command_id": "cmd_1", "status": "completed"})
	req := httptest.NewRequest(http.MethodPost, "/commands/report", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReport_LogsCommandPopulatesCache(t *testing.T) {
	m, commands, _ := newTestAPI(t)
	c := &command.Command{CommandID: "cmd_1", DeploymentHash: "h1", Type: command.TypeLogs, Status: command.StatusSent}
	require.NoError(t, commands.Insert(context.Background(), c))

	result, _ := json.Marshal(map[string]any{
		"lines": []map[string]any{
			{"timestamp": "2026-01-01T00:00:00Z", "level": "error", "message": "connection refused", "container": "web"},
		},
	})
	body, _ := json.Marshal(map[string]any{"command_id": "cmd_1", "status": "completed", "result": json.RawMessage(result)})
	req := httptest.NewRequest(http.MethodPost, "/commands/report", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/agents/deployments/h1/logs", nil)
	getRec := httptest.NewRecorder()
	m.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Contains(t, getRec.Body.String(), "connection refused")
}

func TestReport_LogsCommandRedactsKnownSecretValues(t *testing.T) {
	fakeSecrets := http.NewServeMux()
	fakeSecrets.HandleFunc("/v1/secret/h1/apps", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"keys":["web_env/"]}}`))
	})
	fakeSecrets.HandleFunc("/v1/secret/h1/apps/web_env/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"data":{"content":"A=1\nDB_PASSWORD=hunter2\n","content_type":"env","destination_path":"/x/web.env"}}}`))
	})
	srv := httptest.NewServer(fakeSecrets)
	defer srv.Close()

	m, commands, _ := newTestAPIWithSecrets(t, secretstore.New(srv.URL, "tok", "secret"))
	c := &command.Command{CommandID: "cmd_1", DeploymentHash: "h1", Type: command.TypeLogs, Status: command.StatusSent}
	require.NoError(t, commands.Insert(context.Background(), c))

	result, _ := json.Marshal(map[string]any{
		"lines": []map[string]any{
			{"timestamp": "2026-01-01T00:00:00Z", "level": "info", "message": "connecting with password hunter2", "container": "web"},
		},
	})
	body, _ := json.Marshal(map[string]any{"command_id": "cmd_1", "status": "completed", "result": json.RawMessage(result)})
	req := httptest.NewRequest(http.MethodPost, "/commands/report", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/agents/deployments/h1/logs", nil)
	getRec := httptest.NewRecorder()
	m.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.NotContains(t, getRec.Body.String(), "hunter2")
	assert.Contains(t, getRec.Body.String(), "********")
}

func TestReport_RunningThenCompleted(t *testing.T) {
	m, commands, _ := newTestAPI(t)
	c := &command.Command{CommandID: "cmd_1", DeploymentHash: "h1", Status: command.StatusSent}
	require.NoError(t, commands.Insert(context.Background(), c))

	body, _ := json.Marshal(map[string]any{"command_id": "cmd_1", "status": "running"})
	req := httptest.NewRequest(http.MethodPost, "/commands/report", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body2, _ := json.Marshal(map[string]any{"command_id": "cmd_1", "status": "completed", "result": map[string]any{"ok": true}})
	req2 := httptest.NewRequest(http.MethodPost, "/commands/report", bytes.NewReader(body2))
	rec2 := httptest.NewRecorder()
	m.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}
