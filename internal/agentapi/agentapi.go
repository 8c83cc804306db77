// Package agentapi is the REST surface consumed by agents: a long-poll
// wait endpoint and a report endpoint, both authenticated via internal/auth.
package agentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/trydirect/deployctl/internal/auth"
	"github.com/trydirect/deployctl/internal/command"
	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/httpkit"
	"github.com/trydirect/deployctl/internal/hydrator"
	"github.com/trydirect/deployctl/internal/logcache"
	"github.com/trydirect/deployctl/internal/queue"
	"github.com/trydirect/deployctl/internal/secretstore"
	"github.com/trydirect/deployctl/internal/template"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultWaitDeadline = 25 * time.Second
)

// Dequeuer is the subset of queue.Store the wait endpoint needs: atomic
// fetch-and-remove of a deployment's head entry.
type Dequeuer interface {
	FetchAndRemove(ctx context.Context, deploymentHash string) (*queue.Entry, error)
}

// API wires the command store, queue, and agent auth adapter.
type API struct {
	commands command.Store
	queues   Dequeuer
	auth     *auth.Adapter
	logs     *logcache.Cache
	secrets  *secretstore.Client
}

// New constructs an API. logs may be nil, in which case log-type command
// reports are stored on the command row only, never cached. secrets may be
// nil, in which case cached log lines are stored unredacted.
func New(commands command.Store, queues Dequeuer, authAdapter *auth.Adapter, logs *logcache.Cache, secrets *secretstore.Client) *API {
	return &API{commands: commands, queues: queues, auth: authAdapter, logs: logs, secrets: secrets}
}

// Register attaches the agent-facing routes to m.
func (a *API) Register(m *mux.Router) {
	m.HandleFunc("/commands/wait", a.wait).Methods(http.MethodGet)
	m.HandleFunc("/commands/report", a.report).Methods(http.MethodPost)
	m.HandleFunc("/agents/deployments/{hash}/logs", a.readLogs).Methods(http.MethodGet)
}

// wait long-polls up to defaultWaitDeadline until fetch_next_for_deployment
// yields a command; dequeue is transactional — the entry is removed in the
// same call that serves it, so cancellation mid-wait loses nothing.
func (a *API) wait(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hash := r.URL.Query().Get("deployment_hash")
	if hash == "" {
		httpkit.WriteError(ctx, w, cperrors.Validation("deployment_hash is required"))
		return
	}

	ctx, err := a.authenticate(ctx, r, hash)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}

	deadline := time.Now().Add(defaultWaitDeadline)
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		entry, err := a.queues.FetchAndRemove(ctx, hash)
		if err != nil {
			httpkit.WriteError(ctx, w, err)
			return
		}
		if entry != nil {
			c, err := a.commands.UpdateStatus(ctx, entry.CommandID, command.StatusQueued, command.StatusSent)
			if err != nil {
				httpkit.WriteError(ctx, w, err)
				return
			}
			httpkit.WriteJSON(w, http.StatusOK, c)
			return
		}
		if time.Now().After(deadline) {
			httpkit.WriteJSON(w, http.StatusNoContent, nil)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type reportRequest struct {
	CommandID string          `json:"command_id"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// report accepts a command completion/failure and validates the transition
// (from sent or running). Unrecognized command ids return 404; illegal
// transitions return 409.
func (a *API) report(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpkit.WriteError(ctx, w, cperrors.Validation("malformed report body"))
		return
	}

	existing, err := a.commands.Get(ctx, "", req.CommandID)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}

	ctx, err = a.authenticate(ctx, r, existing.DeploymentHash)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}

	status := command.Status(req.Status)
	if status == command.StatusRunning && existing.Status == command.StatusSent {
		c, err := a.commands.UpdateStatus(ctx, req.CommandID, command.StatusSent, command.StatusRunning)
		if err != nil {
			httpkit.WriteError(ctx, w, err)
			return
		}
		httpkit.WriteJSON(w, http.StatusOK, c)
		return
	}

	c, err := a.commands.UpdateResult(ctx, req.CommandID, req.Result, req.Error, status)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}

	if a.logs != nil && c.Type == command.TypeLogs && status == command.StatusCompleted {
		a.cacheLogLines(ctx, c.DeploymentHash, req.Result)
	}

	httpkit.WriteJSON(w, http.StatusOK, c)
}

// logLineReport is the shape of a "logs" command's successful result.
type logLineReport struct {
	Lines []struct {
		Timestamp time.Time `json:"timestamp"`
		Level     string    `json:"level"`
		Message   string    `json:"message"`
		Container string    `json:"container"`
	} `json:"lines"`
}

// cacheLogLines best-effort parses a logs-command result and appends every
// line to the cache, redacted against the deployment's known secret-like
// env values; a malformed result is dropped silently since the cache is a
// performance artifact, never the system of record (spec.md §4.9).
func (a *API) cacheLogLines(ctx context.Context, deploymentHash string, result json.RawMessage) {
	var report logLineReport
	if err := json.Unmarshal(result, &report); err != nil {
		return
	}
	redactor := a.resolveRedactor(ctx, deploymentHash)
	for _, l := range report.Lines {
		entry := logcache.Entry{Timestamp: l.Timestamp, Level: l.Level, Message: l.Message, Container: l.Container}
		a.logs.AppendRedacted(deploymentHash, "", entry, redactor) // bare key: the combined, all-container view Summarize reads
		if l.Container != "" {
			a.logs.AppendRedacted(deploymentHash, l.Container, entry, redactor)
		}
	}
}

// resolveRedactor lists the deployment's apps in the secret store and builds
// a Redactor over every sensitive-looking environment value found across
// them, using the same lexicon internal/hydrator redacts hydrated app views
// with. Any failure (no secret store configured, nothing listed, transient
// upstream error) yields a nil Redactor, which AppendRedacted treats as a
// pass-through — a best-effort redaction never blocks log caching.
func (a *API) resolveRedactor(ctx context.Context, deploymentHash string) *logcache.Redactor {
	if a.secrets == nil {
		return nil
	}
	keys, err := a.secrets.List(ctx, deploymentHash+"/apps")
	if err != nil || len(keys) == 0 {
		return nil
	}

	values := make(map[string]string)
	for _, k := range keys {
		code := strings.TrimSuffix(strings.TrimSuffix(k, "/"), "_env")
		if code == strings.TrimSuffix(k, "/") {
			continue // not an "<code>_env" entry
		}
		var cfg secretstore.AppConfig
		if err := a.secrets.Get(ctx, secretstore.AppEnvPath(deploymentHash, code), &cfg); err != nil {
			continue
		}
		for _, v := range template.ParseRawEnvText(cfg.Content) {
			if v.Value != "" && hydrator.IsSensitiveKey(v.Key) {
				values[v.Key] = v.Value
			}
		}
	}
	if len(values) == 0 {
		return nil
	}
	return logcache.NewRedactor(values)
}

// readLogs serves cached log lines for a deployment, newest-first with
// cursor-based pagination, plus the fixed-lexicon summary.
func (a *API) readLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hash := mux.Vars(r)["hash"]

	ctx, err := a.authenticate(ctx, r, hash)
	if err != nil {
		httpkit.WriteError(ctx, w, err)
		return
	}

	container := r.URL.Query().Get("container")
	cursor := atoiOr(r.URL.Query().Get("cursor"), 0)
	limit := atoiOr(r.URL.Query().Get("limit"), 100)

	if a.logs == nil {
		httpkit.WriteJSON(w, http.StatusOK, logcache.Page{})
		return
	}
	page := a.logs.Read(hash, container, cursor, limit)
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"page":    page,
		"summary": a.logs.Summarize(hash),
	})
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func (a *API) authenticate(ctx context.Context, r *http.Request, hash string) (context.Context, error) {
	if a.auth == nil {
		return ctx, nil
	}
	return a.auth.Authenticate(ctx, r, hash)
}
