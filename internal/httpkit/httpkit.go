// Package httpkit holds the small JSON request/response helpers shared by
// the router and agentapi REST surfaces.
package httpkit

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/cplog"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the shape every error response takes.
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WriteError maps err to an HTTP status via cperrors.StatusFor and writes a
// structured error body. Upstream/internal errors are logged; validation and
// not-found errors are not (per spec.md §7, never logged at error level).
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	status := cperrors.StatusFor(err)
	body := errorBody{Error: "request failed", Message: err.Error()}
	if cpErr, ok := cperrors.AsCPError(err); ok {
		body.Code = cpErr.Code
		body.Message = cpErr.Message
	}

	switch cperrors.GetCategory(err) {
	case cperrors.CategoryUpstream, cperrors.CategoryInternal, "":
		cplog.FromContext(ctx).Warn("request failed", "status", status, "error", err)
	}

	WriteJSON(w, status, body)
}

// LogPushFailure logs a best-effort dispatcher push failure without failing
// the request — the command remains queued for pull.
func LogPushFailure(ctx context.Context, err error) {
	cplog.FromContext(ctx).Warn("agent push failed, command remains queued for pull", "error", err)
}
