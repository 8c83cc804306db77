// Package agentclient is a typed, bearer-authenticated HTTP client for the
// per-deployment agent's command endpoints.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trydirect/deployctl/internal/cperrors"
)

const defaultTimeout = 30 * time.Second

// Client is a per-call bearer-authenticated client against one agent's base URL.
type Client struct {
	BaseURL string
	Token   string
	http    *http.Client
}

// New constructs a Client bound to one agent base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token, http: &http.Client{Timeout: defaultTimeout}}
}

// EnqueuePayload is the body posted to {base}/commands/enqueue.
type EnqueuePayload struct {
	CommandID  string          `json:"command_id"`
	Type       string          `json:"type"`
	Priority   string          `json:"priority"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ReportPayload is the body posted to {base}/commands/report.
type ReportPayload struct {
	CommandID string          `json:"command_id"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// Enqueue pushes a command to the agent's enqueue endpoint.
func (c *Client) Enqueue(ctx context.Context, payload EnqueuePayload) error {
	return c.postJSON(ctx, "/commands/enqueue", payload, nil)
}

// Execute pushes a command directly to the agent's execute endpoint.
func (c *Client) Execute(ctx context.Context, payload EnqueuePayload) error {
	return c.postJSON(ctx, "/commands/execute", payload, nil)
}

// Report forwards a completion report on the agent's behalf (used by tooling
// that proxies agent results, not by the agent itself).
func (c *Client) Report(ctx context.Context, payload ReportPayload) error {
	return c.postJSON(ctx, "/commands/report", payload, nil)
}

// Wait performs a long-poll against {base}/commands/wait and streams the raw
// response body back to the caller via w, returning once the agent responds
// or ctx is done.
func (c *Client) Wait(ctx context.Context, deploymentHash string, w io.Writer) error {
	url := fmt.Sprintf("%s/commands/wait?deployment_hash=%s", c.BaseURL, deploymentHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cperrors.Wrap(err, cperrors.CategoryInternal, cperrors.CodeInternal, "build wait request")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return cperrors.Wrap(err, cperrors.CategoryUpstream, cperrors.CodeAgentUpstream, "agent wait transport failure")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return upstreamError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return cperrors.Wrap(err, cperrors.CategoryUpstream, cperrors.CodeAgentUpstream, "agent wait stream failure")
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return cperrors.Wrap(err, cperrors.CategoryInternal, cperrors.CodeInternal, "encode agent request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return cperrors.Wrap(err, cperrors.CategoryInternal, cperrors.CodeInternal, "build agent request")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return cperrors.Wrap(err, cperrors.CategoryUpstream, cperrors.CodeAgentUpstream, "agent call transport failure")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return upstreamError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func upstreamError(resp *http.Response) error {
	preview := make([]byte, 256)
	n, _ := resp.Body.Read(preview)
	return cperrors.Newf(cperrors.CategoryUpstream, cperrors.CodeAgentUpstream,
		"agent returned %d: %s", resp.StatusCode, string(preview[:n]))
}
