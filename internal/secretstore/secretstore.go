// Package secretstore is a typed client for the versioned hierarchical KV
// service that holds rendered configuration documents and agent tokens.
package secretstore

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

const defaultTimeout = 10 * time.Second

// Client talks to the secret store's KV v2-style HTTP API using an
// X-Vault-Token header for authentication.
type Client struct {
	baseURL string
	token   string
	prefix  string
	http    *http.Client
}

// New constructs a Client. prefix is the mount/prefix segment prepended to
// every path (e.g. "secret/data/deployctl").
func New(baseURL, token, prefix string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		prefix:  prefix,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// ErrNotFound is returned by Get when the path has no current value.
var ErrNotFound = cperrors.NotFound(cperrors.CodeSecretNotFound, "secret", "")

// AppConfig is the document schema stored at an app's config path.
type AppConfig struct {
	Content         string `json:"content"`
	ContentType     string `json:"content_type"`
	DestinationPath string `json:"destination_path"`
	FileMode        string `json:"file_mode"`
	Owner           string `json:"owner,omitempty"`
	Group           string `json:"group,omitempty"`
}

// AgentToken is the document schema stored at agent/{deployment_hash}.
type AgentToken struct {
	Token string `json:"token"`
}

// Get reads a document at path and decodes it into out. Returns ErrNotFound
// when the store has no current version at that path.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	raw, err := c.read(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return cperrors.Wrap(err, cperrors.CategoryInternal, cperrors.CodeInternal, "decode secret document")
	}
	return nil
}

// Put writes doc as the new version of the document at path.
func (c *Client) Put(ctx context.Context, path string, doc any) error {
	body, err := json.Marshal(map[string]any{"data": doc})
	if err != nil {
		return cperrors.Wrap(err, cperrors.CategoryInternal, cperrors.CodeInternal, "encode secret document")
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return cperrors.Wrap(err, cperrors.CategoryUpstream, cperrors.CodeSecretStoreUpstream, "secret store put failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return upstreamError(resp)
	}
	return nil
}

// Delete removes the document at path. Idempotent: a missing path is success.
func (c *Client) Delete(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return cperrors.Wrap(err, cperrors.CategoryUpstream, cperrors.CodeSecretStoreUpstream, "secret store delete failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return upstreamError(resp)
	}
	return nil
}

// List returns the child keys under path.
func (c *Client) List(ctx context.Context, path string) ([]string, error) {
	req, err := c.newRequest(ctx, "LIST", path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, cperrors.Wrap(err, cperrors.CategoryUpstream, cperrors.CodeSecretStoreUpstream, "secret store list failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, upstreamError(resp)
	}
	var parsed struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, cperrors.Wrap(err, cperrors.CategoryInternal, cperrors.CodeInternal, "decode secret list")
	}
	return parsed.Data.Keys, nil
}

func (c *Client) read(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, cperrors.Wrap(err, cperrors.CategoryUpstream, cperrors.CodeSecretStoreUpstream, "secret store get failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return nil, upstreamError(resp)
	}
	var parsed struct {
		Data struct {
			Data json.RawMessage `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, cperrors.Wrap(err, cperrors.CategoryInternal, cperrors.CodeInternal, "decode secret envelope")
	}
	return parsed.Data.Data, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := fmt.Sprintf("%s/v1/%s/%s", c.baseURL, c.prefix, path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, cperrors.Wrap(err, cperrors.CategoryInternal, cperrors.CodeInternal, "build secret store request")
	}
	req.Header.Set("X-Vault-Token", c.token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func upstreamError(resp *http.Response) error {
	preview := make([]byte, 256)
	n, _ := resp.Body.Read(preview)
	return cperrors.Newf(cperrors.CategoryUpstream, cperrors.CodeSecretStoreUpstream,
		"secret store returned %d: %s", resp.StatusCode, string(preview[:n]))
}

// AppConfigPath returns the path for an app's rendered .env document.
func AppConfigPath(deploymentHash, appCode string) string {
	return fmt.Sprintf("%s/apps/%s/config", deploymentHash, appCode)
}

// AppEnvPath returns the path for an app's .env document; the config
// renderer writes each app's rendered .env here.
func AppEnvPath(deploymentHash, appCode string) string {
	return fmt.Sprintf("%s/apps/%s_env/config", deploymentHash, appCode)
}

// AppConfigsPath returns the path for an app's auxiliary config-files array.
func AppConfigsPath(deploymentHash, appCode string) string {
	return fmt.Sprintf("%s/apps/%s_configs/config", deploymentHash, appCode)
}

// ComposePath returns the path for a deployment's rendered docker-compose document.
func ComposePath(deploymentHash string) string {
	return fmt.Sprintf("%s/apps/_compose/config", deploymentHash)
}

// AgentTokenPath returns the path for a deployment's agent bearer token.
func AgentTokenPath(deploymentHash string) string {
	return fmt.Sprintf("agent/%s", deploymentHash)
}
