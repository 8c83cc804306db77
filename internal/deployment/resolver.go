package deployment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/trydirect/deployctl/internal/cperrors"
)

// Info is the minimal resolution result, matching resolve_with_info in the spec.
type Info struct {
	Hash     string
	Status   string
	Domain   string
	ServerIP string
	Apps     []string
}

// Resolver resolves a caller-supplied Identifier into a deployment hash.
type Resolver interface {
	Resolve(ctx context.Context, id Identifier) (string, error)
	ResolveWithInfo(ctx context.Context, id Identifier) (Info, error)
}

// userProfileResponse is the subset of the user-profile service's installation
// payload the resolver cares about.
type userProfileResponse struct {
	DeploymentHash string   `json:"deployment_hash"`
	Status         string   `json:"status"`
	Domain         string   `json:"domain"`
	ServerIP       string   `json:"server_ip"`
	Apps           []string `json:"apps"`
}

// ExternalResolver resolves installation ids via the external user-profile service.
type ExternalResolver struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewExternalResolver builds an ExternalResolver with a sane default timeout
// (10s, matching the secret-store/user-service outbound budget in spec.md §6).
func NewExternalResolver(baseURL, token string) *ExternalResolver {
	return &ExternalResolver{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Resolve implements Resolver.
func (r *ExternalResolver) Resolve(ctx context.Context, id Identifier) (string, error) {
	if id.Kind() == KindHash {
		return id.HashValue(), nil
	}
	info, err := r.fetchInstallation(ctx, id.InstallationIDValue())
	if err != nil {
		return "", err
	}
	if info.DeploymentHash == "" {
		return "", cperrors.New(cperrors.CategoryNotFound, "NO_HASH", "installation has no deployment_hash")
	}
	return info.DeploymentHash, nil
}

// ResolveWithInfo implements Resolver.
func (r *ExternalResolver) ResolveWithInfo(ctx context.Context, id Identifier) (Info, error) {
	if id.Kind() == KindHash {
		return Info{Hash: id.HashValue(), Status: "unknown"}, nil
	}
	resp, err := r.fetchInstallation(ctx, id.InstallationIDValue())
	if err != nil {
		return Info{}, err
	}
	if resp.DeploymentHash == "" {
		return Info{}, cperrors.New(cperrors.CategoryNotFound, "NO_HASH", "installation has no deployment_hash")
	}
	return Info{
		Hash:     resp.DeploymentHash,
		Status:   resp.Status,
		Domain:   resp.Domain,
		ServerIP: resp.ServerIP,
		Apps:     resp.Apps,
	}, nil
}

func (r *ExternalResolver) fetchInstallation(ctx context.Context, id int64) (userProfileResponse, error) {
	url := fmt.Sprintf("%s/installations/%d", r.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return userProfileResponse{}, cperrors.Internal("failed to build installation request", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.Token)

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return userProfileResponse{}, cperrors.Upstream(cperrors.CodeUserServiceUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return userProfileResponse{}, cperrors.NotFound(cperrors.CodeDeploymentNotFound, "installation", fmt.Sprintf("%d", id))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return userProfileResponse{}, cperrors.Upstream(cperrors.CodeUserServiceUpstream,
			fmt.Errorf("user-profile service returned status %d", resp.StatusCode))
	}

	var parsed userProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return userProfileResponse{}, cperrors.Upstream(cperrors.CodeUserServiceUpstream, err)
	}
	return parsed, nil
}

// ErrNotSupported is returned by NativeOnlyResolver for installation ids.
var ErrNotSupported = cperrors.New(cperrors.CategoryValidation, "NOT_SUPPORTED", "installation-id resolution is not supported without a user service")

// NativeOnlyResolver only accepts native hash identifiers; used whenever no
// user-profile service is configured for the caller.
type NativeOnlyResolver struct{}

// Resolve implements Resolver.
func (NativeOnlyResolver) Resolve(_ context.Context, id Identifier) (string, error) {
	if id.Kind() == KindHash {
		return id.HashValue(), nil
	}
	return "", ErrNotSupported
}

// ResolveWithInfo implements Resolver.
func (NativeOnlyResolver) ResolveWithInfo(_ context.Context, id Identifier) (Info, error) {
	if id.Kind() == KindHash {
		return Info{Hash: id.HashValue(), Status: "unknown"}, nil
	}
	return Info{}, ErrNotSupported
}
