// Package project holds the Project and ProjectApp aggregates plus the
// supporting Server and CloudCredential records; the orchestrator reads
// CloudCredential.
package project

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Project is a user-owned aggregate: servers, deployments, and apps all hang off it.
type Project struct {
	ID          int64           `json:"id"`
	StackID     string          `json:"stack_id"` // generated uuid
	UserID      int64           `json:"user_id"`
	Name        string          `json:"name"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	RequestJSON json.RawMessage `json:"request_json,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// requestReport is the shape of request_json.report that the hydrator and
// orchestrator read deployment_hash from.
type requestReport struct {
	Report struct {
		DeploymentHash string `json:"deployment_hash"`
	} `json:"report"`
}

// DeploymentHash extracts request_json.report.deployment_hash, returning ""
// when the field is absent or request_json is empty/invalid.
func (p *Project) DeploymentHash() string {
	if len(p.RequestJSON) == 0 {
		return ""
	}
	var parsed requestReport
	if err := json.Unmarshal(p.RequestJSON, &parsed); err != nil {
		return ""
	}
	return parsed.Report.DeploymentHash
}

// metadataView is the subset of Project.Metadata the renderer reads.
type metadataView struct {
	DefaultNetwork string `json:"default_network"`
}

// DefaultNetworkName returns the project's default compose network name,
// falling back to "trydirect_network" when metadata doesn't specify one.
func (p *Project) DefaultNetworkName() string {
	const fallback = "trydirect_network"
	if len(p.Metadata) == 0 {
		return fallback
	}
	var parsed metadataView
	if err := json.Unmarshal(p.Metadata, &parsed); err != nil || parsed.DefaultNetwork == "" {
		return fallback
	}
	return parsed.DefaultNetwork
}

// slugPattern validates app codes: non-empty, [A-Za-z0-9_-]+.
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// IsValidSlug reports whether code is a non-empty, slug-valid app code.
func IsValidSlug(code string) bool {
	return code != "" && slugPattern.MatchString(code)
}

// Server is a physical/virtual host one of a project's deployments runs on.
type Server struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	UserID    int64  `json:"user_id"`
	Provider  string `json:"provider"`
	Region    string `json:"region"`
	IP        string `json:"ip"`
	Status    string `json:"status"`
}

// CloudCredential records which cloud provider a project's deployment targets;
// the orchestrator inspects Provider to pick the MQ routing key.
type CloudCredential struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Provider  string `json:"provider"`
}

// RoutingProvider returns "own" when the credential's provider string contains
// "own", else "tfa" — per spec.md §6's MQ routing-key rule.
func (c *CloudCredential) RoutingProvider() string {
	if c != nil && strings.Contains(strings.ToLower(c.Provider), "own") {
		return "own"
	}
	return "tfa"
}
