package project

import (
	"encoding/json"
	"time"

	"github.com/trydirect/deployctl/internal/cperrors"
)

// PortMapping is one host:container port entry. Both "host:container" and
// "host:container/proto" input forms are accepted (see ParsePortMapping).
type PortMapping struct {
	Host      int    `json:"host"`
	Container int    `json:"container"`
	Protocol  string `json:"protocol,omitempty"` // "", "tcp" or "udp"
}

// VolumeMount is one source:target volume entry, optionally read-only.
type VolumeMount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// Resources carries optional CPU/memory constraints, rendered under
// deploy.resources in the compose document.
type Resources struct {
	CPULimit      string `json:"cpu_limit,omitempty"`
	MemoryLimit   string `json:"memory_limit,omitempty"`
	CPUReserved   string `json:"cpu_reserved,omitempty"`
	MemReserved   string `json:"memory_reserved,omitempty"`
}

// Healthcheck mirrors the compose healthcheck block.
type Healthcheck struct {
	Test     []string `json:"test,omitempty"`
	Interval string   `json:"interval,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
	Retries  int      `json:"retries,omitempty"`
}

// ConfigFile is one auxiliary config file entry for an app.
type ConfigFile struct {
	Content         string `json:"content"`
	ContentType     string `json:"content_type"`
	DestinationPath string `json:"destination_path"`
	FileMode        string `json:"file_mode"`
	Owner           string `json:"owner,omitempty"`
	Group           string `json:"group,omitempty"`
}

// ProjectApp is a container specification within a project, keyed by (project_id, code).
type ProjectApp struct {
	ID            int64           `json:"id"`
	ProjectID     int64           `json:"project_id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Image         string          `json:"image"`
	Environment   json.RawMessage `json:"environment,omitempty"` // JSON object or array
	Ports         []PortMapping   `json:"ports,omitempty"`
	Volumes       []VolumeMount   `json:"volumes,omitempty"`
	Domain        string          `json:"domain,omitempty"`
	SSL           bool            `json:"ssl,omitempty"`
	Resources     *Resources      `json:"resources,omitempty"`
	RestartPolicy string          `json:"restart_policy,omitempty"`
	Command       string          `json:"command,omitempty"`
	Entrypoint    string          `json:"entrypoint,omitempty"`
	Networks      []string        `json:"networks,omitempty"`
	DependsOn     []string        `json:"depends_on,omitempty"`
	Healthcheck   *Healthcheck    `json:"healthcheck,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	ConfigFiles   []ConfigFile    `json:"config_files,omitempty"`
	Enabled       bool            `json:"enabled"`
	DeployOrder   int             `json:"deploy_order"`
	ParentAppCode string          `json:"parent_app_code,omitempty"`

	ConfigVersion  int64      `json:"config_version"`
	VaultSyncedAt  *time.Time `json:"vault_synced_at,omitempty"`
	ConfigHash     string     `json:"config_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate enforces the invariants spec.md §3 places on an app: code
// non-empty and slug-valid, name non-empty, image non-empty when enabled.
func (a *ProjectApp) Validate() error {
	if !IsValidSlug(a.Code) {
		return cperrors.Validationf("app code %q is not a valid slug", a.Code)
	}
	if a.Name == "" {
		return cperrors.Validation("app name must not be empty")
	}
	if a.Enabled && a.Image == "" {
		return cperrors.Validation("app image must not be empty when enabled")
	}
	return nil
}
