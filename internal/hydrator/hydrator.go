// Package hydrator produces a HydratedProjectApp view by overlaying
// secret-store contents onto a ProjectApp database row, per spec.md §4.4.
package hydrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/project"
	"github.com/trydirect/deployctl/internal/secretstore"
	"github.com/trydirect/deployctl/internal/template"
)

// HydratedProjectApp is an app record overlaid with secret-store contents,
// produced on read for presentation; it is never itself persisted.
type HydratedProjectApp struct {
	Code        string
	Name        string
	Image       string
	Environment map[string]string
	Networks    []string
	ConfigFiles []project.ConfigFile
}

// sensitiveSubstrings is the fixed, case-insensitive lexicon of env-key
// fragments that must never leave the process unredacted.
var sensitiveSubstrings = []string{
	"password", "secret", "token", "key", "apikey", "auth",
	"credential", "private", "cert", "ssl", "tls",
}

// IsSensitiveKey reports whether an env key fragment-matches the sensitive
// lexicon; shared with internal/agentapi, which uses it to choose which env
// values to mask out of cached log lines before they are stored.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveSubstrings {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

func redactEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if IsSensitiveKey(k) {
			out[k] = "[REDACTED]"
		} else {
			out[k] = v
		}
	}
	return out
}

// Hydrator overlays secret-store contents onto app rows.
type Hydrator struct {
	secrets *secretstore.Client
}

// New constructs a Hydrator.
func New(secrets *secretstore.Client) *Hydrator {
	return &Hydrator{secrets: secrets}
}

// Hydrate runs the overlay algorithm: start from the app row, default
// networks to the project's default network if empty, fetch the three
// secret-store entries when a deployment hash is known (missing entries are
// silently skipped, other errors propagate), parse the env entry if
// present, adopt the aux bundle if present, and append synthetic
// config-file entries for env/compose so downstream consumers see a
// uniform listing. Sensitive env keys are redacted before return.
func (h *Hydrator) Hydrate(ctx context.Context, p *project.Project, app *project.ProjectApp) (*HydratedProjectApp, error) {
	view := &HydratedProjectApp{
		Code:        app.Code,
		Name:        app.Name,
		Image:       app.Image,
		Environment: map[string]string{},
		Networks:    app.Networks,
		ConfigFiles: app.ConfigFiles,
	}
	if len(view.Networks) == 0 {
		view.Networks = []string{p.DefaultNetworkName()}
	}
	if view.ConfigFiles == nil {
		view.ConfigFiles = []project.ConfigFile{}
	}

	hash := p.DeploymentHash()
	if hash == "" {
		return view, nil
	}

	envCfg, err := h.fetchOptional(ctx, secretstore.AppEnvPath(hash, app.Code))
	if err != nil {
		return nil, err
	}
	composeCfg, err := h.fetchOptional(ctx, secretstore.AppConfigPath(hash, app.Code))
	if err != nil {
		return nil, err
	}
	auxCfg, err := h.fetchOptional(ctx, secretstore.AppConfigsPath(hash, app.Code))
	if err != nil {
		return nil, err
	}

	if envCfg != nil {
		vars := template.ParseRawEnvText(envCfg.Content)
		view.Environment = template.EnvMap(vars)
	}

	if auxCfg != nil {
		var files []project.ConfigFile
		if err := json.Unmarshal([]byte(auxCfg.Content), &files); err != nil {
			return nil, cperrors.Wrap(err, cperrors.CategoryInternal, cperrors.CodeInternal, "decode aux config bundle")
		}
		view.ConfigFiles = files
	}

	if envCfg != nil {
		view.ConfigFiles = append(view.ConfigFiles, project.ConfigFile{
			Content: envCfg.Content, ContentType: "env", DestinationPath: envCfg.DestinationPath,
		})
	}
	if composeCfg != nil {
		view.ConfigFiles = append(view.ConfigFiles, project.ConfigFile{
			Content: composeCfg.Content, ContentType: "yaml", DestinationPath: composeCfg.DestinationPath,
		})
	}

	view.Environment = redactEnv(view.Environment)
	return view, nil
}

// fetchOptional fetches path, returning (nil, nil) on NotFound.
func (h *Hydrator) fetchOptional(ctx context.Context, path string) (*secretstore.AppConfig, error) {
	var cfg secretstore.AppConfig
	err := h.secrets.Get(ctx, path, &cfg)
	if err == nil {
		return &cfg, nil
	}
	if cperrors.GetCategory(err) == cperrors.CategoryNotFound {
		return nil, nil
	}
	return nil, err
}
