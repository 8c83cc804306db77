// Package configrender is the deterministic transform from a project's app
// records into a ConfigBundle, plus its write-through sync to the secret store.
package configrender

import (
	"context"
	"fmt"

	"github.com/trydirect/deployctl/internal/project"
	"github.com/trydirect/deployctl/internal/secretstore"
	"github.com/trydirect/deployctl/internal/template"
)

// ConfigBundle is the in-memory rendering artifact for one deployment.
type ConfigBundle struct {
	DeploymentHash string
	Version        uint64
	ComposeContent string
	AppConfigs     map[string]secretstore.AppConfig // keyed by app code
}

// Renderer renders ConfigBundles and syncs them to the secret store.
type Renderer struct {
	store      *secretstore.Client
	deployBase string // default "/home/trydirect"
}

// New constructs a Renderer. deployBase is the root of per-deployment
// directories the agent materializes files under.
func New(store *secretstore.Client, deployBase string) *Renderer {
	if deployBase == "" {
		deployBase = "/home/trydirect"
	}
	return &Renderer{store: store, deployBase: deployBase}
}

func (r *Renderer) deployDir(deploymentHash string) string {
	return fmt.Sprintf("%s/%s", r.deployBase, deploymentHash)
}

// RenderBundle renders the docker-compose document and per-app .env files
// for every enabled app. Rendering is pure: identical inputs produce
// identical output, with no timestamps embedded.
func (r *Renderer) RenderBundle(p *project.Project, apps []*project.ProjectApp, deploymentHash string) (*ConfigBundle, error) {
	composeContent, err := template.RenderCompose(p, apps)
	if err != nil {
		return nil, fmt.Errorf("render compose: %w", err)
	}

	appConfigs := make(map[string]secretstore.AppConfig)
	for _, a := range apps {
		if !a.Enabled {
			continue
		}
		envContent, err := r.renderEnvFile(a)
		if err != nil {
			return nil, fmt.Errorf("render env for app %s: %w", a.Code, err)
		}
		appConfigs[a.Code] = secretstore.AppConfig{
			Content:         envContent,
			ContentType:     "env",
			DestinationPath: fmt.Sprintf("%s/%s.env", r.deployDir(deploymentHash), a.Code),
			FileMode:        "0640",
			Owner:           "trydirect",
			Group:           "docker",
		}
	}

	return &ConfigBundle{
		DeploymentHash: deploymentHash,
		Version:        1,
		ComposeContent: composeContent,
		AppConfigs:     appConfigs,
	}, nil
}

func (r *Renderer) renderEnvFile(a *project.ProjectApp) (string, error) {
	vars, err := template.ParseEnv(a.Environment)
	if err != nil {
		return "", err
	}
	return template.RenderEnv(vars), nil
}

// SyncResult is the outcome of a bulk sync_to_vault call.
type SyncResult struct {
	Synced  []string
	Failed  []FailedSync
	Version uint64
}

// FailedSync records one key's sync failure reason.
type FailedSync struct {
	Key    string
	Reason string
}

// Success reports whether every key synced; partial success is not rolled back.
func (r *SyncResult) Success() bool {
	return len(r.Failed) == 0
}

// SyncToVault writes every app's .env under "{app_code}_env" and the compose
// document under "_compose". Partial failure is not rolled back: callers are
// expected to inspect Failed and retry.
func (r *Renderer) SyncToVault(ctx context.Context, bundle *ConfigBundle) (*SyncResult, error) {
	result := &SyncResult{Version: bundle.Version}

	composeConfig := secretstore.AppConfig{
		Content:         bundle.ComposeContent,
		ContentType:     "yaml",
		DestinationPath: fmt.Sprintf("%s/docker-compose.yml", r.deployDir(bundle.DeploymentHash)),
		FileMode:        "0644",
		Owner:           "trydirect",
		Group:           "docker",
	}
	if err := r.store.Put(ctx, secretstore.ComposePath(bundle.DeploymentHash), composeConfig); err != nil {
		result.Failed = append(result.Failed, FailedSync{Key: "_compose", Reason: err.Error()})
	} else {
		result.Synced = append(result.Synced, "_compose")
	}

	for code, cfg := range bundle.AppConfigs {
		key := code + "_env"
		if err := r.store.Put(ctx, secretstore.AppEnvPath(bundle.DeploymentHash, code), cfg); err != nil {
			result.Failed = append(result.Failed, FailedSync{Key: key, Reason: err.Error()})
			continue
		}
		result.Synced = append(result.Synced, key)
	}

	return result, nil
}

// SyncAppToVault renders and writes a single app's .env — used by the
// app-config service on every persisted mutation.
func (r *Renderer) SyncAppToVault(ctx context.Context, a *project.ProjectApp, deploymentHash string) error {
	envContent, err := r.renderEnvFile(a)
	if err != nil {
		return fmt.Errorf("render env for app %s: %w", a.Code, err)
	}
	cfg := secretstore.AppConfig{
		Content:         envContent,
		ContentType:     "env",
		DestinationPath: fmt.Sprintf("%s/%s.env", r.deployDir(deploymentHash), a.Code),
		FileMode:        "0640",
		Owner:           "trydirect",
		Group:           "docker",
	}
	return r.store.Put(ctx, secretstore.AppEnvPath(deploymentHash, a.Code), cfg)
}
