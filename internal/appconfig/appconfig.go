// Package appconfig is the CRUD service over ProjectApp records: it
// validates, persists, and triggers incremental secret-store sync.
package appconfig

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trydirect/deployctl/internal/configrender"
	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/project"
	"github.com/trydirect/deployctl/internal/secretstore"
)

// Store is the ProjectApp persistence contract.
type Store interface {
	Get(ctx context.Context, id int64) (*project.ProjectApp, error)
	GetByCode(ctx context.Context, projectID int64, code string) (*project.ProjectApp, error)
	ListByProject(ctx context.Context, projectID int64) ([]*project.ProjectApp, error)
	Insert(ctx context.Context, a *project.ProjectApp) error
	Update(ctx context.Context, a *project.ProjectApp) error
	Delete(ctx context.Context, id int64) error
}

// Service implements spec.md §4.3's operations.
type Service struct {
	store    Store
	renderer *configrender.Renderer
	secrets  *secretstore.Client
	log      *slog.Logger
}

// New constructs a Service.
func New(store Store, renderer *configrender.Renderer, secrets *secretstore.Client, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, renderer: renderer, secrets: secrets, log: log}
}

// Get fetches an app by id; NotFound if absent.
func (s *Service) Get(ctx context.Context, id int64) (*project.ProjectApp, error) {
	return s.store.Get(ctx, id)
}

// GetByCode fetches an app by (project_id, code); NotFound if absent.
func (s *Service) GetByCode(ctx context.Context, projectID int64, code string) (*project.ProjectApp, error) {
	return s.store.GetByCode(ctx, projectID, code)
}

// ListByProject returns all of a project's apps; empty slice if none.
func (s *Service) ListByProject(ctx context.Context, projectID int64) ([]*project.ProjectApp, error) {
	apps, err := s.store.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if apps == nil {
		apps = []*project.ProjectApp{}
	}
	return apps, nil
}

// Create validates, inserts, and attempts a single-app sync. Sync failure
// logs a warning but still returns the inserted row.
func (s *Service) Create(ctx context.Context, a *project.ProjectApp, p *project.Project, deploymentHash string) (*project.ProjectApp, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	a.ConfigVersion = 1

	if err := s.store.Insert(ctx, a); err != nil {
		return nil, err
	}
	s.bestEffortSync(ctx, a, deploymentHash)
	return a, nil
}

// Update validates and persists, preserving created_at and bumping
// updated_at/config_version. Sync failure logs a warning but still succeeds.
func (s *Service) Update(ctx context.Context, a *project.ProjectApp, p *project.Project, deploymentHash string) (*project.ProjectApp, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.store.Get(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now()
	a.ConfigVersion = existing.ConfigVersion + 1

	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	s.bestEffortSync(ctx, a, deploymentHash)
	return a, nil
}

// Upsert checks existence on (project_id, code): creates when absent,
// otherwise merges the incoming partial record onto the existing row.
func (s *Service) Upsert(ctx context.Context, a *project.ProjectApp, p *project.Project, deploymentHash string) (*project.ProjectApp, error) {
	existing, err := s.store.GetByCode(ctx, a.ProjectID, a.Code)
	if err != nil {
		if cperrors.GetCategory(err) == cperrors.CategoryNotFound {
			return s.Create(ctx, a, p, deploymentHash)
		}
		return nil, err
	}
	merged := mergeApp(existing, a)
	return s.Update(ctx, merged, p, deploymentHash)
}

// mergeApp implements the "deploy-app" merge semantics: string fields fall
// back to existing when incoming is empty; code and project_id are
// immutable; created_at preserved (Update re-derives updated_at/version).
func mergeApp(existing, incoming *project.ProjectApp) *project.ProjectApp {
	merged := *existing

	merged.ID = existing.ID
	merged.ProjectID = existing.ProjectID
	merged.Code = existing.Code

	if incoming.Name != "" {
		merged.Name = incoming.Name
	}
	if incoming.Image != "" {
		merged.Image = incoming.Image
	}
	if len(incoming.Environment) > 0 {
		merged.Environment = incoming.Environment
	}
	if incoming.Ports != nil {
		merged.Ports = incoming.Ports
	}
	if incoming.Volumes != nil {
		merged.Volumes = incoming.Volumes
	}
	if incoming.Domain != "" {
		merged.Domain = incoming.Domain
	}
	if incoming.Resources != nil {
		merged.Resources = incoming.Resources
	}
	if incoming.RestartPolicy != "" {
		merged.RestartPolicy = incoming.RestartPolicy
	}
	if incoming.Command != "" {
		merged.Command = incoming.Command
	}
	if incoming.Entrypoint != "" {
		merged.Entrypoint = incoming.Entrypoint
	}
	if incoming.Networks != nil {
		merged.Networks = incoming.Networks
	}
	if incoming.DependsOn != nil {
		merged.DependsOn = incoming.DependsOn
	}
	if incoming.Healthcheck != nil {
		merged.Healthcheck = incoming.Healthcheck
	}
	if incoming.Labels != nil {
		merged.Labels = incoming.Labels
	}
	if incoming.ConfigFiles != nil {
		merged.ConfigFiles = incoming.ConfigFiles
	}
	merged.Enabled = incoming.Enabled
	merged.DeployOrder = incoming.DeployOrder
	if incoming.ParentAppCode != "" {
		merged.ParentAppCode = incoming.ParentAppCode
	}
	merged.SSL = incoming.SSL

	return &merged
}

// Delete fetches to learn the code, deletes the row, and best-effort deletes
// the two secret-store paths associated with the app.
func (s *Service) Delete(ctx context.Context, id int64, deploymentHash string) error {
	app, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if deploymentHash != "" {
		if err := s.secrets.Delete(ctx, secretstore.AppEnvPath(deploymentHash, app.Code)); err != nil {
			s.log.Warn("best-effort secret delete failed", "path", "env", "app_code", app.Code, "error", err)
		}
		if err := s.secrets.Delete(ctx, secretstore.AppConfigsPath(deploymentHash, app.Code)); err != nil {
			s.log.Warn("best-effort secret delete failed", "path", "configs", "app_code", app.Code, "error", err)
		}
	}
	return nil
}

// PreviewBundle renders without writing.
func (s *Service) PreviewBundle(p *project.Project, apps []*project.ProjectApp, deploymentHash string) (*configrender.ConfigBundle, error) {
	return s.renderer.RenderBundle(p, apps, deploymentHash)
}

// SyncAllToVault fetches a project's apps, renders a bundle, and syncs it.
func (s *Service) SyncAllToVault(ctx context.Context, p *project.Project, deploymentHash string) (*configrender.SyncResult, error) {
	apps, err := s.ListByProject(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	bundle, err := s.renderer.RenderBundle(p, apps, deploymentHash)
	if err != nil {
		return nil, err
	}
	return s.renderer.SyncToVault(ctx, bundle)
}

func (s *Service) bestEffortSync(ctx context.Context, a *project.ProjectApp, deploymentHash string) {
	if deploymentHash == "" {
		return
	}
	if err := s.renderer.SyncAppToVault(ctx, a, deploymentHash); err != nil {
		s.log.Warn("single-app vault sync failed", "app_code", a.Code, "error", err)
	}
}

// MemStore is an in-memory Store keyed by (project_id, code) and id, used by
// tests and local development.
type MemStore struct {
	mu     sync.Mutex
	byID   map[int64]*project.ProjectApp
	nextID int64
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[int64]*project.ProjectApp)}
}

func (m *MemStore) Get(ctx context.Context, id int64) (*project.ProjectApp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, cperrors.NotFound(cperrors.CodeAppNotFound, "app", "")
	}
	clone := *a
	return &clone, nil
}

func (m *MemStore) GetByCode(ctx context.Context, projectID int64, code string) (*project.ProjectApp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.ProjectID == projectID && a.Code == code {
			clone := *a
			return &clone, nil
		}
	}
	return nil, cperrors.NotFound(cperrors.CodeAppNotFound, "app", code)
}

func (m *MemStore) ListByProject(ctx context.Context, projectID int64) ([]*project.ProjectApp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*project.ProjectApp
	for _, a := range m.byID {
		if a.ProjectID == projectID {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MemStore) Insert(ctx context.Context, a *project.ProjectApp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	clone := *a
	m.byID[a.ID] = &clone
	return nil
}

func (m *MemStore) Update(ctx context.Context, a *project.ProjectApp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[a.ID]; !ok {
		return cperrors.NotFound(cperrors.CodeAppNotFound, "app", "")
	}
	clone := *a
	m.byID[a.ID] = &clone
	return nil
}

func (m *MemStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}
