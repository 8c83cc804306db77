package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/project"
)

// AppConfigStore is the Postgres-backed appconfig.Store implementation. The
// bulk of ProjectApp (ports, volumes, healthcheck, labels, config files...)
// is stored as a single JSONB payload column; id/project_id/code/version/
// timestamps get real columns since those are what queries filter and sort
// on.
type AppConfigStore struct {
	s *Store
}

// AppConfigs returns the appconfig.Store view of this Store.
func (s *Store) AppConfigs() *AppConfigStore { return &AppConfigStore{s: s} }

func (a *AppConfigStore) Get(ctx context.Context, id int64) (*project.ProjectApp, error) {
	row := a.s.pool.QueryRow(ctx, `SELECT payload FROM project_apps WHERE id = $1`, id)
	return scanProjectApp(row)
}

func (a *AppConfigStore) GetByCode(ctx context.Context, projectID int64, code string) (*project.ProjectApp, error) {
	row := a.s.pool.QueryRow(ctx, `SELECT payload FROM project_apps WHERE project_id = $1 AND code = $2`, projectID, code)
	app, err := scanProjectApp(row)
	if err != nil {
		if cperrors.GetCategory(err) == cperrors.CategoryNotFound {
			return nil, cperrors.NotFound(cperrors.CodeAppNotFound, "app", code)
		}
		return nil, err
	}
	return app, nil
}

func (a *AppConfigStore) ListByProject(ctx context.Context, projectID int64) ([]*project.ProjectApp, error) {
	rows, err := a.s.pool.Query(ctx, `
		SELECT payload FROM project_apps WHERE project_id = $1
		ORDER BY (payload->>'deploy_order')::int, code
	`, projectID)
	if err != nil {
		return nil, cperrors.Internal("list project apps", err)
	}
	defer rows.Close()

	var out []*project.ProjectApp
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, cperrors.Internal("scan project app", err)
		}
		var app project.ProjectApp
		if err := json.Unmarshal(raw, &app); err != nil {
			return nil, cperrors.Internal("decode project app payload", err)
		}
		out = append(out, &app)
	}
	return out, rows.Err()
}

func (a *AppConfigStore) Insert(ctx context.Context, app *project.ProjectApp) error {
	now := time.Now()
	app.CreatedAt, app.UpdatedAt = now, now
	payload, err := json.Marshal(app)
	if err != nil {
		return cperrors.Internal("encode project app payload", err)
	}
	row := a.s.pool.QueryRow(ctx, `
		INSERT INTO project_apps (project_id, code, config_version, created_at, updated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, app.ProjectID, app.Code, app.ConfigVersion, app.CreatedAt, app.UpdatedAt, payload)
	if err := row.Scan(&app.ID); err != nil {
		if isUniqueViolation(err) {
			return cperrors.Conflict(cperrors.CodeAppCodeTaken, "app code already exists for this project")
		}
		return cperrors.Internal("insert project app", err)
	}
	return nil
}

func (a *AppConfigStore) Update(ctx context.Context, app *project.ProjectApp) error {
	payload, err := json.Marshal(app)
	if err != nil {
		return cperrors.Internal("encode project app payload", err)
	}
	tag, err := a.s.pool.Exec(ctx, `
		UPDATE project_apps SET config_version = $1, updated_at = $2, payload = $3
		WHERE id = $4
	`, app.ConfigVersion, app.UpdatedAt, payload, app.ID)
	if err != nil {
		return cperrors.Internal("update project app", err)
	}
	if tag.RowsAffected() == 0 {
		return cperrors.NotFound(cperrors.CodeAppNotFound, "app", "")
	}
	return nil
}

func (a *AppConfigStore) Delete(ctx context.Context, id int64) error {
	if _, err := a.s.pool.Exec(ctx, `DELETE FROM project_apps WHERE id = $1`, id); err != nil {
		return cperrors.Internal("delete project app", err)
	}
	return nil
}

func scanProjectApp(row pgx.Row) (*project.ProjectApp, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cperrors.NotFound(cperrors.CodeAppNotFound, "app", "")
		}
		return nil, cperrors.Internal("get project app", err)
	}
	var app project.ProjectApp
	if err := json.Unmarshal(raw, &app); err != nil {
		return nil, cperrors.Internal("decode project app payload", err)
	}
	return &app, nil
}
