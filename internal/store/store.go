// Package store implements Postgres-backed repositories for the entities in
// internal/domain, one repository per aggregate root, each holding a
// *pgxpool.Pool and using pgx.Tx for the transactional boundaries spec.md
// §4.4 and §5 require. Grounded on the teacher's connector/external
// separation (a narrow collaborator per concern, injected rather than
// constructed ad hoc) applied to persistence instead of cloud-API clients.
package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/zaneops/compose-core/internal/apperr"
	"github.com/zaneops/compose-core/internal/domain"
)

const (
	errInsertProject     = "cannot insert project"
	errGetProject        = "cannot get project"
	errInsertEnvironment = "cannot insert environment"
	errGetEnvironment    = "cannot get environment"
)

// Store bundles every repository behind one injected *pgxpool.Pool, the
// shape main.go wires once at startup.
type Store struct {
	Pool         *pgxpool.Pool
	Projects     *ProjectStore
	Environments *EnvironmentStore
	Stacks       *ComposeStackStore
	Changes      *ComposeStackChangeStore
	Overrides    *ComposeStackEnvOverrideStore
	Deployments  *ComposeStackDeploymentStore
	Metrics      *ServiceMetricStore
	EnvVars      *EnvironmentVariableStore
}

// New wires every repository off one pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Pool:         pool,
		Projects:     &ProjectStore{pool: pool},
		Environments: &EnvironmentStore{pool: pool},
		Stacks:       &ComposeStackStore{pool: pool},
		Changes:      &ComposeStackChangeStore{pool: pool},
		Overrides:    &ComposeStackEnvOverrideStore{pool: pool},
		Deployments:  &ComposeStackDeploymentStore{pool: pool},
		Metrics:      &ServiceMetricStore{pool: pool},
		EnvVars:      &EnvironmentVariableStore{pool: pool},
	}
}

// EnvironmentVariableStore persists domain.EnvironmentVariable.
type EnvironmentVariableStore struct{ pool *pgxpool.Pool }

func (r *EnvironmentVariableStore) Insert(ctx context.Context, v *domain.EnvironmentVariable) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO environment_variables (id, environment_id, key, value) VALUES ($1, $2, $3, $4)`,
		v.ID, v.EnvironmentID, v.Key, v.Value)
	return errors.Wrap(err, "cannot insert environment variable")
}

func (r *EnvironmentVariableStore) ListByEnvironment(ctx context.Context, environmentID string) ([]domain.EnvironmentVariable, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, environment_id, key, value FROM environment_variables WHERE environment_id = $1`, environmentID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot list environment variables")
	}
	defer rows.Close()

	var out []domain.EnvironmentVariable
	for rows.Next() {
		var v domain.EnvironmentVariable
		if err := rows.Scan(&v.ID, &v.EnvironmentID, &v.Key, &v.Value); err != nil {
			return nil, errors.Wrap(err, "cannot list environment variables")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// BeginTx starts a transaction, used by internal/ledger to apply a change
// and create its deployment snapshot atomically (spec.md §4.4).
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.Pool.Begin(ctx)
}

// ProjectStore persists domain.Project.
type ProjectStore struct{ pool *pgxpool.Pool }

func (r *ProjectStore) Insert(ctx context.Context, p *domain.Project) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO projects (id, slug, owner) VALUES ($1, $2, $3)`,
		p.ID, p.Slug, p.Owner)
	return errors.Wrap(err, errInsertProject)
}

func (r *ProjectStore) Get(ctx context.Context, id string) (*domain.Project, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, slug, owner FROM projects WHERE id = $1`, id)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Slug, &p.Owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "project "+id+" not found")
		}
		return nil, errors.Wrap(err, errGetProject)
	}
	return &p, nil
}

// GetBySlug resolves a project by its URL-facing slug, used by the HTTP
// layer's "/projects/<slug>/..." path resolution (spec.md §6).
func (r *ProjectStore) GetBySlug(ctx context.Context, slug string) (*domain.Project, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, slug, owner FROM projects WHERE slug = $1`, slug)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Slug, &p.Owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "project "+slug+" not found")
		}
		return nil, errors.Wrap(err, errGetProject)
	}
	return &p, nil
}

// EnvironmentStore persists domain.Environment.
type EnvironmentStore struct{ pool *pgxpool.Pool }

func (r *EnvironmentStore) Insert(ctx context.Context, e *domain.Environment) error {
	var meta []byte
	if e.PreviewMetadata != nil {
		var err error
		meta, err = json.Marshal(e.PreviewMetadata)
		if err != nil {
			return errors.Wrap(err, errInsertEnvironment)
		}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO environments (id, project_id, name, is_preview, preview_metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.ProjectID, e.Name, e.IsPreview, meta)
	return errors.Wrap(err, errInsertEnvironment)
}

func (r *EnvironmentStore) Get(ctx context.Context, id string) (*domain.Environment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, project_id, name, is_preview, preview_metadata FROM environments WHERE id = $1`, id)
	var e domain.Environment
	var meta []byte
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.IsPreview, &meta); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "environment "+id+" not found")
		}
		return nil, errors.Wrap(err, errGetEnvironment)
	}
	if len(meta) > 0 {
		e.PreviewMetadata = &domain.PreviewEnvMetadata{}
		if err := json.Unmarshal(meta, e.PreviewMetadata); err != nil {
			return nil, errors.Wrap(err, errGetEnvironment)
		}
	}
	return &e, nil
}

// GetByName resolves an environment by (project, name), used by the HTTP
// layer's "/projects/<slug>/<env>/..." path resolution (spec.md §6).
func (r *EnvironmentStore) GetByName(ctx context.Context, projectID, name string) (*domain.Environment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, project_id, name, is_preview, preview_metadata FROM environments WHERE project_id = $1 AND name = $2`,
		projectID, name)
	var e domain.Environment
	var meta []byte
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.IsPreview, &meta); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "environment "+name+" not found")
		}
		return nil, errors.Wrap(err, errGetEnvironment)
	}
	if len(meta) > 0 {
		e.PreviewMetadata = &domain.PreviewEnvMetadata{}
		if err := json.Unmarshal(meta, e.PreviewMetadata); err != nil {
			return nil, errors.Wrap(err, errGetEnvironment)
		}
	}
	return &e, nil
}

func (r *EnvironmentStore) ListByProject(ctx context.Context, projectID string) ([]*domain.Environment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, project_id, name, is_preview, preview_metadata FROM environments WHERE project_id = $1`,
		projectID)
	if err != nil {
		return nil, errors.Wrap(err, errGetEnvironment)
	}
	defer rows.Close()

	var out []*domain.Environment
	for rows.Next() {
		var e domain.Environment
		var meta []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &e.IsPreview, &meta); err != nil {
			return nil, errors.Wrap(err, errGetEnvironment)
		}
		if len(meta) > 0 {
			e.PreviewMetadata = &domain.PreviewEnvMetadata{}
			if err := json.Unmarshal(meta, e.PreviewMetadata); err != nil {
				return nil, errors.Wrap(err, errGetEnvironment)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
