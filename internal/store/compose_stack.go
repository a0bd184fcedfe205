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
	errInsertStack = "cannot insert compose stack"
	errGetStack    = "cannot get compose stack"
	errUpdateStack = "cannot update compose stack"
)

// ComposeStackStore persists domain.ComposeStack.
type ComposeStackStore struct{ pool *pgxpool.Pool }

func (r *ComposeStackStore) Insert(ctx context.Context, s *domain.ComposeStack) error {
	urls, err := json.Marshal(s.URLs)
	if err != nil {
		return errors.Wrap(err, errInsertStack)
	}
	configs, err := json.Marshal(s.Configs)
	if err != nil {
		return errors.Wrap(err, errInsertStack)
	}
	statuses, err := json.Marshal(s.ServiceStatuses)
	if err != nil {
		return errors.Wrap(err, errInsertStack)
	}
	toggleSnapshot, err := json.Marshal(s.ToggleSnapshot)
	if err != nil {
		return errors.Wrap(err, errInsertStack)
	}
	desiredState := s.DesiredState
	if desiredState == "" {
		desiredState = domain.DesiredStateStart
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO compose_stacks
			(id, slug, project_id, environment_id, hash_prefix, network_alias_prefix,
			 deploy_token, user_content, computed_content, urls, configs, service_statuses,
			 toggle_snapshot, desired_state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.Slug, s.ProjectID, s.EnvironmentID, s.HashPrefix, s.NetworkAliasPrefix,
		s.DeployToken, s.UserContent, s.ComputedContent, urls, configs, statuses,
		toggleSnapshot, desiredState)
	return errors.Wrap(err, errInsertStack)
}

func (r *ComposeStackStore) Get(ctx context.Context, id string) (*domain.ComposeStack, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, slug, project_id, environment_id, hash_prefix, network_alias_prefix,
		        deploy_token, user_content, computed_content, urls, configs, service_statuses,
		        toggle_snapshot, desired_state
		 FROM compose_stacks WHERE id = $1`, id)
	return scanStack(row)
}

func (r *ComposeStackStore) GetBySlug(ctx context.Context, environmentID, slug string) (*domain.ComposeStack, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, slug, project_id, environment_id, hash_prefix, network_alias_prefix,
		        deploy_token, user_content, computed_content, urls, configs, service_statuses,
		        toggle_snapshot, desired_state
		 FROM compose_stacks WHERE environment_id = $1 AND slug = $2`, environmentID, slug)
	return scanStack(row)
}

// GetByDeployToken resolves a stack by its opaque deploy token, used by the
// PUT /stacks/webhook/<deploy_token> endpoint (spec.md §6) so a CI pipeline
// can trigger a deploy without a project/environment-scoped credential.
func (r *ComposeStackStore) GetByDeployToken(ctx context.Context, token string) (*domain.ComposeStack, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, slug, project_id, environment_id, hash_prefix, network_alias_prefix,
		        deploy_token, user_content, computed_content, urls, configs, service_statuses,
		        toggle_snapshot, desired_state
		 FROM compose_stacks WHERE deploy_token = $1`, token)
	return scanStack(row)
}

// ListByEnvironment returns every stack in an environment, used by the
// Environment Cloner to enumerate clone candidates (spec.md §4.7).
func (r *ComposeStackStore) ListByEnvironment(ctx context.Context, environmentID string) ([]*domain.ComposeStack, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, slug, project_id, environment_id, hash_prefix, network_alias_prefix,
		        deploy_token, user_content, computed_content, urls, configs, service_statuses,
		        toggle_snapshot, desired_state
		 FROM compose_stacks WHERE environment_id = $1`, environmentID)
	if err != nil {
		return nil, errors.Wrap(err, errGetStack)
	}
	defer rows.Close()

	var out []*domain.ComposeStack
	for rows.Next() {
		s, err := scanStack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanStack(row pgx.Row) (*domain.ComposeStack, error) {
	var s domain.ComposeStack
	var urls, configs, statuses, toggleSnapshot []byte
	if err := row.Scan(&s.ID, &s.Slug, &s.ProjectID, &s.EnvironmentID, &s.HashPrefix, &s.NetworkAliasPrefix,
		&s.DeployToken, &s.UserContent, &s.ComputedContent, &urls, &configs, &statuses,
		&toggleSnapshot, &s.DesiredState); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "compose stack not found")
		}
		return nil, errors.Wrap(err, errGetStack)
	}
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &s.URLs); err != nil {
			return nil, errors.Wrap(err, errGetStack)
		}
	}
	if len(configs) > 0 {
		if err := json.Unmarshal(configs, &s.Configs); err != nil {
			return nil, errors.Wrap(err, errGetStack)
		}
	}
	if len(statuses) > 0 {
		if err := json.Unmarshal(statuses, &s.ServiceStatuses); err != nil {
			return nil, errors.Wrap(err, errGetStack)
		}
	}
	if len(toggleSnapshot) > 0 {
		if err := json.Unmarshal(toggleSnapshot, &s.ToggleSnapshot); err != nil {
			return nil, errors.Wrap(err, errGetStack)
		}
	}
	return &s, nil
}

// UpdateToggleState persists the Toggle component's outcome: the new
// desired_state and, for "stop", the snapshot of what was stripped from each
// service so a later "start" can restore it (spec.md §4.6).
func (r *ComposeStackStore) UpdateToggleState(ctx context.Context, stackID string, desired domain.DesiredState, snapshot domain.ToggleSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, errUpdateStack)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE compose_stacks SET desired_state = $2, toggle_snapshot = $3 WHERE id = $1`,
		stackID, desired, data)
	return errors.Wrap(err, errUpdateStack)
}

// UpdateComputed persists the Spec Compiler's output for a stack: computed
// content, extracted URLs, and projected config contents. Called inside the
// transaction the Change Ledger opens to apply a pending change (spec.md
// §4.4).
func (r *ComposeStackStore) UpdateComputed(ctx context.Context, tx pgx.Tx, stackID, computedContent string, urls map[string][]domain.UrlRoute, configs map[string]string) error {
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return errors.Wrap(err, errUpdateStack)
	}
	configsJSON, err := json.Marshal(configs)
	if err != nil {
		return errors.Wrap(err, errUpdateStack)
	}
	_, err = tx.Exec(ctx,
		`UPDATE compose_stacks SET computed_content = $2, urls = $3, configs = $4 WHERE id = $1`,
		stackID, computedContent, urlsJSON, configsJSON)
	return errors.Wrap(err, errUpdateStack)
}

// UpdateServiceStatuses persists the latest health snapshot the Monitor
// component computed (spec.md §4.6).
func (r *ComposeStackStore) UpdateServiceStatuses(ctx context.Context, stackID string, statuses map[string]domain.ServiceStatus) error {
	data, err := json.Marshal(statuses)
	if err != nil {
		return errors.Wrap(err, errUpdateStack)
	}
	_, err = r.pool.Exec(ctx, `UPDATE compose_stacks SET service_statuses = $2 WHERE id = $1`, stackID, data)
	return errors.Wrap(err, errUpdateStack)
}

// ListActiveRoutes returns every URL route currently deployed by any other
// stack in an environment, for the ingest-time cross-stack collision check
// (spec.md §3, §4.1): "No two ACTIVE stacks may publish the same (domain,
// base_path)". A stack with no successful deploy yet has an empty URLs map
// and contributes nothing.
func (r *ComposeStackStore) ListActiveRoutes(ctx context.Context, environmentID, excludeStackID string) ([]domain.UrlRoute, error) {
	stacks, err := r.ListByEnvironment(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	var out []domain.UrlRoute
	for _, s := range stacks {
		if s.ID == excludeStackID {
			continue
		}
		for _, routes := range s.URLs {
			out = append(out, routes...)
		}
	}
	return out, nil
}

// Delete removes a stack and, by cascade, its changes, overrides, and
// deployments — the database half of the Archive flow (spec.md §4.5); the
// swarm/proxy/schedule teardown is the archive workflow's job.
func (r *ComposeStackStore) Delete(ctx context.Context, stackID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM compose_stacks WHERE id = $1`, stackID)
	return errors.Wrap(err, "cannot delete compose stack")
}

// ComposeStackChangeStore persists domain.ComposeStackChange.
type ComposeStackChangeStore struct{ pool *pgxpool.Pool }

const errInsertChange = "cannot insert compose stack change"

func (r *ComposeStackChangeStore) Insert(ctx context.Context, tx pgx.Tx, c *domain.ComposeStackChange) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO compose_stack_changes
			(id, stack_id, field, type, item_id, old_value, new_value, applied, deployment_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		c.ID, c.StackID, c.Field, c.Type, c.ItemID, c.OldValue, c.NewValue, c.Applied, c.DeploymentID)
	return errors.Wrap(err, errInsertChange)
}

// PendingForField returns the unapplied changes for one stack+field,
// ordered oldest-first, used to enforce the "single pending compose_content
// change" / "no duplicate pending env_override per item_id" rules (spec.md
// §4.4).
func (r *ComposeStackChangeStore) PendingForField(ctx context.Context, stackID string, field domain.ChangeField) ([]*domain.ComposeStackChange, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, stack_id, field, type, item_id, old_value, new_value, applied, deployment_id, created_at
		 FROM compose_stack_changes
		 WHERE stack_id = $1 AND field = $2 AND applied = false
		 ORDER BY created_at ASC`, stackID, field)
	if err != nil {
		return nil, errors.Wrap(err, "cannot list pending changes")
	}
	defer rows.Close()

	var out []*domain.ComposeStackChange
	for rows.Next() {
		var c domain.ComposeStackChange
		if err := rows.Scan(&c.ID, &c.StackID, &c.Field, &c.Type, &c.ItemID, &c.OldValue, &c.NewValue,
			&c.Applied, &c.DeploymentID, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "cannot list pending changes")
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListByStack returns every change (pending and applied) for a stack,
// newest first, used by the stack-detail endpoint (spec.md §6 "detail with
// pending changes").
func (r *ComposeStackChangeStore) ListByStack(ctx context.Context, stackID string) ([]*domain.ComposeStackChange, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, stack_id, field, type, item_id, old_value, new_value, applied, deployment_id, created_at
		 FROM compose_stack_changes
		 WHERE stack_id = $1
		 ORDER BY created_at DESC`, stackID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot list changes")
	}
	defer rows.Close()

	var out []*domain.ComposeStackChange
	for rows.Next() {
		var c domain.ComposeStackChange
		if err := rows.Scan(&c.ID, &c.StackID, &c.Field, &c.Type, &c.ItemID, &c.OldValue, &c.NewValue,
			&c.Applied, &c.DeploymentID, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "cannot list changes")
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *ComposeStackChangeStore) MarkApplied(ctx context.Context, tx pgx.Tx, changeID, deploymentID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE compose_stack_changes SET applied = true, deployment_id = $2 WHERE id = $1`,
		changeID, deploymentID)
	return errors.Wrap(err, "cannot mark change applied")
}

// ComposeStackEnvOverrideStore persists domain.ComposeStackEnvOverride.
type ComposeStackEnvOverrideStore struct{ pool *pgxpool.Pool }

func (r *ComposeStackEnvOverrideStore) Upsert(ctx context.Context, tx pgx.Tx, o *domain.ComposeStackEnvOverride) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO compose_stack_env_overrides (id, stack_id, service, key, value, source_generator)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (stack_id, service, key) DO UPDATE SET value = EXCLUDED.value, source_generator = EXCLUDED.source_generator`,
		o.ID, o.StackID, o.Service, o.Key, o.Value, o.SourceGenerator)
	return errors.Wrap(err, "cannot upsert env override")
}

func (r *ComposeStackEnvOverrideStore) ListByStack(ctx context.Context, stackID string) ([]domain.ComposeStackEnvOverride, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, stack_id, service, key, value, source_generator FROM compose_stack_env_overrides WHERE stack_id = $1`, stackID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot list env overrides")
	}
	defer rows.Close()

	var out []domain.ComposeStackEnvOverride
	for rows.Next() {
		var o domain.ComposeStackEnvOverride
		if err := rows.Scan(&o.ID, &o.StackID, &o.Service, &o.Key, &o.Value, &o.SourceGenerator); err != nil {
			return nil, errors.Wrap(err, "cannot list env overrides")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
