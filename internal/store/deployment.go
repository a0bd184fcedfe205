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
	errInsertDeployment = "cannot insert compose stack deployment"
	errGetDeployment    = "cannot get compose stack deployment"
	errUpdateDeployment = "cannot update compose stack deployment"
)

// ComposeStackDeploymentStore persists domain.ComposeStackDeployment, keyed
// by its content-derived hash (spec.md §3).
type ComposeStackDeploymentStore struct{ pool *pgxpool.Pool }

// Insert creates a deployment row in QUEUED status with its snapshot frozen
// inside the caller's transaction, per spec.md §4.4's "snapshot is captured
// inside that transaction" rule.
func (r *ComposeStackDeploymentStore) Insert(ctx context.Context, tx pgx.Tx, d *domain.ComposeStackDeployment) error {
	snapshot, err := json.Marshal(d.StackSnapshot)
	if err != nil {
		return errors.Wrap(err, errInsertDeployment)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO compose_stack_deployments
			(hash, stack_id, status, status_reason, stack_snapshot, commit_message, queued_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		d.Hash, d.StackID, d.Status, d.StatusReason, snapshot, d.CommitMessage)
	return errors.Wrap(err, errInsertDeployment)
}

func (r *ComposeStackDeploymentStore) Get(ctx context.Context, hash string) (*domain.ComposeStackDeployment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT hash, stack_id, status, status_reason, stack_snapshot, commit_message, queued_at, started_at, finished_at
		 FROM compose_stack_deployments WHERE hash = $1`, hash)
	return scanDeployment(row)
}

// LatestForStack returns the most recently queued deployment for a stack,
// used to supersede a prior in-flight deploy per spec.md §4.5 "Finalize".
func (r *ComposeStackDeploymentStore) LatestForStack(ctx context.Context, stackID string) (*domain.ComposeStackDeployment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT hash, stack_id, status, status_reason, stack_snapshot, commit_message, queued_at, started_at, finished_at
		 FROM compose_stack_deployments WHERE stack_id = $1 ORDER BY queued_at DESC LIMIT 1`, stackID)
	return scanDeployment(row)
}

// ListActiveForStack returns every non-terminal (QUEUED or DEPLOYING)
// deployment for a stack other than excludeHash, used by Finalize to
// supersede stale attempts once a newer deployment succeeds (spec.md §4.5
// step 7: "starting a new deployment for a stack immediately supersedes ...
// any deployment for that stack still in QUEUED or DEPLOYING").
func (r *ComposeStackDeploymentStore) ListActiveForStack(ctx context.Context, stackID, excludeHash string) ([]*domain.ComposeStackDeployment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT hash, stack_id, status, status_reason, stack_snapshot, commit_message, queued_at, started_at, finished_at
		 FROM compose_stack_deployments
		 WHERE stack_id = $1 AND hash != $2 AND status IN ($3, $4)`,
		stackID, excludeHash, domain.DeploymentQueued, domain.DeploymentDeploying)
	if err != nil {
		return nil, errors.Wrap(err, "cannot list active compose stack deployments")
	}
	defer rows.Close()

	var out []*domain.ComposeStackDeployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), "cannot list active compose stack deployments")
}

func scanDeployment(row pgx.Row) (*domain.ComposeStackDeployment, error) {
	var d domain.ComposeStackDeployment
	var snapshot []byte
	if err := row.Scan(&d.Hash, &d.StackID, &d.Status, &d.StatusReason, &snapshot, &d.CommitMessage,
		&d.QueuedAt, &d.StartedAt, &d.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "deployment not found")
		}
		return nil, errors.Wrap(err, errGetDeployment)
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &d.StackSnapshot); err != nil {
			return nil, errors.Wrap(err, errGetDeployment)
		}
	}
	return &d, nil
}

// TransitionStatus moves a deployment to a new status, stamping started_at /
// finished_at as appropriate (spec.md §4.5 state machine). Transitioning
// into DEPLOYING stamps started_at; transitioning into any terminal status
// stamps finished_at.
func (r *ComposeStackDeploymentStore) TransitionStatus(ctx context.Context, hash string, status domain.DeploymentStatus, reason *string) error {
	var query string
	switch {
	case status == domain.DeploymentDeploying:
		query = `UPDATE compose_stack_deployments SET status = $2, status_reason = $3, started_at = now() WHERE hash = $1`
	case status.IsTerminal():
		query = `UPDATE compose_stack_deployments SET status = $2, status_reason = $3, finished_at = now() WHERE hash = $1`
	default:
		query = `UPDATE compose_stack_deployments SET status = $2, status_reason = $3 WHERE hash = $1`
	}
	_, err := r.pool.Exec(ctx, query, hash, status, reason)
	return errors.Wrap(err, errUpdateDeployment)
}
