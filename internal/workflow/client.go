package workflow

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/zaneops/compose-core/internal/config"
	"github.com/zaneops/compose-core/internal/domain"
	"github.com/zaneops/compose-core/internal/semaphore"
)

const errConnect = "cannot connect to temporal server"

// NewClient dials the Temporal server, grounded on
// original_source/backend/zane_api/temporal.py's
// `Client.connect(host, namespace=...)` wrapping.
func NewClient(cfg *config.Config) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		return nil, errors.Wrap(err, errConnect)
	}
	return c, nil
}

// NewWorker registers DeployWorkflow and every Activities method on a
// worker bound to cfg's task queue, grounded on
// original_source/backend/zane_api/worker.py's single-task-queue worker
// setup.
func NewWorker(c client.Client, cfg *config.Config, activities *Activities) worker.Worker {
	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.TemporalMaxConcurrentDeploys,
	})
	w.RegisterWorkflow(DeployWorkflow)
	w.RegisterWorkflow(ArchiveWorkflow)
	w.RegisterActivity(activities)
	return w
}

// Starter starts the deploy workflow for a queued deployment and implements
// internal/ledger.DeployStarter.
type Starter struct {
	client    client.Client
	taskQueue string
	semaphore *semaphore.Semaphore
}

// NewStarter builds a Starter. sem bounds how many deployments may be
// DEPLOYING at once (SPEC_FULL.md §5); pass nil to start deployments
// unbounded (e.g. in tests).
func NewStarter(c client.Client, taskQueue string, sem *semaphore.Semaphore) *Starter {
	return &Starter{client: c, taskQueue: taskQueue, semaphore: sem}
}

// StartDeploy acquires a deploy concurrency slot, then starts DeployWorkflow
// with workflow id "deploy-compose-<stack.id>", so a retried call for the
// same stack reuses (or, per spec.md §4.5, supersedes) the existing run.
func (s *Starter) StartDeploy(ctx context.Context, deployment *domain.ComposeStackDeployment) error {
	if s.semaphore != nil {
		if err := s.semaphore.Acquire(ctx); err != nil {
			return errors.Wrap(err, "cannot acquire deploy concurrency slot")
		}
	}

	workflowID := fmt.Sprintf("deploy-compose-%s", deployment.StackID)
	_, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
	}, DeployWorkflow, DeployWorkflowInput{Deployment: *deployment})
	return errors.Wrap(err, "cannot start deploy workflow")
}

// CancelDeploy signals a running deploy workflow to cancel (spec.md §4.5).
func (s *Starter) CancelDeploy(ctx context.Context, stackID string) error {
	workflowID := fmt.Sprintf("deploy-compose-%s", stackID)
	return s.client.SignalWorkflow(ctx, workflowID, "", CancelSignalName, nil)
}
