package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/zaneops/compose-core/internal/domain"
)

// ArchiveWorkflowName names the stack teardown workflow; workflow ids are
// "archive-compose-<stack.id>". The worker registers ArchiveWorkflow under
// its Go function name, so the Temporal workflow type is "ArchiveWorkflow",
// not this value.
const ArchiveWorkflowName = "archive-compose-stack"

// ArchiveWorkflowInput carries the snapshot of the stack being torn down
// plus the request flags controlling volume/config deletion (spec.md §4.5
// "Archive flow", §6 DELETE /stacks/<slug>).
type ArchiveWorkflowInput struct {
	Snapshot      domain.StackSnapshot `json:"snapshot"`
	DeleteConfigs bool                 `json:"delete_configs"`
	DeleteVolumes bool                 `json:"delete_volumes"`
}

// ArchiveWorkflow implements spec.md §4.5's "Archive flow": it removes
// every swarm service belonging to the stack's namespace, optionally
// deletes volumes and configs, removes proxy routes, deletes the Monitor
// and Metrics schedules, and purges logs — structured the same
// activity-per-side-effect way as DeployWorkflow.
func ArchiveWorkflow(ctx workflow.Context, in ArchiveWorkflowInput) error {
	activityOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOpts)

	var a *Activities

	if err := workflow.ExecuteActivity(ctx, a.RemoveServices, RemoveServicesInput{
		StackID: in.Snapshot.StackID,
	}).Get(ctx, nil); err != nil {
		return err
	}

	if err := workflow.ExecuteActivity(ctx, a.RemoveProxyRoutes, RemoveProxyRoutesInput{
		StackID: in.Snapshot.StackID,
	}).Get(ctx, nil); err != nil {
		return err
	}

	if err := workflow.ExecuteActivity(ctx, a.RemoveSchedules, RemoveSchedulesInput{
		StackID: in.Snapshot.StackID,
	}).Get(ctx, nil); err != nil {
		return err
	}

	if in.DeleteVolumes || in.DeleteConfigs {
		if err := workflow.ExecuteActivity(ctx, a.RemoveStorage, RemoveStorageInput{
			StackID:       in.Snapshot.StackID,
			DeleteConfigs: in.DeleteConfigs,
			DeleteVolumes: in.DeleteVolumes,
		}).Get(ctx, nil); err != nil {
			return err
		}
	}

	if err := workflow.ExecuteActivity(ctx, a.PurgeLogs, PurgeLogsInput{
		StackID: in.Snapshot.StackID,
	}).Get(ctx, nil); err != nil {
		return err
	}

	return nil
}

// archiveWorkflowID is the stable id for a stack's archive workflow run,
// matching DeployWorkflow's "deploy-compose-<stack.id>" convention.
func archiveWorkflowID(stackID string) string {
	return fmt.Sprintf("archive-compose-%s", stackID)
}

// StartArchive starts the archive workflow for a deleted stack and
// implements internal/api's ArchiveStarter collaborator interface.
func (s *Starter) StartArchive(ctx context.Context, snapshot domain.StackSnapshot, deleteConfigs, deleteVolumes bool) error {
	_, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        archiveWorkflowID(snapshot.StackID),
		TaskQueue: s.taskQueue,
	}, ArchiveWorkflow, ArchiveWorkflowInput{
		Snapshot:      snapshot,
		DeleteConfigs: deleteConfigs,
		DeleteVolumes: deleteVolumes,
	})
	return errors.Wrap(err, "cannot start archive workflow")
}
