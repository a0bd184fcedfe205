package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/zaneops/compose-core/internal/domain"
)

// CancelSignalName is the signal a stack owner sends to abort an in-flight
// deployment (spec.md §4.5 "cancellation-check" step).
const CancelSignalName = "cancel-deployment"

// DeployWorkflowName names the deploy workflow; workflow ids are
// "deploy-compose-<stack.id>" per SPEC_FULL.md §4.5. The worker registers
// DeployWorkflow under its Go function name, so the Temporal workflow type
// is "DeployWorkflow", not this value.
const DeployWorkflowName = "deploy-compose-stack"

// DeployWorkflowInput is the payload handed to DeployWorkflow.
type DeployWorkflowInput struct {
	Deployment domain.ComposeStackDeployment `json:"deployment"`
}

// DeployWorkflow implements the deploy-compose-<stack.id> workflow (spec.md
// §4.5): a cancellation check, CreateResources, Deploy
// (MonitorUntilConverged), ProxyUpdate, then Finalize. Structured the way
// original_source/backend/zane_api/workflows.py's GetProjectWorkflow is
// structured — a single @workflow.run entry point calling
// workflow.execute_activity in sequence with a bounded retry policy — ported
// to go.temporal.io/sdk's workflow.ExecuteActivity/workflow.GetSignalChannel
// equivalents.
func DeployWorkflow(ctx workflow.Context, in DeployWorkflowInput) error {
	logger := workflow.GetLogger(ctx)
	activityOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOpts)

	cancelCh := workflow.GetSignalChannel(ctx, CancelSignalName)

	var a *Activities

	if cancelCh.ReceiveAsync(nil) {
		return finalize(ctx, a, in.Deployment.Hash, domain.DeploymentCancelled, "cancelled before start")
	}

	var created CreateResourcesResult
	if err := workflow.ExecuteActivity(ctx, a.CreateResources, CreateResourcesInput{Snapshot: in.Deployment.StackSnapshot}).
		Get(ctx, &created); err != nil {
		return finalizeFailure(ctx, a, in.Deployment.Hash, err)
	}

	if err := transitionDeploying(ctx, a, in.Deployment.Hash); err != nil {
		return err
	}

	if err := monitorUntilConverged(ctx, a, in.Deployment.StackSnapshot.StackID, created.ServiceIDs, cancelCh); err != nil {
		return finalizeFailure(ctx, a, in.Deployment.Hash, err)
	}

	if err := workflow.ExecuteActivity(ctx, a.ProxyUpdate, ProxyUpdateInput{
		StackID: in.Deployment.StackSnapshot.StackID,
		URLs:    in.Deployment.StackSnapshot.URLs,
	}).Get(ctx, nil); err != nil {
		return finalizeFailure(ctx, a, in.Deployment.Hash, err)
	}

	logger.Info("deployment converged", "deployment_hash", in.Deployment.Hash)
	return finalize(ctx, a, in.Deployment.Hash, domain.DeploymentSucceeded, "")
}

// monitorUntilConverged polls PollHealth on a fixed interval until every
// service is HEALTHY/COMPLETE, a service goes UNHEALTHY, or a cancel signal
// arrives — spec.md §4.5's "Deploy" step.
func monitorUntilConverged(ctx workflow.Context, a *Activities, stackID string, serviceIDs map[string]string, cancelCh workflow.ReceiveChannel) error {
	for {
		var result MonitorResult
		if err := workflow.ExecuteActivity(ctx, a.PollHealth, MonitorInput{StackID: stackID, ServiceIDs: serviceIDs}).
			Get(ctx, &result); err != nil {
			return err
		}
		if result.Unhealthy {
			return temporal.NewApplicationError("a service reported a failed task", "Unhealthy")
		}
		if result.Converged {
			return nil
		}

		selector := workflow.NewSelector(ctx)
		timerCancelled := false
		timerFired := false
		timer := workflow.NewTimer(ctx, 5*time.Second)
		selector.AddFuture(timer, func(f workflow.Future) { timerFired = true })
		selector.AddReceive(cancelCh, func(c workflow.ReceiveChannel, more bool) { timerCancelled = true })
		selector.Select(ctx)

		if timerCancelled {
			return temporal.NewApplicationError("deployment cancelled", "Cancelled")
		}
		_ = timerFired
	}
}

func transitionDeploying(ctx workflow.Context, a *Activities, hash string) error {
	return workflow.ExecuteActivity(ctx, a.Finalize, FinalizeInput{
		DeploymentHash: hash,
		Status:         domain.DeploymentDeploying,
	}).Get(ctx, nil)
}

func finalize(ctx workflow.Context, a *Activities, hash string, status domain.DeploymentStatus, reason string) error {
	return workflow.ExecuteActivity(ctx, a.Finalize, FinalizeInput{
		DeploymentHash: hash,
		Status:         status,
		Reason:         reason,
	}).Get(ctx, nil)
}

func finalizeFailure(ctx workflow.Context, a *Activities, hash string, cause error) error {
	_ = finalize(ctx, a, hash, domain.DeploymentFailed, cause.Error())
	return cause
}
