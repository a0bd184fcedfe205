package monitor

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// MonitorWorkflowName names the workflow a "monitor-compose-<stack.id>"
// schedule invokes on every tick (spec.md §4.6). The schedule passes
// MonitorWorkflow by function, so the Temporal workflow type is
// "MonitorWorkflow", not this value.
const MonitorWorkflowName = "monitor-compose-stack"

// MetricsWorkflowName names the workflow a "metrics-compose-<stack.id>"
// schedule invokes on every tick (spec.md §4.6). The schedule passes
// MetricsWorkflow by function, so the Temporal workflow type is
// "MetricsWorkflow", not this value.
const MetricsWorkflowName = "metrics-compose-stack"

// ScheduleInput names the stack a scheduled monitor/metrics run targets.
type ScheduleInput struct {
	StackID string `json:"stack_id"`
}

var activityOpts = workflow.ActivityOptions{
	StartToCloseTimeout: time.Minute,
	RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
}

// MonitorWorkflow is one tick of the health-recompute schedule: list the
// stack's services, reduce their tasks through the health matrix, and
// persist. One Temporal Schedule per stack keeps ticks isolated so a
// recompute backlog on one stack never delays another's.
func MonitorWorkflow(ctx workflow.Context, in ScheduleInput) error {
	ctx = workflow.WithActivityOptions(ctx, activityOpts)
	var a *Activities
	return workflow.ExecuteActivity(ctx, a.RecomputeHealth, RecomputeHealthInput{StackID: in.StackID}).Get(ctx, nil)
}

// MetricsWorkflow is one tick of the metrics-collection schedule.
func MetricsWorkflow(ctx workflow.Context, in ScheduleInput) error {
	ctx = workflow.WithActivityOptions(ctx, activityOpts)
	var a *Activities
	return workflow.ExecuteActivity(ctx, a.CollectMetrics, CollectMetricsInput{StackID: in.StackID}).Get(ctx, nil)
}
