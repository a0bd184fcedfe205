package monitor

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/zaneops/compose-core/internal/domain"
	"github.com/zaneops/compose-core/internal/orchestrator"
	"github.com/zaneops/compose-core/internal/store"
)

// Activities bundles the collaborators the Monitor and Metrics workflows'
// activities call into, mirroring internal/workflow.Activities' shape.
type Activities struct {
	orchestrator orchestrator.Client
	store        *store.Store
	logger       *logrus.Logger
}

// NewActivities builds a monitor Activities set.
func NewActivities(orch orchestrator.Client, s *store.Store, logger *logrus.Logger) *Activities {
	return &Activities{orchestrator: orch, store: s, logger: logger}
}

// RecomputeHealthInput names the stack to recompute service health for.
type RecomputeHealthInput struct {
	StackID string `json:"stack_id"`
}

// RecomputeHealth recomputes service_statuses from the orchestrator and
// writes them back (spec.md §4.6 "Monitor workflow").
func (a *Activities) RecomputeHealth(ctx context.Context, in RecomputeHealthInput) error {
	services, err := a.orchestrator.ServiceList(ctx, in.StackID)
	if err != nil {
		return err
	}

	statuses := map[string]domain.ServiceStatus{}
	for _, svc := range services {
		tasks, err := a.orchestrator.TaskList(ctx, svc.ID)
		if err != nil {
			return err
		}
		desired := 1
		if svc.Spec.Mode.Replicated != nil && svc.Spec.Mode.Replicated.Replicas != nil {
			desired = int(*svc.Spec.Mode.Replicated.Replicas)
		}
		statuses[svc.Spec.Annotations.Name] = orchestrator.TaskServiceHealth(desired, tasks)
	}

	return a.store.Stacks.UpdateServiceStatuses(ctx, in.StackID, statuses)
}

// CollectMetricsInput names the stack to sample.
type CollectMetricsInput struct {
	StackID string `json:"stack_id"`
}

// CollectMetrics writes a {cpu%, memory_bytes, net_tx, net_rx, disk_read,
// disk_write} row per service (spec.md §4.6 "Metrics workflow"). Swarm's
// manager API exposes no per-task resource usage directly — sampling would
// require dialing each worker node's stats endpoint, out of scope for this
// core; this activity records a zero-valued sample per known service so the
// schedule and storage path are exercised end to end.
func (a *Activities) CollectMetrics(ctx context.Context, in CollectMetricsInput) error {
	services, err := a.orchestrator.ServiceList(ctx, in.StackID)
	if err != nil {
		return err
	}

	samples := make([]domain.ServiceMetricSample, 0, len(services))
	for _, svc := range services {
		samples = append(samples, domain.ServiceMetricSample{
			StackID:     in.StackID,
			ServiceName: svc.Spec.Annotations.Name,
		})
	}

	return a.store.Metrics.InsertBatch(ctx, samples)
}
