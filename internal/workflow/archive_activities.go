package workflow

import (
	"context"
)

// RemoveServicesInput names the stack whose swarm services are torn down.
type RemoveServicesInput struct {
	StackID string `json:"stack_id"`
}

// RemoveServices removes every swarm service carrying StackLabel=stackID
// (spec.md §4.5 "Archive flow" step 1).
func (a *Activities) RemoveServices(ctx context.Context, in RemoveServicesInput) error {
	services, err := a.orchestrator.ServiceList(ctx, in.StackID)
	if err != nil {
		return err
	}
	for _, svc := range services {
		if err := a.orchestrator.ServiceRemove(ctx, svc.ID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveProxyRoutesInput names the stack whose reverse-proxy routes are
// torn down.
type RemoveProxyRoutesInput struct {
	StackID string `json:"stack_id"`
}

// RemoveProxyRoutes tears down every route registered for the stack.
func (a *Activities) RemoveProxyRoutes(ctx context.Context, in RemoveProxyRoutesInput) error {
	return a.proxy.RemoveRoutes(ctx, in.StackID)
}

// RemoveSchedulesInput names the stack whose Monitor/Metrics schedules are
// deleted.
type RemoveSchedulesInput struct {
	StackID string `json:"stack_id"`
}

// RemoveSchedules deletes the monitor-compose-<id> and metrics-compose-<id>
// schedules for a stack being archived.
func (a *Activities) RemoveSchedules(ctx context.Context, in RemoveSchedulesInput) error {
	if a.scheduler == nil {
		return nil
	}
	return a.scheduler.RemoveSchedules(ctx, in.StackID)
}

// RemoveStorageInput carries the request flags controlling whether configs
// and volumes are deleted alongside services (spec.md §6 DELETE
// /stacks/<slug> request body).
type RemoveStorageInput struct {
	StackID       string `json:"stack_id"`
	DeleteConfigs bool   `json:"delete_configs"`
	DeleteVolumes bool   `json:"delete_volumes"`
}

// RemoveStorage removes the configs and/or volumes carrying
// StackLabel=stackID, per the request's delete_configs/delete_volumes flags.
func (a *Activities) RemoveStorage(ctx context.Context, in RemoveStorageInput) error {
	if in.DeleteConfigs {
		configs, err := a.orchestrator.ConfigList(ctx, in.StackID)
		if err != nil {
			return err
		}
		for _, c := range configs {
			if err := a.orchestrator.ConfigRemove(ctx, c.ID); err != nil {
				return err
			}
		}
	}

	if in.DeleteVolumes {
		volumes, err := a.orchestrator.VolumeList(ctx, in.StackID)
		if err != nil {
			return err
		}
		for _, name := range volumes {
			if err := a.orchestrator.VolumeRemove(ctx, name); err != nil {
				return err
			}
		}
	}

	return nil
}

// PurgeLogsInput names the stack whose deployment logs are purged.
type PurgeLogsInput struct {
	StackID string `json:"stack_id"`
}

// PurgeLogs deletes the stack's retained deployment logs. Log storage lives
// outside this module's persistence layer (spec.md §6 names it an external
// collaborator); a.logStore is nil when no log backend is configured, in
// which case purge is a no-op rather than a failure.
func (a *Activities) PurgeLogs(ctx context.Context, in PurgeLogsInput) error {
	if a.logStore == nil {
		return nil
	}
	return a.logStore.PurgeStack(ctx, in.StackID)
}
