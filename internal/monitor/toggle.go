// Package monitor implements the Monitor & Toggle component (spec.md §4.6):
// scheduled health and metrics recomputation, plus the start/stop Toggle
// that scales a stack's services to zero and strips their exposed ports.
package monitor

import (
	"context"

	"github.com/docker/docker/api/types/swarm"
	"github.com/pkg/errors"

	"github.com/zaneops/compose-core/internal/apperr"
	"github.com/zaneops/compose-core/internal/domain"
	"github.com/zaneops/compose-core/internal/orchestrator"
	"github.com/zaneops/compose-core/internal/store"
)

const errToggle = "cannot toggle stack state"

// Toggle scales every service in a stack to zero replicas and removes its
// published ports ("stop"), or restores the replica count and ports a prior
// "stop" remembered ("start"). Requires at least one non-FAILED deployment
// to exist for the stack (spec.md §4.6).
func Toggle(ctx context.Context, orch orchestrator.Client, s *store.Store, stackID string, desired domain.DesiredState) error {
	var hasDeployment bool
	if err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM compose_stack_deployments WHERE stack_id = $1 AND status != $2)`,
		stackID, domain.DeploymentFailed).Scan(&hasDeployment); err != nil {
		return errors.Wrap(err, errToggle)
	}
	if !hasDeployment {
		return apperr.New(apperr.Conflict, "stack has no non-FAILED deployment to toggle")
	}

	stack, err := s.Stacks.Get(ctx, stackID)
	if err != nil {
		return err
	}

	services, err := orch.ServiceList(ctx, stackID)
	if err != nil {
		return errors.Wrap(err, errToggle)
	}

	snapshot := stack.ToggleSnapshot
	if snapshot.ExposedPorts == nil {
		snapshot.ExposedPorts = map[string][]int{}
	}
	if snapshot.Replicas == nil {
		snapshot.Replicas = map[string]uint64{}
	}

	for _, svc := range services {
		name := svc.Spec.Annotations.Name
		switch desired {
		case domain.DesiredStateStop:
			if svc.Spec.Mode.Replicated != nil && svc.Spec.Mode.Replicated.Replicas != nil {
				snapshot.Replicas[name] = *svc.Spec.Mode.Replicated.Replicas
			}
			if svc.Spec.EndpointSpec != nil && len(svc.Spec.EndpointSpec.Ports) > 0 {
				snapshot.ExposedPorts[name] = portNumbers(svc.Spec.EndpointSpec.Ports)
			}
			stopped := svc.Spec
			stopped.EndpointSpec = &swarm.EndpointSpec{}
			setReplicas(&stopped, 0)
			if err := orch.ServiceUpdate(ctx, svc.ID, svc.Version, stopped); err != nil {
				return errors.Wrap(err, errToggle)
			}

		case domain.DesiredStateStart:
			restored := svc.Spec
			setReplicas(&restored, replicasOrDefault(snapshot.Replicas[name]))
			restored.EndpointSpec = restorePorts(snapshot.ExposedPorts[name])
			if err := orch.ServiceUpdate(ctx, svc.ID, svc.Version, restored); err != nil {
				return errors.Wrap(err, errToggle)
			}
		}
	}

	return s.Stacks.UpdateToggleState(ctx, stackID, desired, snapshot)
}

func setReplicas(spec *swarm.ServiceSpec, n uint64) {
	if spec.Mode.Replicated == nil {
		spec.Mode.Replicated = &swarm.ReplicatedService{}
	}
	spec.Mode.Replicated.Replicas = &n
}

func replicasOrDefault(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	return n
}

func portNumbers(ports []swarm.PortConfig) []int {
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		out = append(out, int(p.PublishedPort))
	}
	return out
}

func restorePorts(ports []int) *swarm.EndpointSpec {
	spec := &swarm.EndpointSpec{}
	for _, p := range ports {
		spec.Ports = append(spec.Ports, swarm.PortConfig{
			PublishedPort: uint32(p),
			Protocol:      swarm.PortConfigProtocolTCP,
		})
	}
	return spec
}
