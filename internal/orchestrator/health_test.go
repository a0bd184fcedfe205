package orchestrator

import (
	"testing"

	"github.com/docker/docker/api/types/swarm"

	"github.com/zaneops/compose-core/internal/domain"
)

func taskWithState(state swarm.TaskState) swarm.Task {
	return swarm.Task{Status: swarm.TaskStatus{State: state}}
}

func TestTaskServiceHealth(t *testing.T) {
	cases := []struct {
		name            string
		desiredReplicas int
		tasks           []swarm.Task
		want            domain.ServiceHealth
	}{
		{
			name:            "all running meets desired",
			desiredReplicas: 2,
			tasks:           []swarm.Task{taskWithState(swarm.TaskStateRunning), taskWithState(swarm.TaskStateRunning)},
			want:            domain.ServiceHealthHealthy,
		},
		{
			name:            "fewer running than desired",
			desiredReplicas: 2,
			tasks:           []swarm.Task{taskWithState(swarm.TaskStateRunning), taskWithState(swarm.TaskStatePreparing)},
			want:            domain.ServiceHealthStarting,
		},
		{
			name:            "a failed task is unhealthy even if others run",
			desiredReplicas: 2,
			tasks:           []swarm.Task{taskWithState(swarm.TaskStateRunning), taskWithState(swarm.TaskStateFailed)},
			want:            domain.ServiceHealthUnhealthy,
		},
		{
			name:            "all complete is a finished job",
			desiredReplicas: 1,
			tasks:           []swarm.Task{taskWithState(swarm.TaskStateComplete)},
			want:            domain.ServiceHealthComplete,
		},
		{
			name:            "no tasks yet is starting",
			desiredReplicas: 1,
			tasks:           nil,
			want:            domain.ServiceHealthStarting,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got := TaskServiceHealth(tt.desiredReplicas, tt.tasks)
			if got.Status != tt.want {
				t.Errorf("TaskServiceHealth() = %v, want %v", got.Status, tt.want)
			}
		})
	}
}

func TestConverged(t *testing.T) {
	statuses := map[string]domain.ServiceStatus{
		"web": {Status: domain.ServiceHealthHealthy},
		"db":  {Status: domain.ServiceHealthComplete},
	}
	if !Converged(statuses) {
		t.Errorf("expected all-healthy/complete set to be converged")
	}

	statuses["worker"] = domain.ServiceStatus{Status: domain.ServiceHealthStarting}
	if Converged(statuses) {
		t.Errorf("expected a still-starting service to block convergence")
	}
}

func TestAnyUnhealthy(t *testing.T) {
	statuses := map[string]domain.ServiceStatus{
		"web": {Status: domain.ServiceHealthHealthy},
	}
	if AnyUnhealthy(statuses) {
		t.Errorf("expected no unhealthy services")
	}
	statuses["db"] = domain.ServiceStatus{Status: domain.ServiceHealthUnhealthy}
	if !AnyUnhealthy(statuses) {
		t.Errorf("expected unhealthy service to be detected")
	}
}
