package orchestrator

import (
	"github.com/docker/docker/api/types/swarm"

	"github.com/zaneops/compose-core/internal/domain"
)

// TaskServiceHealth computes one ServiceStatus from a service's desired
// replica count and its current Swarm tasks, implementing the task->service
// state matrix from spec.md §4.5. The first rule that matches wins:
//   - any task FAILED or REJECTED                             -> UNHEALTHY
//   - at least one task, and every task COMPLETE              -> COMPLETE
//   - RUNNING tasks >= desiredReplicas (desiredReplicas > 0)  -> HEALTHY
//   - otherwise (PENDING/PREPARING/..., or too few RUNNING)   -> STARTING
func TaskServiceHealth(desiredReplicas int, tasks []swarm.Task) domain.ServiceStatus {
	status := domain.ServiceStatus{DesiredReplicas: desiredReplicas}

	var running, complete, failed int
	for _, t := range tasks {
		state := string(t.Status.State)
		taskStatus := domain.ServiceTaskStatus{State: state, Message: t.Status.Message}
		if t.Status.ContainerStatus != nil && t.Status.ContainerStatus.ExitCode != 0 {
			code := t.Status.ContainerStatus.ExitCode
			taskStatus.ExitCode = &code
		}
		status.Tasks = append(status.Tasks, taskStatus)

		switch t.Status.State {
		case swarm.TaskStateRunning:
			running++
		case swarm.TaskStateComplete:
			complete++
		case swarm.TaskStateFailed, swarm.TaskStateRejected:
			failed++
		}
	}
	status.RunningReplicas = running

	switch {
	case failed > 0:
		status.Status = domain.ServiceHealthUnhealthy
	case len(tasks) > 0 && complete == len(tasks):
		status.Status = domain.ServiceHealthComplete
	case running >= desiredReplicas && desiredReplicas > 0:
		status.Status = domain.ServiceHealthHealthy
	default:
		status.Status = domain.ServiceHealthStarting
	}

	return status
}

// Converged reports whether every service in statuses has reached a terminal
// health (HEALTHY or COMPLETE), the condition MonitorUntilConverged polls for
// (spec.md §4.5 "Deploy" step).
func Converged(statuses map[string]domain.ServiceStatus) bool {
	for _, s := range statuses {
		if s.Status != domain.ServiceHealthHealthy && s.Status != domain.ServiceHealthComplete {
			return false
		}
	}
	return true
}

// AnyUnhealthy reports whether any service has failed outright.
func AnyUnhealthy(statuses map[string]domain.ServiceStatus) bool {
	for _, s := range statuses {
		if s.Status == domain.ServiceHealthUnhealthy {
			return true
		}
	}
	return false
}
