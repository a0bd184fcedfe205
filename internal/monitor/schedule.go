package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.temporal.io/sdk/client"

	"github.com/zaneops/compose-core/internal/config"
)

// Scheduler creates and removes the per-stack Monitor and Metrics schedules
// (spec.md §4.6), grounded on the same original_source `temporal.py` module
// internal/workflow/client.go wraps, here through
// go.temporal.io/sdk/client's ScheduleClient.
type Scheduler struct {
	client    client.Client
	taskQueue string
	cfg       *config.Config
}

// NewScheduler builds a Scheduler bound to one Temporal client.
func NewScheduler(c client.Client, taskQueue string, cfg *config.Config) *Scheduler {
	return &Scheduler{client: c, taskQueue: taskQueue, cfg: cfg}
}

// EnsureSchedules creates the monitor-compose-<stack.id> and
// metrics-compose-<stack.id> schedules for a stack, tolerating the case
// where either already exists: it is called once per successful deployment,
// not only when the stack is first created.
func (s *Scheduler) EnsureSchedules(ctx context.Context, stackID string) error {
	if err := s.create(ctx, monitorScheduleID(stackID), MonitorWorkflow, s.cfg.MonitorScheduleInterval, stackID); err != nil {
		return err
	}
	return s.create(ctx, metricsScheduleID(stackID), MetricsWorkflow, s.cfg.MetricsScheduleInterval, stackID)
}

// RemoveSchedules deletes both schedules, used when a stack is removed.
func (s *Scheduler) RemoveSchedules(ctx context.Context, stackID string) error {
	for _, id := range []string{monitorScheduleID(stackID), metricsScheduleID(stackID)} {
		handle := s.client.ScheduleClient().GetHandle(ctx, id)
		if err := handle.Delete(ctx); err != nil {
			return errors.Wrap(err, "cannot delete schedule "+id)
		}
	}
	return nil
}

func (s *Scheduler) create(ctx context.Context, scheduleID string, workflowFn interface{}, interval time.Duration, stackID string) error {
	_, err := s.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: scheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        scheduleID + "-run",
			Workflow:  workflowFn,
			Args:      []interface{}{ScheduleInput{StackID: stackID}},
			TaskQueue: s.taskQueue,
		},
	})
	if err != nil {
		if isScheduleAlreadyExists(err) {
			return nil
		}
		return errors.Wrap(err, "cannot create schedule "+scheduleID)
	}
	return nil
}

// isScheduleAlreadyExists reports whether err is the Temporal frontend's
// conflict response for a schedule ID that is already registered.
func isScheduleAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already registered")
}

func monitorScheduleID(stackID string) string { return fmt.Sprintf("monitor-compose-%s", stackID) }
func metricsScheduleID(stackID string) string { return fmt.Sprintf("metrics-compose-%s", stackID) }
