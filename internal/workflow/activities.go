package workflow

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/swarm"
	"github.com/sirupsen/logrus"

	"github.com/zaneops/compose-core/internal/compose"
	"github.com/zaneops/compose-core/internal/domain"
	"github.com/zaneops/compose-core/internal/monitor"
	"github.com/zaneops/compose-core/internal/orchestrator"
	"github.com/zaneops/compose-core/internal/proxy"
	"github.com/zaneops/compose-core/internal/semaphore"
	"github.com/zaneops/compose-core/internal/store"
)

// LogStore purges a stack's retained deployment logs, an external
// collaborator (spec.md §6) not modeled as a Postgres repository because
// logs live in the log aggregation backend rather than this module's
// database.
type LogStore interface {
	PurgeStack(ctx context.Context, stackID string) error
}

// Activities bundles the collaborators the deploy and archive workflows'
// activities call into, grounded on
// other_examples/0d37864b_drewpayment-orbit__temporal-workflows-internal-activities-deployment_activities.go.go's
// DeploymentActivities{workDir, payloadClient, logger} shape: fields are
// injected collaborators plus a logger, one method per activity.
type Activities struct {
	orchestrator orchestrator.Client
	proxy        proxy.Client
	scheduler    *monitor.Scheduler
	logStore     LogStore
	store        *store.Store
	sem          *semaphore.Semaphore
	logger       *logrus.Logger
}

// NewActivities builds an Activities set. scheduler and logStore may be nil
// when a worker process does not handle archive workflows (RemoveSchedules
// and PurgeLogs become no-ops in that case). sem may be nil in tests that
// start deployments unbounded, in which case Finalize/Supersede skip
// releasing a concurrency slot.
func NewActivities(orch orchestrator.Client, px proxy.Client, scheduler *monitor.Scheduler, logStore LogStore, s *store.Store, sem *semaphore.Semaphore, logger *logrus.Logger) *Activities {
	return &Activities{orchestrator: orch, proxy: px, scheduler: scheduler, logStore: logStore, store: s, sem: sem, logger: logger}
}

// CreateResourcesInput names the snapshot a deploy attempt converges on.
type CreateResourcesInput struct {
	Snapshot domain.StackSnapshot `json:"snapshot"`
}

// CreateResourcesResult maps original service name to Swarm service id.
type CreateResourcesResult struct {
	ServiceIDs map[string]string `json:"service_ids"`
}

// CreateResources creates or updates every network, volume, config, and
// service named in the snapshot's computed compose document (spec.md §4.5
// "CreateResources" step). Every declared service converges, not only the
// ones that publish a URL: an internal-only service (a database, a cache)
// still needs a running Swarm service for PollHealth to track.
func (a *Activities) CreateResources(ctx context.Context, in CreateResourcesInput) (CreateResourcesResult, error) {
	a.logger.WithField("stack_id", in.Snapshot.StackID).Info("creating swarm resources for deployment")

	spec, err := compose.NewParser(in.Snapshot.StackID).ParseComputed(ctx, in.Snapshot.ComputedContent)
	if err != nil {
		return CreateResourcesResult{}, err
	}

	if err := a.ensureNetworks(ctx, spec); err != nil {
		return CreateResourcesResult{}, err
	}
	if err := a.ensureVolumes(ctx, spec); err != nil {
		return CreateResourcesResult{}, err
	}
	configIDs, err := a.ensureConfigs(ctx, in.Snapshot.StackID, in.Snapshot.HashPrefix, spec, in.Snapshot.Configs)
	if err != nil {
		return CreateResourcesResult{}, err
	}

	existing, err := a.orchestrator.ServiceList(ctx, in.Snapshot.StackID)
	if err != nil {
		return CreateResourcesResult{}, err
	}
	existingByName := make(map[string]swarm.Service, len(existing))
	for _, svc := range existing {
		existingByName[svc.Spec.Annotations.Name] = svc
	}

	serviceIDs := map[string]string{}
	for hashedName, svc := range spec.Services {
		serviceSpec := orchestrator.BuildServiceSpec(svc, in.Snapshot.StackID, configIDs)

		var id string
		if current, ok := existingByName[hashedName]; ok {
			if err := a.orchestrator.ServiceUpdate(ctx, current.ID, current.Version, serviceSpec); err != nil {
				return CreateResourcesResult{}, err
			}
			id = current.ID
		} else {
			id, err = a.orchestrator.ServiceCreate(ctx, serviceSpec)
			if err != nil {
				return CreateResourcesResult{}, err
			}
		}

		originalName := strings.TrimPrefix(hashedName, in.Snapshot.HashPrefix+"_")
		serviceIDs[originalName] = id
	}

	return CreateResourcesResult{ServiceIDs: serviceIDs}, nil
}

// ensureNetworks creates every non-external network the compiled document
// declares (the `zane` and environment networks are always external: the
// platform assumes they already exist), tolerating a network that was
// already created by a previous deployment of the same stack.
func (a *Activities) ensureNetworks(ctx context.Context, spec *domain.ComposeSpec) error {
	for name, n := range spec.Networks {
		if n.External {
			continue
		}
		driver := n.Driver
		if driver == "" {
			driver = "overlay"
		}
		if _, err := a.orchestrator.NetworkCreate(ctx, name, driver, n.Labels); err != nil && !orchestrator.IsAlreadyExists(err) {
			return err
		}
	}
	return nil
}

// ensureVolumes creates every non-external volume the compiled document
// declares, tolerating one that already exists.
func (a *Activities) ensureVolumes(ctx context.Context, spec *domain.ComposeSpec) error {
	for name, v := range spec.Volumes {
		if v.External {
			continue
		}
		if err := a.orchestrator.VolumeCreate(ctx, name, v.Driver, v.Labels); err != nil && !orchestrator.IsAlreadyExists(err) {
			return err
		}
	}
	return nil
}

// ensureConfigs (re)creates every non-external config whose content the Spec
// Compiler derived from the user's document, keyed by the config's original
// (pre-hash) name so buildConfigReferences can wire service mounts to it.
// Swarm configs are immutable: a config whose content changed between
// deployments is created under a fresh, hash-qualified name rather than
// updated in place.
func (a *Activities) ensureConfigs(ctx context.Context, stackID, hashPrefix string, spec *domain.ComposeSpec, contents map[string]string) (map[string]string, error) {
	var existing []swarm.Config
	ids := map[string]string{}
	for name, cfg := range spec.Configs {
		if cfg.External || !cfg.IsDerivedFromContent {
			continue
		}
		content, ok := contents[name]
		if !ok {
			continue
		}
		sum := sha256.Sum256([]byte(content))
		configName := fmt.Sprintf("%s_%s_%x", hashPrefix, name, sum[:6])

		id, err := a.orchestrator.ConfigCreate(ctx, configName, []byte(content), cfg.Labels)
		if err == nil {
			ids[name] = id
			continue
		}
		if !orchestrator.IsAlreadyExists(err) {
			return nil, err
		}

		if existing == nil {
			existing, err = a.orchestrator.ConfigList(ctx, stackID)
			if err != nil {
				return nil, err
			}
		}
		for _, c := range existing {
			if c.Spec.Annotations.Name == configName {
				ids[name] = c.ID
				break
			}
		}
	}
	return ids, nil
}

// MonitorInput asks for a health snapshot of every service created for a
// deployment.
type MonitorInput struct {
	StackID    string            `json:"stack_id"`
	ServiceIDs map[string]string `json:"service_ids"`
}

// MonitorResult is one health poll's outcome.
type MonitorResult struct {
	Statuses  map[string]domain.ServiceStatus `json:"statuses"`
	Converged bool                            `json:"converged"`
	Unhealthy bool                             `json:"unhealthy"`
}

// PollHealth computes one round of service health by listing each service's
// tasks and reducing them through the task->service state matrix (spec.md
// §4.5's health table, implemented in internal/orchestrator/health.go).
func (a *Activities) PollHealth(ctx context.Context, in MonitorInput) (MonitorResult, error) {
	statuses := map[string]domain.ServiceStatus{}
	for name, serviceID := range in.ServiceIDs {
		tasks, err := a.orchestrator.TaskList(ctx, serviceID)
		if err != nil {
			return MonitorResult{}, err
		}
		statuses[name] = orchestrator.TaskServiceHealth(desiredReplicasOf(tasks), tasks)
	}

	if err := a.store.Stacks.UpdateServiceStatuses(ctx, in.StackID, statuses); err != nil {
		return MonitorResult{}, err
	}

	return MonitorResult{
		Statuses:  statuses,
		Converged: orchestrator.Converged(statuses),
		Unhealthy: orchestrator.AnyUnhealthy(statuses),
	}, nil
}

func desiredReplicasOf(tasks []swarm.Task) int {
	if len(tasks) == 0 {
		return 1
	}
	return len(tasks)
}

// ProxyUpdateInput carries the route table to reconcile.
type ProxyUpdateInput struct {
	StackID string                          `json:"stack_id"`
	URLs    map[string][]domain.UrlRoute    `json:"urls"`
}

// ProxyUpdate reconciles the reverse proxy's routes for a stack (spec.md
// §4.5 "ProxyUpdate" step).
func (a *Activities) ProxyUpdate(ctx context.Context, in ProxyUpdateInput) error {
	return a.proxy.ApplyRoutes(ctx, in.StackID, in.URLs)
}

// FinalizeInput carries the terminal outcome to persist.
type FinalizeInput struct {
	DeploymentHash string                  `json:"deployment_hash"`
	Status         domain.DeploymentStatus `json:"status"`
	Reason         string                  `json:"reason,omitempty"`
}

// Finalize transitions a deployment to its terminal status and supersedes
// any still-QUEUED or DEPLOYING older attempt for the same stack (spec.md §4.5
// "Finalize" step: "starting a new deployment for a stack immediately
// supersedes — cancels — any deployment for that stack still in QUEUED or
// DEPLOYING").
func (a *Activities) Finalize(ctx context.Context, in FinalizeInput) error {
	var reason *string
	if in.Reason != "" {
		reason = &in.Reason
	}
	if err := a.store.Deployments.TransitionStatus(ctx, in.DeploymentHash, in.Status, reason); err != nil {
		return err
	}
	if in.Status.IsTerminal() {
		if err := a.releaseDeploySlot(ctx); err != nil {
			return err
		}
	}

	if in.Status != domain.DeploymentSucceeded {
		return nil
	}

	deployment, err := a.store.Deployments.Get(ctx, in.DeploymentHash)
	if err != nil {
		return err
	}

	stale, err := a.store.Deployments.ListActiveForStack(ctx, deployment.StackID, in.DeploymentHash)
	if err != nil {
		return err
	}
	for _, d := range stale {
		if err := a.Supersede(ctx, SupersedeInput{DeploymentHash: d.Hash}); err != nil {
			return err
		}
	}

	if a.scheduler != nil {
		if err := a.scheduler.EnsureSchedules(ctx, deployment.StackID); err != nil {
			return err
		}
	}

	return nil
}

// SupersedeInput names the deployment that must yield to a newer one.
type SupersedeInput struct {
	DeploymentHash string `json:"deployment_hash"`
}

// Supersede cancels an older in-flight deployment for the same stack. That
// deployment reserved its own concurrency slot when it was started, so
// cancelling it frees that slot too.
func (a *Activities) Supersede(ctx context.Context, in SupersedeInput) error {
	reason := "superseded by a newer deployment"
	if err := a.store.Deployments.TransitionStatus(ctx, in.DeploymentHash, domain.DeploymentCancelled, &reason); err != nil {
		return err
	}
	return a.releaseDeploySlot(ctx)
}

// releaseDeploySlot frees one deploy concurrency slot, a no-op when this
// Activities set has no semaphore (e.g. in tests that start deployments
// unbounded).
func (a *Activities) releaseDeploySlot(ctx context.Context) error {
	if a.sem == nil {
		return nil
	}
	return a.sem.Release(ctx)
}
