package orchestrator

import (
	"context"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/api/types/volume"
	dockerclient "github.com/docker/docker/client"
	"github.com/pkg/errors"
)

const (
	errCreateService  = "cannot create swarm service"
	errUpdateService  = "cannot update swarm service"
	errRemoveService  = "cannot remove swarm service"
	errCreateNetwork  = "cannot create swarm network"
	errCreateConfig   = "cannot create swarm config"
	errCreateVolume   = "cannot create docker volume"
	errListTasks      = "cannot list swarm tasks"
	errRemoveVolume   = "cannot remove docker volume"
	errRemoveConfig   = "cannot remove swarm config"
	errRemoveNetwork  = "cannot remove swarm network"
	errListConfigs    = "cannot list swarm configs"
	errListVolumes    = "cannot list docker volumes"
)

// StackLabel is the label key every resource created for a stack carries,
// used to scope ServiceList/TaskList/NetworkList/ConfigList lookups.
const StackLabel = "zane-stack"

// Client is the Orchestrator Client collaborator interface spec.md §6
// requires: a narrow method set so tests can substitute an in-memory fake,
// grounded on the teacher's DockerClient interface in docker.go.
type Client interface {
	ServiceCreate(ctx context.Context, spec swarm.ServiceSpec) (string, error)
	ServiceUpdate(ctx context.Context, serviceID string, version swarm.Version, spec swarm.ServiceSpec) error
	ServiceRemove(ctx context.Context, serviceID string) error
	ServiceInspect(ctx context.Context, serviceID string) (swarm.Service, error)
	ServiceList(ctx context.Context, stackID string) ([]swarm.Service, error)
	NetworkCreate(ctx context.Context, name string, driver string, labels map[string]string) (string, error)
	ConfigCreate(ctx context.Context, name string, data []byte, labels map[string]string) (string, error)
	VolumeCreate(ctx context.Context, name string, driver string, labels map[string]string) error
	VolumeRemove(ctx context.Context, name string) error
	VolumeList(ctx context.Context, stackID string) ([]string, error)
	ConfigRemove(ctx context.Context, configID string) error
	ConfigList(ctx context.Context, stackID string) ([]swarm.Config, error)
	NetworkRemove(ctx context.Context, networkID string) error
	TaskList(ctx context.Context, serviceID string) ([]swarm.Task, error)
}

// dockerClient adapts *dockerclient.Client to the Client interface.
type dockerClient struct {
	cli *dockerclient.Client
}

// NewDockerClient wraps an Engine API client as a Client.
func NewDockerClient(cli *dockerclient.Client) Client {
	return &dockerClient{cli: cli}
}

func (d *dockerClient) ServiceCreate(ctx context.Context, spec swarm.ServiceSpec) (string, error) {
	resp, err := d.cli.ServiceCreate(ctx, spec, types.ServiceCreateOptions{QueryRegistry: true})
	if err != nil {
		return "", errors.Wrap(err, errCreateService)
	}
	return resp.ID, nil
}

func (d *dockerClient) ServiceUpdate(ctx context.Context, serviceID string, version swarm.Version, spec swarm.ServiceSpec) error {
	_, err := d.cli.ServiceUpdate(ctx, serviceID, version, spec, types.ServiceUpdateOptions{QueryRegistry: true})
	if err != nil {
		return errors.Wrap(err, errUpdateService)
	}
	return nil
}

func (d *dockerClient) ServiceRemove(ctx context.Context, serviceID string) error {
	if err := d.cli.ServiceRemove(ctx, serviceID); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return NewNotFoundError("service", serviceID)
		}
		return errors.Wrap(err, errRemoveService)
	}
	return nil
}

func (d *dockerClient) ServiceInspect(ctx context.Context, serviceID string) (swarm.Service, error) {
	svc, _, err := d.cli.ServiceInspectWithRaw(ctx, serviceID, types.ServiceInspectOptions{})
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return swarm.Service{}, NewNotFoundError("service", serviceID)
		}
		return swarm.Service{}, errors.Wrap(err, "cannot inspect swarm service")
	}
	return svc, nil
}

func (d *dockerClient) ServiceList(ctx context.Context, stackID string) ([]swarm.Service, error) {
	f := filters.NewArgs()
	f.Add("label", StackLabel+"="+stackID)
	services, err := d.cli.ServiceList(ctx, types.ServiceListOptions{Filters: f})
	if err != nil {
		return nil, errors.Wrap(err, "cannot list swarm services")
	}
	return services, nil
}

func (d *dockerClient) NetworkCreate(ctx context.Context, name string, driver string, labels map[string]string) (string, error) {
	resp, err := d.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: driver,
		Labels: labels,
	})
	if err != nil {
		return "", errors.Wrap(err, errCreateNetwork)
	}
	return resp.ID, nil
}

func (d *dockerClient) ConfigCreate(ctx context.Context, name string, data []byte, labels map[string]string) (string, error) {
	resp, err := d.cli.ConfigCreate(ctx, swarm.ConfigSpec{
		Annotations: swarm.Annotations{Name: name, Labels: labels},
		Data:        data,
	})
	if err != nil {
		return "", errors.Wrap(err, errCreateConfig)
	}
	return resp.ID, nil
}

func (d *dockerClient) VolumeCreate(ctx context.Context, name string, driver string, labels map[string]string) error {
	_, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name, Driver: driver, Labels: labels})
	if err != nil {
		return errors.Wrap(err, errCreateVolume)
	}
	return nil
}

func (d *dockerClient) VolumeRemove(ctx context.Context, name string) error {
	if err := d.cli.VolumeRemove(ctx, name, true); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return errors.Wrap(err, errRemoveVolume)
	}
	return nil
}

func (d *dockerClient) VolumeList(ctx context.Context, stackID string) ([]string, error) {
	f := filters.NewArgs()
	f.Add("label", StackLabel+"="+stackID)
	resp, err := d.cli.VolumeList(ctx, volume.ListOptions{Filters: f})
	if err != nil {
		return nil, errors.Wrap(err, errListVolumes)
	}
	names := make([]string, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		names = append(names, v.Name)
	}
	return names, nil
}

func (d *dockerClient) ConfigRemove(ctx context.Context, configID string) error {
	if err := d.cli.ConfigRemove(ctx, configID); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return errors.Wrap(err, errRemoveConfig)
	}
	return nil
}

func (d *dockerClient) ConfigList(ctx context.Context, stackID string) ([]swarm.Config, error) {
	f := filters.NewArgs()
	f.Add("label", StackLabel+"="+stackID)
	configs, err := d.cli.ConfigList(ctx, types.ConfigListOptions{Filters: f})
	if err != nil {
		return nil, errors.Wrap(err, errListConfigs)
	}
	return configs, nil
}

func (d *dockerClient) NetworkRemove(ctx context.Context, networkID string) error {
	if err := d.cli.NetworkRemove(ctx, networkID); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return errors.Wrap(err, errRemoveNetwork)
	}
	return nil
}

func (d *dockerClient) TaskList(ctx context.Context, serviceID string) ([]swarm.Task, error) {
	f := filters.NewArgs()
	f.Add("service", serviceID)
	tasks, err := d.cli.TaskList(ctx, types.TaskListOptions{Filters: f})
	if err != nil {
		return nil, errors.Wrap(err, errListTasks)
	}
	return tasks, nil
}
